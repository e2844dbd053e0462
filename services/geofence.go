package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// PermissionState mirrors the device positioning permission lifecycle.
type PermissionState string

const (
	PermissionPrompt      PermissionState = "prompt"
	PermissionGranted     PermissionState = "granted"
	PermissionDenied      PermissionState = "denied"
	PermissionUnavailable PermissionState = "unavailable"
)

const (
	DefaultMaxDistanceMeters = 500.0
	DefaultPositionTimeout   = 10 * time.Second

	earthRadiusMeters = 6371000.0
)

type PositionResult struct {
	State PermissionState `json:"state"`
	Lat   float64         `json:"lat"`
	Lng   float64         `json:"lng"`
}

// PositionProvider resolves the caller's live position. While permission is
// still "prompt" the provider is expected to trigger the request and block
// until it resolves or ctx is cancelled.
type PositionProvider interface {
	Position(ctx context.Context) (PositionResult, error)
}

// StaticPositionProvider returns a position already resolved by the caller's
// device, as submitted with the transition request.
type StaticPositionProvider struct {
	Result PositionResult
}

func (p StaticPositionProvider) Position(_ context.Context) (PositionResult, error) {
	return p.Result, nil
}

// Haversine returns the great-circle distance in meters between two
// coordinates, assuming a spherical Earth.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// ProximityGate decides whether a device is close enough to a property to
// start cleaning there.
type ProximityGate struct {
	MaxDistanceMeters float64
	PositionTimeout   time.Duration
}

func NewProximityGate() *ProximityGate {
	return &ProximityGate{
		MaxDistanceMeters: DefaultMaxDistanceMeters,
		PositionTimeout:   DefaultPositionTimeout,
	}
}

type ProximityCheck struct {
	Bypassed       bool            `json:"bypassed"`
	State          PermissionState `json:"state,omitempty"`
	DistanceMeters float64         `json:"distanceMeters,omitempty"`
}

// Check evaluates the gate for a property at (lat, lng). A property with no
// stored coordinate passes unconditionally: there is no reference point to
// enforce against. Permission failures fail closed.
func (g *ProximityGate) Check(ctx context.Context, lat, lng *float64, provider PositionProvider) (ProximityCheck, *GuardError) {
	if lat == nil || lng == nil {
		return ProximityCheck{Bypassed: true}, nil
	}
	if provider == nil {
		return ProximityCheck{State: PermissionUnavailable}, &GuardError{
			Code:    "location_unavailable",
			Message: "no device position was provided",
		}
	}

	timeout := g.PositionTimeout
	if timeout <= 0 {
		timeout = DefaultPositionTimeout
	}
	posCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := provider.Position(posCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ProximityCheck{}, &GuardError{
				Code:      "location_timeout",
				Message:   "timed out acquiring device position, try again",
				Retryable: true,
			}
		}
		return ProximityCheck{}, &GuardError{
			Code:      "location_error",
			Message:   "could not acquire device position: " + err.Error(),
			Retryable: true,
		}
	}

	switch result.State {
	case PermissionGranted:
		// fall through to the distance check below
	case PermissionDenied:
		return ProximityCheck{State: result.State}, &GuardError{
			Code:    "location_denied",
			Message: "location permission denied; enable location access for this app in your device settings",
		}
	case PermissionUnavailable:
		return ProximityCheck{State: result.State}, &GuardError{
			Code:    "location_unavailable",
			Message: "this device cannot report its position",
		}
	default: // still prompting, or an unknown state: fail closed
		return ProximityCheck{State: result.State}, &GuardError{
			Code:    "location_not_determined",
			Message: "location permission was not resolved; accept the location prompt and try again",
		}
	}

	distance := Haversine(result.Lat, result.Lng, *lat, *lng)
	if distance > g.MaxDistanceMeters {
		return ProximityCheck{State: result.State, DistanceMeters: distance}, &GuardError{
			Code:    "too_far",
			Message: fmt.Sprintf("you are %.0fm from the property, must be within %.0fm", distance, g.MaxDistanceMeters),
		}
	}

	return ProximityCheck{State: result.State, DistanceMeters: distance}, nil
}
