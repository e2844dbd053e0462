package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/models"
	"github.com/suporteanfitriao-svg/upkeep-beacon-sub002/storage"

	"gorm.io/gorm"
)

// ErrAddressNotFound means the geocoder had no match for the address.
var ErrAddressNotFound = errors.New("address not found")

// geocodeMinInterval spaces out calls to the third-party geocoder during
// bulk runs. Nominatim's usage policy asks for at most one request per
// second.
const geocodeMinInterval = 1100 * time.Millisecond

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// GeocodingService resolves postal addresses to coordinates. It is strictly
// best-effort: task operations never block on it, and the proximity gate
// bypasses properties it has not resolved yet.
type GeocodingService struct {
	db      *gorm.DB
	client  *http.Client
	baseURL string

	mu       sync.Mutex
	lastCall time.Time
}

func NewGeocodingService(db *gorm.DB) *GeocodingService {
	baseURL := os.Getenv("GEOCODER_BASE_URL")
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &GeocodingService{
		db:      db,
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
	}
}

// Geocode resolves one free-text address, consulting the Redis cache first.
func (g *GeocodingService) Geocode(ctx context.Context, address string) (*Coordinate, error) {
	if address == "" {
		return nil, ErrAddressNotFound
	}

	cacheKey := "geocode:" + address
	if storage.Redis != nil {
		if cached, err := storage.Redis.Get(ctx, cacheKey).Result(); err == nil {
			var coord Coordinate
			if err := json.Unmarshal([]byte(cached), &coord); err == nil {
				return &coord, nil
			}
		}
	}

	g.waitForSlot()

	endpoint := fmt.Sprintf("%s/search?format=json&limit=1&q=%s", g.baseURL, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "upkeep-beacon/1.0")

	res, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("geocoder returned status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrAddressNotFound
	}

	lat, latErr := strconv.ParseFloat(results[0].Lat, 64)
	lng, lngErr := strconv.ParseFloat(results[0].Lon, 64)
	if latErr != nil || lngErr != nil {
		return nil, ErrAddressNotFound
	}

	coord := &Coordinate{Lat: lat, Lng: lng}
	if storage.Redis != nil {
		if raw, err := json.Marshal(coord); err == nil {
			storage.Redis.Set(ctx, cacheKey, string(raw), 30*24*time.Hour)
		}
	}
	return coord, nil
}

// waitForSlot enforces the minimum spacing between geocoder calls.
func (g *GeocodingService) waitForSlot() {
	g.mu.Lock()
	wait := geocodeMinInterval - time.Since(g.lastCall)
	if wait > 0 {
		g.lastCall = g.lastCall.Add(geocodeMinInterval)
		g.mu.Unlock()
		time.Sleep(wait)
		return
	}
	g.lastCall = time.Now()
	g.mu.Unlock()
}

// GeocodeProperty opportunistically fills in a property's coordinates.
// Meant to run in a goroutine after create/update; failures are logged and
// swallowed.
func (g *GeocodingService) GeocodeProperty(propertyID uint) {
	var prop models.Property
	if err := g.db.First(&prop, propertyID).Error; err != nil {
		log.Printf("geocode: property %d not found: %v", propertyID, err)
		return
	}
	if prop.HasCoordinates() {
		return
	}

	coord, err := g.Geocode(context.Background(), prop.FullAddress())
	if err != nil {
		log.Printf("geocode: property %d (%s): %v", propertyID, prop.FullAddress(), err)
		return
	}

	if err := g.db.Model(&prop).Updates(map[string]interface{}{"lat": coord.Lat, "lng": coord.Lng}).Error; err != nil {
		log.Printf("geocode: property %d update failed: %v", propertyID, err)
	}
}

// BackfillMissingCoordinates geocodes every active property without
// coordinates, respecting the per-call rate limit. Returns how many
// properties were resolved.
func (g *GeocodingService) BackfillMissingCoordinates(ctx context.Context) (int, error) {
	var properties []models.Property
	if err := g.db.Where("lat IS NULL OR lng IS NULL").Find(&properties).Error; err != nil {
		return 0, err
	}

	resolved := 0
	for i := range properties {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		prop := &properties[i]
		coord, err := g.Geocode(ctx, prop.FullAddress())
		if err != nil {
			log.Printf("geocode backfill: property %d: %v", prop.ID, err)
			continue
		}
		if err := g.db.Model(prop).Updates(map[string]interface{}{"lat": coord.Lat, "lng": coord.Lng}).Error; err != nil {
			log.Printf("geocode backfill: property %d update failed: %v", prop.ID, err)
			continue
		}
		resolved++
	}
	return resolved, nil
}
