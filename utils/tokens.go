package utils

import (
	"os"
	"time"

	"github.com/kataras/iris/v12/middleware/jwt"
)

// AccessToken is the resolved caller identity. Authentication happens
// upstream; this service only verifies the signed claims.
type AccessToken struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"` // worker, admin, super_admin
}

// CreateAccessToken signs an access token for a team member. Used by
// operational tooling and tests; there is no login flow in this service.
func CreateAccessToken(id uint, name, role string) (string, error) {
	signer := jwt.NewSigner(jwt.HS256, os.Getenv("ACCESS_TOKEN_SECRET"), 24*time.Hour)

	token, err := signer.Sign(AccessToken{ID: id, Name: name, Role: role})
	if err != nil {
		return "", err
	}
	return string(token), nil
}
