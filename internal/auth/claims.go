package auth

import "github.com/golang-jwt/jwt/v5"

// Claims is the verified payload of an admin access token. Values are only
// meaningful when returned by Guard.Verify.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid,omitempty"`
	Email     string `json:"email,omitempty"`
}
