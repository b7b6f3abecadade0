package cache

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Fixed entry names inside a cache namespace
const (
	IdentityKey = "user"
	TokenKey    = "access_token"
)

// TokenExpiry reads the exp claim of a bearer token without verifying its
// signature. The gateway only holds the token on the user's behalf; the
// API remains the party that verifies it.
func TokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
