package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned by [Decode] for any token it cannot read.
var ErrMalformedToken = errors.New("malformed session token")

// SessionClaims mirrors the payload the backend signs on login.
type SessionClaims struct {
	UserID      int64  `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email,omitempty"`
	IsSuperuser bool   `json:"is_superuser,omitempty"`
	jwt.RegisteredClaims
}

// FullName joins the first and last name claims.
func (c *SessionClaims) FullName() string {
	return strings.TrimSpace(c.Name + " " + c.LastName)
}

// Expiry returns the exp claim, or false when the token carries none.
func (c *SessionClaims) Expiry() (time.Time, bool) {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// Decode reads the claims of tokenStr without verifying its signature.
func Decode(tokenStr string) (*SessionClaims, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, ErrMalformedToken
	}

	claims := &SessionClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, errors.Join(ErrMalformedToken, err)
	}
	return claims, nil
}

// IsExpired reports whether tokenStr should no longer be used at now.
// Undecodable tokens and tokens without an exp claim count as expired.
func IsExpired(tokenStr string, now time.Time) bool {
	claims, err := Decode(tokenStr)
	if err != nil {
		return true
	}
	exp, ok := claims.Expiry()
	if !ok {
		return true
	}
	return !now.Before(exp)
}
