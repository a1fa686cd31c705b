// Package token implements the Token Authority (C6): HMAC-signed, time
// limited bearer tokens carrying {user, is_admin, exp}, and the
// require_auth gate every authenticated HTTP handler calls.
//
// The signing secret is process-wide, loaded once at startup, and fatal
// if absent, built on golang-jwt/jwt/v5 for token construction and
// verification.
package token

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vrracer/camstream/internal/apierr"
)

// Claims is the token payload: user identity, admin flag, and expiry.
type Claims struct {
	User    string `json:"user"`
	IsAdmin bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Authority issues and verifies bearer tokens signed with a process-wide
// HMAC secret.
type Authority struct {
	secret   []byte
	lifetime time.Duration
}

// New constructs an Authority. Per the component design, a missing secret
// or non-positive lifetime is startup-fatal — callers MUST treat a
// non-nil error here as fatal, not retry with defaults.
func New(secret string, lifetime time.Duration) (*Authority, error) {
	if secret == "" {
		return nil, errors.New("token: JWT_SECRET is required")
	}
	if lifetime <= 0 {
		return nil, errors.New("token: JWT_EXPIRE_MINUTES must be a positive integer")
	}
	return &Authority{secret: []byte(secret), lifetime: lifetime}, nil
}

// Issue signs a new token for user, returning the compact token string and
// its lifetime in seconds (for the /login response's expires_in field).
func (a *Authority) Issue(user string, isAdmin bool) (string, int64, error) {
	now := time.Now()
	exp := now.Add(a.lifetime)
	claims := Claims{
		User:    user,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", 0, fmt.Errorf("token: signing: %w", err)
	}
	return signed, int64(a.lifetime.Seconds()), nil
}

// Verify parses and validates tokenString, checking the signature and
// that exp has not passed. The jwt library's own clock-skew-free
// comparison against time.Now satisfies "current time exceeds expiry".
func (a *Authority) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("token: unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, apierr.Auth("invalid or expired token")
	}
	if !parsed.Valid {
		return nil, apierr.Auth("invalid or expired token")
	}
	return claims, nil
}

// RequireAuth extracts the bearer token from r's Authorization header and
// verifies it, additionally requiring the admin flag when adminRequired
// is set. Every failure mode (absent header, malformed form, bad
// signature, expiry, insufficient role) maps to the same *apierr.Error
// taxonomy member (KindAuth), distinguished only by StatusCode: 401 for
// a missing/invalid/expired token, 403 for a valid token lacking the
// required role — per the component design.
func (a *Authority) RequireAuth(r *http.Request, adminRequired bool) (*Claims, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, apierr.Auth("missing bearer token")
	}
	tokenString := strings.TrimPrefix(header, prefix)
	if tokenString == "" {
		return nil, apierr.Auth("missing bearer token")
	}

	claims, err := a.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if adminRequired && !claims.IsAdmin {
		return nil, apierr.Forbidden("admin role required")
	}
	return claims, nil
}
