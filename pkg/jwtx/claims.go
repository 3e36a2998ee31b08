// Package jwtx issues and verifies the Ed25519-signed access tokens used by
// the auth service. Keys are generated fresh at startup; access tokens are
// short-lived enough that restarting the service simply forces a refresh.
package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes. The client SDK schedules its background refresh
// at five sixths of the access TTL, so keep these in sync with authsdk.
const (
	// DefaultAccessTokenTTL is the lifetime of an access token.
	DefaultAccessTokenTTL = 30 * time.Minute

	// DefaultRefreshTokenTTL is the lifetime of a refresh token.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Authentication Method Reference values recorded in the "amr" claim.
const (
	// AMRPassword marks password-based authentication.
	AMRPassword = "pwd"
	// AMROTP marks a completed time-based one-time code challenge.
	AMROTP = "otp"
	// AMRRefresh marks a token minted via the refresh flow.
	AMRRefresh = "refresh"
)

// Claims are the access-token claims. Additive changes only, to keep issued
// tokens verifiable across deploys.
type Claims struct {
	jwt.RegisteredClaims

	// SID is the session ID, stable across refreshes of the same login.
	SID string `json:"sid,omitempty"`

	// Email is the user's login identifier.
	Email string `json:"email,omitempty"`

	// FullName is the user's display name.
	FullName string `json:"full_name,omitempty"`

	// Role is the user's role name (doctor, radiologist, admin, ...).
	Role string `json:"role,omitempty"`

	// AMR records how this session authenticated, e.g. ["pwd","otp"].
	AMR []string `json:"amr,omitempty"`
}

// NewAccessClaims builds minimally-correct claims for an access token.
func NewAccessClaims(
	subject, sid string,
	email, fullName, role string,
	amr []string,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:      sid,
		Email:    email,
		FullName: fullName,
		Role:     role,
		AMR:      amr,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks the issuer matches the expected value. An empty
// expected issuer enforces nothing.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil
	}
	if c.Issuer != expected {
		return ErrIssuer
	}
	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used
// before it becomes valid (nbf).
func (c *Claims) ValidateExpiry() error {
	now := time.Now().UTC()

	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}
