package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/promptlift/clientcore/internal/errors"
)

// Subject carries the user identity claims embedded in the token.
type Subject struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Claims represents the decoded token claims.
type Claims struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Subject builds the identity view of the claims.
func (c *Claims) Subject() Subject {
	return Subject{
		ID:        c.UserID,
		Email:     c.Email,
		Name:      c.Name,
		AvatarURL: c.AvatarURL,
	}
}

// Expiry returns the embedded expiry time. Zero when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// DecodeClaims decodes the embedded claims of a credential without verifying
// its signature. Expiry is always derived from these claims, never trusted
// from a side channel; signature verification belongs to the remote authority
// that consumes the token.
func DecodeClaims(raw string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, errors.TokenMalformed(err)
	}
	if claims.ExpiresAt == nil {
		return nil, errors.TokenMalformed(nil).WithDetails("reason", "missing exp claim")
	}
	return claims, nil
}
