package auth

import (
	"context"
	"time"
)

// Claims is the verified claim set of an accepted token.
type Claims struct {
	Subject       string         `json:"sub"`
	Issuer        string         `json:"iss"`
	Audience      []string       `json:"aud,omitempty"`
	ExpiresAt     time.Time      `json:"exp"`
	IssuedAt      time.Time      `json:"iat,omitempty"`
	Email         string         `json:"email,omitempty"`
	EmailVerified bool           `json:"email_verified"`
	Username      string         `json:"username,omitempty"`
	TokenUse      string         `json:"token_use,omitempty"`
	Groups        []string       `json:"groups,omitempty"`
	Scopes        []string       `json:"scopes,omitempty"`
	Raw           map[string]any `json:"claims"`
}

// HasScope checks if the claims contain a specific scope
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// InGroup reports whether the subject belongs to the named provider group.
func (c *Claims) InGroup(group string) bool {
	if c == nil {
		return false
	}
	for _, g := range c.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Validator authenticates a presented token. Implementations return either
// verified claims or an *Error describing why the token was rejected.
type Validator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, token string) (*Claims, error)

func (f ValidatorFunc) Validate(ctx context.Context, token string) (*Claims, error) {
	return f(ctx, token)
}
