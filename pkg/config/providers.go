package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spendwise/spendwise-auth/pkg/auth"
	"github.com/spendwise/spendwise-auth/pkg/auth/jwks"
)

// BearerProvider renders the registry config of the selected bearer
// verifier.
func (c *Config) BearerProvider() (auth.ProviderConfig, error) {
	var v any
	switch c.Auth.Provider {
	case "cognito":
		v = jwks.CognitoConfig{
			Region:           c.Cognito.Region,
			UserPoolID:       c.Cognito.UserPoolID,
			ClientID:         c.Cognito.ClientID,
			JwksURL:          c.Cognito.JwksURL,
			ClockSkewSeconds: c.Auth.AllowedClockSkewSeconds,
		}
	case "oidc":
		v = map[string]any{
			"region":           c.Cognito.Region,
			"userPoolId":       c.Cognito.UserPoolID,
			"clientId":         c.Cognito.ClientID,
			"jwksUrl":          c.Cognito.JwksURL,
			"clockSkewSeconds": c.Auth.AllowedClockSkewSeconds,
		}
	case "jwks":
		v = jwks.Config{
			JwksURL:          c.Auth.JwksURL,
			Issuer:           c.Auth.Issuer,
			Audience:         c.Auth.Audience,
			ClockSkewSeconds: c.Auth.AllowedClockSkewSeconds,
		}
	case "static":
		v = map[string]any{"token": c.Auth.StaticToken, "subject": "dev-user"}
	default:
		return auth.ProviderConfig{}, fmt.Errorf("auth provider %q is not supported", c.Auth.Provider)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return auth.ProviderConfig{}, fmt.Errorf("encode %s provider config: %w", c.Auth.Provider, err)
	}
	return auth.ProviderConfig{Type: c.Auth.Provider, Config: raw}, nil
}

// SessionProvider renders the cookie verifier config. ok is false when no
// session secret is configured.
func (c *Config) SessionProvider() (pc auth.ProviderConfig, ok bool, err error) {
	if strings.TrimSpace(c.Auth.SessionSecret) == "" {
		return auth.ProviderConfig{}, false, nil
	}
	raw, err := json.Marshal(map[string]string{
		"secret":     c.Auth.SessionSecret,
		"cookieName": c.Auth.SessionCookieName,
	})
	if err != nil {
		return auth.ProviderConfig{}, false, err
	}
	return auth.ProviderConfig{Type: "session", Config: raw}, true, nil
}

// BearerJWKSEndpoint is the key-set URL the bearer verifier reads, or ""
// for providers without one.
func (c *Config) BearerJWKSEndpoint() string {
	switch c.Auth.Provider {
	case "cognito", "oidc":
		return c.Cognito.JWKSEndpoint()
	case "jwks":
		return c.Auth.JwksURL
	}
	return ""
}
