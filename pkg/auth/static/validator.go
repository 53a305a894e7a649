// Package static accepts one fixed token. It exists for local development
// against the service without a live user pool.
package static

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spendwise/spendwise-auth/pkg/auth"
)

type validatorConfig struct {
	// Token is the exact bearer token value expected by this validator.
	Token string `json:"token"`

	// Subject is returned as claims.Subject.
	Subject string `json:"subject,omitempty"`

	Email string `json:"email,omitempty"`

	Groups []string `json:"groups,omitempty"`

	Scopes []string `json:"scopes,omitempty"`

	// Raw is returned as claims.Raw.
	Raw map[string]any `json:"raw,omitempty"`
}

type validator struct {
	cfg validatorConfig
}

func NewValidatorFromJSON(raw json.RawMessage, _ auth.Deps) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg validatorConfig
	// Allow config to be either:
	// - JSON object: {"token":"...","subject":"..."}
	// - JSON string: "token-value"
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	}

	cfg.Token = strings.TrimSpace(cfg.Token)
	if cfg.Token == "" {
		return nil, errors.New("static auth: token is required")
	}
	cfg.Subject = strings.TrimSpace(cfg.Subject)
	if cfg.Subject == "" {
		cfg.Subject = "static"
	}
	if cfg.Raw == nil {
		cfg.Raw = map[string]any{}
	}
	if _, ok := cfg.Raw["sub"]; !ok {
		cfg.Raw["sub"] = cfg.Subject
	}

	return &validator{cfg: cfg}, nil
}

func (v *validator) Validate(_ context.Context, token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.NewError(auth.KindMissingToken, nil)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.cfg.Token)) != 1 {
		return nil, auth.Errorf(auth.KindInvalidSignature, "token does not match")
	}
	return &auth.Claims{
		Subject:  v.cfg.Subject,
		Issuer:   "static",
		Email:    v.cfg.Email,
		Username: v.cfg.Subject,
		Groups:   v.cfg.Groups,
		Scopes:   v.cfg.Scopes,
		Raw:      v.cfg.Raw,
	}, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
