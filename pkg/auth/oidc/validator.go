// Package oidc verifies tokens with coreos/go-oidc. Keys come from the
// process-wide key-set resolver through a gooidc.KeySet adapter, so the
// kid rules, the cache and its admin operations are the ones the jwks
// verifier uses. Claim rules come from the shared policy.
package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/spendwise/spendwise-auth/internal/metrics"
	"github.com/spendwise/spendwise-auth/pkg/auth"
	"github.com/spendwise/spendwise-auth/pkg/auth/jwks"
	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
	"github.com/spendwise/spendwise-auth/pkg/auth/policy"
)

const providerName = "oidc"

var supportedAlgs = []string{
	gooidc.RS256, gooidc.RS384, gooidc.RS512,
	gooidc.ES256, gooidc.ES384, gooidc.ES512,
	gooidc.PS256, gooidc.PS384, gooidc.PS512,
}

// Config accepts either explicit endpoints or a Cognito pool identity.
type Config struct {
	jwks.Config
	Region     string `json:"region,omitempty"`
	UserPoolID string `json:"userPoolId,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
}

func (c Config) resolve() jwks.Config {
	if c.Region == "" && c.UserPoolID == "" {
		return c.Config
	}
	g := jwks.CognitoConfig{
		Region:           c.Region,
		UserPoolID:       c.UserPoolID,
		ClientID:         c.ClientID,
		JwksURL:          c.JwksURL,
		ClockSkewSeconds: c.ClockSkewSeconds,
	}.Generic()
	if g.Audience == "" {
		g.Audience = c.Audience
	}
	return g
}

type Validator struct {
	locator  *jwks.KeyLocator
	verifier *gooidc.IDTokenVerifier
	policy   policy.Policy
	logger   *slog.Logger
}

// NewValidator builds a verifier reading keys through keys. Pass the
// shared resolver so cache refreshes and invalidations apply to it.
func NewValidator(cfg Config, keys keyset.Resolver, logger *slog.Logger) (*Validator, error) {
	resolved := cfg.resolve()
	if strings.TrimSpace(resolved.JwksURL) == "" {
		return nil, errors.New("oidc auth: jwksUrl is required")
	}
	p := policy.Policy{
		Issuer:           strings.TrimSpace(resolved.Issuer),
		Audience:         strings.TrimSpace(resolved.Audience),
		AudienceFallback: resolved.AudienceFallback,
		ClockSkew:        time.Duration(resolved.ClockSkewSeconds) * time.Second,
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("oidc auth: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", providerName)

	locator := jwks.NewKeyLocator(resolved.JwksURL, keys, logger)
	verifier := gooidc.NewVerifier(p.Issuer, &sharedKeySet{locator: locator}, &gooidc.Config{
		SkipClientIDCheck:    true,
		SkipIssuerCheck:      true,
		SkipExpiryCheck:      true,
		SupportedSigningAlgs: supportedAlgs,
	})
	return &Validator{
		locator:  locator,
		verifier: verifier,
		policy:   p,
		logger:   logger,
	}, nil
}

// Endpoint is the key set URL this validator reads.
func (v *Validator) Endpoint() string { return v.locator.Endpoint() }

func (v *Validator) Validate(ctx context.Context, token string) (*auth.Claims, error) {
	start := time.Now()
	claims, err := v.validate(ctx, token)
	outcome := "accepted"
	if err != nil {
		outcome = string(auth.KindOf(err))
		v.logger.Debug("token rejected", "kind", outcome, "err", err)
	}
	metrics.TokenVerificationsTotal.WithLabelValues(providerName, outcome).Inc()
	metrics.TokenVerificationDurationSeconds.WithLabelValues(providerName).Observe(time.Since(start).Seconds())
	return claims, err
}

func (v *Validator) validate(ctx context.Context, token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.NewError(auth.KindMissingToken, nil)
	}
	if strings.Count(token, ".") != 2 {
		return nil, auth.Errorf(auth.KindMalformedToken, "expected three dot-separated segments")
	}

	// go-oidc flattens key set errors into text, so the kid is resolved
	// here first and the chosen key pinned for the adapter.
	key, _, err := v.locator.Locate(ctx, token)
	if err != nil {
		return nil, err
	}
	idToken, err := v.verifier.Verify(context.WithValue(ctx, pinnedKey{}, key), token)
	if err != nil {
		return nil, classify(err)
	}
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, auth.NewError(auth.KindMalformedToken, err)
	}
	return v.policy.Apply(raw)
}

// classify maps go-oidc errors onto verification kinds. The library wraps
// most causes with %v, so the message text is all there is to go on.
func classify(err error) error {
	var expired *gooidc.TokenExpiredError
	if errors.As(err, &expired) {
		return auth.NewError(auth.KindTokenExpired, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "fetching keys"), strings.Contains(msg, "get keys failed"):
		return auth.NewError(auth.KindKeySetUnavailable, err)
	case strings.Contains(msg, "unexpected signature algorithm"), strings.Contains(msg, "unsupported algorithm"):
		return auth.NewError(auth.KindInvalidSignature, err)
	case strings.Contains(msg, "malformed"), strings.Contains(msg, "failed to unmarshal claims"):
		return auth.NewError(auth.KindMalformedToken, err)
	case strings.Contains(msg, "issued by a different provider"):
		return auth.NewError(auth.KindIssuerMismatch, err)
	case strings.Contains(msg, "expected audience"):
		return auth.NewError(auth.KindAudienceMismatch, err)
	default:
		return auth.NewError(auth.KindInvalidSignature, err)
	}
}

type pinnedKey struct{}

// sharedKeySet adapts the key locator to gooidc.KeySet. Only the key whose
// kid matches the header is tried.
type sharedKeySet struct {
	locator *jwks.KeyLocator
}

func (s *sharedKeySet) VerifySignature(ctx context.Context, token string) ([]byte, error) {
	key, ok := ctx.Value(pinnedKey{}).(*keyset.VerificationKey)
	if !ok {
		var err error
		if key, _, err = s.locator.Locate(ctx, token); err != nil {
			return nil, err
		}
	}
	if _, err := jwks.VerifySignature(token, key); err != nil {
		return nil, err
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, auth.Errorf(auth.KindMalformedToken, "expected three dot-separated segments")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, auth.NewError(auth.KindMalformedToken, err)
	}
	return payload, nil
}

func NewValidatorFromJSON(raw json.RawMessage, deps auth.Deps) (auth.Validator, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("oidc auth: invalid config: %w", err)
	}
	keys := deps.KeySets
	if keys == nil {
		keys = keyset.NewCachingResolver(keyset.NewHTTPFetcher(deps.HTTPClient), keyset.WithLogger(deps.Logger))
	}
	return NewValidator(cfg, keys, deps.Logger)
}

func init() {
	auth.RegisterProvider(providerName, NewValidatorFromJSON)
}
