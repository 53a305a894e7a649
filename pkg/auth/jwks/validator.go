// Package jwks verifies provider-signed JWTs against a published key set.
package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spendwise/spendwise-auth/internal/metrics"
	"github.com/spendwise/spendwise-auth/internal/tracing"
	"github.com/spendwise/spendwise-auth/pkg/auth"
	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
	"github.com/spendwise/spendwise-auth/pkg/auth/policy"
)

// Config describes a generic JWKS-backed provider.
type Config struct {
	JwksURL          string `json:"jwksUrl"`
	Issuer           string `json:"issuer"`
	Audience         string `json:"audience"`
	AudienceFallback string `json:"audienceFallback,omitempty"`
	ClockSkewSeconds int    `json:"clockSkewSeconds,omitempty"`
}

func (c Config) policy() policy.Policy {
	return policy.Policy{
		Issuer:           strings.TrimSpace(c.Issuer),
		Audience:         strings.TrimSpace(c.Audience),
		AudienceFallback: c.AudienceFallback,
		ClockSkew:        time.Duration(c.ClockSkewSeconds) * time.Second,
	}
}

// Validator validates JWT tokens using JWKS
type Validator struct {
	provider string
	locator  *KeyLocator
	policy   policy.Policy
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewValidator creates a new JWKS validator
func NewValidator(cfg Config, keys keyset.Resolver, logger *slog.Logger) (*Validator, error) {
	return newValidator("jwks", cfg, keys, logger)
}

func newValidator(provider string, cfg Config, keys keyset.Resolver, logger *slog.Logger) (*Validator, error) {
	endpoint := strings.TrimSpace(cfg.JwksURL)
	if endpoint == "" {
		return nil, errors.New("jwksUrl is required")
	}
	p := cfg.policy()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("provider", provider)
	return &Validator{
		provider: provider,
		locator:  NewKeyLocator(endpoint, keys, logger),
		policy:   p,
		logger:   logger,
		tracer:   tracing.Tracer("auth"),
	}, nil
}

// Endpoint is the key set URL this validator reads.
func (v *Validator) Endpoint() string { return v.locator.Endpoint() }

// Validate validates a JWT token
func (v *Validator) Validate(ctx context.Context, token string) (*auth.Claims, error) {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "auth.Validate", trace.WithAttributes(
		attribute.String("auth.provider", v.provider),
	))
	defer span.End()

	claims, err := v.validate(ctx, token)

	outcome := "accepted"
	if err != nil {
		kind := auth.KindOf(err)
		outcome = string(kind)
		span.SetAttributes(attribute.String("auth.kind", outcome))
		span.SetStatus(codes.Error, outcome)
		if auth.IsUpstream(err) {
			v.logger.Warn("token verification failed", "kind", kind, "err", err)
		} else {
			v.logger.Debug("token rejected", "kind", kind, "err", err)
		}
	} else {
		span.SetAttributes(attribute.String("auth.subject", claims.Subject))
	}
	metrics.TokenVerificationsTotal.WithLabelValues(v.provider, outcome).Inc()
	metrics.TokenVerificationDurationSeconds.WithLabelValues(v.provider).Observe(time.Since(start).Seconds())
	return claims, err
}

func (v *Validator) validate(ctx context.Context, token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.NewError(auth.KindMissingToken, nil)
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, auth.Errorf(auth.KindMalformedToken, "expected three dot-separated segments")
	}

	key, alg, err := v.locator.Locate(ctx, token)
	if err != nil {
		return nil, err
	}
	claims, err := VerifySignature(token, key)
	if err != nil {
		if auth.IsKind(err, auth.KindInvalidSignature) && alg != "" {
			v.logger.Debug("signature rejected", "alg", alg, "kid", key.KeyID)
		}
		return nil, err
	}
	return v.policy.Apply(claims)
}

func keysFor(deps auth.Deps) keyset.Resolver {
	if deps.KeySets != nil {
		return deps.KeySets
	}
	return keyset.NewCachingResolver(keyset.NewHTTPFetcher(deps.HTTPClient), keyset.WithLogger(deps.Logger))
}

// NewValidatorFromJSON builds a generic provider from its registry config.
func NewValidatorFromJSON(raw json.RawMessage, deps auth.Deps) (auth.Validator, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("jwks auth: invalid config: %w", err)
	}
	return newValidator("jwks", cfg, keysFor(deps), deps.Logger)
}

func init() {
	auth.RegisterProvider("jwks", NewValidatorFromJSON)
	auth.RegisterProvider("cognito", NewCognitoValidatorFromJSON)
}
