package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/spendwise/spendwise-auth/internal/identity"
	"github.com/spendwise/spendwise-auth/internal/metrics"
	"github.com/spendwise/spendwise-auth/internal/middleware"
	"github.com/spendwise/spendwise-auth/internal/providers"
	"github.com/spendwise/spendwise-auth/internal/ratelimit"
	"github.com/spendwise/spendwise-auth/internal/tracing"
	"github.com/spendwise/spendwise-auth/pkg/auth"
	_ "github.com/spendwise/spendwise-auth/pkg/auth/jwks" // cognito and jwks providers
	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
	_ "github.com/spendwise/spendwise-auth/pkg/auth/oidc"    // go-oidc provider
	_ "github.com/spendwise/spendwise-auth/pkg/auth/session" // legacy cookie provider
	_ "github.com/spendwise/spendwise-auth/pkg/auth/static"  // dev token provider
	"github.com/spendwise/spendwise-auth/pkg/config"
)

type Application struct {
	Config *config.Config
	Engine *gin.Engine
	Logger *slog.Logger

	Redis       *redis.Client
	KeySets     *keyset.CachingResolver
	Bearer      auth.Validator
	Session     auth.Validator
	Identity    identity.Authenticator
	RateLimiter ratelimit.Limiter

	TracingShutdown func(context.Context) error
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithBearerValidator replaces the validator built from config.
func WithBearerValidator(v auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Bearer = v
		return nil
	}
}

// WithIdentity replaces the Cognito client used by signup and login.
func WithIdentity(a identity.Authenticator) ApplicationOption {
	return func(app *Application) error {
		app.Identity = a
		return nil
	}
}

// WithRedis supplies an existing client instead of dialing cfg.RedisAddr.
func WithRedis(rdb *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.Redis = rdb
		return nil
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if strings.EqualFold(cfg.LogFormat, "text") {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "spendwise-auth", "env", cfg.Env)
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	app := &Application{Config: cfg, Logger: logger}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.OTLPInsecure,
		SampleRatio:  cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	app.TracingShutdown = shutdown

	if app.Redis == nil {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
	}
	app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)

	app.KeySets = newKeySetResolver(cfg, app.Redis, logger)
	metrics.RegisterJWKSCollector(func() []metrics.JWKSStat {
		entries := app.KeySets.Snapshot()
		out := make([]metrics.JWKSStat, 0, len(entries))
		for _, e := range entries {
			out = append(out, metrics.JWKSStat{Endpoint: e.Endpoint, Keys: e.Keys, FetchedAt: e.FetchedAt})
		}
		return out
	}, logger)

	deps := auth.Deps{
		KeySets:    app.KeySets,
		HTTPClient: &http.Client{Timeout: time.Duration(cfg.Auth.JwksHTTPTimeoutSeconds) * time.Second},
		Logger:     logger,
	}
	if app.Bearer == nil {
		pc, err := cfg.BearerProvider()
		if err != nil {
			return nil, err
		}
		app.Bearer, err = auth.NewValidator(pc, deps)
		if err != nil {
			return nil, fmt.Errorf("bearer validator: %w", err)
		}
	}
	if pc, ok, err := cfg.SessionProvider(); err != nil {
		return nil, err
	} else if ok {
		app.Session, err = auth.NewValidator(pc, deps)
		if err != nil {
			return nil, fmt.Errorf("session validator: %w", err)
		}
	}

	if app.Identity == nil && cfg.Cognito.ClientID != "" && cfg.Cognito.Region != "" {
		client, err := identity.NewCognitoClient(identity.CognitoConfig{
			Endpoint: cfg.Cognito.APIEndpoint(),
			ClientID: cfg.Cognito.ClientID,
		}, nil, logger)
		if err != nil {
			return nil, err
		}
		app.Identity = client
	}

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	logger.Info("application configured", "config", cfg)
	return app, nil
}

func newKeySetResolver(cfg *config.Config, rdb *redis.Client, logger *slog.Logger) *keyset.CachingResolver {
	timeout := time.Duration(cfg.Auth.JwksHTTPTimeoutSeconds) * time.Second
	opts := []keyset.Option{
		keyset.WithTTL(time.Duration(cfg.Auth.JwksCacheTTLSeconds) * time.Second),
		keyset.WithMinRefreshInterval(time.Duration(cfg.Auth.JwksMinRefreshSeconds) * time.Second),
		keyset.WithFetchTimeout(timeout),
		keyset.WithLogger(logger),
	}
	if cfg.Auth.JwksSharedCache && rdb != nil {
		ttl := time.Duration(cfg.Auth.JwksCacheTTLSeconds) * time.Second
		opts = append(opts, keyset.WithStore(keyset.NewRedisStore(rdb, ttl)))
	}
	return keyset.NewCachingResolver(keyset.NewHTTPFetcher(&http.Client{Timeout: timeout}), opts...)
}
