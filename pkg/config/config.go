package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spendwise/spendwise-auth/pkg/auth/jwks"
)

// RateLimitConfig configures a token bucket. Zero RequestsPerMinute
// disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

// CognitoConfig identifies the user pool that issues bearer tokens.
type CognitoConfig struct {
	Region     string `yaml:"region"`
	UserPoolID string `yaml:"userPoolId"`
	ClientID   string `yaml:"clientId"`
	// JwksURL overrides the key set URL derived from region and pool.
	JwksURL string `yaml:"jwksUrl"`
	// Endpoint overrides the identity API URL (local emulators).
	Endpoint string `yaml:"endpoint"`
}

func (c CognitoConfig) Issuer() string {
	return jwks.CognitoIssuer(c.Region, c.UserPoolID)
}

func (c CognitoConfig) JWKSEndpoint() string {
	if c.JwksURL != "" {
		return c.JwksURL
	}
	return jwks.CognitoJWKSURL(c.Region, c.UserPoolID)
}

func (c CognitoConfig) APIEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/", c.Region)
}

type AuthConfig struct {
	// Provider selects the bearer verifier: cognito, oidc, jwks or static.
	Provider string `yaml:"provider"`

	// Generic jwks provider settings.
	JwksURL  string `yaml:"jwksUrl"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`

	// AllowedClockSkewSeconds is leeway past exp. 0, the default, rejects
	// every token whose exp has passed.
	AllowedClockSkewSeconds int  `yaml:"allowedClockSkewSeconds"`
	JwksCacheTTLSeconds     int  `yaml:"jwksCacheTtlSeconds"`
	JwksMinRefreshSeconds   int  `yaml:"jwksMinRefreshSeconds"`
	JwksHTTPTimeoutSeconds  int  `yaml:"jwksHttpTimeoutSeconds"`
	JwksSharedCache         bool `yaml:"jwksSharedCache"`

	// KeySetUnavailableStatus is the HTTP status returned when the key set
	// cannot be fetched. 401 unless set to 503.
	KeySetUnavailableStatus int `yaml:"keySetUnavailableStatus"`

	StaticToken string `yaml:"staticToken"`

	// SessionSecret enables the legacy cookie route when set.
	SessionSecret     string `yaml:"sessionSecret"`
	SessionCookieName string `yaml:"sessionCookieName"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port      int    `yaml:"port"`
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	Cognito CognitoConfig `yaml:"cognito"`
	Auth    AuthConfig    `yaml:"auth"`
	Tracing TracingConfig `yaml:"tracing"`

	// AuthRateLimit guards signup and login per client IP.
	AuthRateLimit RateLimitConfig `yaml:"authRateLimit"`
}

// LoadConfig reads a YAML file, then applies environment overrides and
// defaults. A missing file is an error.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

// LoadConfigOptional behaves like LoadConfig but treats an empty path or a
// missing file as an empty document, so the service can run from env alone.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return parse(nil)
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return parse(nil)
	}
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	var c Config
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	envInt("PORT", &c.Port)
	envString("ENV", &c.Env)
	envString("LOG_LEVEL", &c.LogLevel)
	envString("LOG_FORMAT", &c.LogFormat)
	envString("REDIS_ADDR", &c.RedisAddr)
	envString("REDIS_PASSWORD", &c.RedisPassword)

	envString("NEXT_PUBLIC_AWS_REGION", &c.Cognito.Region)
	envString("AWS_REGION", &c.Cognito.Region)
	envString("NEXT_PUBLIC_COGNITO_USER_POOL_ID", &c.Cognito.UserPoolID)
	envString("COGNITO_USER_POOL_ID", &c.Cognito.UserPoolID)
	envString("NEXT_PUBLIC_COGNITO_CLIENT_ID", &c.Cognito.ClientID)
	envString("COGNITO_CLIENT_ID", &c.Cognito.ClientID)
	envString("COGNITO_JWKS_URL", &c.Cognito.JwksURL)
	envString("COGNITO_ENDPOINT", &c.Cognito.Endpoint)

	envString("AUTH_PROVIDER", &c.Auth.Provider)
	envString("AUTH_JWKS_URL", &c.Auth.JwksURL)
	envString("AUTH_ISSUER", &c.Auth.Issuer)
	envString("AUTH_AUDIENCE", &c.Auth.Audience)
	envInt("ALLOWED_CLOCK_SKEW_SECONDS", &c.Auth.AllowedClockSkewSeconds)
	envInt("JWKS_CACHE_TTL_SECONDS", &c.Auth.JwksCacheTTLSeconds)
	envInt("JWKS_MIN_REFRESH_SECONDS", &c.Auth.JwksMinRefreshSeconds)
	envInt("JWKS_HTTP_TIMEOUT_SECONDS", &c.Auth.JwksHTTPTimeoutSeconds)
	envBool("JWKS_SHARED_CACHE", &c.Auth.JwksSharedCache)
	envInt("KEYSET_UNAVAILABLE_STATUS", &c.Auth.KeySetUnavailableStatus)
	envString("STATIC_TOKEN", &c.Auth.StaticToken)
	envString("JWT_SECRET", &c.Auth.SessionSecret)
	envString("SESSION_COOKIE_NAME", &c.Auth.SessionCookieName)

	envBool("TRACING_ENABLED", &c.Tracing.Enabled)
	envString("OTEL_SERVICE_NAME", &c.Tracing.ServiceName)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Tracing.OTLPEndpoint)
	envBool("OTEL_EXPORTER_OTLP_INSECURE", &c.Tracing.OTLPInsecure)
	if v := os.Getenv("TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tracing.SampleRatio = f
		}
	}

	envInt("AUTH_RATE_LIMIT_RPM", &c.AuthRateLimit.RequestsPerMinute)
	envInt("AUTH_RATE_LIMIT_BURST", &c.AuthRateLimit.BurstSize)
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.Auth.Provider == "" {
		c.Auth.Provider = "cognito"
	}
	if c.Auth.JwksMinRefreshSeconds <= 0 {
		c.Auth.JwksMinRefreshSeconds = 30
	}
	if c.Auth.JwksHTTPTimeoutSeconds <= 0 {
		c.Auth.JwksHTTPTimeoutSeconds = 5
	}
	if c.Auth.KeySetUnavailableStatus == 0 {
		c.Auth.KeySetUnavailableStatus = http.StatusUnauthorized
	}
	if c.Auth.SessionCookieName == "" {
		c.Auth.SessionCookieName = "token"
	}
	if c.AuthRateLimit.RequestsPerMinute > 0 && c.AuthRateLimit.BurstSize <= 0 {
		c.AuthRateLimit.BurstSize = c.AuthRateLimit.RequestsPerMinute
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "spendwise-auth"
	}
}

// Validate fails fast on every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []string
	env := strings.ToLower(strings.TrimSpace(c.Env))
	dev := env == "dev"

	switch c.Auth.Provider {
	case "cognito", "oidc":
		if strings.TrimSpace(c.Cognito.Region) == "" {
			errs = append(errs, "cognito.region (AWS_REGION) is required")
		}
		if strings.TrimSpace(c.Cognito.UserPoolID) == "" {
			errs = append(errs, "cognito.userPoolId (COGNITO_USER_POOL_ID) is required")
		}
		if strings.TrimSpace(c.Cognito.ClientID) == "" {
			errs = append(errs, "cognito.clientId (COGNITO_CLIENT_ID) is required")
		}
		if c.Cognito.JwksURL != "" && !validHTTPURL(c.Cognito.JwksURL) {
			errs = append(errs, "cognito.jwksUrl must be a valid http(s) URL")
		}
	case "jwks":
		if !validHTTPURL(c.Auth.JwksURL) {
			errs = append(errs, "auth.jwksUrl must be a valid http(s) URL")
		}
		if strings.TrimSpace(c.Auth.Issuer) == "" {
			errs = append(errs, "auth.issuer is required")
		}
		if strings.TrimSpace(c.Auth.Audience) == "" {
			errs = append(errs, "auth.audience is required")
		}
	case "static":
		if !dev {
			errs = append(errs, "auth.provider static is only allowed in dev")
		}
		if strings.TrimSpace(c.Auth.StaticToken) == "" {
			errs = append(errs, "auth.staticToken (STATIC_TOKEN) is required for the static provider")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.provider %q is not supported", c.Auth.Provider))
	}

	if c.Cognito.Endpoint != "" && !validHTTPURL(c.Cognito.Endpoint) {
		errs = append(errs, "cognito.endpoint must be a valid http(s) URL")
	}
	if c.Auth.AllowedClockSkewSeconds < 0 {
		errs = append(errs, "auth.allowedClockSkewSeconds must be >= 0")
	}
	if c.Auth.JwksCacheTTLSeconds < 0 {
		errs = append(errs, "auth.jwksCacheTtlSeconds must be >= 0")
	}
	if s := c.Auth.KeySetUnavailableStatus; s != http.StatusUnauthorized && s != http.StatusServiceUnavailable {
		errs = append(errs, "auth.keySetUnavailableStatus must be 401 or 503")
	}
	if c.Auth.SessionSecret != "" && len(c.Auth.SessionSecret) < 16 && !dev {
		errs = append(errs, "auth.sessionSecret (JWT_SECRET) must be at least 16 bytes in non-dev")
	}
	if c.AuthRateLimit.RequestsPerMinute < 0 || c.AuthRateLimit.BurstSize < 0 {
		errs = append(errs, "authRateLimit values must be >= 0")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LogValue keeps secrets out of the startup log line.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("env", c.Env),
		slog.String("redis", c.RedisAddr),
		slog.String("provider", c.Auth.Provider),
		slog.String("region", c.Cognito.Region),
		slog.String("userPoolId", c.Cognito.UserPoolID),
		slog.Int("jwksCacheTtlSeconds", c.Auth.JwksCacheTTLSeconds),
		slog.Bool("jwksSharedCache", c.Auth.JwksSharedCache),
		slog.Bool("sessionRoute", c.Auth.SessionSecret != ""),
		slog.Bool("tracing", c.Tracing.Enabled),
	)
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
