package jwks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spendwise/spendwise-auth/pkg/auth"
)

// CognitoConfig identifies an Amazon Cognito user pool and app client.
type CognitoConfig struct {
	Region           string `json:"region"`
	UserPoolID       string `json:"userPoolId"`
	ClientID         string `json:"clientId"`
	JwksURL          string `json:"jwksUrl,omitempty"`
	ClockSkewSeconds int    `json:"clockSkewSeconds,omitempty"`
}

// CognitoIssuer is the iss value Cognito stamps on tokens from a pool.
func CognitoIssuer(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// CognitoJWKSURL is where a pool publishes its signing keys.
func CognitoJWKSURL(region, userPoolID string) string {
	return CognitoIssuer(region, userPoolID) + "/.well-known/jwks.json"
}

func (c CognitoConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Region) == "" {
		errs = append(errs, errors.New("region is required"))
	}
	if strings.TrimSpace(c.UserPoolID) == "" {
		errs = append(errs, errors.New("userPoolId is required"))
	}
	if strings.TrimSpace(c.ClientID) == "" {
		errs = append(errs, errors.New("clientId is required"))
	}
	return errors.Join(errs...)
}

// Generic expands the pool identity into a JWKS provider config.
func (c CognitoConfig) Generic() Config {
	region := strings.TrimSpace(c.Region)
	pool := strings.TrimSpace(c.UserPoolID)
	jwksURL := strings.TrimSpace(c.JwksURL)
	if jwksURL == "" {
		jwksURL = CognitoJWKSURL(region, pool)
	}
	return Config{
		JwksURL:          jwksURL,
		Issuer:           CognitoIssuer(region, pool),
		Audience:         strings.TrimSpace(c.ClientID),
		ClockSkewSeconds: c.ClockSkewSeconds,
	}
}

// NewCognitoValidatorFromJSON builds the "cognito" provider.
func NewCognitoValidatorFromJSON(raw json.RawMessage, deps auth.Deps) (auth.Validator, error) {
	var cfg CognitoConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("cognito auth: invalid config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cognito auth: %w", err)
	}
	return newValidator("cognito", cfg.Generic(), keysFor(deps), deps.Logger)
}
