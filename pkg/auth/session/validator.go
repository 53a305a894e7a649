// Package session verifies the legacy HS256 session token the web client
// stores in a cookie. It is a separate, weaker trust boundary from the
// provider-signed bearer tokens and is never consulted for them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spendwise/spendwise-auth/pkg/auth"
)

const (
	DefaultCookieName = "token"
	issuer            = "spendwise-session"
)

type Config struct {
	Secret     string `json:"secret"`
	CookieName string `json:"cookieName,omitempty"`
}

// Claims is the payload of a session token.
type Claims struct {
	ID    string `json:"_id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Validator struct {
	secret []byte
	parser *jwt.Parser
	now    func() time.Time
}

func NewValidator(cfg Config) (*Validator, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("session auth: secret is required")
	}
	v := &Validator{secret: []byte(cfg.Secret), now: time.Now}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	return v, nil
}

func (v *Validator) Validate(_ context.Context, token string) (*auth.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, auth.NewError(auth.KindMissingToken, nil)
	}

	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, auth.NewError(auth.KindMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, auth.NewError(auth.KindTokenExpired, err)
	default:
		return nil, auth.NewError(auth.KindInvalidSignature, err)
	}
	if claims.ID == "" {
		return nil, auth.Errorf(auth.KindMalformedToken, "session token has no _id")
	}

	out := &auth.Claims{
		Subject: claims.ID,
		Issuer:  issuer,
		Email:   claims.Email,
		Raw:     map[string]any{"_id": claims.ID, "email": claims.Email},
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
		out.Raw["exp"] = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
		out.Raw["iat"] = claims.IssuedAt.Unix()
	}
	return out, nil
}

// Issue signs a session token. It backs local tooling and tests; the
// service itself never mints sessions.
func Issue(secret, id, email string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("session auth: secret is required")
	}
	now := time.Now()
	claims := Claims{ID: id, Email: email}
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func NewValidatorFromJSON(raw json.RawMessage, _ auth.Deps) (auth.Validator, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("session auth: invalid config: %w", err)
	}
	return NewValidator(cfg)
}

func init() {
	auth.RegisterProvider("session", NewValidatorFromJSON)
}
