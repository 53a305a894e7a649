// Package policy decides which signature-valid tokens are acceptable.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spendwise/spendwise-auth/pkg/auth"
)

// DefaultAudienceFallback is consulted when aud is absent. Cognito access
// tokens carry the app client id there instead of in aud.
const DefaultAudienceFallback = "client_id"

type Policy struct {
	Issuer           string
	Audience         string
	AudienceFallback string
	ClockSkew        time.Duration
	Now              func() time.Time
}

func (p Policy) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Issuer) == "" {
		errs = append(errs, errors.New("issuer is required"))
	}
	if strings.TrimSpace(p.Audience) == "" {
		errs = append(errs, errors.New("audience is required"))
	}
	if p.ClockSkew < 0 {
		errs = append(errs, errors.New("clock skew must be >= 0"))
	}
	return errors.Join(errs...)
}

// Check enforces expiration, then issuer, then audience. The first failing
// rule decides the error kind.
func (p Policy) Check(claims map[string]any) error {
	_, err := p.Apply(claims)
	return err
}

// Apply runs Check and, on success, returns the normalized claims.
func (p Policy) Apply(claims map[string]any) (*auth.Claims, error) {
	if err := p.checkExpiry(claims); err != nil {
		return nil, err
	}
	if err := p.checkIssuer(claims); err != nil {
		return nil, err
	}
	aud, err := p.audience(claims)
	if err != nil {
		return nil, err
	}
	return normalize(claims, aud), nil
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p Policy) checkExpiry(claims map[string]any) error {
	raw, ok := claims["exp"]
	if !ok {
		return auth.Errorf(auth.KindTokenExpired, "exp claim missing")
	}
	exp, ok := NumericDate(raw)
	if !ok {
		return auth.Errorf(auth.KindTokenExpired, "exp claim is not a numeric date")
	}
	if !p.now().Before(exp.Add(p.ClockSkew)) {
		return auth.Errorf(auth.KindTokenExpired, "expired at %s", exp.UTC().Format(time.RFC3339))
	}
	return nil
}

func (p Policy) checkIssuer(claims map[string]any) error {
	iss, _ := claims["iss"].(string)
	if iss != p.Issuer {
		return auth.Errorf(auth.KindIssuerMismatch, "unexpected issuer %q", iss)
	}
	return nil
}

func (p Policy) audience(claims map[string]any) (Audience, error) {
	if raw, ok := claims["aud"]; ok {
		aud, err := ParseAudience(raw)
		if err != nil {
			return Audience{}, auth.NewError(auth.KindAudienceMismatch, err)
		}
		if !aud.Contains(p.Audience) {
			return Audience{}, auth.Errorf(auth.KindAudienceMismatch, "aud %v does not include the configured client", aud.Values())
		}
		return aud, nil
	}

	fallback := p.AudienceFallback
	if fallback == "" {
		fallback = DefaultAudienceFallback
	}
	clientID, _ := claims[fallback].(string)
	if clientID == "" {
		return Audience{}, auth.Errorf(auth.KindAudienceMismatch, "neither aud nor %s present", fallback)
	}
	aud := SingleAudience(clientID)
	if !aud.Contains(p.Audience) {
		return Audience{}, auth.Errorf(auth.KindAudienceMismatch, "%s %q is not the configured client", fallback, clientID)
	}
	return aud, nil
}

// NumericDate converts a JSON NumericDate claim value into a time.
func NumericDate(v any) (time.Time, bool) {
	var secs float64
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case float64:
		secs = n
	case int64:
		secs = float64(n)
	case int:
		secs = float64(n)
	default:
		return time.Time{}, false
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

func normalize(claims map[string]any, aud Audience) *auth.Claims {
	out := &auth.Claims{
		Subject:  stringClaim(claims, "sub"),
		Issuer:   stringClaim(claims, "iss"),
		Audience: aud.Values(),
		Email:    stringClaim(claims, "email"),
		TokenUse: stringClaim(claims, "token_use"),
		Groups:   stringsClaim(claims, "cognito:groups"),
		Raw:      claims,
	}
	if exp, ok := NumericDate(claims["exp"]); ok {
		out.ExpiresAt = exp
	}
	if iat, ok := NumericDate(claims["iat"]); ok {
		out.IssuedAt = iat
	}
	out.Username = stringClaim(claims, "cognito:username")
	if out.Username == "" {
		out.Username = stringClaim(claims, "username")
	}
	switch v := claims["email_verified"].(type) {
	case bool:
		out.EmailVerified = v
	case string:
		out.EmailVerified = strings.EqualFold(v, "true")
	}
	if scope, ok := claims["scope"].(string); ok {
		out.Scopes = strings.Fields(scope)
	}
	return out
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func stringsClaim(claims map[string]any, key string) []string {
	switch v := claims[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// String is used in log lines.
func (p Policy) String() string {
	return fmt.Sprintf("issuer=%s audience=%s skew=%s", p.Issuer, p.Audience, p.ClockSkew)
}
