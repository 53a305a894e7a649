package jwks

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/spendwise/spendwise-auth/pkg/auth"
	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
)

// KeyLocator finds the key a token names in its kid header within one
// endpoint's key set. It is shared by every verifier that reads the
// process-wide resolver.
type KeyLocator struct {
	endpoint string
	keys     keyset.Resolver
	logger   *slog.Logger
}

func NewKeyLocator(endpoint string, keys keyset.Resolver, logger *slog.Logger) *KeyLocator {
	if keys == nil {
		keys = keyset.NewCachingResolver(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyLocator{endpoint: strings.TrimSpace(endpoint), keys: keys, logger: logger}
}

// Endpoint is the key set URL the locator reads.
func (l *KeyLocator) Endpoint() string { return l.endpoint }

// Locate returns the key matching token's kid and the alg the header
// declares. A header without kid is malformed; a kid absent even after
// one refresh is an unknown signing key.
func (l *KeyLocator) Locate(ctx context.Context, token string) (*keyset.VerificationKey, string, error) {
	kid, alg, err := parseHeader(token)
	if err != nil {
		return nil, "", err
	}
	key, err := l.lookup(ctx, kid)
	if err != nil {
		return nil, "", err
	}
	return key, alg, nil
}

// parseHeader reads kid and alg without verifying anything.
func parseHeader(token string) (kid, alg string, err error) {
	unverified, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(token, jwt.MapClaims{})
	// An alg the library does not know still yields a decoded header; the
	// signature step rejects it once the key is known.
	if err != nil && !(unverified != nil && errors.Is(err, jwt.ErrTokenUnverifiable)) {
		return "", "", auth.NewError(auth.KindMalformedToken, err)
	}
	kid, _ = unverified.Header["kid"].(string)
	alg, _ = unverified.Header["alg"].(string)
	if strings.TrimSpace(kid) == "" {
		return "", "", auth.Errorf(auth.KindMalformedToken, "header has no kid")
	}
	return kid, alg, nil
}

// lookup finds kid in the cached set, refetching once when it is absent
// in case the provider rotated keys.
func (l *KeyLocator) lookup(ctx context.Context, kid string) (*keyset.VerificationKey, error) {
	set, err := l.keys.Resolve(ctx, l.endpoint)
	if err != nil {
		return nil, auth.NewError(auth.KindKeySetUnavailable, err)
	}
	if key, ok := set.Lookup(kid); ok {
		return key, nil
	}

	set, err = l.keys.Refresh(ctx, l.endpoint)
	switch {
	case errors.Is(err, keyset.ErrRefreshThrottled):
		return nil, auth.Errorf(auth.KindUnknownSigningKey, "kid %q not in key set", kid)
	case err != nil:
		return nil, auth.NewError(auth.KindKeySetUnavailable, err)
	}
	if key, ok := set.Lookup(kid); ok {
		l.logger.Info("signing key picked up after refresh", "kid", kid)
		return key, nil
	}
	return nil, auth.Errorf(auth.KindUnknownSigningKey, "kid %q not in key set", kid)
}

// VerifySignature checks token against key, accepting only the algorithms
// the key's family permits, and returns the decoded payload.
func VerifySignature(token string, key *keyset.VerificationKey) (jwt.MapClaims, error) {
	pub, err := key.PublicKey()
	if err != nil {
		return nil, auth.Errorf(auth.KindUnknownSigningKey, "key %q cannot be converted: %v", key.KeyID, err)
	}
	methods := key.Methods()
	if len(methods) == 0 {
		return nil, auth.Errorf(auth.KindInvalidSignature, "key %q permits no algorithm", key.KeyID)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(methods),
		jwt.WithoutClaimsValidation(),
		jwt.WithJSONNumber(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, auth.NewError(auth.KindMalformedToken, err)
		}
		return nil, auth.Errorf(auth.KindInvalidSignature, "key %q: %v", key.KeyID, err)
	}
	return claims, nil
}
