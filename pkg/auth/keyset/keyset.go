// Package keyset fetches, parses and caches the public keys an identity
// provider publishes as a JSON Web Key Set.
package keyset

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	// ErrUnavailable wraps every failure to obtain a usable key set.
	ErrUnavailable = errors.New("keyset: unavailable")

	// ErrRefreshThrottled is returned by Refresh when the endpoint was
	// fetched more recently than the minimum refresh interval.
	ErrRefreshThrottled = errors.New("keyset: refresh throttled")
)

// Key families accepted for signature verification. Symmetric ("oct")
// keys are never loaded from a published set.
const (
	KeyTypeRSA = "RSA"
	KeyTypeEC  = "EC"
	KeyTypeOKP = "OKP"
)

var (
	rsaMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	ecMethods  = map[string]string{"P-256": "ES256", "P-384": "ES384", "P-521": "ES512"}
)

// VerificationKey is one published public key. It is immutable once parsed.
type VerificationKey struct {
	KeyID     string
	KeyType   string
	Algorithm string
	Use       string
	Curve     string
	Encoded   json.RawMessage

	once   sync.Once
	pub    crypto.PublicKey
	pubErr error
}

// PublicKey converts the encoded JWK into a crypto public key. The
// conversion runs once per key.
func (k *VerificationKey) PublicKey() (crypto.PublicKey, error) {
	k.once.Do(func() {
		k.pub, k.pubErr = convertKey(k.Encoded)
	})
	return k.pub, k.pubErr
}

// Methods returns the JWS algorithms this key may verify. A declared alg
// narrows the family to that single algorithm.
func (k *VerificationKey) Methods() []string {
	family := familyMethods(k.KeyType, k.Curve)
	if k.Algorithm == "" {
		return family
	}
	for _, m := range family {
		if m == k.Algorithm {
			return []string{m}
		}
	}
	return nil
}

func familyMethods(kty, crv string) []string {
	switch kty {
	case KeyTypeRSA:
		out := make([]string, len(rsaMethods))
		copy(out, rsaMethods)
		return out
	case KeyTypeEC:
		if m, ok := ecMethods[crv]; ok {
			return []string{m}
		}
	case KeyTypeOKP:
		if crv == "Ed25519" {
			return []string{"EdDSA"}
		}
	}
	return nil
}

func convertKey(raw json.RawMessage) (crypto.PublicKey, error) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jwk: %w", err)
	}
	pub, err := key.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive public jwk: %w", err)
	}
	var out any
	if err := pub.Raw(&out); err != nil {
		return nil, fmt.Errorf("materialize jwk: %w", err)
	}
	switch out.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey:
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported public key type %T", out)
	}
}

// KeySet is an ordered collection of keys fetched from one endpoint.
type KeySet struct {
	Endpoint  string
	Keys      []*VerificationKey
	FetchedAt time.Time

	index map[string]*VerificationKey
}

// Lookup returns the key with the given id. When a document repeats a kid
// the first occurrence wins.
func (s *KeySet) Lookup(kid string) (*VerificationKey, bool) {
	if s == nil || kid == "" {
		return nil, false
	}
	k, ok := s.index[kid]
	return k, ok
}

// KeyIDs lists the key ids in document order.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.Keys))
	for _, k := range s.Keys {
		ids = append(ids, k.KeyID)
	}
	return ids
}

type jwkHeader struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg"`
	Use       string `json:"use"`
	Curve     string `json:"crv"`
}

// Parse decodes a JWKS document. Keys without a kid, encryption keys,
// symmetric keys and keys whose declared alg does not belong to their
// family are skipped. A document with no usable key is an error.
func Parse(endpoint string, body []byte, fetchedAt time.Time) (*KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	set := &KeySet{
		Endpoint:  endpoint,
		FetchedAt: fetchedAt,
		index:     make(map[string]*VerificationKey, len(doc.Keys)),
	}
	for _, raw := range doc.Keys {
		var h jwkHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			continue
		}
		h.KeyID = strings.TrimSpace(h.KeyID)
		if h.KeyID == "" || strings.EqualFold(h.Use, "enc") {
			continue
		}
		key := &VerificationKey{
			KeyID:     h.KeyID,
			KeyType:   h.KeyType,
			Algorithm: h.Algorithm,
			Use:       h.Use,
			Curve:     h.Curve,
			Encoded:   append(json.RawMessage(nil), raw...),
		}
		if len(key.Methods()) == 0 {
			continue
		}
		if _, dup := set.index[key.KeyID]; dup {
			continue
		}
		set.index[key.KeyID] = key
		set.Keys = append(set.Keys, key)
	}
	if len(set.Keys) == 0 {
		return nil, errors.New("jwks contains no usable signing keys")
	}
	return set, nil
}
