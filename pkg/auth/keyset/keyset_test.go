package keyset

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

func rsaJWK(t *testing.T, pub *rsa.PublicKey, kid string) map[string]any {
	t.Helper()
	return map[string]any{
		"kty": "RSA",
		"kid": kid,
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01}),
	}
}

func rawJWK(t *testing.T, pub any, kid string) map[string]any {
	t.Helper()
	key, err := jwk.FromRaw(pub)
	if err != nil {
		t.Fatalf("jwk.FromRaw: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	b, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal jwk: %v", err)
	}
	return out
}

func jwksDoc(t *testing.T, keys ...map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{"keys": keys})
	if err != nil {
		t.Fatalf("marshal jwks: %v", err)
	}
	return b
}

func TestParse(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	second, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	enc := rsaJWK(t, &rsaKey.PublicKey, "enc-1")
	enc["use"] = "enc"
	noKid := rsaJWK(t, &rsaKey.PublicKey, "")
	wrongAlg := rsaJWK(t, &rsaKey.PublicKey, "rsa-es")
	wrongAlg["alg"] = "ES256"
	oct := map[string]any{"kty": "oct", "kid": "hmac", "k": "c2VjcmV0"}
	dup := rsaJWK(t, &second.PublicKey, "rsa-1")

	fetchedAt := time.Unix(1_700_000_000, 0)
	set, err := Parse("https://idp.local/jwks.json", jwksDoc(t,
		rsaJWK(t, &rsaKey.PublicKey, "rsa-1"), enc, noKid, wrongAlg, oct, dup,
	), fetchedAt)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if ids := set.KeyIDs(); len(ids) != 1 || ids[0] != "rsa-1" {
		t.Fatalf("expected only rsa-1, got %v", ids)
	}
	if !set.FetchedAt.Equal(fetchedAt) || set.Endpoint != "https://idp.local/jwks.json" {
		t.Fatalf("unexpected set metadata: %+v", set)
	}

	k, ok := set.Lookup("rsa-1")
	if !ok {
		t.Fatal("expected rsa-1 to resolve")
	}
	pub, err := k.PublicKey()
	if err != nil {
		t.Fatalf("PublicKey: %v", err)
	}
	if pub.(*rsa.PublicKey).N.Cmp(rsaKey.N) != 0 {
		t.Fatal("duplicate kid replaced the first occurrence")
	}
	for _, kid := range []string{"enc-1", "rsa-es", "hmac", ""} {
		if _, ok := set.Lookup(kid); ok {
			t.Errorf("expected %q to be skipped", kid)
		}
	}
}

func TestParse_NoUsableKeys(t *testing.T) {
	oct := map[string]any{"kty": "oct", "kid": "hmac", "k": "c2VjcmV0"}
	if _, err := Parse("e", jwksDoc(t, oct), time.Now()); err == nil {
		t.Fatal("expected error for set without signing keys")
	}
	if _, err := Parse("e", []byte(`{"keys":[]}`), time.Now()); err == nil {
		t.Fatal("expected error for empty set")
	}
	if _, err := Parse("e", []byte(`<html>`), time.Now()); err == nil {
		t.Fatal("expected error for non-json body")
	}
}

func TestVerificationKeyFamilies(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	edPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	pinned := rsaJWK(t, &rsaKey.PublicKey, "rsa-pinned")
	pinned["alg"] = "RS256"

	set, err := Parse("e", jwksDoc(t,
		rsaJWK(t, &rsaKey.PublicKey, "rsa"),
		pinned,
		rawJWK(t, &ecKey.PublicKey, "ec"),
		rawJWK(t, edPub, "ed"),
	), time.Now())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cases := []struct {
		kid     string
		methods []string
		check   func(any) bool
	}{
		{"rsa", []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}, func(k any) bool { _, ok := k.(*rsa.PublicKey); return ok }},
		{"rsa-pinned", []string{"RS256"}, func(k any) bool { _, ok := k.(*rsa.PublicKey); return ok }},
		{"ec", []string{"ES384"}, func(k any) bool {
			pk, ok := k.(*ecdsa.PublicKey)
			return ok && pk.X.Cmp(ecKey.X) == 0
		}},
		{"ed", []string{"EdDSA"}, func(k any) bool {
			pk, ok := k.(ed25519.PublicKey)
			return ok && pk.Equal(edPub)
		}},
	}
	for _, tc := range cases {
		k, ok := set.Lookup(tc.kid)
		if !ok {
			t.Fatalf("missing %s", tc.kid)
		}
		got := k.Methods()
		if len(got) != len(tc.methods) {
			t.Fatalf("%s: methods = %v, want %v", tc.kid, got, tc.methods)
		}
		for i := range got {
			if got[i] != tc.methods[i] {
				t.Fatalf("%s: methods = %v, want %v", tc.kid, got, tc.methods)
			}
		}
		pub, err := k.PublicKey()
		if err != nil {
			t.Fatalf("%s: PublicKey: %v", tc.kid, err)
		}
		if !tc.check(pub) {
			t.Fatalf("%s: unexpected public key %T", tc.kid, pub)
		}
	}
}

func TestVerificationKey_ConversionFailure(t *testing.T) {
	k := &VerificationKey{
		KeyID:   "broken",
		KeyType: KeyTypeRSA,
		Encoded: json.RawMessage(`{"kty":"RSA","kid":"broken","n":"!!","e":"AQAB"}`),
	}
	if _, err := k.PublicKey(); err == nil {
		t.Fatal("expected conversion error")
	}
	if _, err := k.PublicKey(); err == nil {
		t.Fatal("expected memoized conversion error")
	}
}
