package app

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/spendwise/spendwise-auth/pkg/auth/session"
	"github.com/spendwise/spendwise-auth/pkg/config"
)

const (
	testRegion   = "us-east-1"
	testPoolID   = "us-east-1_Test"
	testClientID = "spendwise-web"
	testIssuer   = "https://cognito-idp.us-east-1.amazonaws.com/us-east-1_Test"
	testKid      = "test-kid"
)

func TestHTTPIntegrationFlow(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa key gen: %v", err)
	}
	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := base64.RawURLEncoding.EncodeToString(privKey.PublicKey.N.Bytes())
		e := base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01})
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]any{{"kty": "RSA", "kid": testKid, "alg": "RS256", "use": "sig", "n": n, "e": e}},
		})
	}))
	t.Cleanup(jwksSrv.Close)

	userToken := signJWT(t, privKey, map[string]any{"sub": "user-1", "email": "ana@example.com", "email_verified": true})
	adminToken := signJWT(t, privKey, map[string]any{"sub": "admin-1", "cognito:groups": []string{"admin"}})

	cognitoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		switch r.Header.Get("X-Amz-Target") {
		case "AWSCognitoIdentityProviderService.SignUp":
			_ = json.NewEncoder(w).Encode(map[string]any{"UserConfirmed": false, "UserSub": "user-1"})
		case "AWSCognitoIdentityProviderService.InitiateAuth":
			_ = json.NewEncoder(w).Encode(map[string]any{"AuthenticationResult": map[string]any{
				"IdToken": userToken, "AccessToken": "access", "RefreshToken": "refresh", "ExpiresIn": 3600,
			}})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(cognitoSrv.Close)

	cfg := &config.Config{
		Port:      0,
		Env:       "test",
		LogLevel:  "error",
		LogFormat: "json",
		RedisAddr: mr.Addr(),
		Cognito: config.CognitoConfig{
			Region:     testRegion,
			UserPoolID: testPoolID,
			ClientID:   testClientID,
			JwksURL:    jwksSrv.URL,
			Endpoint:   cognitoSrv.URL,
		},
		Auth: config.AuthConfig{
			Provider:                "cognito",
			JwksMinRefreshSeconds:   30,
			JwksHTTPTimeoutSeconds:  5,
			JwksSharedCache:         true,
			KeySetUnavailableStatus: http.StatusUnauthorized,
			SessionSecret:           "integration-session-secret",
			SessionCookieName:       "token",
		},
		AuthRateLimit: config.RateLimitConfig{RequestsPerMinute: 60, BurstSize: 3},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(server.Close)

	if code, body := doJSON(t, ctx, http.MethodGet, server.URL+"/healthz", "", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz: %d %s", code, body)
	}

	var authErr map[string]string
	code, body := doJSON(t, ctx, http.MethodGet, server.URL+"/api/auth/me", "", nil, nil)
	_ = json.Unmarshal([]byte(body), &authErr)
	if code != http.StatusUnauthorized || authErr["code"] != "missing_token" {
		t.Fatalf("me without token: %d %s", code, body)
	}

	creds := map[string]string{"email": "ana@example.com", "password": "Secr3t!pw"}
	if code, body := doJSON(t, ctx, http.MethodPost, server.URL+"/api/auth/signup", "", creds, nil); code != http.StatusOK {
		t.Fatalf("signup: %d %s", code, body)
	}

	var login struct {
		IDToken string `json:"idToken"`
		UserID  string `json:"userId"`
	}
	if code, body := doJSON(t, ctx, http.MethodPost, server.URL+"/api/auth/login", "", creds, &login); code != http.StatusOK {
		t.Fatalf("login: %d %s", code, body)
	}
	if login.UserID != "user-1" {
		t.Fatalf("login user id = %q", login.UserID)
	}

	var me struct {
		Success bool `json:"success"`
		User    struct {
			Subject string `json:"sub"`
			Email   string `json:"email"`
		} `json:"user"`
	}
	if code, body := doJSON(t, ctx, http.MethodGet, server.URL+"/api/auth/me", login.IDToken, nil, &me); code != http.StatusOK {
		t.Fatalf("me: %d %s", code, body)
	}
	if !me.Success || me.User.Subject != "user-1" || me.User.Email != "ana@example.com" {
		t.Fatalf("unexpected me response: %+v", me)
	}

	if keys := mr.Keys(); !hasPrefix(keys, "spendwise:jwks:") {
		t.Fatalf("expected shared jwks cache entry in redis, got %v", keys)
	}

	if code, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/api/admin/jwks", userToken, nil, nil); code != http.StatusForbidden {
		t.Fatalf("admin route as user: %d", code)
	}
	var listed struct {
		Keys []struct {
			KeyID string `json:"kid"`
		} `json:"keys"`
	}
	if code, body := doJSON(t, ctx, http.MethodGet, server.URL+"/api/admin/jwks", adminToken, nil, &listed); code != http.StatusOK {
		t.Fatalf("admin list: %d %s", code, body)
	}
	if len(listed.Keys) != 1 || listed.Keys[0].KeyID != testKid {
		t.Fatalf("listed keys = %+v", listed.Keys)
	}
	if code, _ := doJSON(t, ctx, http.MethodPost, server.URL+"/api/admin/jwks/refresh", adminToken, nil, nil); code != http.StatusTooManyRequests {
		t.Fatalf("refresh right after fetch should be throttled, got %d", code)
	}

	sessionToken, err := session.Issue(cfg.Auth.SessionSecret, "64f0c0ffee", "ana@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: sessionToken})
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("session request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session route: %d", resp.StatusCode)
	}
	if code, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/api/auth/me", sessionToken, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("session token accepted as bearer: %d", code)
	}
	if code, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/api/auth/session", userToken, nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("bearer header accepted on session route: %d", code)
	}

	limited := false
	for i := 0; i < 5; i++ {
		if code, _ := doJSON(t, ctx, http.MethodPost, server.URL+"/api/auth/login", "", creds, nil); code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("expected login to be rate limited")
	}

	code, metricsBody := doJSON(t, ctx, http.MethodGet, server.URL+"/metrics", "", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}
	for _, name := range []string{
		"spendwise_token_verifications_total",
		"spendwise_jwks_fetches_total",
		"spendwise_jwks_keys",
		"spendwise_identity_requests_total",
		"spendwise_rate_limit_hits_total",
	} {
		if !strings.Contains(metricsBody, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestNewApplicationRejectsUnknownProvider(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := &config.Config{Env: "test", LogLevel: "error", RedisAddr: mr.Addr(), Auth: config.AuthConfig{Provider: "kerberos"}}
	if _, err := NewApplication(cfg); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func signJWT(t *testing.T, key *rsa.PrivateKey, extra map[string]any) string {
	t.Helper()
	header := map[string]any{"alg": "RS256", "typ": "JWT", "kid": testKid}
	now := time.Now().Unix()
	payload := map[string]any{
		"iss":       testIssuer,
		"aud":       testClientID,
		"exp":       now + 3600,
		"iat":       now - 10,
		"token_use": "id",
	}
	for k, v := range extra {
		payload[k] = v
	}
	enc := func(v any) string {
		b, _ := json.Marshal(v)
		return base64.RawURLEncoding.EncodeToString(b)
	}
	signingInput := enc(header) + "." + enc(payload)
	hashed := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func hasPrefix(keys []string, prefix string) bool {
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func doJSON(t *testing.T, ctx context.Context, method, url, token string, body any, out any) (int, string) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = json.Unmarshal(b, out)
	}
	return resp.StatusCode, string(b)
}
