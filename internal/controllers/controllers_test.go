package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spendwise/spendwise-auth/internal/identity"
	"github.com/spendwise/spendwise-auth/pkg/auth"
	"github.com/spendwise/spendwise-auth/pkg/auth/keyset"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuthenticator struct {
	signUp func(email, password string) (*identity.SignUpResult, error)
	login  func(email, password string) (*identity.Tokens, error)
	calls  int
}

func (f *fakeAuthenticator) SignUp(_ context.Context, email, password string) (*identity.SignUpResult, error) {
	f.calls++
	return f.signUp(email, password)
}

func (f *fakeAuthenticator) Login(_ context.Context, email, password string) (*identity.Tokens, error) {
	f.calls++
	return f.login(email, password)
}

func post(h gin.HandlerFunc, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	h(c)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestLoginController(t *testing.T) {
	authn := &fakeAuthenticator{login: func(email, password string) (*identity.Tokens, error) {
		switch password {
		case "good":
			return &identity.Tokens{IDToken: "id", AccessToken: "access", RefreshToken: "refresh", UserID: "user-1"}, nil
		case "reset":
			return nil, identity.ErrNewPasswordRequired
		case "wrong":
			return nil, &identity.Error{Type: "NotAuthorizedException", Message: "Incorrect username or password.", StatusCode: 400}
		default:
			return nil, errors.New("dial tcp: i/o timeout")
		}
	}}
	h := NewLoginController(authn).Handle

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{name: "missing password", body: `{"email":"ana@example.com"}`, status: http.StatusBadRequest, errMsg: "Missing email or password"},
		{name: "blank email", body: `{"email":"  ","password":"good"}`, status: http.StatusBadRequest, errMsg: "Missing email or password"},
		{name: "not json", body: `email=ana`, status: http.StatusBadRequest, errMsg: "Missing email or password"},
		{name: "challenge", body: `{"email":"ana@example.com","password":"reset"}`, status: http.StatusForbidden, errMsg: "New password required."},
		{name: "rejected", body: `{"email":"ana@example.com","password":"wrong"}`, status: http.StatusBadRequest, errMsg: "Incorrect username or password."},
		{name: "upstream down", body: `{"email":"ana@example.com","password":"x"}`, status: http.StatusInternalServerError, errMsg: "Login failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if got := decode(t, rec)["error"]; got != tt.errMsg {
				t.Fatalf("error = %v, want %q", got, tt.errMsg)
			}
		})
	}

	rec := post(h, `{"email":"ana@example.com","password":"good"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["idToken"] != "id" || body["accessToken"] != "access" || body["refreshToken"] != "refresh" || body["userId"] != "user-1" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestLoginControllerSkipsProviderOnBadInput(t *testing.T) {
	authn := &fakeAuthenticator{}
	post(NewLoginController(authn).Handle, `{}`)
	post(NewSignupController(authn).Handle, `{"password":"x"}`)
	if authn.calls != 0 {
		t.Fatalf("provider called %d times for invalid input", authn.calls)
	}
}

func TestSignupController(t *testing.T) {
	authn := &fakeAuthenticator{signUp: func(email, password string) (*identity.SignUpResult, error) {
		switch email {
		case "taken@example.com":
			return nil, &identity.Error{Type: "UsernameExistsException", Message: "An account with the given email already exists.", StatusCode: 400}
		case "down@example.com":
			return nil, &identity.Error{Type: "ServiceUnavailable", StatusCode: 503}
		}
		return &identity.SignUpResult{Username: email}, nil
	}}
	h := NewSignupController(authn).Handle

	rec := post(h, `{"email":"ana@example.com","password":"Secr3t!pw"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); body["username"] != "ana@example.com" || body["message"] != "Signup successful!" {
		t.Fatalf("unexpected body: %v", body)
	}

	rec = post(h, `{"email":"taken@example.com","password":"Secr3t!pw"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "An account with the given email already exists." {
		t.Fatalf("error = %v", got)
	}

	rec = post(h, `{"email":"down@example.com","password":"Secr3t!pw"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode(t, rec)["error"]; got != "Signup failed" {
		t.Fatalf("error = %v", got)
	}
}

func TestMeController(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	NewMeController().Handle(c)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without claims: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	c.Set("userClaims", &auth.Claims{Subject: "user-1", Email: "ana@example.com"})
	NewMeController().Handle(c)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["success"] != true {
		t.Fatalf("unexpected body: %v", body)
	}
	user, _ := body["user"].(map[string]any)
	if user["sub"] != "user-1" || user["email"] != "ana@example.com" {
		t.Fatalf("user = %v", user)
	}
}

func TestSessionController(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	c.Set("userClaims", &auth.Claims{Subject: "64f0c0ffee", Email: "ana@example.com"})
	NewSessionController().Handle(c)

	user, _ := decode(t, rec)["user"].(map[string]any)
	if user["_id"] != "64f0c0ffee" || user["email"] != "ana@example.com" {
		t.Fatalf("user = %v", user)
	}
}

func TestHealthController(t *testing.T) {
	get := func(ping Pinger) int {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodGet, "/healthz", nil)
		NewHealthController(ping).Handle(c)
		return rec.Code
	}
	if code := get(nil); code != http.StatusOK {
		t.Fatalf("no deps: %d", code)
	}
	if code := get(func(context.Context) error { return nil }); code != http.StatusOK {
		t.Fatalf("healthy redis: %d", code)
	}
	if code := get(func(context.Context) error { return errors.New("connection refused") }); code != http.StatusServiceUnavailable {
		t.Fatalf("redis down: %d", code)
	}
}

type fakeResolver struct {
	set         *keyset.KeySet
	err         error
	refreshErr  error
	invalidated []string
}

func (f *fakeResolver) Resolve(context.Context, string) (*keyset.KeySet, error) { return f.set, f.err }
func (f *fakeResolver) Refresh(context.Context, string) (*keyset.KeySet, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.set, nil
}
func (f *fakeResolver) Invalidate(endpoint string) { f.invalidated = append(f.invalidated, endpoint) }

func TestJWKSAdminController(t *testing.T) {
	const endpoint = "https://issuer.example/.well-known/jwks.json"
	set, err := keyset.Parse(endpoint, []byte(`{"keys":[{"kty":"EC","kid":"k1","crv":"P-256","x":"f83OJ3D2xF1Bg8vub9tLe1gHMzV76e8Tus9uPHvRVEU","y":"x_FEzRu9m36HLN_tue659LNpXW6pCyStikYjKIWI5a0"}]}`), time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	keys := &fakeResolver{set: set}
	ctrl := NewJWKSAdminController(keys, endpoint)

	run := func(h gin.HandlerFunc) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(rec)
		c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
		h(c)
		c.Writer.WriteHeaderNow()
		return rec
	}

	rec := run(ctrl.Get)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d", rec.Code)
	}
	listed, _ := decode(t, rec)["keys"].([]any)
	if len(listed) != 1 {
		t.Fatalf("keys = %v", listed)
	}

	keys.refreshErr = keyset.ErrRefreshThrottled
	if rec := run(ctrl.Refresh); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled refresh: %d", rec.Code)
	}
	keys.refreshErr = keyset.ErrUnavailable
	if rec := run(ctrl.Refresh); rec.Code != http.StatusBadGateway {
		t.Fatalf("failed refresh: %d", rec.Code)
	}

	if rec := run(ctrl.Invalidate); rec.Code != http.StatusNoContent {
		t.Fatalf("invalidate: %d", rec.Code)
	}
	if len(keys.invalidated) != 1 || keys.invalidated[0] != endpoint {
		t.Fatalf("invalidated = %v", keys.invalidated)
	}
}
