package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spendwise/spendwise-auth/internal/backoff"
)

type cognitoStub struct {
	srv   *httptest.Server
	calls atomic.Int32
}

func newCognitoStub(t *testing.T, handler func(w http.ResponseWriter, target string, body map[string]any)) *cognitoStub {
	t.Helper()
	s := &cognitoStub{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != amzJSONContentType {
			t.Errorf("content type = %q", ct)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		handler(w, r.Header.Get("X-Amz-Target"), body)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func newTestClient(t *testing.T, stub *cognitoStub) *CognitoClient {
	t.Helper()
	c, err := NewCognitoClient(CognitoConfig{
		Endpoint: stub.srv.URL,
		ClientID: "client-1",
		Retry:    backoff.Policy{Strategy: backoff.Fixed, Base: time.Millisecond, Max: time.Millisecond, Attempts: 3},
	}, stub.srv.Client(), nil)
	if err != nil {
		t.Fatalf("NewCognitoClient: %v", err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", amzJSONContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func unsignedIDToken(sub string) string {
	enc := base64.RawURLEncoding
	h := enc.EncodeToString([]byte(`{"alg":"RS256","kid":"k"}`))
	p := enc.EncodeToString([]byte(`{"sub":"` + sub + `","token_use":"id"}`))
	return h + "." + p + "." + enc.EncodeToString([]byte("sig"))
}

func TestCognitoSignUp(t *testing.T) {
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		if target != "AWSCognitoIdentityProviderService.SignUp" {
			t.Errorf("target = %q", target)
		}
		if body["ClientId"] != "client-1" || body["Username"] != "ana@example.com" || body["Password"] != "Secr3t!pw" {
			t.Errorf("unexpected body: %v", body)
		}
		attrs, _ := body["UserAttributes"].([]any)
		if len(attrs) != 1 {
			t.Errorf("attributes = %v", body["UserAttributes"])
		}
		writeJSON(w, http.StatusOK, map[string]any{"UserConfirmed": false, "UserSub": "sub-1"})
	})

	res, err := newTestClient(t, stub).SignUp(context.Background(), "ana@example.com", "Secr3t!pw")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if res.Username != "ana@example.com" || res.UserSub != "sub-1" || res.Confirmed {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCognitoSignUpRejected(t *testing.T) {
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"__type":  "com.amazonaws.cognito#UsernameExistsException",
			"message": "An account with the given email already exists.",
		})
	})

	_, err := newTestClient(t, stub).SignUp(context.Background(), "ana@example.com", "pw")
	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if typed.Type != "UsernameExistsException" || typed.Message != "An account with the given email already exists." {
		t.Fatalf("unexpected error: %+v", typed)
	}
	if !IsProviderError(err) {
		t.Fatal("expected provider error")
	}
	if n := stub.calls.Load(); n != 1 {
		t.Fatalf("client errors must not be retried, got %d calls", n)
	}
}

func TestCognitoLogin(t *testing.T) {
	idToken := unsignedIDToken("user-123")
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		if target != "AWSCognitoIdentityProviderService.InitiateAuth" {
			t.Errorf("target = %q", target)
		}
		if body["AuthFlow"] != "USER_PASSWORD_AUTH" {
			t.Errorf("auth flow = %v", body["AuthFlow"])
		}
		params, _ := body["AuthParameters"].(map[string]any)
		if params["USERNAME"] != "ana@example.com" || params["PASSWORD"] != "pw" {
			t.Errorf("auth params = %v", params)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"AuthenticationResult": map[string]any{
				"AccessToken":  "access",
				"IdToken":      idToken,
				"RefreshToken": "refresh",
				"ExpiresIn":    3600,
				"TokenType":    "Bearer",
			},
		})
	})

	tok, err := newTestClient(t, stub).Login(context.Background(), "ana@example.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if tok.AccessToken != "access" || tok.IDToken != idToken || tok.RefreshToken != "refresh" || tok.ExpiresIn != 3600 {
		t.Fatalf("unexpected tokens: %+v", tok)
	}
	if tok.UserID != "user-123" {
		t.Fatalf("user id = %q", tok.UserID)
	}
}

func TestCognitoLoginNewPasswordChallenge(t *testing.T) {
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"ChallengeName": "NEW_PASSWORD_REQUIRED", "Session": "s"})
	})

	_, err := newTestClient(t, stub).Login(context.Background(), "ana@example.com", "pw")
	if !errors.Is(err, ErrNewPasswordRequired) {
		t.Fatalf("expected ErrNewPasswordRequired, got %v", err)
	}
}

func TestCognitoLoginOtherChallenge(t *testing.T) {
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		writeJSON(w, http.StatusOK, map[string]any{"ChallengeName": "SMS_MFA"})
	})

	_, err := newTestClient(t, stub).Login(context.Background(), "ana@example.com", "pw")
	if !IsProviderError(err) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestCognitoRetriesThrottling(t *testing.T) {
	var n atomic.Int32
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		if n.Add(1) < 3 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"__type": "TooManyRequestsException", "message": "Rate exceeded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"UserConfirmed": true, "UserSub": "sub-2"})
	})

	res, err := newTestClient(t, stub).SignUp(context.Background(), "bo@example.com", "pw")
	if err != nil {
		t.Fatalf("SignUp after retries: %v", err)
	}
	if !res.Confirmed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := stub.calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestCognitoServerErrorsExhaustRetries(t *testing.T) {
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := newTestClient(t, stub).Login(context.Background(), "ana@example.com", "pw")
	var typed *Error
	if !errors.As(err, &typed) || typed.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 *Error, got %v", err)
	}
	if IsProviderError(err) {
		t.Fatal("5xx must not count as a provider rejection")
	}
	if got := stub.calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestCognitoUndecodableReplyIsNotRetried(t *testing.T) {
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		w.Header().Set("Content-Type", amzJSONContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"AuthenticationResult": `))
	})

	_, err := newTestClient(t, stub).Login(context.Background(), "ana@example.com", "pw")
	if err == nil {
		t.Fatal("expected decode error")
	}
	if IsProviderError(err) {
		t.Fatalf("decode failure reported as provider rejection: %v", err)
	}
	if got := stub.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestCognitoRetriesDroppedConnection(t *testing.T) {
	var n atomic.Int32
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		if n.Add(1) == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack: %v", err)
				return
			}
			_ = conn.Close()
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"UserConfirmed": false, "UserSub": "sub-3"})
	})

	if _, err := newTestClient(t, stub).SignUp(context.Background(), "cy@example.com", "pw"); err != nil {
		t.Fatalf("SignUp after dropped connection: %v", err)
	}
	if got := stub.calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestCognitoContextCancelled(t *testing.T) {
	stub := newCognitoStub(t, func(w http.ResponseWriter, target string, body map[string]any) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, stub)
	c.retry = backoff.Policy{Strategy: backoff.Fixed, Base: time.Hour, Max: time.Hour, Attempts: 3}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.SignUp(ctx, "ana@example.com", "pw")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("retry wait ignored cancellation")
	}
}

func TestNewCognitoClientRequiresConfig(t *testing.T) {
	if _, err := NewCognitoClient(CognitoConfig{ClientID: "c"}, nil, nil); err == nil {
		t.Fatal("expected error without endpoint")
	}
	if _, err := NewCognitoClient(CognitoConfig{Endpoint: "http://x"}, nil, nil); err == nil {
		t.Fatal("expected error without client id")
	}
}
