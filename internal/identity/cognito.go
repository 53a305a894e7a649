package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/spendwise/spendwise-auth/internal/backoff"
	"github.com/spendwise/spendwise-auth/internal/metrics"
	"github.com/spendwise/spendwise-auth/internal/tracing"
)

const (
	targetPrefix       = "AWSCognitoIdentityProviderService."
	amzJSONContentType = "application/x-amz-json-1.1"
	maxResponseBytes   = 1 << 20
	defaultHTTPTimeout = 10 * time.Second
)

type CognitoConfig struct {
	// Endpoint is the regional API root, e.g. https://cognito-idp.us-east-1.amazonaws.com/
	Endpoint string
	ClientID string
	Retry    backoff.Policy
}

// CognitoClient calls the user pool's public JSON API. It signs nothing:
// SignUp and InitiateAuth accept unauthenticated calls from app clients
// without a secret.
type CognitoClient struct {
	endpoint string
	clientID string
	http     *http.Client
	retry    backoff.Policy
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewCognitoClient(cfg CognitoConfig, client *http.Client, logger *slog.Logger) (*CognitoClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("identity: cognito endpoint is required")
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errors.New("identity: cognito client id is required")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	retry := cfg.Retry
	if retry.Attempts == 0 {
		retry = backoff.DefaultPolicy()
	}
	return &CognitoClient{
		endpoint: endpoint,
		clientID: strings.TrimSpace(cfg.ClientID),
		http:     client,
		retry:    retry,
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

type userAttribute struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type signUpRequest struct {
	ClientID       string          `json:"ClientId"`
	Username       string          `json:"Username"`
	Password       string          `json:"Password"`
	UserAttributes []userAttribute `json:"UserAttributes"`
}

type signUpResponse struct {
	UserConfirmed bool   `json:"UserConfirmed"`
	UserSub       string `json:"UserSub"`
}

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type initiateAuthResponse struct {
	ChallengeName        string `json:"ChallengeName"`
	AuthenticationResult *struct {
		AccessToken  string `json:"AccessToken"`
		IDToken      string `json:"IdToken"`
		RefreshToken string `json:"RefreshToken"`
		ExpiresIn    int    `json:"ExpiresIn"`
		TokenType    string `json:"TokenType"`
	} `json:"AuthenticationResult"`
}

func (c *CognitoClient) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	req := signUpRequest{
		ClientID:       c.clientID,
		Username:       email,
		Password:       password,
		UserAttributes: []userAttribute{{Name: "email", Value: email}},
	}
	var resp signUpResponse
	if err := c.call(ctx, "SignUp", req, &resp); err != nil {
		return nil, err
	}
	return &SignUpResult{Username: email, UserSub: resp.UserSub, Confirmed: resp.UserConfirmed}, nil
}

func (c *CognitoClient) Login(ctx context.Context, email, password string) (*Tokens, error) {
	req := initiateAuthRequest{
		AuthFlow: "USER_PASSWORD_AUTH",
		ClientID: c.clientID,
		AuthParameters: map[string]string{
			"USERNAME": email,
			"PASSWORD": password,
		},
	}
	var resp initiateAuthResponse
	if err := c.call(ctx, "InitiateAuth", req, &resp); err != nil {
		return nil, err
	}
	if resp.ChallengeName == "NEW_PASSWORD_REQUIRED" {
		metrics.IdentityRequestsTotal.WithLabelValues("InitiateAuth", "challenge").Inc()
		return nil, ErrNewPasswordRequired
	}
	if resp.ChallengeName != "" || resp.AuthenticationResult == nil {
		return nil, &Error{Type: "UnsupportedChallenge", Message: fmt.Sprintf("unsupported challenge %q", resp.ChallengeName), StatusCode: http.StatusOK}
	}
	r := resp.AuthenticationResult
	return &Tokens{
		IDToken:      r.IDToken,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresIn:    r.ExpiresIn,
		TokenType:    r.TokenType,
		UserID:       subjectOf(r.IDToken),
	}, nil
}

func (c *CognitoClient) call(ctx context.Context, op string, in any, out any) error {
	ctx, span := tracing.Tracer("identity").Start(ctx, "identity."+op)
	defer span.End()
	span.SetAttributes(attribute.String("identity.operation", op))

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("identity: encode %s: %w", op, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts(); attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt-1); err != nil {
				lastErr = err
				break
			}
		}
		lastErr = c.do(ctx, op, body, out)
		if lastErr == nil {
			metrics.IdentityRequestsTotal.WithLabelValues(op, "ok").Inc()
			return nil
		}
		if !retryable(lastErr) {
			break
		}
		c.logger.Warn("identity provider call failed", "op", op, "attempt", attempt+1, "err", lastErr)
	}

	outcome := "error"
	if IsProviderError(lastErr) {
		outcome = "rejected"
	}
	metrics.IdentityRequestsTotal.WithLabelValues(op, outcome).Inc()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, outcome)
	return lastErr
}

func (c *CognitoClient) wait(ctx context.Context, retry int) error {
	c.mu.Lock()
	d := c.retry.Delay(retry, c.rng)
	c.mu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *CognitoClient) do(ctx context.Context, op string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("identity: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", amzJSONContentType)
	req.Header.Set("X-Amz-Target", targetPrefix+op)
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return &transportError{err: fmt.Errorf("identity: %s: %w", op, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &transportError{err: fmt.Errorf("identity: read %s response: %w", op, err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("identity: decode %s response: %w", op, err)
	}
	return nil
}

// transportError marks a failure to reach the provider or read its reply.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// retryable reports whether another attempt could succeed. A 2xx reply that
// fails to decode will decode the same way next time.
func retryable(err error) bool {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Retryable()
	}
	var te *transportError
	return errors.As(err, &te)
}

func decodeError(status int, raw []byte) error {
	var payload struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(raw, &payload)

	typ := payload.Type
	if i := strings.LastIndex(typ, "#"); i >= 0 {
		typ = typ[i+1:]
	}
	if typ == "" {
		typ = http.StatusText(status)
	}
	return &Error{Type: typ, Message: payload.Message, StatusCode: status}
}

func subjectOf(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}
