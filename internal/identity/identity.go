package identity

import (
	"context"
	"errors"
	"fmt"
)

// ErrNewPasswordRequired is returned by Login when the provider answers
// with a NEW_PASSWORD_REQUIRED challenge instead of tokens.
var ErrNewPasswordRequired = errors.New("identity: new password required")

// Authenticator is the opaque sign-up and sign-in service.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*SignUpResult, error)
	Login(ctx context.Context, email, password string) (*Tokens, error)
}

type SignUpResult struct {
	Username  string `json:"username"`
	UserSub   string `json:"userSub,omitempty"`
	Confirmed bool   `json:"confirmed"`
}

// Tokens is a successful sign-in. UserID is read from the unverified ID
// token payload and is informational only.
type Tokens struct {
	IDToken      string `json:"idToken"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
	TokenType    string `json:"tokenType,omitempty"`
	UserID       string `json:"userId,omitempty"`
}

// Error is a rejection reported by the identity provider.
type Error struct {
	Type       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return fmt.Sprintf("identity: %s", e.Type)
	}
	return e.Message
}

// Retryable reports whether the same request may succeed later.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Type {
	case "TooManyRequestsException", "InternalErrorException", "ThrottlingException":
		return true
	}
	return e.StatusCode >= 500
}

// IsProviderError reports whether err came from the provider rejecting
// the request, as opposed to a transport failure.
func IsProviderError(err error) bool {
	var typed *Error
	return errors.As(err, &typed) && !typed.Retryable()
}
