package auth

import (
	"errors"
	"fmt"
)

// Kind classifies why a token was rejected.
type Kind string

const (
	KindMissingToken      Kind = "missing_token"
	KindMalformedToken    Kind = "malformed_token"
	KindUnknownSigningKey Kind = "unknown_signing_key"
	KindInvalidSignature  Kind = "invalid_signature"
	KindTokenExpired      Kind = "token_expired"
	KindIssuerMismatch    Kind = "issuer_mismatch"
	KindAudienceMismatch  Kind = "audience_mismatch"
	KindKeySetUnavailable Kind = "keyset_unavailable"
)

var kindMessages = map[Kind]string{
	KindMissingToken:      "missing token",
	KindMalformedToken:    "malformed token",
	KindUnknownSigningKey: "unknown signing key",
	KindInvalidSignature:  "invalid signature",
	KindTokenExpired:      "token expired",
	KindIssuerMismatch:    "issuer mismatch",
	KindAudienceMismatch:  "audience mismatch",
	KindKeySetUnavailable: "key set unavailable",
}

// Error is a verification failure with a stable kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	base := e.Message
	if base == "" {
		base = string(e.Kind)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError builds an *Error with the default message for kind.
func NewError(kind Kind, err error) error {
	msg, ok := kindMessages[kind]
	if !ok {
		msg = string(kind)
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Errorf builds an *Error whose cause is formatted from the arguments.
func Errorf(kind Kind, format string, args ...any) error {
	return NewError(kind, fmt.Errorf(format, args...))
}

// KindOf returns the kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var typed *Error
	if !errors.As(err, &typed) {
		return ""
	}
	return typed.Kind
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsUpstream reports whether the failure was caused by an unavailable
// dependency rather than by the presented token.
func IsUpstream(err error) bool {
	return IsKind(err, KindKeySetUnavailable)
}
