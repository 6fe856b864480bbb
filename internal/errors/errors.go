// Package errors provides structured error handling for the bot's
// credential and event-channel flows.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error for recovery decisions and metrics.
type Kind string

const (
	// KindUnauthorized indicates a 401 from an authorized endpoint.
	// The supervisor reacts by re-establishing the credential.
	KindUnauthorized Kind = "unauthorized"
	// KindValidation indicates an unexpected non-success status from the
	// token validation endpoint or a generic Helix call.
	KindValidation Kind = "validation"
	// KindSubscription indicates a subscribe request that was neither
	// accepted nor unauthorized. Configuration bug, not retried.
	KindSubscription Kind = "subscription"
	// KindTokenExchange indicates a non-success status from the token
	// endpoint other than 401.
	KindTokenExchange Kind = "token_exchange"
	// KindStateMismatch indicates the OAuth callback returned a state
	// parameter that does not match the one we generated. Forgery
	// detection, always fatal.
	KindStateMismatch Kind = "state_mismatch"
	// KindStorage indicates a credential persistence failure.
	KindStorage Kind = "storage"
	// KindAuthentication indicates that both refresh and interactive
	// authorization failed. Requires operator intervention.
	KindAuthentication Kind = "authentication"
)

// Error is a structured error with a kind, message, and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Unauthorized creates a KindUnauthorized error.
func Unauthorized(message string) *Error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Validation creates a KindValidation error wrapping a cause.
func Validation(message string, cause error) *Error {
	return &Error{Kind: KindValidation, Message: message, Cause: cause}
}

// Subscription creates a KindSubscription error.
func Subscription(message string) *Error {
	return &Error{Kind: KindSubscription, Message: message}
}

// TokenExchange creates a KindTokenExchange error wrapping a cause.
func TokenExchange(message string, cause error) *Error {
	return &Error{Kind: KindTokenExchange, Message: message, Cause: cause}
}

// StateMismatch creates a KindStateMismatch error.
func StateMismatch(message string) *Error {
	return &Error{Kind: KindStateMismatch, Message: message}
}

// Storage creates a KindStorage error wrapping a cause.
func Storage(message string, cause error) *Error {
	return &Error{Kind: KindStorage, Message: message, Cause: cause}
}

// Authentication creates a KindAuthentication error wrapping a cause.
func Authentication(message string, cause error) *Error {
	return &Error{Kind: KindAuthentication, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or "" if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsUnauthorized reports whether err means the credential must be
// re-established.
func IsUnauthorized(err error) bool {
	return IsKind(err, KindUnauthorized)
}

// IsFatal reports whether err must terminate the process rather than be
// retried: forgery detection and exhausted authentication.
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindStateMismatch || k == KindAuthentication
}
