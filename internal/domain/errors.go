package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures at component boundaries. Only Transient is
// retried inside the broker client; every other kind is handled locally by
// the component that produced it.
type ErrorKind string

const (
	KindValidation            ErrorKind = "VALIDATION"
	KindTransient             ErrorKind = "TRANSIENT"
	KindAuthRefused           ErrorKind = "AUTH_REFUSED"
	KindInsufficientData      ErrorKind = "INSUFFICIENT_DATA"
	KindCircuitBreakerTripped ErrorKind = "CIRCUIT_BREAKER_TRIPPED"
	KindStorage               ErrorKind = "STORAGE"
)

// Error is the typed error crossing component boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches on kind so callers can use errors.Is with sentinel kinds.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// NewValidationError creates a Validation error.
func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// NewTransientError wraps an upstream failure eligible for retry.
func NewTransientError(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Wrapped: err}
}

// NewAuthRefusedError marks a token-issuance refusal (daily cap).
func NewAuthRefusedError(msg string, err error) *Error {
	return &Error{Kind: KindAuthRefused, Message: msg, Wrapped: err}
}

// NewInsufficientDataError marks a data-quality drop (short history, gaps).
func NewInsufficientDataError(msg string) *Error {
	return &Error{Kind: KindInsufficientData, Message: msg}
}

// NewCircuitBreakerError marks a structured order rejection.
func NewCircuitBreakerError(msg string) *Error {
	return &Error{Kind: KindCircuitBreakerTripped, Message: msg}
}

// NewStorageError wraps a persistence failure.
func NewStorageError(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Wrapped: err}
}

// KindOf extracts the ErrorKind from an error chain; unknown errors are
// treated as Transient so callers err on the side of retrying.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
