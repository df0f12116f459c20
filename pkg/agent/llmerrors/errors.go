// Package llmerrors classifies provider errors so retry policy can decide
// what is worth another attempt.
package llmerrors

import (
	"errors"
	"fmt"
)

// ErrorType categorizes a provider failure for retry logic.
type ErrorType int8

const (
	// ErrorTypeRateLimit is a 429 or quota error; retryable with backoff.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient is a 5xx, EOF, reset, or timeout; retryable.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a 200 with no content; retryable.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth is a 401/403 or bad key; not retryable.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a malformed or rejected request; not retryable.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything unclassified; retried once.
	ErrorTypeUnknown
)

// String returns the wire name of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether another attempt can succeed.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	Message string
	Cause   error
	Type    ErrorType
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError creates a classified error without an underlying cause.
func NewError(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap classifies an underlying provider error.
func Wrap(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

// TypeOf extracts the classification from err, defaulting to unknown.
func TypeOf(err error) ErrorType {
	var le *Error
	if errors.As(err, &le) {
		return le.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return TypeOf(err).Retryable()
}
