package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Status      int      `json:"status"`
	Suggestions []string `json:"suggestions,omitempty"`
	Err         error    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusUnprocessableEntity, "validation failed")
	ErrBusinessLogic      = New("BUSINESS_LOGIC", http.StatusBadRequest, "operation not permitted in current state")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithSuggestions attaches contextual hints for the caller.
func WithSuggestions(err *Error, suggestions ...string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Suggestions = append(append([]string(nil), clone.Suggestions...), suggestions...)
	return &clone
}

// BusinessLogic normalises an inner workflow failure into a single
// BUSINESS_LOGIC error wrapping the original message, so multi-step workflow
// callers always observe one error type regardless of which step failed.
func BusinessLogic(err error, message string) *Error {
	if err == nil {
		return Clone(ErrBusinessLogic, message)
	}
	var e *Error
	if errors.As(err, &e) {
		return Wrap(err, ErrBusinessLogic.Code, ErrBusinessLogic.Status, fmt.Sprintf("%s: %s", message, e.Message))
	}
	return Wrap(err, ErrBusinessLogic.Code, ErrBusinessLogic.Status, fmt.Sprintf("%s: %v", message, err))
}
