// Package errors provides structured error types with codes for the gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes for categorizing errors.
const (
	CodeInternal       = "internal_error"
	CodeNotFound       = "not_found"
	CodeAlreadyExists  = "already_exists"
	CodeValidation     = "validation_error"
	CodeUnauthorized   = "unauthorized"
	CodeInvalidOrigin  = "invalid_origin"
	CodeInvalidCSRF    = "invalid_csrf"
	CodeRateLimited    = "rate_limited"
	CodeTokenExpired   = "token_expired"
	CodeTokenReplay    = "token_replay"
	CodeTokenInvalid   = "token_invalid"
	CodeDomainMismatch = "domain_mismatch"
	CodeSessionExpired = "session_expired"
	CodeSessionRevoked = "session_revoked"
)

// Error represents a structured error with a code and message.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of a structured error, or CodeInternal for
// anything else.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error code to its HTTP response status.
func HTTPStatus(code string) int {
	switch code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeTokenExpired, CodeTokenReplay, CodeTokenInvalid,
		CodeSessionExpired, CodeSessionRevoked:
		return http.StatusUnauthorized
	case CodeInvalidOrigin, CodeInvalidCSRF, CodeDomainMismatch:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NotFound creates a not found error.
func NotFound(resource, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// AlreadyExists creates an already exists error.
func AlreadyExists(resource, id string) *Error {
	return &Error{
		Code:    CodeAlreadyExists,
		Message: fmt.Sprintf("%s already exists: %s", resource, id),
	}
}

// Validation creates a malformed input error.
func Validation(message string) *Error {
	return &Error{
		Code:    CodeValidation,
		Message: message,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *Error {
	return &Error{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *Error {
	return &Error{
		Code:    CodeInternal,
		Message: message,
		Err:     err,
	}
}
