package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, client-visible error code
type Code string

const (
	// Generic errors
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"

	// Authentication errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeTokenExpired    Code = "TOKEN_EXPIRED"
	CodeTokenRevoked    Code = "TOKEN_REVOKED"
	CodeTokenMalformed  Code = "TOKEN_MALFORMED"

	// Authorization / account errors
	CodeForbidden     Code = "FORBIDDEN"
	CodeAccountLocked Code = "ACCOUNT_LOCKED"

	// Password policy violations
	CodePasswordTooShort           Code = "PASSWORD_TOO_SHORT"
	CodePasswordMissingUppercase   Code = "PASSWORD_MISSING_UPPERCASE"
	CodePasswordMissingLowercase   Code = "PASSWORD_MISSING_LOWERCASE"
	CodePasswordMissingDigit       Code = "PASSWORD_MISSING_DIGIT"
	CodePasswordMissingSpecialChar Code = "PASSWORD_MISSING_SPECIAL_CHAR"
	CodePasswordReused             Code = "PASSWORD_REUSED"
)

// Error is a structured error carrying a stable code, a client-safe message
// and an optional field reference for validation failures.
type Error struct {
	Code    Code
	Message string
	Field   string
	Err     error // wrapped underlying error, never shown to clients
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WithField attaches the request field the error refers to
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// HTTPStatusCode returns the HTTP status the error maps to
func (e *Error) HTTPStatusCode() int {
	return StatusFor(e.Code)
}

// New creates a new Error with the given code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with code and message
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from an error, defaulting to CodeInternal
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusFor maps error codes to HTTP status codes
func StatusFor(code Code) int {
	switch code {
	case CodeInvalidInput,
		CodePasswordTooShort, CodePasswordMissingUppercase,
		CodePasswordMissingLowercase, CodePasswordMissingDigit,
		CodePasswordMissingSpecialChar:
		return http.StatusBadRequest

	case CodeUnauthenticated, CodeTokenExpired, CodeTokenRevoked, CodeTokenMalformed:
		return http.StatusUnauthorized

	case CodeForbidden, CodeAccountLocked:
		return http.StatusForbidden

	case CodeNotFound:
		return http.StatusNotFound

	case CodeConflict, CodePasswordReused:
		return http.StatusConflict

	case CodeInternal:
		fallthrough
	default:
		return http.StatusInternalServerError
	}
}

// Common constructors

// NotFound creates a "not found" error for the given resource
func NotFound(resourceType, identifier string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", resourceType, identifier)
}

// Conflict creates a uniqueness-violation error
func Conflict(resourceType, identifier string) *Error {
	return Newf(CodeConflict, "%s already exists: %s", resourceType, identifier)
}

// InvalidInput creates an "invalid input" error for a field
func InvalidInput(field, reason string) *Error {
	return New(CodeInvalidInput, fmt.Sprintf("invalid %s: %s", field, reason)).WithField(field)
}

// Unauthenticated creates a generic authentication failure.
// The message is intentionally the same for unknown accounts and wrong
// passwords so clients cannot enumerate accounts.
func Unauthenticated() *Error {
	return New(CodeUnauthenticated, "invalid credentials")
}

// Forbidden creates an authorization failure
func Forbidden(message string) *Error {
	return New(CodeForbidden, message)
}

// Internal wraps an internal failure without leaking details to clients
func Internal(err error) *Error {
	return Wrap(err, CodeInternal, "internal error")
}

// Violations aggregates several field-level failures, typically password
// policy checks, into one error so all of them reach the client at once.
type Violations struct {
	Message string
	Items   []*Error
}

func (v *Violations) Error() string {
	return fmt.Sprintf("[%s] %d violation(s)", v.Message, len(v.Items))
}

// HTTPStatusCode returns the status of the first violation
func (v *Violations) HTTPStatusCode() int {
	if len(v.Items) == 0 {
		return http.StatusBadRequest
	}
	return StatusFor(v.Items[0].Code)
}
