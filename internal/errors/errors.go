package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Request
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeContentBlocked ErrorCode = "CONTENT_BLOCKED"

	// Participant state
	ErrCodeNotRegistered         ErrorCode = "NOT_REGISTERED"
	ErrCodeNotInSession          ErrorCode = "NOT_IN_SESSION"
	ErrCodeDuplicateRegistration ErrorCode = "DUPLICATE_REGISTRATION"

	// Moderation
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	ErrCodeBlacklisted ErrorCode = "BLACKLISTED"

	// Admin API
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeUnavailable  ErrorCode = "UNAVAILABLE"

	// Internal
	ErrCodeInconsistency ErrorCode = "INTERNAL_INCONSISTENCY"
	ErrCodeInternal      ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase      ErrorCode = "DATABASE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// RateLimitDetails is attached to RATE_LIMITED errors.
type RateLimitDetails struct {
	Action       string `json:"action"`
	RetryAfterMs int64  `json:"retryAfterMs"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func ContentBlocked(reason string) *AppError {
	return New(ErrCodeContentBlocked, fmt.Sprintf("Message blocked: %s", reason))
}

func NotRegistered() *AppError {
	return New(ErrCodeNotRegistered, "Participant is not registered")
}

func NotInSession() *AppError {
	return New(ErrCodeNotInSession, "Participant is not in a session")
}

func DuplicateRegistration() *AppError {
	return New(ErrCodeDuplicateRegistration, "Participant is already registered")
}

func Blacklisted() *AppError {
	return New(ErrCodeBlacklisted, "Access from this address is denied")
}

// RateLimited reports a dropped action together with the time until the
// quota allows it again.
func RateLimited(action string, retryAfter time.Duration) *AppError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").WithDetails(RateLimitDetails{
		Action:       action,
		RetryAfterMs: retryAfter.Milliseconds(),
	})
}

func NotFound(what string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", what))
}

func Unauthorized() *AppError {
	return New(ErrCodeUnauthorized, "Missing or invalid admin token")
}

// Unavailable reports a feature whose backing store is not configured.
func Unavailable(feature string) *AppError {
	return New(ErrCodeUnavailable, fmt.Sprintf("%s is not configured", feature))
}

func Inconsistency(message string) *AppError {
	return New(ErrCodeInconsistency, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return GetCode(err) == code
}

// RetryAfter extracts the retry-after duration from a RATE_LIMITED error.
func RetryAfter(err error) (time.Duration, bool) {
	appErr, ok := AsAppError(err)
	if !ok || appErr.Code != ErrCodeRateLimited {
		return 0, false
	}
	d, ok := appErr.Details.(RateLimitDetails)
	if !ok {
		return 0, false
	}
	return time.Duration(d.RetryAfterMs) * time.Millisecond, true
}
