package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotInSession, "Participant is not in a session")
		assert.Equal(t, "NOT_IN_SESSION: Participant is not in a session", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("country", "bad") }, ErrCodeValidation},
		{"ContentBlocked", func() *AppError { return ContentBlocked("spam") }, ErrCodeContentBlocked},
		{"NotRegistered", func() *AppError { return NotRegistered() }, ErrCodeNotRegistered},
		{"NotInSession", func() *AppError { return NotInSession() }, ErrCodeNotInSession},
		{"DuplicateRegistration", func() *AppError { return DuplicateRegistration() }, ErrCodeDuplicateRegistration},
		{"Blacklisted", func() *AppError { return Blacklisted() }, ErrCodeBlacklisted},
		{"RateLimited", func() *AppError { return RateLimited("chat", time.Second) }, ErrCodeRateLimited},
		{"Inconsistency", func() *AppError { return Inconsistency("test") }, ErrCodeInconsistency},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
		{"NotFound", func() *AppError { return NotFound("report") }, ErrCodeNotFound},
		{"Unauthorized", func() *AppError { return Unauthorized() }, ErrCodeUnauthorized},
		{"Unavailable", func() *AppError { return Unavailable("report storage") }, ErrCodeUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestGetCode(t *testing.T) {
	t.Run("returns code through wrapping", func(t *testing.T) {
		err := fmt.Errorf("relay: %w", NotInSession())
		assert.Equal(t, ErrCodeNotInSession, GetCode(err))
		assert.True(t, Is(err, ErrCodeNotInSession))
	})

	t.Run("plain errors map to internal", func(t *testing.T) {
		assert.Equal(t, ErrCodeInternal, GetCode(errors.New("boom")))
		assert.False(t, IsAppError(errors.New("boom")))
	})

	t.Run("nil is never a match", func(t *testing.T) {
		assert.False(t, Is(nil, ErrCodeInternal))
	})
}

func TestRetryAfter(t *testing.T) {
	t.Run("extracts duration from rate limit error", func(t *testing.T) {
		d, ok := RetryAfter(RateLimited("chat", 1500*time.Millisecond))
		require.True(t, ok)
		assert.Equal(t, 1500*time.Millisecond, d)
	})

	t.Run("other codes carry none", func(t *testing.T) {
		_, ok := RetryAfter(NotRegistered())
		assert.False(t, ok)
	})
}
