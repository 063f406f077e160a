package service

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the reset flows. The three OTP rejection causes are
// distinguished here for logging but collapse to one external message at the
// HTTP boundary so callers cannot probe record state.
var (
	ErrInvalidOrExpired  = errors.New("otp record missing, consumed, or expired")
	ErrAttemptsExhausted = errors.New("otp attempts exhausted")
	ErrInvalidCode       = errors.New("otp code mismatch")
	ErrGateway           = errors.New("message gateway dispatch failed")
	ErrCredentialUpdate  = errors.New("credential store update failed")
	ErrPersistence       = errors.New("shared store unavailable")
)

// ValidationError reports malformed input (phone shape, weak password). It
// is safe to surface its message to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// RateLimitError rejects an issuance request and carries the wait until the
// exhausted window clears.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// RetryAfterMinutes reports the wait rounded up to whole minutes, matching
// the message shown to users.
func (e *RateLimitError) RetryAfterMinutes() int {
	minutes := int((e.RetryAfter + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}
