// Package password validates candidate passwords before any OTP state is
// touched.
package password

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	minLength = 8
	symbols   = "@$!%*?&"
)

// WeakPasswordError reports the first unmet strength rule.
type WeakPasswordError struct {
	Reason string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("weak password: %s", e.Reason)
}

// Validate checks a candidate password against the storefront policy:
// minimum length, one lowercase, one uppercase, one digit, one symbol.
// It is stateless and returns the first violated rule.
func Validate(candidate string) error {
	if len(candidate) < minLength {
		return &WeakPasswordError{Reason: fmt.Sprintf("must be at least %d characters", minLength)}
	}

	var lower, upper, digit, symbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(symbols, r):
			symbol = true
		}
	}

	switch {
	case !lower:
		return &WeakPasswordError{Reason: "must contain a lowercase letter"}
	case !upper:
		return &WeakPasswordError{Reason: "must contain an uppercase letter"}
	case !digit:
		return &WeakPasswordError{Reason: "must contain a digit"}
	case !symbol:
		return &WeakPasswordError{Reason: fmt.Sprintf("must contain a symbol from %q", symbols)}
	}
	return nil
}
