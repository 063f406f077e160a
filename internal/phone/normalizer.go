// Package phone canonicalizes raw phone input into the single comparison key
// used by the rate limiter, the OTP store, and the account directory.
package phone

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrEmpty    = errors.New("phone number is required")
	ErrNoDigits = errors.New("phone number contains no digits")
	ErrFormat   = errors.New("phone number must carry a country calling code")
)

// e164 is the shape every canonical key must satisfy after normalization.
var e164 = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// Normalizer rewrites national-format numbers into E.164 using a configured
// country calling code. It is pure and safe for concurrent use.
type Normalizer struct {
	countryCode string
}

func NewNormalizer(countryCode string) *Normalizer {
	return &Normalizer{countryCode: countryCode}
}

// Normalize strips whitespace, replaces a single national trunk prefix ("0")
// with the configured calling code, and validates the result. Two raw inputs
// that normalize to the same key are the same phone everywhere downstream.
func (n *Normalizer) Normalize(raw string) (string, error) {
	stripped := stripSpace(raw)
	if stripped == "" {
		return "", ErrEmpty
	}
	if !containsDigit(stripped) {
		return "", ErrNoDigits
	}

	canonical := stripped
	if strings.HasPrefix(stripped, "0") {
		canonical = n.countryCode + stripped[1:]
	}

	if !e164.MatchString(canonical) {
		return "", ErrFormat
	}
	return canonical, nil
}

// Hash derives the irreversible storage key for a canonical phone. Counters,
// OTP records, and directory rows are all keyed by this value, never by the
// number itself.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func containsDigit(s string) bool {
	for _, r := range s {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
