package model

import "time"

// OTPRecord is the live reset code state for one phone. At most one record
// exists per phone hash; a new issuance overwrites any prior record.
type OTPRecord struct {
	PhoneHash     string    `redis:"phone_hash"`
	CodeHash      string    `redis:"code_hash"`
	CodeSalt      string    `redis:"code_salt"`
	PepperVersion int       `redis:"pepper_version"`
	Algorithm     string    `redis:"algorithm"`
	IssuedAt      time.Time `redis:"issued_at"`
	ExpiresAt     time.Time `redis:"expires_at"`
	Attempts      int       `redis:"attempts"`
	Used          bool      `redis:"used"`
}

// Terminal reports whether no verification can ever succeed against the
// record again: consumed, expired, or out of attempts.
func (r *OTPRecord) Terminal(now time.Time, maxAttempts int) bool {
	return r.Used || r.Attempts >= maxAttempts || now.After(r.ExpiresAt)
}
