package model

import "time"

// RateCounter tracks issuance requests for one phone across two fixed
// windows. A window resets wholesale once its start is more than the window
// length in the past.
type RateCounter struct {
	PhoneHash   string    `redis:"phone_hash"`
	HourlyCount int       `redis:"hourly_count"`
	HourlyStart time.Time `redis:"hourly_start"`
	DailyCount  int       `redis:"daily_count"`
	DailyStart  time.Time `redis:"daily_start"`
}

// AdmitDecision is the outcome of one rate-limit check.
type AdmitDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}
