package model

import "time"

// Reset event types emitted to the audit pipeline.
const (
	EventOTPIssued        = "otp.issued"
	EventOTPSendFailed    = "otp.send_failed"
	EventResetRateLimited = "reset.rate_limited"
	EventResetUnknown     = "reset.unknown_phone"
	EventOTPRejected      = "otp.rejected"
	EventOTPExhausted     = "otp.exhausted"
	EventResetSucceeded   = "reset.succeeded"
	EventResetFailed      = "reset.failed"
)

// ResetEvent is one audit row for the password-reset pipeline. Events carry
// the phone hash, never the number or the code.
type ResetEvent struct {
	EventID     string    `db:"event_id" json:"event_id"`
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	EventDate   string    `db:"event_date" json:"event_date"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	EventType   string    `db:"event_type" json:"event_type"`
	PhoneHash   string    `db:"phone_hash" json:"phone_hash"`
	Details     string    `db:"details" json:"details,omitempty"`
}
