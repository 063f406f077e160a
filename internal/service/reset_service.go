package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"reset-service/internal/config"
	"reset-service/internal/hashing"
	"reset-service/internal/model"
	"reset-service/internal/password"
	"reset-service/internal/phone"
	redisrepo "reset-service/internal/repository/redis"
	"reset-service/internal/util"
)

// AccountDirectory resolves a phone hash to an account identifier. A miss is
// not an error.
type AccountDirectory interface {
	AccountIDByPhoneHash(ctx context.Context, phoneHash string) (string, bool, error)
}

// MessageGateway delivers a plaintext reset code to a phone.
type MessageGateway interface {
	SendCode(ctx context.Context, phoneNumber, code string) error
}

// CredentialStore sets a new password for an account.
type CredentialStore interface {
	UpdatePassword(ctx context.Context, accountID, newPassword string) error
}

// EventRecorder receives audit events. Recording is best effort and must
// never fail a request.
type EventRecorder interface {
	Record(ctx context.Context, event *model.ResetEvent)
}

// ResetService orchestrates the phone OTP password-reset flows: issuing a
// short-lived code with per-phone rate limiting, and verifying a submitted
// code with bounded attempts before the credential transition.
type ResetService struct {
	otpCfg    config.OTPConfig
	limiter   *redisrepo.RateLimitStore
	otps      *redisrepo.OTPStore
	directory AccountDirectory
	hasher    *hashing.Hasher
	gateway   MessageGateway
	creds     CredentialStore
	events    EventRecorder
	normalize *phone.Normalizer
	now       func() time.Time
}

func NewResetService(
	cfg *config.Config,
	limiter *redisrepo.RateLimitStore,
	otps *redisrepo.OTPStore,
	directory AccountDirectory,
	hasher *hashing.Hasher,
	gateway MessageGateway,
	creds CredentialStore,
	events EventRecorder,
) *ResetService {
	return &ResetService{
		otpCfg:    cfg.OTP,
		limiter:   limiter,
		otps:      otps,
		directory: directory,
		hasher:    hasher,
		gateway:   gateway,
		creds:     creds,
		events:    events,
		normalize: phone.NewNormalizer(cfg.OTP.CountryCode),
		now:       time.Now,
	}
}

// RequestReset issues a reset code for the phone. A nil return means the
// caller must render the generic acknowledgement; that includes the case
// where the phone resolves to no account, which is deliberately
// indistinguishable from a successful dispatch.
func (s *ResetService) RequestReset(ctx context.Context, rawPhone string) error {
	canonical, err := s.normalize.Normalize(rawPhone)
	if err != nil {
		return &ValidationError{Message: validationMessage(err)}
	}
	phoneHash := phone.Hash(canonical)

	decision, err := s.limiter.Admit(ctx, phoneHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !decision.Allowed {
		util.Warn("Reset request rate limited",
			zap.String("phone_hash", phoneHash),
			zap.Duration("retry_after", decision.RetryAfter))
		s.record(ctx, model.EventResetRateLimited, phoneHash, decision.RetryAfter.String())
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	}

	accountID, found, err := s.directory.AccountIDByPhoneHash(ctx, phoneHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !found {
		// Unregistered phone: report nothing, issue nothing. The caller
		// renders the same acknowledgement as the registered path.
		util.Info("Reset requested for unregistered phone",
			zap.String("phone_hash", phoneHash))
		s.record(ctx, model.EventResetUnknown, phoneHash, "")
		return nil
	}

	code, err := s.generateCode()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	digest, err := s.hasher.HashCode(code)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := s.now().UTC()
	record := &model.OTPRecord{
		PhoneHash:     phoneHash,
		CodeHash:      digest.Hash,
		CodeSalt:      digest.Salt,
		PepperVersion: digest.PepperVersion,
		Algorithm:     digest.Algorithm,
		IssuedAt:      now,
		ExpiresAt:     now.Add(s.otpCfg.TTL),
	}
	if err := s.otps.Put(ctx, record); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := s.gateway.SendCode(ctx, canonical, code); err != nil {
		// The stored record is undelivered; the user must see the failure
		// or they would wait for a message that never arrives.
		util.Error("Failed to dispatch reset code",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		s.record(ctx, model.EventOTPSendFailed, phoneHash, err.Error())
		return fmt.Errorf("%w: %v", ErrGateway, err)
	}

	util.Info("Reset code issued",
		zap.String("phone_hash", phoneHash),
		zap.String("account_id", accountID),
		zap.Time("expires_at", record.ExpiresAt))
	s.record(ctx, model.EventOTPIssued, phoneHash, "")
	return nil
}

// ConfirmReset verifies the submitted code and transitions the account
// credentials exactly once. The password policy runs before any stored
// state is touched.
func (s *ResetService) ConfirmReset(ctx context.Context, rawPhone, submittedCode, newPassword string) error {
	canonical, err := s.normalize.Normalize(rawPhone)
	if err != nil {
		return &ValidationError{Message: validationMessage(err)}
	}
	if err := password.Validate(newPassword); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	phoneHash := phone.Hash(canonical)

	record, err := s.otps.Get(ctx, phoneHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	now := s.now().UTC()
	switch {
	case record == nil:
		util.Info("Reset confirm with no live record",
			zap.String("phone_hash", phoneHash))
		s.record(ctx, model.EventOTPRejected, phoneHash, "no_record")
		return ErrInvalidOrExpired
	case record.Used:
		util.Info("Reset confirm against consumed record",
			zap.String("phone_hash", phoneHash))
		s.record(ctx, model.EventOTPRejected, phoneHash, "used")
		return ErrInvalidOrExpired
	case now.After(record.ExpiresAt):
		util.Info("Reset confirm against expired record",
			zap.String("phone_hash", phoneHash),
			zap.Time("expires_at", record.ExpiresAt))
		s.record(ctx, model.EventOTPRejected, phoneHash, "expired")
		return ErrInvalidOrExpired
	case record.Attempts >= s.otpCfg.MaxAttempts:
		util.Warn("Reset confirm against exhausted record",
			zap.String("phone_hash", phoneHash),
			zap.Int("attempts", record.Attempts))
		s.record(ctx, model.EventOTPExhausted, phoneHash, "")
		return ErrAttemptsExhausted
	}

	match, err := s.hasher.VerifyCode(submittedCode, s.otps.Digest(record))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !match {
		count, ok, err := s.otps.IncrementAttempts(ctx, phoneHash, s.otpCfg.MaxAttempts)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		if !ok {
			// The record went terminal between our read and the increment.
			s.record(ctx, model.EventOTPRejected, phoneHash, "terminal_race")
			return ErrInvalidOrExpired
		}
		util.Info("Reset confirm with wrong code",
			zap.String("phone_hash", phoneHash),
			zap.Int("attempts", count))
		s.record(ctx, model.EventOTPRejected, phoneHash, "mismatch")
		return ErrInvalidCode
	}

	// Claim the record for the credential transition so two racing confirms
	// with the correct code cannot both succeed.
	claimed, err := s.otps.AcquireVerifyLock(ctx, phoneHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !claimed {
		s.record(ctx, model.EventOTPRejected, phoneHash, "concurrent_confirm")
		return ErrInvalidOrExpired
	}
	defer func() {
		if err := s.otps.ReleaseVerifyLock(context.WithoutCancel(ctx), phoneHash); err != nil {
			util.Warn("Failed to release verify lock",
				zap.String("phone_hash", phoneHash),
				zap.Error(err))
		}
	}()

	// Re-read under the lock: another confirm may have consumed the record
	// between our first read and the claim.
	current, err := s.otps.Get(ctx, phoneHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if current == nil || current.Terminal(s.now().UTC(), s.otpCfg.MaxAttempts) {
		s.record(ctx, model.EventOTPRejected, phoneHash, "consumed_race")
		return ErrInvalidOrExpired
	}

	accountID, found, err := s.directory.AccountIDByPhoneHash(ctx, phoneHash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !found {
		// A live record implies a prior resolution, so this only happens if
		// the account vanished since issuance. Fold into the generic
		// rejection rather than confirming the phone was ever registered.
		util.Warn("Live record without directory entry",
			zap.String("phone_hash", phoneHash))
		s.record(ctx, model.EventResetFailed, phoneHash, "account_missing")
		return ErrInvalidOrExpired
	}

	if err := s.creds.UpdatePassword(ctx, accountID, newPassword); err != nil {
		// The record stays live and unconsumed; the user can retry the same
		// code without requesting a new one.
		util.Error("Credential store rejected password update",
			zap.String("phone_hash", phoneHash),
			zap.String("account_id", accountID),
			zap.Error(err))
		s.record(ctx, model.EventResetFailed, phoneHash, "credential_update")
		return fmt.Errorf("%w: %v", ErrCredentialUpdate, err)
	}

	consumed, err := s.otps.MarkUsed(ctx, phoneHash)
	if err != nil {
		// Password already changed; surface nothing to the user but flag the
		// unconsumed record loudly.
		util.Error("Password updated but record not consumed",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
	} else if !consumed {
		util.Warn("Record already consumed at mark-used",
			zap.String("phone_hash", phoneHash))
	}

	util.Info("Password reset completed",
		zap.String("phone_hash", phoneHash),
		zap.String("account_id", accountID))
	s.record(ctx, model.EventResetSucceeded, phoneHash, "")
	return nil
}

// generateCode draws a uniformly random zero-padded numeric code. Leading
// zeros are preserved: "007123" is a valid six-digit code.
func (s *ResetService) generateCode() (string, error) {
	bound := big.NewInt(1)
	for i := 0; i < s.otpCfg.Digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", s.otpCfg.Digits, n), nil
}

func (s *ResetService) record(ctx context.Context, eventType, phoneHash, details string) {
	if s.events == nil {
		return
	}
	now := s.now().UTC()
	s.events.Record(ctx, &model.ResetEvent{
		EventTime: now,
		EventType: eventType,
		PhoneHash: phoneHash,
		Details:   details,
	})
}

// WithClock overrides the time source. Tests only.
func (s *ResetService) WithClock(now func() time.Time) *ResetService {
	s.now = now
	return s
}

func validationMessage(err error) string {
	switch err {
	case phone.ErrEmpty:
		return "Phone number is required"
	case phone.ErrNoDigits, phone.ErrFormat:
		return "Invalid phone number"
	default:
		return err.Error()
	}
}
