package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"reset-service/internal/client"
	"reset-service/internal/hashing"
	"reset-service/internal/model"
	"reset-service/internal/util"
)

const (
	otpRecordPrefix = "reset_otp:"
	otpLockPrefix   = "reset_otp_lock:"

	// verifyLockTTL bounds how long a matched code can hold the record
	// while the credential store call is in flight.
	verifyLockTTL = 30 * time.Second
)

// upsertScript replaces any prior record for the phone in one atomic step so
// a concurrent verify never observes a half-written record.
const upsertScript = `
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
    'code_hash', ARGV[1],
    'code_salt', ARGV[2],
    'pepper_version', ARGV[3],
    'algorithm', ARGV[4],
    'issued_at', ARGV[5],
    'expires_at', ARGV[6],
    'attempts', 0,
    'used', 0)
redis.call('EXPIRE', KEYS[1], ARGV[7])
return 1
`

// incrementAttemptsScript bumps the attempt counter only while the record is
// live. Returns the new count, or a negative status:
// -1 no record, -2 already used, -3 attempts already at the cap.
const incrementAttemptsScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return -1
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
    return -2
end
local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts')) or 0
if attempts >= tonumber(ARGV[1]) then
    return -3
end
return redis.call('HINCRBY', KEYS[1], 'attempts', 1)
`

// markUsedScript consumes the record exactly once. Returns 1 on the first
// call, 0 when the record is absent or already consumed.
const markUsedScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
    return 0
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
    return 0
end
redis.call('HSET', KEYS[1], 'used', 1)
return 1
`

// OTPStore persists the live reset code records in the shared store. All
// mutations are single server-side operations per the concurrency contract.
type OTPStore struct {
	client *client.RedisClient
}

func NewOTPStore(client *client.RedisClient) *OTPStore {
	return &OTPStore{client: client}
}

// Put writes a fresh record for the phone, overwriting any prior one. The
// key expires at twice the code lifetime; expiry is still enforced from the
// expires_at field, the TTL only garbage-collects dead records.
func (s *OTPStore) Put(ctx context.Context, record *model.OTPRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpRecordPrefix + record.PhoneHash
	ttl := int64(2 * record.ExpiresAt.Sub(record.IssuedAt).Seconds())

	_, err := s.client.Eval(ctx, upsertScript, []string{key},
		record.CodeHash,
		record.CodeSalt,
		record.PepperVersion,
		record.Algorithm,
		record.IssuedAt.Unix(),
		record.ExpiresAt.Unix(),
		ttl,
	)
	if err != nil {
		util.Error("Failed to store OTP record",
			zap.String("phone_hash", record.PhoneHash),
			zap.Error(err))
		return fmt.Errorf("failed to store OTP record: %w", err)
	}

	util.Debug("OTP record stored",
		zap.String("phone_hash", record.PhoneHash),
		zap.Time("expires_at", record.ExpiresAt))
	return nil
}

// Get loads the record for a phone. A missing record returns (nil, nil).
func (s *OTPStore) Get(ctx context.Context, phoneHash string) (*model.OTPRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, otpRecordPrefix+phoneHash)
	if err != nil {
		util.Error("Failed to load OTP record",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return nil, fmt.Errorf("failed to load OTP record: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return &model.OTPRecord{
		PhoneHash:     phoneHash,
		CodeHash:      fields["code_hash"],
		CodeSalt:      fields["code_salt"],
		PepperVersion: atoi(fields["pepper_version"]),
		Algorithm:     fields["algorithm"],
		IssuedAt:      time.Unix(atoi64(fields["issued_at"]), 0).UTC(),
		ExpiresAt:     time.Unix(atoi64(fields["expires_at"]), 0).UTC(),
		Attempts:      atoi(fields["attempts"]),
		Used:          fields["used"] == "1",
	}, nil
}

// Digest rebuilds the stored code digest for verification.
func (s *OTPStore) Digest(record *model.OTPRecord) *hashing.CodeDigest {
	return &hashing.CodeDigest{
		Hash:          record.CodeHash,
		Salt:          record.CodeSalt,
		PepperVersion: record.PepperVersion,
		Algorithm:     record.Algorithm,
	}
}

// IncrementAttempts atomically bumps the attempt counter of a live record.
// The returned count reflects this call; ok is false when the record was
// absent or already terminal, in which case nothing was changed.
func (s *OTPStore) IncrementAttempts(ctx context.Context, phoneHash string, maxAttempts int) (count int, ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := s.client.Eval(ctx, incrementAttemptsScript,
		[]string{otpRecordPrefix + phoneHash}, maxAttempts)
	if err != nil {
		util.Error("Failed to increment OTP attempts",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return 0, false, fmt.Errorf("failed to increment OTP attempts: %w", err)
	}

	n := result.(int64)
	if n < 0 {
		return 0, false, nil
	}
	return int(n), true, nil
}

// MarkUsed consumes the record. Returns false when another caller already
// consumed it (or it is gone); the caller must then treat the code as spent.
func (s *OTPStore) MarkUsed(ctx context.Context, phoneHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := s.client.Eval(ctx, markUsedScript, []string{otpRecordPrefix + phoneHash})
	if err != nil {
		util.Error("Failed to mark OTP record used",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return false, fmt.Errorf("failed to mark OTP record used: %w", err)
	}
	return result.(int64) == 1, nil
}

// AcquireVerifyLock claims the record for the credential-update step so two
// racing verifies with the correct code cannot both proceed. The lock is
// short-lived; a crashed holder frees it by TTL.
func (s *OTPStore) AcquireVerifyLock(ctx context.Context, phoneHash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	acquired, err := s.client.SetNX(ctx, otpLockPrefix+phoneHash, "locked", verifyLockTTL)
	if err != nil {
		util.Error("Failed to acquire verify lock",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return false, fmt.Errorf("failed to acquire verify lock: %w", err)
	}
	return acquired, nil
}

// ReleaseVerifyLock frees the claim taken by AcquireVerifyLock.
func (s *OTPStore) ReleaseVerifyLock(ctx context.Context, phoneHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, otpLockPrefix+phoneHash); err != nil {
		util.Error("Failed to release verify lock",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return fmt.Errorf("failed to release verify lock: %w", err)
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
