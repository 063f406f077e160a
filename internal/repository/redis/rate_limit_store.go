package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"reset-service/internal/client"
	"reset-service/internal/config"
	"reset-service/internal/model"
	"reset-service/internal/util"
)

const rateCounterPrefix = "reset_rl:"

// admitScript performs the whole fixed-window check as one atomic operation:
// load counters, reset any elapsed window, reject before increment if either
// cap is reached, otherwise increment both windows.
//
// KEYS[1] counter hash
// ARGV: now, hourly_len, daily_len, hourly_cap, daily_cap, ttl (all seconds)
// Returns {1, 0} when admitted, {0, retry_after_seconds} when rejected.
const admitScript = `
local now = tonumber(ARGV[1])
local hlen = tonumber(ARGV[2])
local dlen = tonumber(ARGV[3])
local hcap = tonumber(ARGV[4])
local dcap = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local v = redis.call('HMGET', KEYS[1], 'hourly_count', 'hourly_start', 'daily_count', 'daily_start')
local hcount = tonumber(v[1]) or 0
local hstart = tonumber(v[2]) or now
local dcount = tonumber(v[3]) or 0
local dstart = tonumber(v[4]) or now

if now - hstart >= hlen then
    hcount = 0
    hstart = now
end
if now - dstart >= dlen then
    dcount = 0
    dstart = now
end

local retry = 0
if hcount >= hcap then
    retry = hstart + hlen - now
end
if dcount >= dcap then
    local dretry = dstart + dlen - now
    if dretry > retry then
        retry = dretry
    end
end

if retry > 0 then
    redis.call('HSET', KEYS[1], 'hourly_count', hcount, 'hourly_start', hstart, 'daily_count', dcount, 'daily_start', dstart)
    redis.call('EXPIRE', KEYS[1], ttl)
    return {0, retry}
end

redis.call('HSET', KEYS[1], 'hourly_count', hcount + 1, 'hourly_start', hstart, 'daily_count', dcount + 1, 'daily_start', dstart)
redis.call('EXPIRE', KEYS[1], ttl)
return {1, 0}
`

// RateLimitStore keeps the per-phone issuance counters in the shared store
// so every handler instance sees the same windows.
type RateLimitStore struct {
	client *client.RedisClient
	cfg    config.RateLimitConfig
	now    func() time.Time
}

func NewRateLimitStore(client *client.RedisClient, cfg config.RateLimitConfig) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Admit decides whether one more issuance is allowed for the phone. The
// decision and the increment happen in one server-side step; two concurrent
// calls can never both take the last slot.
func (s *RateLimitStore) Admit(ctx context.Context, phoneHash string) (*model.AdmitDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := rateCounterPrefix + phoneHash
	ttl := int64((2 * s.cfg.DailyWindow).Seconds())

	result, err := s.client.Eval(ctx, admitScript, []string{key},
		s.now().Unix(),
		int64(s.cfg.HourlyWindow.Seconds()),
		int64(s.cfg.DailyWindow.Seconds()),
		s.cfg.HourlyCap,
		s.cfg.DailyCap,
		ttl,
	)
	if err != nil {
		util.Error("Failed to run rate limit admit",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return nil, fmt.Errorf("failed to run rate limit admit: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return nil, fmt.Errorf("unexpected result format from admit script")
	}

	allowed := values[0].(int64) == 1
	retryAfter := time.Duration(values[1].(int64)) * time.Second

	util.Debug("Rate limit admit",
		zap.String("phone_hash", phoneHash),
		zap.Bool("allowed", allowed),
		zap.Duration("retry_after", retryAfter))

	return &model.AdmitDecision{Allowed: allowed, RetryAfter: retryAfter}, nil
}

// Counter reads the raw counter state. Used by tests and operators, not by
// the admit path.
func (s *RateLimitStore) Counter(ctx context.Context, phoneHash string) (*model.RateCounter, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, rateCounterPrefix+phoneHash)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate counter: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	counter := &model.RateCounter{PhoneHash: phoneHash}
	counter.HourlyCount = atoi(fields["hourly_count"])
	counter.DailyCount = atoi(fields["daily_count"])
	counter.HourlyStart = time.Unix(atoi64(fields["hourly_start"]), 0).UTC()
	counter.DailyStart = time.Unix(atoi64(fields["daily_start"]), 0).UTC()
	return counter, nil
}

// Reset clears the counter for a phone. Operator escape hatch.
func (s *RateLimitStore) Reset(ctx context.Context, phoneHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Del(ctx, rateCounterPrefix+phoneHash); err != nil {
		util.Error("Failed to reset rate counter",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return fmt.Errorf("failed to reset rate counter: %w", err)
	}
	return nil
}

// WithClock overrides the time source. Tests only.
func (s *RateLimitStore) WithClock(now func() time.Time) *RateLimitStore {
	s.now = now
	return s
}
