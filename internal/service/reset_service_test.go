package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"reset-service/internal/client"
	"reset-service/internal/config"
	"reset-service/internal/hashing"
	"reset-service/internal/model"
	"reset-service/internal/phone"
	redisrepo "reset-service/internal/repository/redis"
)

const (
	testPhone     = "+2348012345678"
	testAccountID = "acct-7f3e"
)

type fakeDirectory struct {
	accounts map[string]string
	err      error
}

func (f *fakeDirectory) AccountIDByPhoneHash(ctx context.Context, phoneHash string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.accounts[phoneHash]
	return id, ok, nil
}

type sentMessage struct {
	Phone string
	Code  string
}

type fakeGateway struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (f *fakeGateway) SendCode(ctx context.Context, phoneNumber, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{Phone: phoneNumber, Code: code})
	return nil
}

func (f *fakeGateway) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no code was dispatched")
	return f.sent[len(f.sent)-1].Code
}

type fakeCredentialStore struct {
	mu      sync.Mutex
	updates []string
	err     error
}

func (f *fakeCredentialStore) UpdatePassword(ctx context.Context, accountID, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.updates = append(f.updates, accountID)
	return nil
}

func (f *fakeCredentialStore) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []*model.ResetEvent
}

func (f *fakeRecorder) Record(ctx context.Context, event *model.ResetEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeRecorder) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.EventType)
	}
	return out
}

type harness struct {
	svc       *ResetService
	directory *fakeDirectory
	gateway   *fakeGateway
	creds     *fakeCredentialStore
	recorder  *fakeRecorder
	clock     *time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{
		OTP: config.OTPConfig{
			CountryCode: "+234",
			Digits:      6,
			TTL:         10 * time.Minute,
			MaxAttempts: 3,
		},
		RateLimit: config.RateLimitConfig{
			HourlyCap:    3,
			DailyCap:     10,
			HourlyWindow: time.Hour,
			DailyWindow:  24 * time.Hour,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           map[int]string{1: "test-pepper"},
		},
	}

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	redisClient := client.NewRedisClientFrom(rdb)

	hasher, err := hashing.NewHasher(cfg)
	require.NoError(t, err)

	h := &harness{
		directory: &fakeDirectory{accounts: map[string]string{}},
		gateway:   &fakeGateway{},
		creds:     &fakeCredentialStore{},
		recorder:  &fakeRecorder{},
	}

	clock := time.Unix(1_700_000_000, 0).UTC()
	h.clock = &clock
	now := func() time.Time { return *h.clock }

	limiter := redisrepo.NewRateLimitStore(redisClient, cfg.RateLimit).WithClock(now)
	otps := redisrepo.NewOTPStore(redisClient)

	h.svc = NewResetService(cfg, limiter, otps, h.directory, hasher, h.gateway, h.creds, h.recorder).WithClock(now)
	return h
}

func (h *harness) register(phoneHash string) {
	h.directory.accounts[phoneHash] = testAccountID
}

func phoneHashOf(t *testing.T, h *harness, raw string) string {
	t.Helper()
	canonical, err := h.svc.normalize.Normalize(raw)
	require.NoError(t, err)
	return phone.Hash(canonical)
}

func TestRequestReset_DispatchesCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))

	code := h.gateway.lastCode(t)
	require.Len(t, code, 6)
	for _, r := range code {
		require.True(t, r >= '0' && r <= '9', "code must be numeric, got %q", code)
	}
	require.Equal(t, testPhone, h.gateway.sent[0].Phone)
	require.Contains(t, h.recorder.types(), model.EventOTPIssued)
}

func TestRequestReset_NationalFormatResolvesSameAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, "08012345678"))
	require.Equal(t, testPhone, h.gateway.sent[0].Phone)
}

func TestRequestReset_UnregisteredPhoneIsSilent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))

	h.gateway.mu.Lock()
	defer h.gateway.mu.Unlock()
	require.Empty(t, h.gateway.sent)
	require.Contains(t, h.recorder.types(), model.EventResetUnknown)
}

func TestRequestReset_InvalidPhone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	err := h.svc.RequestReset(ctx, "not a number")
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestRequestReset_RateLimited(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	}

	err := h.svc.RequestReset(ctx, testPhone)
	var rateLimited *RateLimitError
	require.ErrorAs(t, err, &rateLimited)
	require.Equal(t, 60, rateLimited.RetryAfterMinutes())
	require.Contains(t, h.recorder.types(), model.EventResetRateLimited)
}

func TestRequestReset_RateLimitCountsUnregisteredPhones(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// An attacker probing an unregistered phone hits the same limiter, so
	// the 429 cannot be used to tell registered phones apart.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	}

	err := h.svc.RequestReset(ctx, testPhone)
	var rateLimited *RateLimitError
	require.ErrorAs(t, err, &rateLimited)
}

func TestRequestReset_GatewayFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))
	h.gateway.err = errors.New("twilio unreachable")

	err := h.svc.RequestReset(ctx, testPhone)
	require.ErrorIs(t, err, ErrGateway)
	require.Contains(t, h.recorder.types(), model.EventOTPSendFailed)
}

func TestConfirmReset_HappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	code := h.gateway.lastCode(t)

	require.NoError(t, h.svc.ConfirmReset(ctx, testPhone, code, "N3w&Secret"))
	require.Equal(t, 1, h.creds.updateCount())
	require.Equal(t, testAccountID, h.creds.updates[0])
	require.Contains(t, h.recorder.types(), model.EventResetSucceeded)
}

func TestConfirmReset_CodeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	code := h.gateway.lastCode(t)

	require.NoError(t, h.svc.ConfirmReset(ctx, testPhone, code, "N3w&Secret"))

	err := h.svc.ConfirmReset(ctx, testPhone, code, "An0ther&Pw")
	require.ErrorIs(t, err, ErrInvalidOrExpired)
	require.Equal(t, 1, h.creds.updateCount())
}

func TestConfirmReset_NoRecord(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	err := h.svc.ConfirmReset(ctx, testPhone, "123456", "N3w&Secret")
	require.ErrorIs(t, err, ErrInvalidOrExpired)
}

func TestConfirmReset_ExpiredCode(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	code := h.gateway.lastCode(t)

	*h.clock = h.clock.Add(10*time.Minute + time.Second)

	err := h.svc.ConfirmReset(ctx, testPhone, code, "N3w&Secret")
	require.ErrorIs(t, err, ErrInvalidOrExpired)
	require.Zero(t, h.creds.updateCount())
}

func TestConfirmReset_WrongCodeBurnsAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	code := h.gateway.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "000001"
	}

	for i := 0; i < 3; i++ {
		err := h.svc.ConfirmReset(ctx, testPhone, wrong, "N3w&Secret")
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	// The correct code no longer works once the attempt budget is gone.
	err := h.svc.ConfirmReset(ctx, testPhone, code, "N3w&Secret")
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Zero(t, h.creds.updateCount())
}

func TestConfirmReset_FreshCodeResetsAttemptBudget(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	first := h.gateway.lastCode(t)
	wrong := "000000"
	if first == wrong {
		wrong = "000001"
	}
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, h.svc.ConfirmReset(ctx, testPhone, wrong, "N3w&Secret"), ErrInvalidCode)
	}

	// Reissue replaces the exhausted record.
	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	second := h.gateway.lastCode(t)
	require.NoError(t, h.svc.ConfirmReset(ctx, testPhone, second, "N3w&Secret"))
}

func TestConfirmReset_WeakPasswordLeavesAttemptsUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	code := h.gateway.lastCode(t)

	// A weak password is rejected before the code is even looked at, so
	// repeated tries never consume the attempt budget.
	for i := 0; i < 5; i++ {
		err := h.svc.ConfirmReset(ctx, testPhone, code, "weak")
		var validation *ValidationError
		require.ErrorAs(t, err, &validation)
	}

	require.NoError(t, h.svc.ConfirmReset(ctx, testPhone, code, "N3w&Secret"))
}

func TestConfirmReset_CredentialFailureKeepsCodeLive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	code := h.gateway.lastCode(t)

	h.creds.err = errors.New("platform admin API down")
	err := h.svc.ConfirmReset(ctx, testPhone, code, "N3w&Secret")
	require.ErrorIs(t, err, ErrCredentialUpdate)

	// The record was not consumed; the same code works once the platform
	// recovers.
	h.creds.err = nil
	require.NoError(t, h.svc.ConfirmReset(ctx, testPhone, code, "N3w&Secret"))
}

func TestRequestReset_ConcurrentRequestsNeverExceedCap(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	const racers = 12
	var mu sync.Mutex
	var admitted, rejected int
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < racers; i++ {
		g.Go(func() error {
			err := h.svc.RequestReset(gctx, testPhone)
			var rateLimited *RateLimitError
			switch {
			case err == nil:
				mu.Lock()
				admitted++
				mu.Unlock()
			case errors.As(err, &rateLimited):
				mu.Lock()
				rejected++
				mu.Unlock()
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 3, admitted, "admissions must never exceed the hourly cap")
	require.Equal(t, racers-3, rejected)
}

func TestConfirmReset_ConcurrentCorrectCodesSucceedOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(phoneHashOf(t, h, testPhone))

	require.NoError(t, h.svc.RequestReset(ctx, testPhone))
	code := h.gateway.lastCode(t)

	const racers = 8
	var mu sync.Mutex
	var succeeded int
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < racers; i++ {
		g.Go(func() error {
			err := h.svc.ConfirmReset(gctx, testPhone, code, "N3w&Secret")
			switch {
			case err == nil:
				mu.Lock()
				succeeded++
				mu.Unlock()
			case errors.Is(err, ErrInvalidOrExpired):
				// Loser of the race.
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, 1, succeeded, "exactly one racer may win")
	require.Equal(t, 1, h.creds.updateCount())
}
