package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reset-service/internal/model"
)

func testRecord(phoneHash string, now time.Time) *model.OTPRecord {
	return &model.OTPRecord{
		PhoneHash:     phoneHash,
		CodeHash:      "aGFzaA",
		CodeSalt:      "c2FsdA",
		PepperVersion: 1,
		Algorithm:     "argon2id-v1",
		IssuedAt:      now,
		ExpiresAt:     now.Add(10 * time.Minute),
	}
}

func TestOTPStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Put(ctx, testRecord(testPhoneHash, now)))

	record, err := store.Get(ctx, testPhoneHash)
	require.NoError(t, err)
	require.NotNil(t, record)
	require.Equal(t, "aGFzaA", record.CodeHash)
	require.Equal(t, "c2FsdA", record.CodeSalt)
	require.Equal(t, 1, record.PepperVersion)
	require.Equal(t, "argon2id-v1", record.Algorithm)
	require.Equal(t, now, record.IssuedAt)
	require.Equal(t, now.Add(10*time.Minute), record.ExpiresAt)
	require.Equal(t, 0, record.Attempts)
	require.False(t, record.Used)
}

func TestOTPStore_GetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))

	record, err := store.Get(ctx, "absent")
	require.NoError(t, err)
	require.Nil(t, record)
}

func TestOTPStore_PutReplacesPriorRecord(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Put(ctx, testRecord(testPhoneHash, now)))

	// Burn attempts against the first record, then reissue.
	_, ok, err := store.IncrementAttempts(ctx, testPhoneHash, 3)
	require.NoError(t, err)
	require.True(t, ok)

	fresh := testRecord(testPhoneHash, now.Add(time.Minute))
	fresh.CodeHash = "bmV3aGFzaA"
	require.NoError(t, store.Put(ctx, fresh))

	record, err := store.Get(ctx, testPhoneHash)
	require.NoError(t, err)
	require.Equal(t, "bmV3aGFzaA", record.CodeHash)
	require.Equal(t, 0, record.Attempts, "reissue starts a fresh attempt budget")
	require.False(t, record.Used)
}

func TestOTPStore_IncrementAttemptsStopsAtCap(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Put(ctx, testRecord(testPhoneHash, now)))

	for want := 1; want <= 3; want++ {
		count, ok, err := store.IncrementAttempts(ctx, testPhoneHash, 3)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, count)
	}

	// At the cap the counter refuses to move.
	_, ok, err := store.IncrementAttempts(ctx, testPhoneHash, 3)
	require.NoError(t, err)
	require.False(t, ok)

	record, err := store.Get(ctx, testPhoneHash)
	require.NoError(t, err)
	require.Equal(t, 3, record.Attempts)
}

func TestOTPStore_IncrementAttemptsOnMissingOrUsed(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))
	now := time.Unix(1_700_000_000, 0).UTC()

	_, ok, err := store.IncrementAttempts(ctx, "absent", 3)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, testRecord(testPhoneHash, now)))
	consumed, err := store.MarkUsed(ctx, testPhoneHash)
	require.NoError(t, err)
	require.True(t, consumed)

	_, ok, err = store.IncrementAttempts(ctx, testPhoneHash, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOTPStore_MarkUsedIsSingleShot(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))
	now := time.Unix(1_700_000_000, 0).UTC()

	require.NoError(t, store.Put(ctx, testRecord(testPhoneHash, now)))

	first, err := store.MarkUsed(ctx, testPhoneHash)
	require.NoError(t, err)
	require.True(t, first)

	second, err := store.MarkUsed(ctx, testPhoneHash)
	require.NoError(t, err)
	require.False(t, second)

	record, err := store.Get(ctx, testPhoneHash)
	require.NoError(t, err)
	require.True(t, record.Used)
}

func TestOTPStore_MarkUsedOnMissingRecord(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))

	consumed, err := store.MarkUsed(ctx, "absent")
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestOTPStore_VerifyLock(t *testing.T) {
	ctx := context.Background()
	store := NewOTPStore(testRedisClient(t))

	acquired, err := store.AcquireVerifyLock(ctx, testPhoneHash)
	require.NoError(t, err)
	require.True(t, acquired)

	// Second claim on the same phone loses.
	acquired, err = store.AcquireVerifyLock(ctx, testPhoneHash)
	require.NoError(t, err)
	require.False(t, acquired)

	// A different phone is unaffected.
	acquired, err = store.AcquireVerifyLock(ctx, "other-phone-hash")
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, store.ReleaseVerifyLock(ctx, testPhoneHash))
	acquired, err = store.AcquireVerifyLock(ctx, testPhoneHash)
	require.NoError(t, err)
	require.True(t, acquired)
}

func TestOTPStore_Digest(t *testing.T) {
	store := NewOTPStore(testRedisClient(t))
	now := time.Unix(1_700_000_000, 0).UTC()
	record := testRecord(testPhoneHash, now)

	digest := store.Digest(record)
	require.Equal(t, record.CodeHash, digest.Hash)
	require.Equal(t, record.CodeSalt, digest.Salt)
	require.Equal(t, record.PepperVersion, digest.PepperVersion)
	require.Equal(t, record.Algorithm, digest.Algorithm)
}
