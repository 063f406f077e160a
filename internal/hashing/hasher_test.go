package hashing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"reset-service/internal/config"
)

func testHasher(t *testing.T, peppers map[int]string) *Hasher {
	t.Helper()
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           peppers,
		},
	}
	h, err := NewHasher(cfg)
	require.NoError(t, err)
	return h
}

func TestHashCode_RoundTrip(t *testing.T) {
	h := testHasher(t, map[int]string{1: "pepper-one"})

	digest, err := h.HashCode("482913")
	require.NoError(t, err)
	require.Equal(t, "argon2id-v1", digest.Algorithm)
	require.Equal(t, 1, digest.PepperVersion)

	match, err := h.VerifyCode("482913", digest)
	require.NoError(t, err)
	require.True(t, match)

	match, err = h.VerifyCode("482914", digest)
	require.NoError(t, err)
	require.False(t, match)
}

func TestHashCode_PreservesLeadingZeros(t *testing.T) {
	h := testHasher(t, map[int]string{1: "pepper-one"})

	digest, err := h.HashCode("000000")
	require.NoError(t, err)

	match, err := h.VerifyCode("000000", digest)
	require.NoError(t, err)
	require.True(t, match)

	// "0" is numerically equal but is not the same code.
	match, err = h.VerifyCode("0", digest)
	require.NoError(t, err)
	require.False(t, match)
}

func TestHashCode_FreshSaltPerDigest(t *testing.T) {
	h := testHasher(t, map[int]string{1: "pepper-one"})

	a, err := h.HashCode("123456")
	require.NoError(t, err)
	b, err := h.HashCode("123456")
	require.NoError(t, err)

	require.NotEqual(t, a.Salt, b.Salt)
	require.NotEqual(t, a.Hash, b.Hash)
}

func TestVerifyCode_OldPepperVersionStillVerifies(t *testing.T) {
	old := testHasher(t, map[int]string{1: "pepper-one"})
	digest, err := old.HashCode("654321")
	require.NoError(t, err)

	// A newer deployment hashes with version 2 but keeps version 1 around
	// for records issued before the rotation.
	rotated := testHasher(t, map[int]string{1: "pepper-one", 2: "pepper-two"})
	require.Equal(t, 2, rotated.currentVersion)

	match, err := rotated.VerifyCode("654321", digest)
	require.NoError(t, err)
	require.True(t, match)
}

func TestVerifyCode_UnknownPepperVersion(t *testing.T) {
	h := testHasher(t, map[int]string{1: "pepper-one"})
	digest, err := h.HashCode("654321")
	require.NoError(t, err)

	digest.PepperVersion = 9
	_, err = h.VerifyCode("654321", digest)
	require.ErrorIs(t, err, ErrUnknownPepper)
}

func TestVerifyCode_MalformedDigest(t *testing.T) {
	h := testHasher(t, map[int]string{1: "pepper-one"})

	_, err := h.VerifyCode("123456", &CodeDigest{Hash: "", Salt: "", PepperVersion: 1})
	require.ErrorIs(t, err, ErrInvalidDigest)
}

func TestNewHasher_RequiresPepper(t *testing.T) {
	cfg := &config.Config{}
	_, err := NewHasher(cfg)
	require.ErrorIs(t, err, ErrNoPepper)
}
