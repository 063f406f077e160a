package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOTPRecord_Terminal(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	live := OTPRecord{
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
	}

	require.False(t, live.Terminal(now, 3))
	require.False(t, live.Terminal(now.Add(10*time.Minute), 3), "expiry boundary is inclusive")

	used := live
	used.Used = true
	require.True(t, used.Terminal(now, 3))

	exhausted := live
	exhausted.Attempts = 3
	require.True(t, exhausted.Terminal(now, 3))

	require.True(t, live.Terminal(now.Add(10*time.Minute+time.Second), 3))
}
