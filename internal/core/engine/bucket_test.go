package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/internal/core"
)

func TestBucketRefillCapsAtCapacity(t *testing.T) {
	b := Bucket{RatePerSec: 3, Capacity: 3}
	state := &core.RateLimitState{Tokens: 1, LastRefillAtMs: 0}

	b.Refill(state, 60_000)

	require.Equal(t, 3, state.Tokens)
	require.Equal(t, int64(60_000), state.LastRefillAtMs, "refill origin advances with accrued tokens")
}

func TestBucketRefillKeepsFractionalElapsed(t *testing.T) {
	b := Bucket{RatePerSec: 3, Capacity: 3}
	state := &core.RateLimitState{Tokens: 0, LastRefillAtMs: 0}

	// 334ms at 3/s accrues exactly one token; the 1ms remainder must
	// stay on the clock rather than being truncated away.
	b.Refill(state, 334)

	require.Equal(t, 1, state.Tokens)
	require.Equal(t, int64(333), state.LastRefillAtMs)

	// Another 334ms of wall time yields the second token off the
	// carried remainder.
	b.Refill(state, 668)

	require.Equal(t, 2, state.Tokens)
	require.Equal(t, int64(666), state.LastRefillAtMs)
}

func TestBucketRefillSubTokenElapsedIsNoop(t *testing.T) {
	b := Bucket{RatePerSec: 3, Capacity: 3}
	state := &core.RateLimitState{Tokens: 0, LastRefillAtMs: 1000}

	b.Refill(state, 1333)

	require.Equal(t, 0, state.Tokens)
	require.Equal(t, int64(1000), state.LastRefillAtMs)
}

func TestBucketRefillClockBackwardsIsNoop(t *testing.T) {
	b := Bucket{RatePerSec: 3, Capacity: 3}
	state := &core.RateLimitState{Tokens: 2, LastRefillAtMs: 5000}

	b.Refill(state, 4000)

	require.Equal(t, 2, state.Tokens)
	require.Equal(t, int64(5000), state.LastRefillAtMs)
}

func TestBucketConsume(t *testing.T) {
	b := Bucket{RatePerSec: 3, Capacity: 3}
	state := &core.RateLimitState{Tokens: 1}

	require.True(t, b.Consume(state))
	require.Equal(t, 0, state.Tokens)
	require.False(t, b.Consume(state))
	require.Equal(t, 0, state.Tokens)
}

func TestBucketTokenInterval(t *testing.T) {
	require.Equal(t, int64(334), Bucket{RatePerSec: 3, Capacity: 3}.TokenInterval())
	require.Equal(t, int64(1000), Bucket{RatePerSec: 1, Capacity: 1}.TokenInterval())
	require.Equal(t, int64(100), Bucket{RatePerSec: 10, Capacity: 10}.TokenInterval())
}
