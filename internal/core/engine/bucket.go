package engine

import (
	"github.com/quotagate/quotagate/internal/core"
)

// Bucket holds the fixed parameters of the burst token bucket.
type Bucket struct {
	RatePerSec int
	Capacity   int
}

// Refill credits tokens earned since the last refill, capped at capacity.
//
// The refill timestamp advances by exactly the time "spent" on the tokens
// actually credited, never jumps to now. Elapsed time below one whole token
// stays banked in the gap between LastRefillAtMs and nowMs, so repeated
// sub-interval calls do not lose throughput to truncation.
func (b Bucket) Refill(state *core.RateLimitState, nowMs int64) {
	if state == nil || b.RatePerSec <= 0 {
		return
	}

	elapsed := nowMs - state.LastRefillAtMs
	if elapsed <= 0 {
		// Clock went backward or no time passed.
		return
	}

	toAdd := elapsed * int64(b.RatePerSec) / 1000
	if toAdd <= 0 {
		return
	}

	tokens := int64(state.Tokens) + toAdd
	if tokens > int64(b.Capacity) {
		tokens = int64(b.Capacity)
	}
	state.Tokens = int(tokens)
	state.LastRefillAtMs += toAdd * 1000 / int64(b.RatePerSec)
}

// Consume takes one token if available.
func (b Bucket) Consume(state *core.RateLimitState) bool {
	if state == nil || state.Tokens <= 0 {
		return false
	}
	state.Tokens--
	return true
}

// TokenInterval is the minimum wait, in milliseconds, until one more token
// is earned at the target rate (an approximation, not an exact wake time).
func (b Bucket) TokenInterval() int64 {
	if b.RatePerSec <= 0 {
		return 0
	}
	return (1000 + int64(b.RatePerSec) - 1) / int64(b.RatePerSec)
}
