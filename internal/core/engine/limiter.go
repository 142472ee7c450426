package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quotagate/quotagate/internal/core"
)

// StateStore loads and persists per-key admission state.
type StateStore interface {
	GetRateLimit(ctx context.Context, key string) (*core.RateLimitState, error)
	UpdateRateLimit(ctx context.Context, key string, state *core.RateLimitState) error
}

// Limits holds the admission quotas applied to every client key.
type Limits struct {
	RatePerSec int
	Burst      int
	DayLimit   int
}

// DefaultLimits mirrors the production quota configuration.
var DefaultLimits = Limits{
	RatePerSec: 3,
	Burst:      3,
	DayLimit:   100,
}

func (l Limits) normalized() Limits {
	if l.RatePerSec <= 0 {
		l.RatePerSec = DefaultLimits.RatePerSec
	}
	if l.Burst <= 0 {
		l.Burst = DefaultLimits.Burst
	}
	if l.DayLimit <= 0 {
		l.DayLimit = DefaultLimits.DayLimit
	}
	return l
}

// Limiter decides whether one request from a given client key is admitted,
// combining a burst token bucket with a calendar-day cap over durable
// per-key state.
//
// Evaluations for the same key are serialized: the load-decide-persist cycle
// runs under a per-key lock so two concurrent requests can never both spend
// the last token. Different keys evaluate in parallel.
type Limiter struct {
	Store    StateStore
	Limits   Limits
	Calendar *Calendar
	Clock    core.Clock

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Evaluate runs one admission decision for key. The daily cap takes
// precedence over the burst bucket; a day at its limit denies without
// touching tokens. Store failures propagate unchanged — retry policy
// belongs to the caller.
func (l *Limiter) Evaluate(ctx context.Context, key string) (core.Decision, error) {
	if l.Store == nil {
		return core.Decision{}, fmt.Errorf("limiter store is not configured")
	}

	lim := l.Limits.normalized()
	now := l.now()
	nowMs := now.UnixMilli()

	kl := l.acquire(key)
	defer l.release(key, kl)

	state, err := l.Store.GetRateLimit(ctx, key)
	if err != nil {
		return core.Decision{}, fmt.Errorf("load rate state: %w", err)
	}
	if state == nil {
		// First observation of this key: full bucket, fresh day.
		state = &core.RateLimitState{Tokens: lim.Burst, LastRefillAtMs: nowMs}
	}
	loaded := *state

	if dayKey := l.Calendar.DayKey(now); dayKey != state.DayKey {
		state.DayKey = dayKey
		state.DayCount = 0
	}

	dailyReset := l.Calendar.UntilNextMidnight(now)
	dailyRemaining := lim.DayLimit - state.DayCount
	if dailyRemaining < 0 {
		dailyRemaining = 0
	}

	if dailyRemaining == 0 {
		// Persist the day rollover even on the denied path so a restart
		// cannot replay yesterday's counter.
		if err := l.persistIfChanged(ctx, key, state, loaded); err != nil {
			return core.Decision{}, err
		}
		return core.Decision{
			Reason:         core.DenyReasonDaily,
			RetryAfter:     dailyReset,
			DailyRemaining: 0,
			DailyResetIn:   dailyReset,
		}, nil
	}

	bucket := Bucket{RatePerSec: lim.RatePerSec, Capacity: lim.Burst}
	bucket.Refill(state, nowMs)

	if state.Tokens == 0 {
		if err := l.persistIfChanged(ctx, key, state, loaded); err != nil {
			return core.Decision{}, err
		}
		return core.Decision{
			Reason:         core.DenyReasonBurst,
			RetryAfter:     time.Duration(bucket.TokenInterval()) * time.Millisecond,
			DailyRemaining: dailyRemaining,
			DailyResetIn:   dailyReset,
		}, nil
	}

	bucket.Consume(state)
	state.DayCount++
	if err := l.Store.UpdateRateLimit(ctx, key, state); err != nil {
		return core.Decision{}, fmt.Errorf("persist rate state: %w", err)
	}

	return core.Decision{
		Allowed:        true,
		DailyRemaining: lim.DayLimit - state.DayCount,
		DailyResetIn:   dailyReset,
	}, nil
}

func (l *Limiter) persistIfChanged(ctx context.Context, key string, state *core.RateLimitState, loaded core.RateLimitState) error {
	if *state == loaded {
		return nil
	}
	if err := l.Store.UpdateRateLimit(ctx, key, state); err != nil {
		return fmt.Errorf("persist rate state: %w", err)
	}
	return nil
}

// acquire locks the per-key evaluation slot, creating it on first use.
// Locks are refcounted so dormant keys do not accumulate entries.
func (l *Limiter) acquire(key string) *keyLock {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return kl
}

func (l *Limiter) release(key string, kl *keyLock) {
	kl.mu.Unlock()

	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

func (l *Limiter) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now().UTC()
}
