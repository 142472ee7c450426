package core

import "time"

// Clock supplies the current time. Injected so time-dependent logic is
// testable with fixed timestamps instead of real waits.
type Clock func() time.Time

// RateLimitState is the persisted admission state for one client key.
//
// Tokens and LastRefillAtMs belong to the burst bucket; DayCount and DayKey
// belong to the calendar-day window. LastRefillAtMs only ever advances, and
// only by whole per-token intervals, so fractional elapsed time carries over
// to the next refill instead of being truncated away.
type RateLimitState struct {
	Tokens         int    `json:"tokens"`
	LastRefillAtMs int64  `json:"last_refill_at_ms"`
	DayCount       int    `json:"day_count"`
	DayKey         string `json:"day_key,omitempty"`
}

// Decision reports the outcome of one admission evaluation.
type Decision struct {
	Allowed        bool          `json:"allowed"`
	Reason         DenyReason    `json:"reason,omitempty"`
	RetryAfter     time.Duration `json:"retry_after"`
	DailyRemaining int           `json:"daily_remaining"`
	DailyResetIn   time.Duration `json:"daily_reset_in"`
}

// DenyReason distinguishes why a request was denied. Both surface as 429 to
// clients; the distinction drives RetryAfter and observability labels.
type DenyReason string

const (
	DenyReasonNone  DenyReason = ""
	DenyReasonDaily DenyReason = "daily_quota"
	DenyReasonBurst DenyReason = "burst_quota"
)
