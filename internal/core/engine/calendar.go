package engine

import (
	"fmt"
	"time"
)

// DefaultTimezone is the fixed reference zone for the calendar-day window.
// All clients share one day boundary regardless of their own timezone.
const DefaultTimezone = "America/New_York"

const dayKeyLayout = "2006-01-02"

// Calendar maps timestamps to calendar-day identities in one fixed
// reference timezone. It holds no mutable state; both methods are pure
// functions of the supplied time.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the reference timezone. An empty name selects
// DefaultTimezone.
func NewCalendar(timezone string) (*Calendar, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load reference timezone: %w", err)
	}
	return &Calendar{loc: loc}, nil
}

// DayKey returns the calendar-day identity of now in the reference zone,
// e.g. "2026-03-08". Keys are unique per local day, including across
// daylight-saving transitions.
func (c *Calendar) DayKey(now time.Time) string {
	return now.In(c.loc).Format(dayKeyLayout)
}

// UntilNextMidnight returns the time remaining until the next local
// midnight in the reference zone. time.Date normalizes the day overflow,
// which keeps 23h and 25h DST days correct.
func (c *Calendar) UntilNextMidnight(now time.Time) time.Duration {
	local := now.In(c.loc)
	next := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, c.loc)
	d := next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
