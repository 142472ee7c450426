package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/quotagate/quotagate/internal/core"
)

// GetRateLimit returns stored admission state for a client key. A nil state
// with a nil error means the key has never been seen.
func (s *Store) GetRateLimit(ctx context.Context, key string) (*core.RateLimitState, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("client key is required")
	}

	var (
		tokens         int
		lastRefillAtMs int64
		dayCount       int
		dayKey         sql.NullString
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT tokens, last_refill_at_ms, day_count, day_key
		FROM rate_limits
		WHERE client_key = ?
	`, key)

	if err := row.Scan(&tokens, &lastRefillAtMs, &dayCount, &dayKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch rate limit: %w", err)
	}

	state := &core.RateLimitState{
		Tokens:         tokens,
		LastRefillAtMs: lastRefillAtMs,
		DayCount:       dayCount,
	}
	if dayKey.Valid {
		state.DayKey = dayKey.String
	}

	return state, nil
}

// UpdateRateLimit persists admission state for a client key.
func (s *Store) UpdateRateLimit(ctx context.Context, key string, state *core.RateLimitState) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("client key is required")
	}
	if state == nil {
		return errors.New("rate limit state is required")
	}

	var dayKey sql.NullString
	if state.DayKey != "" {
		dayKey = sql.NullString{String: state.DayKey, Valid: true}
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (client_key, tokens, last_refill_at_ms, day_count, day_key)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_key) DO UPDATE SET
			tokens = excluded.tokens,
			last_refill_at_ms = excluded.last_refill_at_ms,
			day_count = excluded.day_count,
			day_key = excluded.day_key
	`, key, state.Tokens, state.LastRefillAtMs, state.DayCount, dayKey)
	if err != nil {
		return fmt.Errorf("store rate limit: %w", err)
	}

	return nil
}
