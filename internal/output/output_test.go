package output

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quotagate/quotagate/internal/core"
	"github.com/quotagate/quotagate/internal/core/store"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestFormatRateLimitsJSON(t *testing.T) {
	entries := []store.RateLimitEntry{
		{
			Key: "client-a",
			State: core.RateLimitState{
				Tokens:         2,
				LastRefillAtMs: 1_750_000_000_000,
				DayCount:       17,
				DayKey:         "2026-06-01",
			},
		},
	}

	rendered, err := FormatRateLimits(FormatJSON, entries)
	require.NoError(t, err)
	require.Contains(t, rendered, "\"tokens\": 2")
	require.Contains(t, rendered, "\"day_key\": \"2026-06-01\"")
}

func TestFormatRateLimitsTable(t *testing.T) {
	entries := []store.RateLimitEntry{
		{
			Key: "client-a",
			State: core.RateLimitState{
				Tokens:   3,
				DayCount: 5,
				DayKey:   "2026-06-01",
			},
		},
		{
			Key:   "client-b",
			State: core.RateLimitState{},
		},
	}

	rendered, err := FormatRateLimits(FormatTable, entries)
	require.NoError(t, err)
	require.Contains(t, rendered, "CLIENT KEY")
	require.Contains(t, rendered, "client-a")
	require.Contains(t, rendered, "2026-06-01")
	require.Contains(t, rendered, "2 client keys")
}
