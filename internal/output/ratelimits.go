package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/quotagate/quotagate/internal/core/store"
)

// FormatRateLimits renders stored admission state in the requested format.
func FormatRateLimits(format Format, entries []store.RateLimitEntry) (string, error) {
	if format == FormatJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Client Key", "Tokens", "Day Count", "Day", "Last Refill"})

	for _, entry := range entries {
		t.AppendRow(table.Row{
			entry.Key,
			entry.State.Tokens,
			entry.State.DayCount,
			dayLabel(entry.State.DayKey),
			refillLabel(entry.State.LastRefillAtMs),
		})
	}

	if len(entries) > 0 {
		t.AppendFooter(table.Row{fmt.Sprintf("%d client keys", len(entries)), "", "", "", ""})
	}

	return t.Render(), nil
}

func dayLabel(dayKey string) string {
	if dayKey == "" {
		return "-"
	}
	return dayKey
}

func refillLabel(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
