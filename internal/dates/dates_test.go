package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

func TestParseDeadlineAbsolute(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"Jul 11, 2025 at 10:45 PM", time.Date(2025, time.July, 11, 22, 45, 0, 0, time.UTC)},
		{"July 11, 2025 at 10:45 PM", time.Date(2025, time.July, 11, 22, 45, 0, 0, time.UTC)},
		{"11/07/2025 22:45", time.Date(2025, time.July, 11, 22, 45, 0, 0, time.UTC)},
		{"2025-07-11 22:45", time.Date(2025, time.July, 11, 22, 45, 0, 0, time.UTC)},
		{"Jul 11, 2025", time.Date(2025, time.July, 11, 0, 0, 0, 0, time.UTC)},
		{"  Jul 11, 2025 at 10:45 PM  ", time.Date(2025, time.July, 11, 22, 45, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := ParseDeadline(tt.raw, now)
		require.True(t, ok, "raw %q", tt.raw)
		require.Equal(t, tt.want, got.UTC(), "raw %q", tt.raw)
	}
}

func TestParseDeadlineRelative(t *testing.T) {
	got, ok := ParseDeadline("Will be closed after: 1 days, 11 hours", now)
	require.True(t, ok)
	require.Equal(t, now.Add(24*time.Hour+11*time.Hour), got)

	got, ok = ParseDeadline("Will be closed after: 3 hours, 30 minutes", now)
	require.True(t, ok)
	require.Equal(t, now.Add(3*time.Hour+30*time.Minute), got)
}

func TestParseDeadlineNoDeadline(t *testing.T) {
	for _, raw := range []string{
		"",
		"N/A",
		"Unknown",
		"Will be opened at: Jul 20, 2025 at 9:00 AM",
		"sometime soon",
	} {
		_, ok := ParseDeadline(raw, now)
		require.False(t, ok, "raw %q", raw)
	}
}

func TestRelative(t *testing.T) {
	require.Equal(t, "Overdue", Relative(now.Add(-time.Minute), now))
	require.Equal(t, "In 2 days", Relative(now.Add(49*time.Hour), now))
	require.Equal(t, "In 5 hours", Relative(now.Add(5*time.Hour+10*time.Minute), now))
	require.Equal(t, "In 30 minutes", Relative(now.Add(30*time.Minute), now))
}

func TestDisplay(t *testing.T) {
	ts := time.Date(2025, time.July, 11, 22, 45, 0, 0, time.UTC)
	require.Equal(t, "Jul 11, 2025 at 10:45 PM", Display(ts))
}
