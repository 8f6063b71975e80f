package schedule

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(DefaultTimezone)
	require.NoError(t, err)
	return n
}

func TestToStorageInstantInterpretsNaiveValuesOnce(t *testing.T) {
	n := newTestNormalizer(t)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-01-20T09:00", time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)},
		{"2025-01-20 09:00", time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)},
		{"2025-01-20T09:00:45", time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)},
		{"2025-07-20T09:00", time.Date(2025, 7, 20, 6, 0, 0, 0, time.UTC)},
		{"2026-10-20T9:30", time.Date(2026, 10, 20, 6, 30, 0, 0, time.UTC)},
		{"2026-10-20 9:30:10", time.Date(2026, 10, 20, 6, 30, 0, 0, time.UTC)},
		{"2025-01-20T07:00:00Z", time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)},
		{"2025-01-20T07:00:00.000Z", time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)},
		{"2025-01-20T09:00+02:00", time.Date(2025, 1, 20, 7, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := n.ToStorageInstant(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestToStorageInstantRejectsMalformed(t *testing.T) {
	n := newTestNormalizer(t)
	for _, in := range []string{
		"",
		"tomorrow",
		"2025-13-01T09:00",
		"2025-01-20",
		"1999-12-31T09:00",
		"2101-01-01T09:00",
		// Skipped by the spring-forward change in Israel.
		"2025-03-28T02:30",
	} {
		_, err := n.ToStorageInstant(in)
		assert.ErrorIs(t, err, ErrMalformedTimestamp, "input %q", in)
	}
}

func TestWallClockRoundTrip(t *testing.T) {
	n := newTestNormalizer(t)
	// Covers both DST changes of 2025 in Asia/Jerusalem.
	windows := []time.Time{
		time.Date(2025, 3, 27, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC),
	}
	for _, from := range windows {
		for ts := from; ts.Before(from.Add(72 * time.Hour)); ts = ts.Add(7 * time.Minute) {
			local := n.ToDisplayWallClock(ts)
			instant, err := n.ToStorageInstant(local)
			require.NoError(t, err, local)
			assert.Equal(t, local, n.ToDisplayWallClock(instant))
		}
	}
}

func TestDayBoundsAndLocalDay(t *testing.T) {
	n := newTestNormalizer(t)
	ts := time.Date(2025, 1, 19, 23, 30, 0, 0, time.UTC) // 01:30 on the 20th locally
	assert.Equal(t, "2025-01-20", n.LocalDay(ts))

	start, end := n.DayBounds(ts)
	assert.Equal(t, time.Date(2025, 1, 19, 22, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 20, 22, 0, 0, 0, time.UTC), end)
}

func TestTruncateToMinute(t *testing.T) {
	in := time.Date(2025, 1, 20, 7, 3, 59, 999, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 20, 7, 3, 0, 0, time.UTC), TruncateToMinute(in))
}

func TestNewNormalizerUnknownZone(t *testing.T) {
	_, err := NewNormalizer("Mars/Olympus")
	assert.Error(t, err)
}
