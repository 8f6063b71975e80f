package schedule

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTimezone is the business timezone of the car wash.
const DefaultTimezone = "Asia/Jerusalem"

// WallClockLayout is the display format for local wall-clock values.
const WallClockLayout = "2006-01-02T15:04"

const (
	minYear = 2000
	maxYear = 2100
)

var naiveLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
}

// Normalizer converts between wall-clock strings in one display timezone
// and UTC instants.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer loads the named IANA zone.
func NewNormalizer(zone string) (*Normalizer, error) {
	if zone == "" {
		zone = DefaultTimezone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return &Normalizer{loc: loc}, nil
}

// NewNormalizerIn wraps an already loaded location.
func NewNormalizerIn(loc *time.Location) *Normalizer {
	return &Normalizer{loc: loc}
}

// Location returns the display timezone.
func (n *Normalizer) Location() *time.Location { return n.loc }

// ToStorageInstant parses s and returns a minute-precision UTC instant.
// A naive wall-clock value is interpreted in the display timezone exactly
// once; a value carrying Z or an offset is already an instant and is only
// converted to UTC.
func (n *Normalizer) ToStorageInstant(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, malformed("empty timestamp")
	}

	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return n.checkYear(s, t)
		}
	}

	for _, layout := range naiveLayouts {
		wall, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		y, mo, d := wall.Date()
		t := time.Date(y, mo, d, wall.Hour(), wall.Minute(), 0, 0, n.loc)
		// Wall-clock values skipped by a DST change normalise to a different
		// clock reading; they do not exist in the zone.
		if ty, tmo, td := t.Date(); ty != y || tmo != mo || td != d || t.Hour() != wall.Hour() || t.Minute() != wall.Minute() {
			return time.Time{}, malformed("%q does not exist in %s", s, n.loc)
		}
		return n.checkYear(s, t)
	}

	return time.Time{}, malformed("cannot parse %q", s)
}

func (n *Normalizer) checkYear(raw string, t time.Time) (time.Time, error) {
	if y := t.In(n.loc).Year(); y < minYear || y > maxYear {
		return time.Time{}, malformed("year %d of %q out of range [%d, %d]", y, raw, minYear, maxYear)
	}
	return TruncateToMinute(t).UTC(), nil
}

// ToDisplayWallClock renders t as a local wall-clock string.
func (n *Normalizer) ToDisplayWallClock(t time.Time) string {
	return t.In(n.loc).Format(WallClockLayout)
}

// LocalDay returns the display-zone calendar date of t.
func (n *Normalizer) LocalDay(t time.Time) string {
	return t.In(n.loc).Format(time.DateOnly)
}

// DayBounds returns the local midnight that starts t's day and the one that
// ends it, as UTC instants.
func (n *Normalizer) DayBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(n.loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, n.loc)
	end := time.Date(y, m, d+1, 0, 0, 0, 0, n.loc)
	return start.UTC(), end.UTC()
}

// TruncateToMinute drops seconds and sub-second precision.
func TruncateToMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}
