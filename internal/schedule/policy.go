package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Policy holds the scheduling rules applied by the Validator. OpenAt and
// CloseAt are offsets from local midnight.
type Policy struct {
	OpenAt      time.Duration
	CloseAt     time.Duration
	Horizon     time.Duration
	SlotQuantum time.Duration
}

// DefaultPolicy is 06:00-22:00 local, a 14 day horizon and 15 minute slots.
func DefaultPolicy() Policy {
	return Policy{
		OpenAt:      6 * time.Hour,
		CloseAt:     22 * time.Hour,
		Horizon:     14 * 24 * time.Hour,
		SlotQuantum: 15 * time.Minute,
	}
}

// Check reports configuration mistakes.
func (p Policy) Check() error {
	switch {
	case p.OpenAt < 0 || p.CloseAt > 24*time.Hour:
		return fmt.Errorf("business window %s-%s must lie within one day", FormatClock(p.OpenAt), FormatClock(p.CloseAt))
	case p.OpenAt >= p.CloseAt:
		return fmt.Errorf("business window opens at %s but closes at %s", FormatClock(p.OpenAt), FormatClock(p.CloseAt))
	case p.Horizon <= 0:
		return errors.New("booking horizon must be positive")
	case p.SlotQuantum <= 0 || p.SlotQuantum%time.Minute != 0:
		return fmt.Errorf("slot quantum %s must be a positive whole number of minutes", p.SlotQuantum)
	}
	return nil
}

// ParseClock parses "HH:MM" into an offset from midnight. "24:00" is allowed.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q: out of range", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// FormatClock renders an offset from midnight as "HH:MM".
func FormatClock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d/time.Hour), int(d%time.Hour/time.Minute))
}
