package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gitea.jw6.us/james/washcal/internal/store"
	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

// maxOccurrences caps one publication; the horizon keeps real templates far below it.
const maxOccurrences = 200

// AvailabilityTemplate describes a weekly grid of open slots. Rule is an
// RFC 5545 RRULE such as "FREQ=WEEKLY;BYDAY=SU,MO,TU"; each occurrence spans
// StartClock to EndClock local time on its day.
type AvailabilityTemplate struct {
	Title       string
	Description string
	Location    string
	Rule        string
	StartClock  time.Duration
	EndClock    time.Duration
}

// Slot is one expanded occurrence.
type Slot struct {
	Start time.Time
	End   time.Time
}

// Rejection records an occurrence that could not be published.
type Rejection struct {
	Slot
	Err error
}

// PublishResult lists what PublishAvailability created and skipped.
type PublishResult struct {
	Created  []store.Event
	Rejected []Rejection
}

// ExpandTemplate returns the occurrences of tmpl whose start lies in
// [from, to), in loc.
func ExpandTemplate(tmpl AvailabilityTemplate, from, to time.Time, loc *time.Location) ([]Slot, error) {
	if tmpl.EndClock <= tmpl.StartClock {
		return nil, invalidEvent(ReasonInvalidRange, "template end must be after start")
	}
	rule := strings.TrimPrefix(strings.TrimSpace(tmpl.Rule), "RRULE:")
	if rule == "" {
		rule = "FREQ=WEEKLY"
	}
	r, err := rrule.StrToRRule(rule)
	if err != nil {
		return nil, invalidEvent(ReasonInvalidRange, fmt.Sprintf("invalid rule %q: %v", tmpl.Rule, err))
	}

	lf := from.In(loc)
	y, m, d := lf.Date()
	r.DTStart(time.Date(y, m, d, 0, 0, 0, 0, loc).Add(tmpl.StartClock))

	var out []Slot
	for _, occ := range r.Between(from.In(loc), to.In(loc), true) {
		if !occ.Before(to) {
			continue
		}
		oy, om, od := occ.Date()
		day := time.Date(oy, om, od, 0, 0, 0, 0, loc)
		start := wallClockAt(day, tmpl.StartClock, loc)
		end := wallClockAt(day, tmpl.EndClock, loc)
		out = append(out, Slot{Start: start.UTC(), End: end.UTC()})
		if len(out) == maxOccurrences {
			break
		}
	}
	return out, nil
}

// wallClockAt builds day+offset from wall-clock fields so DST days keep
// their nominal local times.
func wallClockAt(day time.Time, off time.Duration, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, int(off/time.Hour), int(off%time.Hour/time.Minute), 0, 0, loc)
}

// PublishAvailability expands tmpl between from and the booking horizon
// (whichever ends first) and creates one availability event per
// occurrence. Occurrences that fail validation are reported, not fatal.
func (m *Manager) PublishAvailability(ctx context.Context, tmpl AvailabilityTemplate, from, to time.Time) (PublishResult, error) {
	if strings.TrimSpace(tmpl.Title) == "" {
		tmpl.Title = "Available"
	}
	if limit := m.now().Add(m.Policy().Horizon); to.After(limit) {
		to = limit
	}
	slots, err := ExpandTemplate(tmpl, from, to, m.norm.Location())
	if err != nil {
		return PublishResult{}, err
	}

	var res PublishResult
	for _, s := range slots {
		if err := ctx.Err(); err != nil {
			return res, storeUnavailable("publish availability", err, true)
		}
		ev, err := m.create(ctx, store.Event{
			Title:       strings.TrimSpace(tmpl.Title),
			Description: tmpl.Description,
			Location:    strings.TrimSpace(tmpl.Location),
			Start:       s.Start,
			End:         s.End,
			Kind:        store.KindAvailability,
		})
		if err != nil {
			if e, ok := AsError(err); ok && e.Kind == KindStoreUnavailable {
				return res, err
			}
			res.Rejected = append(res.Rejected, Rejection{Slot: s, Err: err})
			continue
		}
		res.Created = append(res.Created, ev)
	}
	m.logger.Info("availability published",
		zap.Int("created", len(res.Created)),
		zap.Int("rejected", len(res.Rejected)),
	)
	return res, nil
}
