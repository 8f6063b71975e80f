package schedule

import (
	"time"

	"gitea.jw6.us/james/washcal/internal/store"
)

// Validator checks a candidate event against the policy and the events
// already on its day. It performs no I/O.
type Validator struct {
	policy Policy
	loc    *time.Location
}

// NewValidator evaluates wall-clock rules in loc.
func NewValidator(policy Policy, loc *time.Location) *Validator {
	return &Validator{policy: policy, loc: loc}
}

// Policy returns the rules this validator enforces.
func (v *Validator) Policy() Policy { return v.policy }

// Validate returns nil when candidate may be stored alongside existing, or
// the first failing rule as an *Error. Rules run in order: business window,
// horizon, overlap, granularity. Nothing is rounded or clamped.
func (v *Validator) Validate(candidate store.Event, existing []store.Event, now time.Time) error {
	if !candidate.End.After(candidate.Start) {
		return invalidEvent(ReasonInvalidRange, "end must be after start")
	}

	startOff, endOff, sameDay := v.wallClockSpan(candidate.Start, candidate.End)
	if !sameDay {
		return violation(ReasonOutsideBusinessHours, "event may not span midnight")
	}
	if startOff < v.policy.OpenAt || endOff > v.policy.CloseAt {
		return violation(ReasonOutsideBusinessHours, "event must fall within %s-%s",
			FormatClock(v.policy.OpenAt), FormatClock(v.policy.CloseAt))
	}

	if limit := now.Add(v.policy.Horizon); !candidate.Start.Before(limit) {
		return violation(ReasonPastHorizon, "start must be before %s", limit.In(v.loc).Format(WallClockLayout))
	}

	for _, other := range existing {
		if candidate.ID != "" && other.ID == candidate.ID {
			continue
		}
		if other.Overlaps(candidate.Start, candidate.End) {
			return violation(ReasonOverlap, "overlaps event %s (%s-%s)", other.ID,
				other.Start.In(v.loc).Format("15:04"), other.End.In(v.loc).Format("15:04"))
		}
	}

	q := v.policy.SlotQuantum
	if startOff%q != 0 || endOff%q != 0 {
		return violation(ReasonBadGranularity, "start and end must align to %s slots", q)
	}
	return nil
}

// wallClockSpan returns the local wall-clock offsets from midnight of start
// and end. An end at exactly the following midnight counts as 24:00 of the
// start's day.
func (v *Validator) wallClockSpan(start, end time.Time) (time.Duration, time.Duration, bool) {
	ls, le := start.In(v.loc), end.In(v.loc)
	startOff := clockOffset(ls)
	endOff := clockOffset(le)

	sy, sm, sd := ls.Date()
	ey, em, ed := le.Date()
	if sy == ey && sm == em && sd == ed {
		return startOff, endOff, true
	}
	next := time.Date(sy, sm, sd+1, 0, 0, 0, 0, v.loc)
	if ny, nm, nd := next.Date(); ny == ey && nm == em && nd == ed && endOff == 0 {
		return startOff, 24 * time.Hour, true
	}
	return startOff, endOff, false
}

func clockOffset(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second + time.Duration(t.Nanosecond())
}
