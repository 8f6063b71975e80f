package ics

import (
	"io"
	"strings"
	"time"

	"gitea.jw6.us/james/washcal/internal/store"
	ical "github.com/arran4/golang-ical"
	"go.uber.org/zap"
)

const productID = "-//washcal//Scheduling Engine//EN"

// Options controls one feed rendering.
type Options struct {
	// Name is published as X-WR-CALNAME.
	Name string
	// IncludeAvailability adds open availability blocks as transparent events.
	IncludeAvailability bool
}

// DefaultOptions includes availability blocks.
func DefaultOptions() Options {
	return Options{Name: "Car Wash", IncludeAvailability: true}
}

// Exporter renders events as an RFC 5545 calendar.
type Exporter struct {
	baseURL string
	logger  *zap.Logger
	now     func() time.Time
}

// NewExporter links each VEVENT back to baseURL's admin calendar.
func NewExporter(baseURL string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// Export writes the feed and returns how many VEVENTs it contains. Events
// without a usable start/end are skipped with a warning instead of failing
// the whole feed.
func (e *Exporter) Export(w io.Writer, events []store.Event, opts Options) (int, error) {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	stamp := e.now().UTC()
	written := 0
	for _, ev := range events {
		if ev.Kind == store.KindAvailability && !opts.IncludeAvailability {
			continue
		}
		if ev.Start.IsZero() || ev.End.IsZero() || !ev.End.After(ev.Start) {
			e.logger.Warn("skipping event with invalid time range in feed",
				zap.String("event_id", ev.ID),
				zap.Time("start", ev.Start),
				zap.Time("end", ev.End),
			)
			continue
		}
		e.addEvent(cal, ev, stamp)
		written++
	}

	if _, err := io.WriteString(w, cal.Serialize()); err != nil {
		return 0, err
	}
	return written, nil
}

func (e *Exporter) addEvent(cal *ical.Calendar, ev store.Event, stamp time.Time) {
	vev := cal.AddEvent(ev.ID + "@washcal")
	vev.SetDtStampTime(stamp)
	if !ev.CreatedAt.IsZero() {
		vev.SetCreatedTime(ev.CreatedAt)
	}
	if !ev.UpdatedAt.IsZero() {
		vev.SetModifiedAt(ev.UpdatedAt)
	}
	vev.SetStartAt(ev.Start)
	vev.SetEndAt(ev.End)
	vev.SetSummary(ev.Title)
	if ev.Description != "" {
		vev.SetDescription(ev.Description)
	}
	if loc := eventLocation(ev); loc != "" {
		vev.SetLocation(loc)
	}
	if e.baseURL != "" {
		vev.SetURL(e.baseURL + "/admin/calendar?event=" + ev.ID)
	}
	vev.AddProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(ev.Kind)))

	if ev.Kind == store.KindAvailability {
		vev.SetProperty(ical.ComponentPropertyTransp, "TRANSPARENT")
		return
	}
	vev.SetProperty(ical.ComponentPropertyTransp, "OPAQUE")
	vev.SetStatus(statusFor(ev.Status))
}

// eventLocation falls back to the pickup address for pickup appointments.
func eventLocation(ev store.Event) string {
	if ev.Location != "" {
		return ev.Location
	}
	if ev.Props.IsPickup {
		return ev.Props.PickupAddress
	}
	return ""
}

func statusFor(s store.AppointmentStatus) ical.ObjectStatus {
	switch s {
	case store.StatusPending:
		return ical.ObjectStatusTentative
	case store.StatusCancelled:
		return ical.ObjectStatusCancelled
	default:
		return ical.ObjectStatusConfirmed
	}
}
