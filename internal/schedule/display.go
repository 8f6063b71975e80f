package schedule

import "gitea.jw6.us/james/washcal/internal/store"

// CalendarEntry is the calendar grid's view of an event: wall-clock strings
// in the display timezone instead of UTC instants.
type CalendarEntry struct {
	ID          string
	Title       string
	Description string
	Start       string
	End         string
	Location    string
	Kind        store.EventKind
	Status      store.AppointmentStatus
	Editable    bool
	Props       store.ExtendedProps
}

// ToCalendarEntry maps a stored event onto the grid shape.
func ToCalendarEntry(ev store.Event, norm *Normalizer) CalendarEntry {
	return CalendarEntry{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		Start:       norm.ToDisplayWallClock(ev.Start),
		End:         norm.ToDisplayWallClock(ev.End),
		Location:    ev.Location,
		Kind:        ev.Kind,
		Status:      ev.Status,
		Editable:    !IsTerminal(ev.Status),
		Props:       ev.Props,
	}
}
