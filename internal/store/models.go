package store

import "time"

// EventKind separates bookable customer appointments from open availability blocks.
type EventKind string

const (
	KindAppointment  EventKind = "appointment"
	KindAvailability EventKind = "availability"
)

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	return k == KindAppointment || k == KindAvailability
}

// AppointmentStatus tracks an appointment through its lifecycle. Availability
// events carry the zero value.
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// CarType is the vehicle size class recorded on an appointment.
type CarType string

const (
	CarBig        CarType = "big"
	CarMedium     CarType = "medium"
	CarSmall      CarType = "small"
	CarMotorcycle CarType = "motorcycle"
)

// Valid reports whether c is empty or a known size class.
func (c CarType) Valid() bool {
	switch c {
	case "", CarBig, CarMedium, CarSmall, CarMotorcycle:
		return true
	}
	return false
}

// ExtendedProps holds the appointment-specific payload. All fields are empty
// for availability events.
type ExtendedProps struct {
	UserID        string
	IsPickup      bool
	PickupAddress string
	CarID         string
	CarType       CarType
}

// Event is a single scheduled block on the calendar. Start and End are UTC
// instants.
type Event struct {
	ID          string
	Title       string
	Description string
	Start       time.Time
	End         time.Time
	Location    string
	Kind        EventKind
	Status      AppointmentStatus
	Props       ExtendedProps
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Overlaps reports whether the half-open intervals [e.Start, e.End) and
// [start, end) intersect.
func (e Event) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && e.End.After(start)
}

// EventFilter narrows Find results. A zero filter matches every event.
// RangeStart/RangeEnd select events intersecting [RangeStart, RangeEnd).
type EventFilter struct {
	RangeStart *time.Time
	RangeEnd   *time.Time
	Kind       EventKind
	UserID     string
}

// Matches applies the filter to a single event.
func (f EventFilter) Matches(ev Event) bool {
	if f.RangeStart != nil && !ev.End.After(*f.RangeStart) {
		return false
	}
	if f.RangeEnd != nil && !ev.Start.Before(*f.RangeEnd) {
		return false
	}
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.UserID != "" && ev.Props.UserID != f.UserID {
		return false
	}
	return true
}
