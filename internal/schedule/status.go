package schedule

import "gitea.jw6.us/james/washcal/internal/store"

var transitions = map[store.AppointmentStatus][]store.AppointmentStatus{
	store.StatusPending:   {store.StatusConfirmed, store.StatusCancelled},
	store.StatusConfirmed: {store.StatusCancelled, store.StatusCompleted},
}

// CanTransition reports whether an appointment may move from one status to another.
func CanTransition(from, to store.AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves s.
func IsTerminal(s store.AppointmentStatus) bool {
	return s == store.StatusCancelled || s == store.StatusCompleted
}

// ValidStatus reports whether s is a known appointment status.
func ValidStatus(s store.AppointmentStatus) bool {
	switch s {
	case store.StatusPending, store.StatusConfirmed, store.StatusCancelled, store.StatusCompleted:
		return true
	}
	return false
}
