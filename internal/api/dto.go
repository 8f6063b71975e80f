package api

import (
	"strings"
	"time"

	"gitea.jw6.us/james/washcal/internal/schedule"
	"gitea.jw6.us/james/washcal/internal/store"
)

// PropsPayload is the kind-specific part of an event on the wire. Type
// mirrors the event kind for clients that only read extendedProps.
type PropsPayload struct {
	Type          string `json:"type"`
	UserID        string `json:"userId,omitempty"`
	IsPickup      bool   `json:"isPickup"`
	PickupAddress string `json:"pickupAddress,omitempty"`
	CarID         string `json:"carId,omitempty"`
	CarType       string `json:"carType,omitempty"`
}

// EventPayload is the API representation of a stored event. Times are UTC.
type EventPayload struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Start         time.Time    `json:"start"`
	End           time.Time    `json:"end"`
	Location      string       `json:"location,omitempty"`
	Kind          string       `json:"kind"`
	Status        string       `json:"status,omitempty"`
	ExtendedProps PropsPayload `json:"extendedProps"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

func toPayload(ev store.Event) EventPayload {
	return EventPayload{
		ID:            ev.ID,
		Title:         ev.Title,
		Description:   ev.Description,
		Start:         ev.Start.UTC(),
		End:           ev.End.UTC(),
		Location:      ev.Location,
		Kind:          string(ev.Kind),
		Status:        string(ev.Status),
		ExtendedProps: toPropsPayload(ev.Kind, ev.Props),
		CreatedAt:     ev.CreatedAt.UTC(),
		UpdatedAt:     ev.UpdatedAt.UTC(),
	}
}

func toPayloads(events []store.Event) []EventPayload {
	out := make([]EventPayload, 0, len(events))
	for _, ev := range events {
		out = append(out, toPayload(ev))
	}
	return out
}

func toPropsPayload(kind store.EventKind, p store.ExtendedProps) PropsPayload {
	return PropsPayload{
		Type:          string(kind),
		UserID:        p.UserID,
		IsPickup:      p.IsPickup,
		PickupAddress: p.PickupAddress,
		CarID:         p.CarID,
		CarType:       string(p.CarType),
	}
}

// EntryPayload is a calendar grid entry; Start and End are wall-clock
// strings in the calendar's timezone.
type EntryPayload struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Start         string       `json:"start"`
	End           string       `json:"end"`
	Location      string       `json:"location,omitempty"`
	Kind          string       `json:"kind"`
	Status        string       `json:"status,omitempty"`
	Editable      bool         `json:"editable"`
	ExtendedProps PropsPayload `json:"extendedProps"`
}

func toEntryPayload(e schedule.CalendarEntry) EntryPayload {
	return EntryPayload{
		ID:            e.ID,
		Title:         e.Title,
		Description:   e.Description,
		Start:         e.Start,
		End:           e.End,
		Location:      e.Location,
		Kind:          string(e.Kind),
		Status:        string(e.Status),
		Editable:      e.Editable,
		ExtendedProps: toPropsPayload(e.Kind, e.Props),
	}
}

type propsRequest struct {
	Type          *string `json:"type"`
	UserID        *string `json:"userId"`
	IsPickup      *bool   `json:"isPickup"`
	PickupAddress *string `json:"pickupAddress"`
	CarID         *string `json:"carId"`
	CarType       *string `json:"carType"`
}

// eventRequest is the body of POST, PUT and PATCH /events. Absent fields
// decode as nil.
type eventRequest struct {
	Title         *string       `json:"title"`
	Description   *string       `json:"description"`
	Start         *string       `json:"start"`
	End           *string       `json:"end"`
	Location      *string       `json:"location"`
	Kind          *string       `json:"kind"`
	Status        *string       `json:"status"`
	ExtendedProps *propsRequest `json:"extendedProps"`
}

// kind prefers the top-level field and falls back to extendedProps.type.
func (r eventRequest) kind() *string {
	if r.Kind != nil {
		return r.Kind
	}
	if r.ExtendedProps != nil {
		return r.ExtendedProps.Type
	}
	return nil
}

// toInput builds a create request. A missing kind defaults to appointment.
func (r eventRequest) toInput() schedule.EventInput {
	in := schedule.EventInput{
		Title:       deref(r.Title),
		Description: deref(r.Description),
		Start:       deref(r.Start),
		End:         deref(r.End),
		Location:    strings.TrimSpace(deref(r.Location)),
		Kind:        store.KindAppointment,
	}
	if k := r.kind(); k != nil {
		in.Kind = store.EventKind(strings.ToLower(*k))
	}
	if p := r.ExtendedProps; p != nil {
		in.Props = store.ExtendedProps{
			UserID:        deref(p.UserID),
			IsPickup:      p.IsPickup != nil && *p.IsPickup,
			PickupAddress: deref(p.PickupAddress),
			CarID:         deref(p.CarID),
			CarType:       store.CarType(strings.ToLower(deref(p.CarType))),
		}
	}
	return in
}

// toPatch builds an update. With full set (PUT) every editable field is
// replaced and absent ones are cleared; status still only changes when given.
func (r eventRequest) toPatch(full bool) schedule.EventPatch {
	p := schedule.EventPatch{
		Title:       r.Title,
		Description: r.Description,
		Start:       r.Start,
		End:         r.End,
		Location:    r.Location,
	}
	if k := r.kind(); k != nil {
		kind := store.EventKind(strings.ToLower(*k))
		p.Kind = &kind
	}
	if r.Status != nil {
		status := store.AppointmentStatus(strings.ToLower(*r.Status))
		p.Status = &status
	}
	if ep := r.ExtendedProps; ep != nil {
		p.UserID = ep.UserID
		p.IsPickup = ep.IsPickup
		p.PickupAddress = ep.PickupAddress
		p.CarID = ep.CarID
		if ep.CarType != nil {
			ct := store.CarType(strings.ToLower(*ep.CarType))
			p.CarType = &ct
		}
	}
	if !full {
		return p
	}

	empty := ""
	for _, f := range []**string{&p.Description, &p.Location, &p.UserID, &p.PickupAddress, &p.CarID} {
		if *f == nil {
			*f = &empty
		}
	}
	if p.Title == nil {
		p.Title = &empty
	}
	if p.IsPickup == nil {
		no := false
		p.IsPickup = &no
	}
	if p.CarType == nil {
		var ct store.CarType
		p.CarType = &ct
	}
	return p
}

type statusRequest struct {
	Status string `json:"status"`
}

type recurringRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Rule        string `json:"rule"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	From        string `json:"from"`
	To          string `json:"to"`
}

type rejectionPayload struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Code    string    `json:"code"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message"`
}

type publishPayload struct {
	Created  []EventPayload     `json:"created"`
	Rejected []rejectionPayload `json:"rejected"`
}

func toPublishPayload(res schedule.PublishResult) publishPayload {
	out := publishPayload{Created: toPayloads(res.Created), Rejected: make([]rejectionPayload, 0, len(res.Rejected))}
	for _, rj := range res.Rejected {
		rp := rejectionPayload{Start: rj.Start.UTC(), End: rj.End.UTC(), Message: rj.Err.Error()}
		if e, ok := schedule.AsError(rj.Err); ok {
			rp.Code, rp.Reason, rp.Message = string(e.Kind), string(e.Reason), e.Message
		}
		out.Rejected = append(out.Rejected, rp)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
