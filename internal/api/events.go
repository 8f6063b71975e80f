package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	httperrors "gitea.jw6.us/james/washcal/internal/http/errors"
	"gitea.jw6.us/james/washcal/internal/schedule"
	"gitea.jw6.us/james/washcal/internal/store"
)

// ListEvents serves GET /events?start=&end=&kind=&userId=.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	events, err := h.manager.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayloads(events))
}

func (h *Handler) filterFromQuery(w http.ResponseWriter, r *http.Request) (store.EventFilter, bool) {
	var filter store.EventFilter
	start, err := h.instant(r, "start")
	if err != nil {
		h.fail(w, r, err)
		return filter, false
	}
	end, err := h.instant(r, "end")
	if err != nil {
		h.fail(w, r, err)
		return filter, false
	}
	filter.RangeStart, filter.RangeEnd = start, end

	if k := strings.TrimSpace(r.URL.Query().Get("kind")); k != "" {
		filter.Kind = store.EventKind(strings.ToLower(k))
		if !filter.Kind.Valid() {
			httperrors.BadRequest(w, r, h.logger, fmt.Errorf("kind %q", k), "kind must be appointment or availability")
			return filter, false
		}
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("userId"))
	return filter, true
}

// CreateEvent serves POST /events.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.manager.Create(r.Context(), req.toInput())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/events/"+ev.ID)
	h.writeJSON(w, http.StatusCreated, toPayload(ev))
}

// GetEvent serves GET /events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayload(ev))
}

// PatchEvent serves PATCH /events/{id}. A body carrying only start/end is
// a drag or resize and is recorded as a move.
func (h *Handler) PatchEvent(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// ReplaceEvent serves PUT /events/{id}.
func (h *Handler) ReplaceEvent(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, full bool) {
	var req eventRequest
	if !h.decode(w, r, &req) {
		return
	}
	ev, err := h.manager.Update(r.Context(), chi.URLParam(r, "id"), req.toPatch(full))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayload(ev))
}

// TransitionStatus serves POST /events/{id}/status.
func (h *Handler) TransitionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}
	status := store.AppointmentStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	ev, err := h.manager.TransitionStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayload(ev))
}

// DeleteEvent serves DELETE /events/{id}.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MyAppointments serves GET /me/appointments for the calling customer.
func (h *Handler) MyAppointments(w http.ResponseWriter, r *http.Request) {
	events, err := h.manager.ListForCustomer(r.Context(), "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toPayloads(events))
}

type entriesPayload struct {
	TimeZone string         `json:"timeZone"`
	Entries  []EntryPayload `json:"entries"`
}

// CalendarEntries serves GET /calendar/entries: the grid view with local
// wall-clock times.
func (h *Handler) CalendarEntries(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	events, err := h.manager.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	norm := h.manager.Normalizer()
	out := entriesPayload{TimeZone: norm.Location().String(), Entries: make([]EntryPayload, 0, len(events))}
	for _, ev := range events {
		out.Entries = append(out.Entries, toEntryPayload(schedule.ToCalendarEntry(ev, norm)))
	}
	h.writeJSON(w, http.StatusOK, out)
}
