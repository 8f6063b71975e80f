package api

import (
	"net/http"

	httperrors "gitea.jw6.us/james/washcal/internal/http/errors"
	"gitea.jw6.us/james/washcal/internal/schedule"
)

// PublishRecurring serves POST /availability/recurring. It expands a weekly
// template into availability blocks up to the booking horizon. from defaults
// to now and to defaults to the horizon.
func (h *Handler) PublishRecurring(w http.ResponseWriter, r *http.Request) {
	var req recurringRequest
	if !h.decode(w, r, &req) {
		return
	}
	startClock, err := schedule.ParseClock(req.StartTime)
	if err != nil {
		httperrors.BadRequest(w, r, h.logger, err, "startTime must be HH:MM")
		return
	}
	endClock, err := schedule.ParseClock(req.EndTime)
	if err != nil {
		httperrors.BadRequest(w, r, h.logger, err, "endTime must be HH:MM")
		return
	}

	norm := h.manager.Normalizer()
	from := h.now()
	if req.From != "" {
		if from, err = norm.ToStorageInstant(req.From); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	to := h.now().Add(h.manager.Policy().Horizon)
	if req.To != "" {
		if to, err = norm.ToStorageInstant(req.To); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	res, err := h.manager.PublishAvailability(r.Context(), schedule.AvailabilityTemplate{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Rule:        req.Rule,
		StartClock:  startClock,
		EndClock:    endClock,
	}, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if len(res.Created) > 0 {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, toPublishPayload(res))
}
