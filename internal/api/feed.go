package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	httperrors "gitea.jw6.us/james/washcal/internal/http/errors"
)

// Feed serves GET /calendar/feed.ics. ?availability=false drops open
// availability blocks; start/end narrow the range like GET /events.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	opts := h.feed
	if raw := strings.TrimSpace(r.URL.Query().Get("availability")); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			httperrors.BadRequest(w, r, h.logger, err, "availability must be true or false")
			return
		}
		opts.IncludeAvailability = include
	}

	filter, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	events, err := h.manager.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if _, err := h.exporter.Export(&buf, events, opts); err != nil {
		httperrors.InternalError(w, r, h.logger, err, "render calendar feed")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", feedFilename(opts.Name)))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func feedFilename(name string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ', r == '-', r == '_':
			return '-'
		}
		return -1
	}, name)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "calendar"
	}
	return slug + ".ics"
}
