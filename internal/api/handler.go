package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	httperrors "gitea.jw6.us/james/washcal/internal/http/errors"
	"gitea.jw6.us/james/washcal/internal/ics"
	"gitea.jw6.us/james/washcal/internal/schedule"
)

// maxBodyBytes bounds request bodies; events are small.
const maxBodyBytes = 64 << 10

// Handler serves the scheduling JSON API and the iCalendar feed.
type Handler struct {
	manager  *schedule.Manager
	exporter *ics.Exporter
	feed     ics.Options
	logger   *zap.Logger
	now      func() time.Time
}

func NewHandler(manager *schedule.Manager, exporter *ics.Exporter, feed ics.Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{manager: manager, exporter: exporter, feed: feed, logger: logger, now: time.Now}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httperrors.Write(w, r, h.logger, err)
}

// decode reads a single JSON object, rejecting unknown fields.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		httperrors.BadRequest(w, r, h.logger, err, msg)
		return false
	}
	return true
}

// instant parses an optional query parameter through the normalizer.
func (h *Handler) instant(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := h.manager.Normalizer().ToStorageInstant(raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
