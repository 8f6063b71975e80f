package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitea.jw6.us/james/washcal/internal/schedule"
)

func render(t *testing.T, logger *zap.Logger, err error) (*httptest.ResponseRecorder, Body) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-1"))
	rec := httptest.NewRecorder()
	Write(rec, req, logger, err)

	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestWriteSchedulingErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantReason string
	}{
		{
			name:       "overlap",
			err:        &schedule.Error{Kind: schedule.KindConstraintViolation, Reason: schedule.ReasonOverlap, Message: "overlaps"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "CONSTRAINT_VIOLATION",
			wantReason: "OVERLAP",
		},
		{
			name:       "wrapped malformed",
			err:        fmt.Errorf("create: %w", &schedule.Error{Kind: schedule.KindMalformedTimestamp, Message: "bad"}),
			wantStatus: http.StatusBadRequest,
			wantCode:   "MALFORMED_TIMESTAMP",
		},
		{
			name:       "illegal transition",
			err:        &schedule.Error{Kind: schedule.KindIllegalTransition, Message: "no"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "ILLEGAL_TRANSITION",
		},
		{
			name:       "not found",
			err:        &schedule.Error{Kind: schedule.KindNotFound, Message: "gone"},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "store down",
			err:        &schedule.Error{Kind: schedule.KindStoreUnavailable, Err: fmt.Errorf("dial tcp: refused")},
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "STORE_UNAVAILABLE",
		},
		{
			name:       "outcome unknown",
			err:        &schedule.Error{Kind: schedule.KindStoreUnavailable, OutcomeUnknown: true, Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "STORE_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := render(t, zap.NewNop(), tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, tt.wantReason, body.Error.Reason)
			assert.NotEmpty(t, body.Error.Message)
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}

func TestWriteHidesStoreDetails(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	_, body := render(t, zap.New(core), &schedule.Error{Kind: schedule.KindStoreUnavailable, Err: fmt.Errorf("password authentication failed")})

	assert.NotContains(t, body.Error.Message, "password")
	require.Equal(t, 1, logs.FilterMessage("store unavailable").Len())
	assert.Equal(t, "req-1", logs.All()[0].ContextMap()["request_id"])
}

func TestWriteUnknownError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	rec, body := render(t, zap.New(core), fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", body.Error.Code)
	assert.Equal(t, "internal server error", body.Error.Message)
	assert.Equal(t, 1, logs.Len())
}
