package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gitea.jw6.us/james/washcal/internal/schedule"
)

// Body is the JSON error envelope returned by every API route.
type Body struct {
	Error     Detail `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

type Detail struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// StatusFor maps a scheduling error kind onto an HTTP status.
func StatusFor(e *schedule.Error) int {
	switch e.Kind {
	case schedule.KindMalformedTimestamp, schedule.KindConstraintViolation,
		schedule.KindInvalidEvent, schedule.KindIllegalTransition:
		return http.StatusBadRequest
	case schedule.KindNotFound:
		return http.StatusNotFound
	case schedule.KindStoreUnavailable:
		if e.OutcomeUnknown {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Write renders err. Scheduling errors keep their code and reason; anything
// else is logged and reported as a generic internal error.
func Write(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	requestID := middleware.GetReqID(r.Context())

	var se *schedule.Error
	if !stderrors.As(err, &se) {
		InternalError(w, r, logger, err, "unhandled error")
		return
	}

	status := StatusFor(se)
	detail := Detail{Code: string(se.Kind), Reason: string(se.Reason), Message: se.Message}
	if se.Kind == schedule.KindStoreUnavailable {
		logger.Error("store unavailable",
			zap.String("request_id", requestID),
			zap.Bool("outcome_unknown", se.OutcomeUnknown),
			zap.Error(err),
		)
		detail.Message = "calendar storage is unavailable"
		if se.OutcomeUnknown {
			detail.Message = "the change may or may not have been saved; reload the calendar"
		}
	}
	if detail.Message == "" {
		detail.Message = http.StatusText(status)
	}
	writeJSON(w, status, Body{Error: detail, RequestID: requestID})
}

// BadRequest reports a request that could not be decoded.
func BadRequest(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, clientMessage string) {
	requestID := middleware.GetReqID(r.Context())
	logger.Debug("bad request", zap.String("request_id", requestID), zap.Error(err))
	writeJSON(w, http.StatusBadRequest, Body{
		Error:     Detail{Code: "BAD_REQUEST", Message: clientMessage},
		RequestID: requestID,
	})
}

// InternalError logs the real error and returns a generic body.
func InternalError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error, message string) {
	requestID := middleware.GetReqID(r.Context())
	logger.Error(message, zap.String("request_id", requestID), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, Body{
		Error:     Detail{Code: "INTERNAL", Message: "internal server error"},
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, body Body) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
