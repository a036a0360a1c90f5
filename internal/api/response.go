package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: msg})
}

// classify maps an error of the scheduling core onto an HTTP status and a
// stable error code. Anything outside the taxonomy is a 500.
func classify(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Details: err.Error(), Fields: apperr.FieldsOf(err)}
	case errors.Is(err, apperr.ErrPastSlot):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "past_slot", Details: err.Error()}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden", Details: err.Error()}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Details: err.Error()}
	case errors.Is(err, apperr.ErrSlotUnavailable):
		return http.StatusConflict, ErrorResponse{Error: "slot_unavailable", Details: err.Error()}
	case errors.Is(err, apperr.ErrInvalidTransition):
		return http.StatusConflict, ErrorResponse{Error: "invalid_status_transition", Details: err.Error()}
	case errors.Is(err, apperr.ErrCancellationWindowExpired):
		return http.StatusConflict, ErrorResponse{Error: "cancellation_window_expired", Details: err.Error()}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Details: "internal server error"}
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, status, body)
}
