package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"milelog/internal/domain"
)

// errorResponse is the uniform error body every endpoint returns.
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}

// writeError maps domain sentinels onto HTTP statuses: not found → 404,
// validation → 422, trip-state conflicts → 409, everything else → 500 with
// the detail kept out of the response body.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error: errorDetail{Code: "not_found", Message: "trip not found"},
		})
	case errors.Is(err, domain.ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: errorDetail{Code: "validation_error", Message: unwrapMessage(err)},
		})
	case errors.Is(err, domain.ErrNoActiveTrip):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: errorDetail{Code: "no_active_trip", Message: "no trip is being tracked"},
		})
	case errors.Is(err, domain.ErrTripInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: errorDetail{Code: "trip_in_progress", Message: "a trip is already being tracked"},
		})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Error: errorDetail{Code: "internal_error", Message: "internal server error"},
		})
	}
}

// badRequest rejects a request before it reaches any dependency, e.g. a
// malformed body or id.
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
		Error: errorDetail{Code: "validation_error", Message: message},
	})
}

// unwrapMessage extracts the human-readable tail from a wrapped sentinel,
// e.g. "tracker.Tracker.Start: validation error: unknown purpose" →
// "unknown purpose".
func unwrapMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.LastIndex(msg, domain.ErrValidation.Error()+": "); i >= 0 {
		return msg[i+len(domain.ErrValidation.Error())+2:]
	}
	return msg
}
