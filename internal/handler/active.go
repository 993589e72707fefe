package handler

import (
	"fmt"
	"net/http"

	"milelog/internal/domain"
	"milelog/internal/tracker"
)

// activeTripResponse reports the tracking state: at most one of Trip and
// Orphan is set. An orphan is a previously active trip recovered at startup
// with no running sample feed; it waits for a save-or-discard decision.
type activeTripResponse struct {
	Tracking bool                 `json:"tracking"`
	Trip     *domain.ActiveTrip   `json:"trip,omitempty"`
	Orphan   *domain.OrphanReport `json:"orphan,omitempty"`
}

// GetActiveTrip handles GET /api/active-trip.
func (s *Server) GetActiveTrip(w http.ResponseWriter, r *http.Request) {
	if trip, ok := s.tracker.Current(); ok {
		writeJSON(w, http.StatusOK, activeTripResponse{Tracking: true, Trip: &trip})
		return
	}
	if report, ok := s.tracker.Orphan(); ok {
		writeJSON(w, http.StatusOK, activeTripResponse{Orphan: &report})
		return
	}
	writeJSON(w, http.StatusOK, activeTripResponse{})
}

type startTripRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Purpose   string  `json:"purpose"`
	Notes     string  `json:"notes"`
}

// StartTrip handles POST /api/active-trip/start: begin a trip at the user's
// request, bypassing speed detection.
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	var body startTripRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}

	trip, err := s.tracker.Start(r.Context(), tracker.StartRequest{
		Latitude:  body.Latitude,
		Longitude: body.Longitude,
		Purpose:   domain.Purpose(body.Purpose),
		Notes:     body.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// StopTrip handles POST /api/active-trip/stop: finalize the active trip now
// instead of waiting out the stationary window.
func (s *Server) StopTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := s.tracker.Stop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

type resolveOrphanRequest struct {
	Action string `json:"action"` // save|discard
}

// ResolveOrphan handles POST /api/active-trip/resolve: decide the fate of an
// orphaned trip surfaced at startup.
func (s *Server) ResolveOrphan(w http.ResponseWriter, r *http.Request) {
	var body resolveOrphanRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if body.Action != "save" && body.Action != "discard" {
		badRequest(w, fmt.Sprintf("action must be save or discard, got %q", body.Action))
		return
	}

	trip, err := s.tracker.ResolveOrphan(r.Context(), body.Action == "save")
	if err != nil {
		writeError(w, err)
		return
	}

	if body.Action == "discard" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
