package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"milelog/internal/domain"
)

// ListTrips handles GET /api/trips.
// Supports ?page= and ?limit= query parameters (defaults: page=1, limit=50,
// max=200).
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	params := domain.NewPaginationParams(
		queryInt(r, "page"),
		queryInt(r, "limit"),
	)

	trips, total, err := s.trips.ListByUser(r.Context(), s.userID, params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listTripsResponse{
		Data: trips,
		Pagination: pagination{
			Page:  params.Page,
			Limit: params.Limit,
			Total: total,
		},
	})
}

// GetTrip handles GET /api/trips/{id}.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	trip, err := s.trips.GetTrip(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// UpdateTrip handles PATCH /api/trips/{id}. Only purpose and notes are
// editable; a completed trip's route and distance are immutable.
func (s *Server) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var body updateTripRequest
	if err := decodeJSON(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}

	current, err := s.trips.GetTrip(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	purpose := current.Purpose
	if body.Purpose != nil {
		purpose = domain.Purpose(*body.Purpose)
		if !domain.ValidPurpose(purpose) {
			badRequest(w, "unknown purpose "+strconv.Quote(*body.Purpose))
			return
		}
	}
	notes := current.Notes
	if body.Notes != nil {
		notes = *body.Notes
	}

	updated, err := s.trips.UpdateDetails(r.Context(), id, purpose, notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteTrip handles DELETE /api/trips/{id}. The trip is removed locally and
// a soft delete is queued for the remote store so a later download cannot
// resurrect it.
func (s *Server) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	// Snapshot before deleting: the queued remote operation needs the trip.
	trip, err := s.trips.GetTrip(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.trips.DeleteTrip(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.sync.EnqueueDelete(r.Context(), trip); err != nil {
		// The local delete stands; the remote copy returns on the next
		// download until a delete is queued, so surface the failure.
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetStats handles GET /api/trips/stats. Optional ?from= and ?to= RFC 3339
// query parameters bound the reporting window.
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "invalid from: "+err.Error())
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(w, "invalid to: "+err.Error())
			return
		}
		to = t
	}

	stats, err := s.trips.StatsByPurpose(r.Context(), s.userID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Data: stats})
}

// ---- request/response shapes ----------------------------------------------

type listTripsResponse struct {
	Data       []domain.Trip `json:"data"`
	Pagination pagination    `json:"pagination"`
}

type pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

type updateTripRequest struct {
	Purpose *string `json:"purpose"`
	Notes   *string `json:"notes"`
}

type statsResponse struct {
	Data []domain.PurposeStats `json:"data"`
}

// ---- small helpers ---------------------------------------------------------

// pathID parses the {id} path parameter, writing a 404 for garbage: an
// unparseable id can never name an existing trip.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, domain.ErrNotFound)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) *int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
