// Package handler implements the HTTP surface of the milelog daemon.
// All handlers are methods on Server; they are split into domain-specific
// files (trips.go, active.go, sync.go) but share one struct so they can
// reach its dependencies.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"milelog/internal/domain"
	"milelog/internal/syncer"
	"milelog/internal/tracker"
)

// TripStore defines the local-store operations the handlers depend on.
// Defining the interface here (in the consumer package) follows the Go
// convention: "accept interfaces, return concrete types". It lets handler
// tests inject a mock without touching the database.
type TripStore interface {
	GetTrip(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	ListByUser(ctx context.Context, userID string, p domain.PaginationParams) ([]domain.Trip, int64, error)
	UpdateDetails(ctx context.Context, id uuid.UUID, purpose domain.Purpose, notes string) (domain.Trip, error)
	DeleteTrip(ctx context.Context, id uuid.UUID) error
	StatsByPurpose(ctx context.Context, userID string, from, to time.Time) ([]domain.PurposeStats, error)
}

// TripTracker defines the trip-control operations exposed over HTTP.
type TripTracker interface {
	Start(ctx context.Context, req tracker.StartRequest) (domain.ActiveTrip, error)
	Stop(ctx context.Context) (domain.Trip, error)
	Current() (domain.ActiveTrip, bool)
	Orphan() (domain.OrphanReport, bool)
	ResolveOrphan(ctx context.Context, save bool) (domain.Trip, error)
}

// Syncer defines the sync-engine operations exposed over HTTP.
type Syncer interface {
	Sync(ctx context.Context) error
	Status(ctx context.Context) (syncer.Status, error)
	Online() bool
	EnqueueDelete(ctx context.Context, trip domain.Trip) error
}

// Server holds every handler's dependencies.
type Server struct {
	trips   TripStore
	tracker TripTracker
	sync    Syncer
	userID  string
}

// NewServer constructs the Server with all its dependencies.
func NewServer(trips TripStore, tr TripTracker, sync Syncer, userID string) *Server {
	return &Server{trips: trips, tracker: tr, sync: sync, userID: userID}
}

// Routes mounts every endpoint on a fresh chi router. Middleware is the
// caller's concern; metrics may be nil when no collector is wired.
func (s *Server) Routes(metrics http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", s.GetHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/trips", func(r chi.Router) {
			r.Get("/", s.ListTrips)
			r.Get("/stats", s.GetStats)
			r.Get("/{id}", s.GetTrip)
			r.Patch("/{id}", s.UpdateTrip)
			r.Delete("/{id}", s.DeleteTrip)
		})

		r.Route("/active-trip", func(r chi.Router) {
			r.Get("/", s.GetActiveTrip)
			r.Post("/start", s.StartTrip)
			r.Post("/stop", s.StopTrip)
			r.Post("/resolve", s.ResolveOrphan)
		})

		r.Post("/sync", s.TriggerSync)
		r.Get("/sync/status", s.GetSyncStatus)
	})

	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	return r
}

// GetHealth handles GET /healthz.
// It returns HTTP 200 with {"status":"ok"} when the server is running.
func (s *Server) GetHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
