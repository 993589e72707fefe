package tracker

import (
	"context"
	"log/slog"

	"milelog/internal/domain"
)

// PurposeProvider supplies the purpose a newly detected trip defaults to.
// Consulted fire-and-forget on trip start; a slow or failing provider leaves
// the trip on the business fallback.
type PurposeProvider interface {
	DefaultPurpose(ctx context.Context, userID string) (domain.Purpose, error)
}

// Notifier is told about trip lifecycle events so an outer layer can alert
// the user. Calls are fire-and-forget from the tracker's perspective and
// must not block sample processing.
type Notifier interface {
	TripCompleted(trip domain.Trip)
	OrphanFound(report domain.OrphanReport)
}

// StaticPurpose is a PurposeProvider that always returns the same value.
type StaticPurpose domain.Purpose

func (p StaticPurpose) DefaultPurpose(context.Context, string) (domain.Purpose, error) {
	return domain.Purpose(p), nil
}

// LogNotifier is the default Notifier: it writes lifecycle events to the
// structured log, where an operator or outer process can pick them up.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) TripCompleted(trip domain.Trip) {
	n.Log.Info("trip completed",
		"trip_id", trip.ID,
		"distance_miles", trip.Distance,
		"start", trip.StartLocation,
		"end", trip.EndLocation,
	)
}

func (n LogNotifier) OrphanFound(report domain.OrphanReport) {
	n.Log.Warn("orphaned trip found, needs user decision",
		"trip_id", report.Trip.ID,
		"age", report.Age,
		"distance_miles", report.Trip.Distance,
	)
}

// Metrics is the slice of the metrics collector the tracker feeds.
// A nil Metrics is valid and records nothing.
type Metrics interface {
	SampleProcessed()
	SampleDiscarded()
	TripStarted()
	TripCompleted()
	SetTracking(active bool)
}
