package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"milelog/internal/domain"
)

// orphanAttentionAge is how old an orphaned trip must be before it is
// flagged as needing attention in the recovery report.
const orphanAttentionAge = time.Hour

// RecoverOnStartup inspects the durable active-trip mirror and classifies
// what it finds. With the sample feed already running the trip is resumable
// and tracking picks up where the previous process stopped. With no feed the
// trip is orphaned: it is surfaced (trip, age, distance) for a user decision
// via ResolveOrphan and is never silently deleted.
func (t *Tracker) RecoverOnStartup(ctx context.Context, feedRunning bool) error {
	mirrored, savedAt, err := t.store.GetActiveTrip(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		// Nothing in flight. Any stale detection flags are cleared so a
		// half-written shutdown cannot wedge the state machine.
		t.mu.Lock()
		t.drivingDetected = false
		t.stoppedSince = nil
		t.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("tracker.Tracker.RecoverOnStartup: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if feedRunning {
		trip := mirrored
		t.active = &trip
		t.drivingDetected = true
		t.lastMovementAt = t.now()
		t.log.Info("resumed active trip from mirror",
			"trip_id", trip.ID, "distance_miles", trip.Distance)
		return nil
	}

	report := domain.OrphanReport{
		Trip:           mirrored,
		Age:            t.now().Sub(savedAt),
		NeedsAttention: t.now().Sub(savedAt) >= orphanAttentionAge,
	}
	t.orphan = &report
	t.orphanSavedAt = savedAt
	t.log.Warn("found orphaned trip",
		"trip_id", mirrored.ID, "age", report.Age, "needs_attention", report.NeedsAttention)

	if t.notifier != nil {
		go t.notifier.OrphanFound(report)
	}
	return nil
}

// Orphan returns the orphan report from startup recovery, if one is pending.
func (t *Tracker) Orphan() (domain.OrphanReport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.orphan == nil {
		return domain.OrphanReport{}, false
	}
	return *t.orphan, true
}

// ResolveOrphan settles a pending orphaned trip per the user's decision.
// save finalizes it at its last recorded position, with the mirror's write
// time as the end time; discard drops it. Both clear the mirror — after
// resolution the slot is free either way. Returns domain.ErrNoActiveTrip
// when no orphan is pending.
func (t *Tracker) ResolveOrphan(ctx context.Context, save bool) (domain.Trip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.orphan == nil {
		return domain.Trip{}, fmt.Errorf("tracker.Tracker.ResolveOrphan: %w", domain.ErrNoActiveTrip)
	}

	report := *t.orphan
	trip := t.completedFrom(report.Trip, t.orphanSavedAt)

	if !save {
		if err := t.store.ClearActiveTrip(ctx); err != nil {
			return domain.Trip{}, fmt.Errorf("tracker.Tracker.ResolveOrphan: %w", err)
		}
		t.orphan = nil
		t.log.Info("discarded orphaned trip", "trip_id", trip.ID)
		return trip, nil
	}

	// Save-before-clear, same as live completion.
	if err := saveTripWithRetry(ctx, t.store, trip, t.log); err != nil {
		return domain.Trip{}, fmt.Errorf("tracker.Tracker.ResolveOrphan: %w", err)
	}
	if err := t.store.ClearActiveTrip(ctx); err != nil {
		t.log.Error("clearing mirror after orphan save failed", "error", err)
	}
	t.orphan = nil
	t.log.Info("saved orphaned trip", "trip_id", trip.ID, "distance_miles", trip.Distance)

	if t.onCompleted != nil {
		go t.onCompleted(trip)
	}
	return trip, nil
}
