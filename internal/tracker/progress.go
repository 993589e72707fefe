package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"milelog/internal/domain"
)

// persistAttempts bounds how often a failing durable write is retried before
// tracking degrades to the in-memory copy.
const persistAttempts = 3

// persistDelay is the pause between persist retries.
const persistDelay = 200 * time.Millisecond

// progressUpdate is one snapshot of the active trip bound for the mirror.
type progressUpdate struct {
	trip domain.ActiveTrip
	at   time.Time
}

// progressWriter mirrors the active trip into the local store without ever
// blocking the sample path. Snapshots are pushed through a one-slot
// coalescing channel: if a durable write is still in flight when the next
// snapshot arrives, the older unwritten snapshot is replaced. The mirror
// always converges on the latest state, and a crash loses at most the
// in-flight sample.
type progressWriter struct {
	store Store
	log   *slog.Logger
	ch    chan progressUpdate
}

func newProgressWriter(store Store, log *slog.Logger) *progressWriter {
	return &progressWriter{
		store: store,
		log:   log,
		ch:    make(chan progressUpdate, 1),
	}
}

// save queues the latest snapshot, replacing any unwritten predecessor.
// Never blocks.
func (w *progressWriter) save(trip domain.ActiveTrip, at time.Time) {
	for {
		select {
		case w.ch <- progressUpdate{trip: trip, at: at}:
			return
		default:
			// Slot full: discard the stale snapshot and retry.
			select {
			case <-w.ch:
			default:
			}
		}
	}
}

// run drains snapshots until ctx is cancelled. The intake channel is never
// closed — saves arriving after shutdown sit harmlessly in the slot, and the
// crash-recovery path covers anything unwritten.
func (w *progressWriter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd := <-w.ch:
			w.persist(ctx, upd)
		}
	}
}

// persist writes one snapshot with bounded retries. Exhausting the retries
// is logged and swallowed: the in-memory active trip remains the source of
// truth until the next successful write, and tracking continues.
func (w *progressWriter) persist(ctx context.Context, upd progressUpdate) {
	backoff := retry.WithMaxRetries(persistAttempts-1, retry.NewConstant(persistDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := w.store.SaveActiveTrip(ctx, upd.trip, upd.at); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		w.log.Error("persisting trip progress failed, continuing from memory",
			"trip_id", upd.trip.ID, "error", err)
	}
}

// saveTripWithRetry durably saves a completed trip with the same bounded
// retry policy as progress writes. Unlike progress writes this is called
// synchronously from the completion path: its success gates clearing the
// active-trip slot.
func saveTripWithRetry(ctx context.Context, store Store, trip domain.Trip, log *slog.Logger) error {
	backoff := retry.WithMaxRetries(persistAttempts-1, retry.NewConstant(persistDelay))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := store.UpsertTrip(ctx, trip); err != nil {
			log.Warn("saving completed trip failed, retrying", "trip_id", trip.ID, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
