// Package syncer keeps the local and remote trip stores eventually
// consistent. Each cycle drains the durable operation queue under
// exponential backoff, uploads unsynced local trips idempotently, downloads
// the remote view, and records the completion time. Connectivity failures
// land back in the queue; nothing is ever silently dropped.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"milelog/internal/domain"
	"milelog/internal/remotestore"
)

const (
	// MaxRetryAttempts is the queue retry ceiling. Operations at the
	// ceiling stay queued as failed items for the user to see; they are
	// no longer attempted.
	MaxRetryAttempts = 3

	// initialDelay seeds the exponential backoff between attempts of the
	// same queued operation: initialDelay * 2^attempts.
	initialDelay = time.Second

	// uploadBatchSize bounds each upload burst so one slow trip cannot
	// starve the rest of the cycle.
	uploadBatchSize = 5
)

// LocalStore is the slice of the local trip store the engine depends on.
type LocalStore interface {
	GetTrip(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	UpsertTrip(ctx context.Context, trip domain.Trip) error
	ListUnsynced(ctx context.Context, userID string) ([]domain.Trip, error)
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error

	Enqueue(ctx context.Context, opType domain.OperationType, trip domain.Trip) (domain.QueuedOperation, error)
	DequeueAll(ctx context.Context) ([]domain.QueuedOperation, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, at time.Time, lastError string) error
	RemoveOperation(ctx context.Context, id uuid.UUID) error
	QueueStatus(ctx context.Context, maxAttempts int) (domain.QueueStatus, error)

	LastSyncTime(ctx context.Context) (time.Time, error)
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// RemoteStore is the remote side of reconciliation. The production
// implementation is remotestore.Store; tests substitute mocks.
type RemoteStore interface {
	FindByTimeWindow(ctx context.Context, userID string, start, end time.Time) (remotestore.Match, bool, error)
	Insert(ctx context.Context, trip domain.Trip) error
	Update(ctx context.Context, id uuid.UUID, trip domain.Trip) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context, userID string) ([]domain.Trip, error)
}

// Metrics receives sync instrumentation. A nil Metrics is valid.
type Metrics interface {
	SyncCompleted(duration time.Duration)
	SyncFailed(category domain.ErrorCategory)
	SetQueueDepth(status domain.QueueStatus)
}

// Config holds the engine's scheduling knobs.
type Config struct {
	// UserID scopes every upload and download.
	UserID string
	// StartupDelay postpones the first cycle so sync never slows startup.
	StartupDelay time.Duration
	// Interval is the period between automatic cycles.
	Interval time.Duration
}

// Engine runs sync cycles. Cycles are single-flight: a trigger while a
// cycle is in progress is a no-op, never a concurrent second cycle.
type Engine struct {
	cfg     Config
	local   LocalStore
	remote  RemoteStore
	metrics Metrics
	log     *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time

	// syncMu is the single-flight guard around a cycle.
	syncMu sync.Mutex

	// trigger wakes the Run loop for an out-of-band cycle.
	trigger chan struct{}

	mu      sync.Mutex
	lastErr *domain.SyncError
}

// New constructs an Engine. A nil remote puts the engine in offline-only
// mode: cycles are no-ops and the queue accumulates until a remote store
// is configured.
func New(cfg Config, local LocalStore, remote RemoteStore, m Metrics, log *slog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		local:   local,
		remote:  remote,
		metrics: m,
		log:     log,
		now:     time.Now,
		trigger: make(chan struct{}, 1),
	}
}

// SetClock replaces the engine's clock. For tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Online reports whether a remote store is configured.
func (e *Engine) Online() bool { return e.remote != nil }

// Run schedules cycles until ctx is cancelled: one after the startup
// delay, then periodically, plus any out-of-band triggers in between.
func (e *Engine) Run(ctx context.Context) {
	if e.remote == nil {
		e.log.Info("no remote store configured, sync disabled, queue will accumulate")
		return
	}

	if e.cfg.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.StartupDelay):
		}
	}
	e.runCycle(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runCycle(ctx)
		case <-e.trigger:
			e.runCycle(ctx)
		}
	}
}

// TriggerSync requests an out-of-band cycle without blocking. Wired to the
// tracker's trip-completion hook so finished trips upload promptly.
func (e *Engine) TriggerSync() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) runCycle(ctx context.Context) {
	if err := e.Sync(ctx); err != nil {
		e.log.Error("sync cycle finished with errors", "error", err)
	}
}

// Sync runs one full cycle now: drain queue, upload, download, record
// completion. Steps continue past individual failures; the returned error
// aggregates what went wrong. A cycle already in progress makes Sync an
// immediate no-op.
func (e *Engine) Sync(ctx context.Context) error {
	if e.remote == nil {
		return nil
	}
	if !e.syncMu.TryLock() {
		e.log.Debug("sync already in progress, skipping")
		return nil
	}
	defer e.syncMu.Unlock()

	started := e.now()
	e.log.Info("sync cycle starting")

	errs := errors.Join(
		e.drainQueue(ctx),
		e.uploadUnsynced(ctx),
		e.download(ctx),
	)

	// The cycle ran; partial failures are already queued for retry, so the
	// completion time advances regardless.
	if err := e.local.SetLastSyncTime(ctx, e.now()); err != nil {
		errs = errors.Join(errs, fmt.Errorf("record sync completion: %w", err))
	}

	e.reportQueueDepth(ctx)
	if errs != nil {
		if e.metrics != nil {
			e.metrics.SyncFailed(e.lastErrorCategory())
		}
		return fmt.Errorf("syncer.Engine.Sync: %w", errs)
	}

	e.setLastError(nil)
	if e.metrics != nil {
		e.metrics.SyncCompleted(e.now().Sub(started))
	}
	e.log.Info("sync cycle complete", "duration", e.now().Sub(started))
	return nil
}

// drainQueue attempts every eligible queued operation in insertion order.
// Eligible means under the attempt ceiling and past its backoff window.
// Success removes the operation; a retryable failure records the attempt
// and keeps it queued; a non-retryable failure is removed and surfaced.
func (e *Engine) drainQueue(ctx context.Context) error {
	ops, err := e.local.DequeueAll(ctx)
	if err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}

	var errs []error
	for _, op := range ops {
		if op.Attempts >= MaxRetryAttempts {
			// At the ceiling: retained as a failed item, no longer tried.
			continue
		}
		if !e.backoffElapsed(op) {
			continue
		}

		if err := e.applyOperation(ctx, op); err != nil {
			serr := remotestore.Categorize(err)
			e.setLastError(serr)
			if rerr := e.local.RecordAttempt(ctx, op.ID, e.now(), serr.Error()); rerr != nil {
				errs = append(errs, fmt.Errorf("record attempt %s: %w", op.ID, rerr))
			}
			if !serr.Retryable() {
				e.log.Error("dropping non-retryable queued operation",
					"op_id", op.ID, "op_type", op.Type, "trip_id", op.Trip.ID,
					"category", serr.Category, "error", serr)
				if rerr := e.local.RemoveOperation(ctx, op.ID); rerr != nil {
					errs = append(errs, fmt.Errorf("remove operation %s: %w", op.ID, rerr))
				}
			} else {
				e.log.Warn("queued operation failed, will retry",
					"op_id", op.ID, "op_type", op.Type, "attempts", op.Attempts+1,
					"category", serr.Category, "error", serr)
			}
			errs = append(errs, serr)
			continue
		}

		if err := e.local.RemoveOperation(ctx, op.ID); err != nil {
			errs = append(errs, fmt.Errorf("remove operation %s: %w", op.ID, err))
		}
	}
	return errors.Join(errs...)
}

// backoffElapsed reports whether op has waited out initialDelay * 2^attempts
// since its last attempt. Never-attempted operations are always eligible.
func (e *Engine) backoffElapsed(op domain.QueuedOperation) bool {
	if op.LastAttemptAt == nil {
		return true
	}
	required := initialDelay << uint(op.Attempts)
	return e.now().Sub(*op.LastAttemptAt) >= required
}

func (e *Engine) applyOperation(ctx context.Context, op domain.QueuedOperation) error {
	switch op.Type {
	case domain.OpUpload:
		if err := e.uploadTrip(ctx, op.Trip); err != nil {
			return err
		}
		return e.local.MarkSynced(ctx, op.Trip.ID, e.now())
	case domain.OpCreate:
		if err := e.remote.Insert(ctx, op.Trip); err != nil {
			return err
		}
		return e.local.MarkSynced(ctx, op.Trip.ID, e.now())
	case domain.OpDelete:
		return e.remote.SoftDelete(ctx, op.Trip.ID)
	default:
		return domain.NewSyncError(domain.ErrorValidation,
			fmt.Errorf("unknown operation type %q", op.Type))
	}
}

// uploadTrip pushes one trip to the remote store idempotently. The trip's
// (start_time, end_time) window is its natural identity remotely: a match
// means the trip already exists, and last-write-wins by updated_at decides
// whether to overwrite it. No field-level merging.
func (e *Engine) uploadTrip(ctx context.Context, trip domain.Trip) error {
	match, found, err := e.remote.FindByTimeWindow(ctx, trip.UserID, trip.StartTime, trip.EndTime)
	if err != nil {
		return fmt.Errorf("find by time window: %w", err)
	}
	if !found {
		return e.remote.Insert(ctx, trip)
	}
	if match.UpdatedAt.After(trip.UpdatedAt) {
		// Remote copy is newer; it wins and comes back in the download
		// phase. Skipping still counts as synced.
		e.log.Debug("remote trip newer, skipping upload",
			"trip_id", trip.ID, "remote_id", match.ID)
		return nil
	}
	return e.remote.Update(ctx, match.ID, trip)
}

// uploadUnsynced pushes every local trip the remote hasn't seen (or has an
// older copy of), in batches. One trip's failure queues a retry and the
// batch moves on; it never aborts the cycle. Trips that already have a
// queued operation are skipped here: their retries belong to the queue,
// which enforces the backoff schedule and the attempt ceiling. Without
// the skip, a persistently failing trip would re-enqueue a fresh
// zero-attempt operation every cycle and the queue would grow unbounded.
func (e *Engine) uploadUnsynced(ctx context.Context) error {
	trips, err := e.local.ListUnsynced(ctx, e.cfg.UserID)
	if err != nil {
		return fmt.Errorf("list unsynced: %w", err)
	}
	if len(trips) == 0 {
		return nil
	}

	queued, err := e.queuedTripIDs(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for start := 0; start < len(trips); start += uploadBatchSize {
		end := min(start+uploadBatchSize, len(trips))
		e.log.Debug("uploading batch", "from", start, "to", end, "total", len(trips))

		for _, trip := range trips[start:end] {
			if queued[trip.ID] {
				continue
			}
			if err := e.uploadTrip(ctx, trip); err != nil {
				serr := remotestore.Categorize(err)
				e.setLastError(serr)
				e.log.Warn("trip upload failed", "trip_id", trip.ID,
					"category", serr.Category, "error", serr)
				if serr.Retryable() {
					if _, qerr := e.local.Enqueue(ctx, domain.OpUpload, trip); qerr != nil {
						errs = append(errs, fmt.Errorf("enqueue retry %s: %w", trip.ID, qerr))
					}
				}
				errs = append(errs, serr)
				continue
			}
			if err := e.local.MarkSynced(ctx, trip.ID, e.now()); err != nil {
				errs = append(errs, fmt.Errorf("mark synced %s: %w", trip.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// queuedTripIDs returns the ids of trips with an operation already in the
// queue, including operations retained at the attempt ceiling.
func (e *Engine) queuedTripIDs(ctx context.Context) (map[uuid.UUID]bool, error) {
	ops, err := e.local.DequeueAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued operations: %w", err)
	}
	ids := make(map[uuid.UUID]bool, len(ops))
	for _, op := range ops {
		ids[op.Trip.ID] = true
	}
	return ids, nil
}

// download pulls the user's non-deleted remote trips into the local store.
// This is the authoritative read path that repopulates a fresh device or a
// store recovering from data loss. Last-write-wins applies here too: a
// local copy with newer edits is left alone for the next upload to win.
func (e *Engine) download(ctx context.Context) error {
	remote, err := e.remote.ListActive(ctx, e.cfg.UserID)
	if err != nil {
		serr := remotestore.Categorize(err)
		e.setLastError(serr)
		return fmt.Errorf("download: %w", serr)
	}

	now := e.now()
	var errs []error
	for _, trip := range remote {
		local, err := e.local.GetTrip(ctx, trip.ID)
		if err == nil && local.UpdatedAt.After(trip.UpdatedAt) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			errs = append(errs, fmt.Errorf("get trip %s: %w", trip.ID, err))
			continue
		}

		trip.SyncedAt = &now
		if err := e.local.UpsertTrip(ctx, trip); err != nil {
			errs = append(errs, fmt.Errorf("store trip %s: %w", trip.ID, err))
		}
	}
	return errors.Join(errs...)
}

// EnqueueDelete records a remote soft delete for the next cycle and nudges
// the engine. Called after a local delete so the remote copy cannot
// resurrect the trip on a later download.
func (e *Engine) EnqueueDelete(ctx context.Context, trip domain.Trip) error {
	if _, err := e.local.Enqueue(ctx, domain.OpDelete, trip); err != nil {
		return fmt.Errorf("syncer.Engine.EnqueueDelete: %w", err)
	}
	e.TriggerSync()
	return nil
}

// Status is the sync state surfaced to the user.
type Status struct {
	Online            bool                 `json:"online"`
	LastSyncTime      *time.Time           `json:"last_sync_time,omitempty"`
	Queue             domain.QueueStatus   `json:"queue"`
	LastError         string               `json:"last_error,omitempty"`
	LastErrorCategory domain.ErrorCategory `json:"last_error_category,omitempty"`
}

// Status reports the last completed cycle, queue depth, and most recent
// failure.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	queue, err := e.local.QueueStatus(ctx, MaxRetryAttempts)
	if err != nil {
		return Status{}, fmt.Errorf("syncer.Engine.Status: %w", err)
	}
	last, err := e.local.LastSyncTime(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("syncer.Engine.Status: %w", err)
	}

	st := Status{Online: e.remote != nil, Queue: queue}
	if !last.IsZero() {
		st.LastSyncTime = &last
	}
	e.mu.Lock()
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
		st.LastErrorCategory = e.lastErr.Category
	}
	e.mu.Unlock()
	return st, nil
}

func (e *Engine) setLastError(serr *domain.SyncError) {
	e.mu.Lock()
	e.lastErr = serr
	e.mu.Unlock()
}

func (e *Engine) lastErrorCategory() domain.ErrorCategory {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastErr == nil {
		return domain.ErrorUnknown
	}
	return e.lastErr.Category
}

func (e *Engine) reportQueueDepth(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	status, err := e.local.QueueStatus(ctx, MaxRetryAttempts)
	if err != nil {
		e.log.Warn("queue status unavailable", "error", err)
		return
	}
	e.metrics.SetQueueDepth(status)
}
