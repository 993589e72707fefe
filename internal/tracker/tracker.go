// Package tracker is the driving-detection state machine. It consumes geo
// samples, decides when a trip starts and ends, accumulates distance, and
// mirrors the in-flight trip durably after every accepted movement so a
// crash loses at most one sample.
//
// The tracker is Idle (no active trip) or Tracking (exactly one). The single
// active-trip slot is guarded by a mutex because the sample-consumer
// goroutine and user-initiated operations (manual stop, orphan resolution)
// interleave on different goroutines.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"milelog/internal/domain"
	"milelog/internal/geo"
	"milelog/internal/geocode"
)

// Store is the slice of the local store the tracker depends on.
type Store interface {
	SaveActiveTrip(ctx context.Context, trip domain.ActiveTrip, at time.Time) error
	GetActiveTrip(ctx context.Context) (domain.ActiveTrip, time.Time, error)
	ClearActiveTrip(ctx context.Context) error
	UpsertTrip(ctx context.Context, trip domain.Trip) error
}

// Config holds the detection thresholds.
type Config struct {
	// UserID owns every trip this tracker records.
	UserID string
	// DrivingSpeedMPH is the minimum speed interpreted as driving.
	DrivingSpeedMPH float64
	// StationaryDuration is how long speed must stay below the threshold
	// before the trip is considered finished.
	StationaryDuration time.Duration
	// MinTripMiles is the save floor; shorter completed trips are
	// discarded. Zero saves everything.
	MinTripMiles float64
	// WatchdogInterval, when positive, re-checks stationary completion on
	// a timer so a trip still completes if the sample stream stops
	// entirely. Zero disables the watchdog: completion then happens only
	// on receipt of a new low-speed sample.
	WatchdogInterval time.Duration
}

// Tracker owns the single active-trip slot.
type Tracker struct {
	cfg      Config
	store    Store
	geocoder geocode.Geocoder
	purposes PurposeProvider
	notifier Notifier
	metrics  Metrics
	log      *slog.Logger

	// now is the clock; replaced in tests.
	now func() time.Time

	// onCompleted, when set, is invoked (fire-and-forget) after a trip is
	// durably saved. main wires it to the syncer's trigger.
	onCompleted func(domain.Trip)

	progress *progressWriter

	mu              sync.Mutex
	active          *domain.ActiveTrip
	stoppedSince    *time.Time
	lastMovementAt  time.Time
	drivingDetected bool
	lastFix         *domain.GeoSample
	orphan          *domain.OrphanReport
	orphanSavedAt   time.Time
}

// New constructs a Tracker. geocoder, purposes, notifier, and metrics may be
// nil for callers that do not need them; nil collaborators degrade to
// coordinate addresses, the business purpose, and silence.
func New(cfg Config, store Store, geocoder geocode.Geocoder, purposes PurposeProvider, notifier Notifier, m Metrics, log *slog.Logger) *Tracker {
	if geocoder == nil {
		geocoder = geocode.Static{}
	}
	if purposes == nil {
		purposes = StaticPurpose(domain.PurposeBusiness)
	}
	return &Tracker{
		cfg:      cfg,
		store:    store,
		geocoder: geocoder,
		purposes: purposes,
		notifier: notifier,
		metrics:  m,
		log:      log,
		now:      time.Now,
		progress: newProgressWriter(store, log),
	}
}

// SetClock replaces the tracker's clock. For tests.
func (t *Tracker) SetClock(now func() time.Time) { t.now = now }

// OnCompleted registers the hook invoked after every durably saved trip.
func (t *Tracker) OnCompleted(fn func(domain.Trip)) { t.onCompleted = fn }

// Run drains the sample channel until it closes or ctx is cancelled. Samples
// are applied strictly in arrival order by this single consumer. Run also
// owns the progress writer's lifetime.
func (t *Tracker) Run(ctx context.Context, samples <-chan domain.GeoSample) {
	go t.progress.run(ctx)

	var tick <-chan time.Time
	if t.cfg.WatchdogInterval > 0 {
		ticker := time.NewTicker(t.cfg.WatchdogInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			t.ProcessSample(ctx, s)
		case <-tick:
			t.checkStationary(ctx)
		}
	}
}

// ProcessSample applies one location fix to the state machine. It never
// returns an error: this path runs unattended in the background, so failures
// are logged and contained rather than thrown at a caller that doesn't exist.
func (t *Tracker) ProcessSample(ctx context.Context, s domain.GeoSample) {
	if !validSample(s) {
		t.log.Warn("ignoring malformed sample", "lat", s.Latitude, "lon", s.Longitude, "ts", s.Timestamp)
		if t.metrics != nil {
			t.metrics.SampleDiscarded()
		}
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	speed := t.speedOf(s)
	t.lastFix = &s
	if t.metrics != nil {
		t.metrics.SampleProcessed()
	}

	if t.active == nil {
		// Self-healing: flags claiming a trip is underway with no trip in
		// the slot mean state was lost (restart mid-trip). Clear rather
		// than guess, so detection cannot wedge.
		if t.drivingDetected {
			t.log.Warn("clearing stale driving-detected flag with no active trip")
			t.drivingDetected = false
		}
		if speed >= t.cfg.DrivingSpeedMPH {
			t.startLocked(s, false)
		}
		return
	}

	now := t.now()
	if speed >= t.cfg.DrivingSpeedMPH {
		t.stoppedSince = nil
		t.lastMovementAt = now
	} else if t.stoppedSince == nil {
		ss := now
		t.stoppedSince = &ss
	}

	t.accumulateLocked(s)

	if t.stoppedSince != nil && now.Sub(*t.stoppedSince) >= t.cfg.StationaryDuration {
		if _, _, err := t.finalizeLocked(ctx); err != nil {
			t.log.Error("trip completion failed, keeping active trip", "error", err)
		}
	}
}

// checkStationary is the watchdog path: with no new samples arriving, a trip
// already below the driving threshold can still time out and complete.
func (t *Tracker) checkStationary(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil || t.stoppedSince == nil {
		return
	}
	if t.now().Sub(*t.stoppedSince) < t.cfg.StationaryDuration {
		return
	}
	if _, _, err := t.finalizeLocked(ctx); err != nil {
		t.log.Error("trip completion failed, keeping active trip", "error", err)
	}
}

// StartRequest carries the caller-supplied fields of a manual trip start.
type StartRequest struct {
	Latitude  float64
	Longitude float64
	Purpose   domain.Purpose
	Notes     string
}

// Start begins a trip at the user's request, bypassing speed detection.
// Returns domain.ErrTripInProgress when the slot is already occupied and
// domain.ErrValidation for an unknown purpose.
func (t *Tracker) Start(ctx context.Context, req StartRequest) (domain.ActiveTrip, error) {
	if req.Purpose == "" {
		req.Purpose = domain.PurposeBusiness
	}
	if !domain.ValidPurpose(req.Purpose) {
		return domain.ActiveTrip{}, fmt.Errorf("tracker.Tracker.Start: %w: unknown purpose %q", domain.ErrValidation, req.Purpose)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		return domain.ActiveTrip{}, fmt.Errorf("tracker.Tracker.Start: %w", domain.ErrTripInProgress)
	}

	now := t.now()
	t.startLocked(domain.GeoSample{Latitude: req.Latitude, Longitude: req.Longitude, Timestamp: now}, true)
	t.active.Purpose = req.Purpose
	t.active.Notes = req.Notes
	return *t.active, nil
}

// Stop finalizes the active trip immediately at the user's request, without
// waiting out the stationary window. Returns domain.ErrNoActiveTrip as a
// reportable no-op when nothing is being tracked.
func (t *Tracker) Stop(ctx context.Context) (domain.Trip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return domain.Trip{}, fmt.Errorf("tracker.Tracker.Stop: %w", domain.ErrNoActiveTrip)
	}

	trip, _, err := t.finalizeLocked(ctx)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("tracker.Tracker.Stop: %w", err)
	}
	// A sub-floor trip was discarded rather than saved; the caller still
	// gets the trip as computed, with the slot cleared either way.
	return trip, nil
}

// Current returns a copy of the active trip, if any.
func (t *Tracker) Current() (domain.ActiveTrip, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return domain.ActiveTrip{}, false
	}
	return *t.active, true
}

// startLocked creates the active trip from the first driving fix. The start
// address and default purpose are enriched asynchronously so neither a
// geocoding lookup nor a collaborator call ever blocks the sample path.
// manual suppresses purpose enrichment: an explicitly chosen purpose must
// not be overwritten by the user's default.
// Callers must hold t.mu.
func (t *Tracker) startLocked(s domain.GeoSample, manual bool) {
	trip := &domain.ActiveTrip{
		ID:            uuid.New(),
		UserID:        t.cfg.UserID,
		StartLocation: geocode.Coordinates(s.Latitude, s.Longitude),
		StartLat:      s.Latitude,
		StartLon:      s.Longitude,
		StartTime:     s.Timestamp,
		Purpose:       domain.PurposeBusiness,
		LastLat:       s.Latitude,
		LastLon:       s.Longitude,
		Points: []domain.LocationPoint{
			{Latitude: s.Latitude, Longitude: s.Longitude, Timestamp: s.Timestamp},
		},
	}
	t.active = trip
	t.drivingDetected = true
	t.stoppedSince = nil
	t.lastMovementAt = t.now()

	t.progress.save(*trip, t.now())
	if t.metrics != nil {
		t.metrics.TripStarted()
		t.metrics.SetTracking(true)
	}
	t.log.Info("trip started", "trip_id", trip.ID, "lat", s.Latitude, "lon", s.Longitude)

	go t.enrichStart(trip.ID, s.Latitude, s.Longitude, !manual)
}

// enrichStart fills in the reverse-geocoded start address and, for detected
// starts, the user's default purpose after the fact. Results apply only if
// the same trip is still active.
func (t *Tracker) enrichStart(id uuid.UUID, lat, lon float64, fillPurpose bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	addr := t.geocoder.ReverseGeocode(ctx, lat, lon)
	purpose := domain.PurposeBusiness
	if fillPurpose {
		p, err := t.purposes.DefaultPurpose(ctx, t.cfg.UserID)
		if err == nil && domain.ValidPurpose(p) {
			purpose = p
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil || t.active.ID != id {
		return
	}
	t.active.StartLocation = addr
	if fillPurpose {
		t.active.Purpose = purpose
	}
	t.progress.save(*t.active, t.now())
}

// accumulateLocked folds a fix into the trip's distance. Only movement past
// the noise floor counts; sub-floor jitter neither adds distance nor appends
// a point, so GPS noise cannot inflate a parked car into a trip.
// Callers must hold t.mu.
func (t *Tracker) accumulateLocked(s domain.GeoSample) {
	inc := geo.RawMiles(t.active.LastLat, t.active.LastLon, s.Latitude, s.Longitude)
	if inc < geo.NoiseFloorMiles {
		return
	}

	t.active.Distance += inc
	t.active.LastLat = s.Latitude
	t.active.LastLon = s.Longitude
	t.active.Points = append(t.active.Points, domain.LocationPoint{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Timestamp: s.Timestamp,
	})

	t.progress.save(*t.active, t.now())
}

// finalizeLocked converts the active trip into a completed one, returning it
// and whether it was saved. The ordering here is the system's central
// crash-safety invariant: the completed trip is durably saved BEFORE the
// active slot is cleared. A failed save leaves the slot (and its durable
// mirror) intact so nothing is ever silently lost.
// Callers must hold t.mu.
func (t *Tracker) finalizeLocked(ctx context.Context) (domain.Trip, bool, error) {
	now := t.now()
	endAddr := t.geocoder.ReverseGeocode(ctx, t.active.LastLat, t.active.LastLon)

	trip := t.completedFrom(*t.active, now)
	trip.EndLocation = endAddr

	if trip.Distance < t.cfg.MinTripMiles {
		// Below the save floor: discard, but still clear the slot.
		t.log.Info("discarding trip below minimum distance",
			"trip_id", trip.ID, "distance_miles", trip.Distance)
		t.clearLocked(ctx)
		return trip, false, nil
	}

	if err := saveTripWithRetry(ctx, t.store, trip, t.log); err != nil {
		return domain.Trip{}, false, fmt.Errorf("save completed trip: %w", err)
	}

	t.clearLocked(ctx)
	if t.metrics != nil {
		t.metrics.TripCompleted()
	}
	t.log.Info("trip saved", "trip_id", trip.ID, "distance_miles", trip.Distance)

	if t.notifier != nil {
		go t.notifier.TripCompleted(trip)
	}
	if t.onCompleted != nil {
		go t.onCompleted(trip)
	}
	return trip, true, nil
}

// clearLocked empties the active slot and its durable mirror.
// Callers must hold t.mu.
func (t *Tracker) clearLocked(ctx context.Context) {
	if err := t.store.ClearActiveTrip(ctx); err != nil {
		// The stale mirror row will be caught by orphan recovery on the
		// next startup; in-memory state is already consistent.
		t.log.Error("clearing active-trip mirror failed", "error", err)
	}
	t.active = nil
	t.stoppedSince = nil
	t.drivingDetected = false
	if t.metrics != nil {
		t.metrics.SetTracking(false)
	}
}

// completedFrom builds the immutable completed record from an active trip.
func (t *Tracker) completedFrom(active domain.ActiveTrip, end time.Time) domain.Trip {
	return domain.Trip{
		ID:            active.ID,
		UserID:        active.UserID,
		StartLocation: active.StartLocation,
		EndLocation:   geocode.Coordinates(active.LastLat, active.LastLon),
		StartLat:      active.StartLat,
		StartLon:      active.StartLon,
		EndLat:        active.LastLat,
		EndLon:        active.LastLon,
		Distance:      geo.Round2(active.Distance),
		StartTime:     active.StartTime,
		EndTime:       end,
		Purpose:       active.Purpose,
		Notes:         active.Notes,
		CreatedAt:     end,
		UpdatedAt:     end,
	}
}

// speedOf picks the sample's effective speed: the device-reported value when
// present, the position-derived fallback otherwise.
// Callers must hold t.mu.
func (t *Tracker) speedOf(s domain.GeoSample) float64 {
	if s.Speed != nil {
		return *s.Speed
	}
	if t.lastFix == nil {
		return 0
	}
	elapsed := s.Timestamp.Sub(t.lastFix.Timestamp).Milliseconds()
	miles := geo.RawMiles(t.lastFix.Latitude, t.lastFix.Longitude, s.Latitude, s.Longitude)
	return geo.MPH(miles, elapsed)
}

// validSample rejects fixes that cannot be real coordinates. Malformed
// samples are a logged no-op, never an error.
func validSample(s domain.GeoSample) bool {
	if s.Timestamp.IsZero() {
		return false
	}
	if math.IsNaN(s.Latitude) || math.IsNaN(s.Longitude) {
		return false
	}
	return s.Latitude >= -90 && s.Latitude <= 90 && s.Longitude >= -180 && s.Longitude <= 180
}
