package tracker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"milelog/internal/domain"
	"milelog/internal/tracker"
)

// ---- fakes -----------------------------------------------------------------

// memStore is an in-memory tracker.Store with injectable failures.
type memStore struct {
	mu        sync.Mutex
	active    *domain.ActiveTrip
	activeAt  time.Time
	trips     map[uuid.UUID]domain.Trip
	upsertErr error
	getErr    error
}

func newMemStore() *memStore {
	return &memStore{trips: map[uuid.UUID]domain.Trip{}}
}

func (m *memStore) SaveActiveTrip(_ context.Context, trip domain.ActiveTrip, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := trip
	m.active = &t
	m.activeAt = at
	return nil
}

func (m *memStore) GetActiveTrip(context.Context) (domain.ActiveTrip, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.ActiveTrip{}, time.Time{}, m.getErr
	}
	if m.active == nil {
		return domain.ActiveTrip{}, time.Time{}, domain.ErrNotFound
	}
	return *m.active, m.activeAt, nil
}

func (m *memStore) ClearActiveTrip(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
	return nil
}

func (m *memStore) UpsertTrip(_ context.Context, trip domain.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.trips[trip.ID] = trip
	return nil
}

func (m *memStore) savedTrips() []domain.Trip {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Trip, 0, len(m.trips))
	for _, t := range m.trips {
		out = append(out, t)
	}
	return out
}

var _ tracker.Store = (*memStore)(nil)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ---- helpers ---------------------------------------------------------------

func testConfig() tracker.Config {
	return tracker.Config{
		UserID:             "local",
		DrivingSpeedMPH:    5,
		StationaryDuration: 3 * time.Minute,
	}
}

func newTestTracker(t *testing.T, cfg tracker.Config, store tracker.Store) (*tracker.Tracker, *fakeClock) {
	t.Helper()
	log := slog.New(slog.DiscardHandler)
	tr := tracker.New(cfg, store, nil, nil, nil, nil, log)
	clk := &fakeClock{t: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
	tr.SetClock(clk.now)
	return tr, clk
}

func mph(v float64) *float64 { return &v }

// sampleAt builds a sample with a device-reported speed at the clock's time.
func sampleAt(clk *fakeClock, lat, lon, speed float64) domain.GeoSample {
	return domain.GeoSample{Latitude: lat, Longitude: lon, Speed: mph(speed), Timestamp: clk.now()}
}

// ---- detection -------------------------------------------------------------

func TestTracker_SlowSamplesStayIdle(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 2))
	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 4.9))

	_, active := tr.Current()
	assert.False(t, active)
}

func TestTracker_DrivingSampleStartsTrip(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)

	tr.ProcessSample(context.Background(), sampleAt(clk, 37.0, -122.0, 6))

	got, active := tr.Current()
	require.True(t, active)
	assert.Equal(t, 37.0, got.StartLat)
	assert.Equal(t, -122.0, got.StartLon)
	assert.Equal(t, 0.0, got.Distance)
	assert.Len(t, got.Points, 1)
	assert.NotEqual(t, uuid.Nil, got.ID)
}

func TestTracker_StartIsIdempotent(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 6))
	first, _ := tr.Current()

	// Rapid driving samples must never create a second trip.
	for i := 0; i < 5; i++ {
		tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 30))
	}

	got, active := tr.Current()
	require.True(t, active)
	assert.Equal(t, first.ID, got.ID)
}

func TestTracker_DistanceAccumulatesPastNoiseFloor(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.00, -122.0, 6))
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 7)) // ~0.69 mi
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.02, -122.0, 8)) // ~0.69 mi

	got, _ := tr.Current()
	assert.InDelta(t, 1.38, got.Distance, 0.02)
	assert.Len(t, got.Points, 3)
}

func TestTracker_JitterBelowNoiseFloorDiscarded(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 6))
	before, _ := tr.Current()

	// ~0.00001 degrees is around a meter — pure GPS noise.
	tr.ProcessSample(ctx, sampleAt(clk, 37.00001, -122.0, 6))

	after, _ := tr.Current()
	assert.Equal(t, before.Distance, after.Distance)
	assert.Len(t, after.Points, 1)
}

func TestTracker_DistanceIsMonotonic(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 6))
	prev := 0.0
	coords := []float64{37.01, 37.02, 37.015, 37.02, 37.02}
	for _, lat := range coords {
		clk.advance(15 * time.Second)
		tr.ProcessSample(ctx, sampleAt(clk, lat, -122.0, 10))
		got, _ := tr.Current()
		assert.GreaterOrEqual(t, got.Distance, prev)
		prev = got.Distance
	}
}

func TestTracker_DerivedSpeedUsedWithoutDeviceSpeed(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	// First fix establishes a position; no speed can be derived yet.
	tr.ProcessSample(ctx, domain.GeoSample{Latitude: 37.0, Longitude: -122.0, Timestamp: clk.now()})
	_, active := tr.Current()
	assert.False(t, active)

	// ~0.69 miles in one minute is ~41 mph — well past the threshold.
	clk.advance(time.Minute)
	tr.ProcessSample(ctx, domain.GeoSample{Latitude: 37.01, Longitude: -122.0, Timestamp: clk.now()})

	_, active = tr.Current()
	assert.True(t, active)
}

func TestTracker_MalformedSamplesIgnored(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, domain.GeoSample{Latitude: 91, Longitude: 0, Speed: mph(50), Timestamp: clk.now()})
	tr.ProcessSample(ctx, domain.GeoSample{Latitude: 0, Longitude: -190, Speed: mph(50), Timestamp: clk.now()})
	tr.ProcessSample(ctx, domain.GeoSample{Latitude: 37, Longitude: -122, Speed: mph(50)}) // zero timestamp

	_, active := tr.Current()
	assert.False(t, active, "malformed samples must not start a trip")
}

// ---- completion ------------------------------------------------------------

func TestTracker_StationaryWindowCompletesTrip(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.00, -122.0, 6))
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 8))

	// Dropping below the threshold starts the stationary window but must
	// NOT end the trip.
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 1))
	_, active := tr.Current()
	require.True(t, active, "trip must survive until the stationary window elapses")

	// Still inside the window.
	clk.advance(2 * time.Minute)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 0))
	_, active = tr.Current()
	require.True(t, active)

	// Window elapsed: the next sample completes the trip exactly once.
	clk.advance(time.Minute + time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 0))

	_, active = tr.Current()
	assert.False(t, active)
	require.Len(t, store.savedTrips(), 1)

	saved := store.savedTrips()[0]
	assert.InDelta(t, 0.69, saved.Distance, 0.02)
	assert.True(t, saved.EndTime.Equal(clk.now()))
	assert.False(t, saved.EndTime.Before(saved.StartTime))
}

func TestTracker_MovementResetsStationaryWindow(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.00, -122.0, 6))
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.00, -122.0, 1)) // stopped at a light

	// Moving again before the window elapses resets it.
	clk.advance(2 * time.Minute)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 20))

	// Another 2.5 minutes stopped — measured from the new stop, not the
	// first one, so the trip is still alive.
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 0))
	clk.advance(2 * time.Minute)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 0))

	_, active := tr.Current()
	assert.True(t, active)
	assert.Empty(t, store.savedTrips())
}

// TestTracker_ExampleScenario drives the canonical sample stream:
// [2, 2, 6, 7, 8, 1, 0, …3min…, 0] from Idle. The trip is created at the
// 6 mph sample, accumulates over the driving samples, and completes at the
// final sample after the stationary window elapses.
func TestTracker_ExampleScenario(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	step := func(lat, speed float64) {
		tr.ProcessSample(ctx, sampleAt(clk, lat, -122.0, speed))
		clk.advance(30 * time.Second)
	}

	step(37.000, 2)
	step(37.000, 2)
	_, active := tr.Current()
	require.False(t, active)

	step(37.000, 6) // trip created here
	step(37.010, 7)
	step(37.020, 8)
	got, active := tr.Current()
	require.True(t, active)
	tripID := got.ID

	step(37.020, 1) // stationary window opens
	step(37.020, 0)
	clk.advance(3 * time.Minute)
	step(37.020, 0) // window elapsed: completes

	_, active = tr.Current()
	assert.False(t, active)
	require.Len(t, store.savedTrips(), 1)

	saved := store.savedTrips()[0]
	assert.Equal(t, tripID, saved.ID)
	assert.InDelta(t, 1.38, saved.Distance, 0.02, "distance from the driving samples only")
}

func TestTracker_FailedSaveKeepsActiveTrip(t *testing.T) {
	store := newMemStore()
	store.upsertErr = errors.New("disk full")
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	tr.ProcessSample(ctx, sampleAt(clk, 37.00, -122.0, 6))
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 8))
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 0))
	clk.advance(4 * time.Minute)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 0))

	// The save failed, so nothing was cleared: the trip is recoverable,
	// never silently lost.
	got, active := tr.Current()
	require.True(t, active, "failed save must keep the active trip intact")
	assert.Greater(t, got.Distance, 0.0)
	assert.Empty(t, store.savedTrips())

	// Once the store heals, the next qualifying sample completes the trip.
	store.mu.Lock()
	store.upsertErr = nil
	store.mu.Unlock()
	clk.advance(time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.01, -122.0, 0))

	_, active = tr.Current()
	assert.False(t, active)
	assert.Len(t, store.savedTrips(), 1)
}

func TestTracker_MinDistanceDiscardsButClearsSlot(t *testing.T) {
	cfg := testConfig()
	cfg.MinTripMiles = 0.5
	store := newMemStore()
	tr, clk := newTestTracker(t, cfg, store)
	ctx := context.Background()

	// A trip that never moves past the noise floor.
	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 6))
	clk.advance(30 * time.Second)
	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 0))
	clk.advance(4 * time.Minute)
	tr.ProcessSample(ctx, sampleAt(clk, 37.0, -122.0, 0))

	_, active := tr.Current()
	assert.False(t, active, "discarded trip must still clear the slot")
	assert.Empty(t, store.savedTrips(), "sub-floor trip is not saved")
}

// ---- manual control --------------------------------------------------------

func TestTracker_ManualStartStop_RoundTrip(t *testing.T) {
	store := newMemStore()
	tr, clk := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	started, err := tr.Start(ctx, tracker.StartRequest{
		Latitude:  40.0,
		Longitude: -105.0,
		Purpose:   domain.PurposeMedical,
		Notes:     "pharmacy run",
	})
	require.NoError(t, err)

	clk.advance(10 * time.Minute)
	stopped, err := tr.Stop(ctx)
	require.NoError(t, err)

	assert.Equal(t, started.ID, stopped.ID)
	assert.Equal(t, 40.0, stopped.StartLat)
	assert.Equal(t, -105.0, stopped.StartLon)
	assert.Equal(t, domain.PurposeMedical, stopped.Purpose)
	assert.Equal(t, "pharmacy run", stopped.Notes)
	assert.True(t, stopped.StartTime.Equal(started.StartTime))

	require.Len(t, store.savedTrips(), 1)
	saved := store.savedTrips()[0]
	assert.Equal(t, started.ID, saved.ID)
	assert.Equal(t, domain.PurposeMedical, saved.Purpose)
}

func TestTracker_ManualStart_RejectsSecondTrip(t *testing.T) {
	store := newMemStore()
	tr, _ := newTestTracker(t, testConfig(), store)
	ctx := context.Background()

	_, err := tr.Start(ctx, tracker.StartRequest{Latitude: 40, Longitude: -105})
	require.NoError(t, err)

	_, err = tr.Start(ctx, tracker.StartRequest{Latitude: 41, Longitude: -105})
	assert.ErrorIs(t, err, domain.ErrTripInProgress)
}

func TestTracker_ManualStart_RejectsUnknownPurpose(t *testing.T) {
	store := newMemStore()
	tr, _ := newTestTracker(t, testConfig(), store)

	_, err := tr.Start(context.Background(), tracker.StartRequest{Purpose: "commute"})

	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestTracker_StopWithoutTrip_IsReportableNoOp(t *testing.T) {
	store := newMemStore()
	tr, _ := newTestTracker(t, testConfig(), store)

	_, err := tr.Stop(context.Background())

	assert.ErrorIs(t, err, domain.ErrNoActiveTrip)
}

// ---- recovery --------------------------------------------------------------

func TestTracker_Recover_NothingMirrored(t *testing.T) {
	store := newMemStore()
	tr, _ := newTestTracker(t, testConfig(), store)

	require.NoError(t, tr.RecoverOnStartup(context.Background(), false))

	_, active := tr.Current()
	assert.False(t, active)
	_, pending := tr.Orphan()
	assert.False(t, pending)
}

func TestTracker_Recover_ResumesWithFeedRunning(t *testing.T) {
	store := newMemStore()
	mirrored := domain.ActiveTrip{ID: uuid.New(), UserID: "local", Distance: 2.5, LastLat: 37.01, LastLon: -122}
	require.NoError(t, store.SaveActiveTrip(context.Background(), mirrored, time.Now()))

	tr, _ := newTestTracker(t, testConfig(), store)
	require.NoError(t, tr.RecoverOnStartup(context.Background(), true))

	got, active := tr.Current()
	require.True(t, active)
	assert.Equal(t, mirrored.ID, got.ID)
	assert.Equal(t, 2.5, got.Distance)
}

func TestTracker_Recover_OrphanWithoutFeed(t *testing.T) {
	store := newMemStore()
	mirrored := domain.ActiveTrip{ID: uuid.New(), UserID: "local", Distance: 2.5}
	savedAt := time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveActiveTrip(context.Background(), mirrored, savedAt))

	// The test clock starts at 08:00, two hours after the mirror write.
	tr, _ := newTestTracker(t, testConfig(), store)
	require.NoError(t, tr.RecoverOnStartup(context.Background(), false))

	// Not resumed...
	_, active := tr.Current()
	assert.False(t, active)

	// ...but surfaced with its age, flagged after the one-hour grace window.
	report, pending := tr.Orphan()
	require.True(t, pending)
	assert.Equal(t, mirrored.ID, report.Trip.ID)
	assert.Equal(t, 2*time.Hour, report.Age)
	assert.True(t, report.NeedsAttention)

	// The mirror row is untouched — orphans are never silently deleted.
	_, _, err := store.GetActiveTrip(context.Background())
	assert.NoError(t, err)
}

func TestTracker_ResolveOrphan_Save(t *testing.T) {
	store := newMemStore()
	mirrored := domain.ActiveTrip{
		ID: uuid.New(), UserID: "local", Distance: 3.213,
		StartTime: time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC),
		LastLat:   37.02, LastLon: -122,
	}
	savedAt := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)
	require.NoError(t, store.SaveActiveTrip(context.Background(), mirrored, savedAt))

	tr, _ := newTestTracker(t, testConfig(), store)
	require.NoError(t, tr.RecoverOnStartup(context.Background(), false))

	trip, err := tr.ResolveOrphan(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, mirrored.ID, trip.ID)
	assert.True(t, trip.EndTime.Equal(savedAt), "orphan ends at the mirror's last write")
	assert.Equal(t, 3.21, trip.Distance)

	require.Len(t, store.savedTrips(), 1)
	_, _, err = store.GetActiveTrip(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound, "mirror cleared after save")

	_, pending := tr.Orphan()
	assert.False(t, pending)
}

func TestTracker_ResolveOrphan_Discard(t *testing.T) {
	store := newMemStore()
	mirrored := domain.ActiveTrip{ID: uuid.New(), UserID: "local", Distance: 0.2}
	require.NoError(t, store.SaveActiveTrip(context.Background(), mirrored, time.Now()))

	tr, _ := newTestTracker(t, testConfig(), store)
	require.NoError(t, tr.RecoverOnStartup(context.Background(), false))

	_, err := tr.ResolveOrphan(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, store.savedTrips())
	_, _, err = store.GetActiveTrip(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTracker_ResolveOrphan_NonePending(t *testing.T) {
	store := newMemStore()
	tr, _ := newTestTracker(t, testConfig(), store)

	_, err := tr.ResolveOrphan(context.Background(), true)

	assert.ErrorIs(t, err, domain.ErrNoActiveTrip)
}
