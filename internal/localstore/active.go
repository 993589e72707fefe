package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"milelog/internal/domain"
)

// SaveActiveTrip upserts the single-row mirror of the in-flight trip.
// Called after every accepted movement, so a crash loses at most one
// sample's worth of state. The upsert is idempotent and keyed by the fixed
// slot, not the trip id — a new trip simply overwrites the previous row.
func (s *Store) SaveActiveTrip(ctx context.Context, trip domain.ActiveTrip, at time.Time) error {
	points, err := json.Marshal(trip.Points)
	if err != nil {
		return fmt.Errorf("localstore.Store.SaveActiveTrip: marshal points: %w", err)
	}

	const q = `
		INSERT INTO active_trip (slot, id, user_id, start_location,
			start_lat, start_lon, start_time, purpose, notes,
			distance, last_lat, last_lon, points, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			id             = excluded.id,
			user_id        = excluded.user_id,
			start_location = excluded.start_location,
			start_lat      = excluded.start_lat,
			start_lon      = excluded.start_lon,
			start_time     = excluded.start_time,
			purpose        = excluded.purpose,
			notes          = excluded.notes,
			distance       = excluded.distance,
			last_lat       = excluded.last_lat,
			last_lon       = excluded.last_lon,
			points         = excluded.points,
			updated_at     = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		trip.ID.String(), trip.UserID, trip.StartLocation,
		trip.StartLat, trip.StartLon, msFromTime(trip.StartTime),
		string(trip.Purpose), trip.Notes,
		trip.Distance, trip.LastLat, trip.LastLon, string(points), msFromTime(at))
	if err != nil {
		return fmt.Errorf("localstore.Store.SaveActiveTrip: %w", err)
	}
	return nil
}

// GetActiveTrip loads the mirrored in-flight trip and the time it was last
// written. Returns domain.ErrNotFound when no trip is in flight.
func (s *Store) GetActiveTrip(ctx context.Context) (domain.ActiveTrip, time.Time, error) {
	const q = `
		SELECT id, user_id, start_location, start_lat, start_lon, start_time,
			purpose, notes, distance, last_lat, last_lon, points, updated_at
		FROM active_trip WHERE slot = 1`

	var (
		trip             domain.ActiveTrip
		id, purpose, pts string
		startMS, updMS   int64
	)
	err := s.db.QueryRowContext(ctx, q).Scan(&id, &trip.UserID, &trip.StartLocation,
		&trip.StartLat, &trip.StartLon, &startMS, &purpose, &trip.Notes,
		&trip.Distance, &trip.LastLat, &trip.LastLon, &pts, &updMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ActiveTrip{}, time.Time{}, domain.ErrNotFound
		}
		return domain.ActiveTrip{}, time.Time{}, fmt.Errorf("localstore.Store.GetActiveTrip: %w", err)
	}

	trip.ID, err = uuid.Parse(id)
	if err != nil {
		return domain.ActiveTrip{}, time.Time{}, fmt.Errorf("localstore.Store.GetActiveTrip: parse id %q: %w", id, err)
	}
	trip.Purpose = domain.Purpose(purpose)
	trip.StartTime = timeFromMS(startMS)
	if err := json.Unmarshal([]byte(pts), &trip.Points); err != nil {
		return domain.ActiveTrip{}, time.Time{}, fmt.Errorf("localstore.Store.GetActiveTrip: unmarshal points: %w", err)
	}
	return trip, timeFromMS(updMS), nil
}

// ClearActiveTrip removes the mirror row. Clearing an already-empty slot is
// not an error — the clear path must be idempotent for crash recovery.
func (s *Store) ClearActiveTrip(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM active_trip WHERE slot = 1`); err != nil {
		return fmt.Errorf("localstore.Store.ClearActiveTrip: %w", err)
	}
	return nil
}
