package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"milelog/internal/domain"
)

// UpsertTrip inserts or replaces a completed trip keyed by id. Upsert rather
// than insert makes the save path idempotent: retrying after a partial
// failure can never produce a duplicate row.
func (s *Store) UpsertTrip(ctx context.Context, trip domain.Trip) error {
	const q = `
		INSERT INTO trips (id, user_id, start_location, end_location,
			start_lat, start_lon, end_lat, end_lon, distance,
			start_time, end_time, purpose, notes, synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			end_location = excluded.end_location,
			distance     = excluded.distance,
			end_time     = excluded.end_time,
			purpose      = excluded.purpose,
			notes        = excluded.notes,
			synced_at    = excluded.synced_at,
			updated_at   = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, q,
		trip.ID.String(), trip.UserID, trip.StartLocation, trip.EndLocation,
		trip.StartLat, trip.StartLon, trip.EndLat, trip.EndLon, trip.Distance,
		msFromTime(trip.StartTime), msFromTime(trip.EndTime),
		string(trip.Purpose), trip.Notes, nullMS(trip.SyncedAt),
		msFromTime(trip.CreatedAt), msFromTime(trip.UpdatedAt))
	if err != nil {
		return fmt.Errorf("localstore.Store.UpsertTrip: %w", err)
	}
	return nil
}

// GetTrip retrieves a single trip by id.
// Returns domain.ErrNotFound if no trip with that id exists.
func (s *Store) GetTrip(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	row := s.db.QueryRowContext(ctx, selectTrip+` WHERE id = ?`, id.String())
	trip, err := scanTrip(row)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("localstore.Store.GetTrip: %w", err)
	}
	return trip, nil
}

// ListByUser returns one page of a user's trips, most recent first, together
// with the total count for pagination.
func (s *Store) ListByUser(ctx context.Context, userID string, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trips WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("localstore.Store.ListByUser: count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		selectTrip+` WHERE user_id = ? ORDER BY start_time DESC LIMIT ? OFFSET ?`,
		userID, p.Limit, p.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("localstore.Store.ListByUser: %w", err)
	}
	defer rows.Close()

	trips, err := collectTrips(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("localstore.Store.ListByUser: %w", err)
	}
	return trips, total, nil
}

// ListUnsynced returns a user's trips that have never been uploaded or have
// changed since their last upload, oldest first so retries drain in order.
func (s *Store) ListUnsynced(ctx context.Context, userID string) ([]domain.Trip, error) {
	rows, err := s.db.QueryContext(ctx,
		selectTrip+` WHERE user_id = ? AND (synced_at IS NULL OR updated_at > synced_at)
		ORDER BY start_time ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.ListUnsynced: %w", err)
	}
	defer rows.Close()

	trips, err := collectTrips(rows)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.ListUnsynced: %w", err)
	}
	return trips, nil
}

// MarkSynced records a successful reconciliation with the remote store.
func (s *Store) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trips SET synced_at = ? WHERE id = ?`, msFromTime(at), id.String())
	if err != nil {
		return fmt.Errorf("localstore.Store.MarkSynced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("localstore.Store.MarkSynced: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdateDetails changes the user-editable fields of a completed trip —
// purpose and notes. Everything else is immutable once saved.
// Returns domain.ErrNotFound if no trip with that id exists.
func (s *Store) UpdateDetails(ctx context.Context, id uuid.UUID, purpose domain.Purpose, notes string) (domain.Trip, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trips SET purpose = ?, notes = ?, updated_at = ? WHERE id = ?`,
		string(purpose), notes, msFromTime(time.Now()), id.String())
	if err != nil {
		return domain.Trip{}, fmt.Errorf("localstore.Store.UpdateDetails: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Trip{}, fmt.Errorf("localstore.Store.UpdateDetails: %w", domain.ErrNotFound)
	}
	return s.GetTrip(ctx, id)
}

// DeleteTrip removes a trip from the local store.
// Returns domain.ErrNotFound if it does not exist.
func (s *Store) DeleteTrip(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("localstore.Store.DeleteTrip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("localstore.Store.DeleteTrip: %w", domain.ErrNotFound)
	}
	return nil
}

// StatsByPurpose aggregates a user's trips into per-purpose totals, optionally
// restricted to trips starting within [from, to). Zero times disable the
// corresponding bound.
func (s *Store) StatsByPurpose(ctx context.Context, userID string, from, to time.Time) ([]domain.PurposeStats, error) {
	q := `SELECT purpose, COUNT(*), COALESCE(SUM(distance), 0)
		FROM trips WHERE user_id = ?`
	args := []any{userID}
	if !from.IsZero() {
		q += ` AND start_time >= ?`
		args = append(args, msFromTime(from))
	}
	if !to.IsZero() {
		q += ` AND start_time < ?`
		args = append(args, msFromTime(to))
	}
	q += ` GROUP BY purpose ORDER BY purpose`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.StatsByPurpose: %w", err)
	}
	defer rows.Close()

	var stats []domain.PurposeStats
	for rows.Next() {
		var st domain.PurposeStats
		var purpose string
		if err := rows.Scan(&purpose, &st.Trips, &st.Miles); err != nil {
			return nil, fmt.Errorf("localstore.Store.StatsByPurpose: scan: %w", err)
		}
		st.Purpose = domain.Purpose(purpose)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore.Store.StatsByPurpose: rows: %w", err)
	}
	return stats, nil
}

const selectTrip = `
	SELECT id, user_id, start_location, end_location,
		start_lat, start_lon, end_lat, end_lon, distance,
		start_time, end_time, purpose, notes, synced_at, created_at, updated_at
	FROM trips`

// scanner is satisfied by both *sql.Row and *sql.Rows, allowing scanTrip to
// be reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps a single database row into a domain.Trip, converting the
// millisecond timestamp columns and the text UUID.
func scanTrip(sc scanner) (domain.Trip, error) {
	var (
		t                               domain.Trip
		id, purpose                     string
		startMS, endMS, createdMS, updMS int64
		syncedMS                        sql.NullInt64
	)

	err := sc.Scan(&id, &t.UserID, &t.StartLocation, &t.EndLocation,
		&t.StartLat, &t.StartLon, &t.EndLat, &t.EndLon, &t.Distance,
		&startMS, &endMS, &purpose, &t.Notes, &syncedMS, &createdMS, &updMS)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	t.ID, err = uuid.Parse(id)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("parse trip id %q: %w", id, err)
	}
	t.Purpose = domain.Purpose(purpose)
	t.StartTime = timeFromMS(startMS)
	t.EndTime = timeFromMS(endMS)
	t.CreatedAt = timeFromMS(createdMS)
	t.UpdatedAt = timeFromMS(updMS)
	if syncedMS.Valid {
		at := timeFromMS(syncedMS.Int64)
		t.SyncedAt = &at
	}
	return t, nil
}

// collectTrips drains rows into a slice, always returning a non-nil slice so
// callers can safely range over it.
func collectTrips(rows *sql.Rows) ([]domain.Trip, error) {
	trips := []domain.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return trips, nil
}

// nullMS converts an optional time to a nullable millisecond column value.
func nullMS(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: msFromTime(*t), Valid: true}
}
