// Package remotestore is the pgx-backed client for the authoritative cloud
// trip store. The syncer depends on the interface it defines locally, not on
// this implementation, so sync logic is unit-testable without Postgres.
// No business logic lives here — only SQL and type mapping.
package remotestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"milelog/internal/domain"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and
// pgx.Tx. Accepting this interface instead of *pgxpool.Pool directly allows
// integration tests to pass a transaction that is rolled back after each
// test, giving free per-test isolation without any manual cleanup.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres implementation of the remote trip store.
type Store struct {
	db db
}

// New constructs a Store backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func New(db db) *Store {
	return &Store{db: db}
}

// Match is the result of a time-window lookup: the remote record's identity
// and last-modification time, which drive last-write-wins reconciliation.
type Match struct {
	ID        uuid.UUID
	UpdatedAt time.Time
}

// FindByTimeWindow looks up a non-deleted remote trip by its exact
// (start_time, end_time) window — the natural idempotency key when local and
// remote ids were assigned independently. The bool reports whether a match
// exists.
func (s *Store) FindByTimeWindow(ctx context.Context, userID string, start, end time.Time) (Match, bool, error) {
	const q = `
		SELECT id, updated_at
		FROM trips
		WHERE user_id = @user_id AND start_time = @start_time AND end_time = @end_time
		  AND is_deleted = FALSE`

	var (
		id pgtype.UUID
		m  Match
	)
	err := s.db.QueryRow(ctx, q, pgx.NamedArgs{
		"user_id":    userID,
		"start_time": start,
		"end_time":   end,
	}).Scan(&id, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Match{}, false, nil
		}
		return Match{}, false, fmt.Errorf("remotestore.Store.FindByTimeWindow: %w", err)
	}
	m.ID = uuid.UUID(id.Bytes)
	return m, true, nil
}

// Insert creates a new remote trip record. updated_at is taken from the
// local trip rather than now() so last-write-wins comparisons stay exact
// across devices.
func (s *Store) Insert(ctx context.Context, trip domain.Trip) error {
	const q = `
		INSERT INTO trips (id, user_id, start_location, end_location,
			start_lat, start_lon, end_lat, end_lon, distance,
			start_time, end_time, purpose, notes, updated_at)
		VALUES (@id, @user_id, @start_location, @end_location,
			@start_lat, @start_lon, @end_lat, @end_lon, @distance,
			@start_time, @end_time, @purpose, @notes, @updated_at)`

	if _, err := s.db.Exec(ctx, q, tripArgs(trip)); err != nil {
		return fmt.Errorf("remotestore.Store.Insert: %w", err)
	}
	return nil
}

// Update overwrites the remote record identified by id with the local trip's
// fields. Returns domain.ErrNotFound when no such record exists.
func (s *Store) Update(ctx context.Context, id uuid.UUID, trip domain.Trip) error {
	const q = `
		UPDATE trips
		SET start_location = @start_location,
		    end_location   = @end_location,
		    start_lat      = @start_lat,
		    start_lon      = @start_lon,
		    end_lat        = @end_lat,
		    end_lon        = @end_lon,
		    distance       = @distance,
		    start_time     = @start_time,
		    end_time       = @end_time,
		    purpose        = @purpose,
		    notes          = @notes,
		    updated_at     = @updated_at
		WHERE id = @target_id AND is_deleted = FALSE`

	args := tripArgs(trip)
	args["target_id"] = id

	tag, err := s.db.Exec(ctx, q, args)
	if err != nil {
		return fmt.Errorf("remotestore.Store.Update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("remotestore.Store.Update: %w", domain.ErrNotFound)
	}
	return nil
}

// SoftDelete marks a remote record deleted without removing the row, so a
// delete racing a slow upload cannot resurrect the trip. Deleting an
// already-deleted record is a no-op, keeping the queue drain idempotent.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	const q = `
		UPDATE trips
		SET is_deleted = TRUE, deleted_at = now(), updated_at = now()
		WHERE id = @id AND is_deleted = FALSE`

	if _, err := s.db.Exec(ctx, q, pgx.NamedArgs{"id": id}); err != nil {
		return fmt.Errorf("remotestore.Store.SoftDelete: %w", err)
	}
	return nil
}

// ListActive returns all non-deleted remote trips for a user, oldest first.
// This is the authoritative read path used to repopulate a fresh local store.
func (s *Store) ListActive(ctx context.Context, userID string) ([]domain.Trip, error) {
	const q = `
		SELECT id, user_id, start_location, end_location,
			start_lat, start_lon, end_lat, end_lon, distance,
			start_time, end_time, purpose, notes, created_at, updated_at
		FROM trips
		WHERE user_id = @user_id AND is_deleted = FALSE
		ORDER BY start_time ASC`

	rows, err := s.db.Query(ctx, q, pgx.NamedArgs{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("remotestore.Store.ListActive: %w", err)
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("remotestore.Store.ListActive: scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("remotestore.Store.ListActive: rows: %w", err)
	}
	return trips, nil
}

// tripArgs maps a domain.Trip onto the named arguments shared by Insert and
// Update.
func tripArgs(trip domain.Trip) pgx.NamedArgs {
	return pgx.NamedArgs{
		"id":             trip.ID,
		"user_id":        trip.UserID,
		"start_location": trip.StartLocation,
		"end_location":   trip.EndLocation,
		"start_lat":      trip.StartLat,
		"start_lon":      trip.StartLon,
		"end_lat":        trip.EndLat,
		"end_lon":        trip.EndLon,
		"distance":       trip.Distance,
		"start_time":     trip.StartTime,
		"end_time":       trip.EndTime,
		"purpose":        string(trip.Purpose),
		"notes":          trip.Notes,
		"updated_at":     trip.UpdatedAt,
	}
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps a single remote row into a domain.Trip.
func scanTrip(sc scanner) (domain.Trip, error) {
	var (
		t       domain.Trip
		id      pgtype.UUID
		purpose string
	)
	err := sc.Scan(&id, &t.UserID, &t.StartLocation, &t.EndLocation,
		&t.StartLat, &t.StartLon, &t.EndLat, &t.EndLon, &t.Distance,
		&t.StartTime, &t.EndTime, &purpose, &t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}
	t.ID = uuid.UUID(id.Bytes)
	t.Purpose = domain.Purpose(purpose)
	return t, nil
}
