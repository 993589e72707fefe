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

// Enqueue appends a remote-store operation to the offline queue with zero
// attempts. The trip is snapshotted as JSON so later edits to the live row
// cannot change what the queued operation will send.
func (s *Store) Enqueue(ctx context.Context, opType domain.OperationType, trip domain.Trip) (domain.QueuedOperation, error) {
	op := domain.QueuedOperation{
		ID:        uuid.New(),
		Type:      opType,
		Trip:      trip,
		CreatedAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(trip)
	if err != nil {
		return domain.QueuedOperation{}, fmt.Errorf("localstore.Store.Enqueue: marshal trip: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, op_type, trip_json, attempts, created_at)
		VALUES (?, ?, ?, 0, ?)`,
		op.ID.String(), string(op.Type), string(payload), msFromTime(op.CreatedAt))
	if err != nil {
		return domain.QueuedOperation{}, fmt.Errorf("localstore.Store.Enqueue: %w", err)
	}
	return op, nil
}

// DequeueAll returns every queued operation in insertion order. The queue is
// a flat list, not a priority structure; callers decide per-operation
// eligibility (backoff, attempt ceiling).
func (s *Store) DequeueAll(ctx context.Context) ([]domain.QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op_type, trip_json, attempts, last_attempt_at, last_error, created_at
		FROM sync_queue ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("localstore.Store.DequeueAll: %w", err)
	}
	defer rows.Close()

	ops := []domain.QueuedOperation{}
	for rows.Next() {
		var (
			op            domain.QueuedOperation
			id, opType    string
			tripJSON      string
			lastAttemptMS sql.NullInt64
			createdMS     int64
		)
		if err := rows.Scan(&id, &opType, &tripJSON, &op.Attempts,
			&lastAttemptMS, &op.LastError, &createdMS); err != nil {
			return nil, fmt.Errorf("localstore.Store.DequeueAll: scan: %w", err)
		}

		op.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("localstore.Store.DequeueAll: parse id %q: %w", id, err)
		}
		op.Type = domain.OperationType(opType)
		op.CreatedAt = timeFromMS(createdMS)
		if lastAttemptMS.Valid {
			at := timeFromMS(lastAttemptMS.Int64)
			op.LastAttemptAt = &at
		}
		if err := json.Unmarshal([]byte(tripJSON), &op.Trip); err != nil {
			return nil, fmt.Errorf("localstore.Store.DequeueAll: unmarshal trip: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("localstore.Store.DequeueAll: rows: %w", err)
	}
	return ops, nil
}

// RecordAttempt increments an operation's attempt counter and stores the
// attempt time and failure message for backoff and status reporting.
func (s *Store) RecordAttempt(ctx context.Context, id uuid.UUID, at time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET attempts = attempts + 1, last_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		msFromTime(at), lastError, id.String())
	if err != nil {
		return fmt.Errorf("localstore.Store.RecordAttempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("localstore.Store.RecordAttempt: %w", domain.ErrNotFound)
	}
	return nil
}

// RemoveOperation deletes an operation from the queue, either because it
// succeeded or because its error is non-retryable.
func (s *Store) RemoveOperation(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("localstore.Store.RemoveOperation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("localstore.Store.RemoveOperation: %w", domain.ErrNotFound)
	}
	return nil
}

// QueueStatus reports queue totals given the retry ceiling. Operations at or
// over the ceiling count as failed but stay in the queue — they are never
// auto-removed, only surfaced.
func (s *Store) QueueStatus(ctx context.Context, maxAttempts int) (domain.QueueStatus, error) {
	var st domain.QueueStatus
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN attempts < ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN attempts >= ? THEN 1 ELSE 0 END), 0)
		FROM sync_queue`, maxAttempts, maxAttempts).
		Scan(&st.Total, &st.Pending, &st.Failed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.QueueStatus{}, fmt.Errorf("localstore.Store.QueueStatus: %w", err)
	}
	return st, nil
}
