package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// lastSyncKey is the sync_state entry recording the wall-clock time of the
// last fully successful sync cycle.
const lastSyncKey = "last_sync_time"

// GetSyncState retrieves a sync bookkeeping value by key.
// Returns an empty string when the key has never been set.
func (s *Store) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("localstore.Store.GetSyncState: %w", err)
	}
	return value, nil
}

// SetSyncState stores a sync bookkeeping value.
func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, msFromTime(time.Now()))
	if err != nil {
		return fmt.Errorf("localstore.Store.SetSyncState: %w", err)
	}
	return nil
}

// LastSyncTime returns the recorded time of the last successful sync cycle,
// or the zero time when no cycle has ever completed.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	v, err := s.GetSyncState(ctx, lastSyncKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("localstore.Store.LastSyncTime: parse %q: %w", v, err)
	}
	return t, nil
}

// SetLastSyncTime records the completion time of a successful sync cycle.
func (s *Store) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return s.SetSyncState(ctx, lastSyncKey, t.UTC().Format(time.RFC3339Nano))
}
