package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies what a queued operation should do against the
// remote store when it is retried.
type OperationType string

const (
	// OpUpload reconciles a local trip with the remote store: update the
	// matching remote record if one exists, insert otherwise.
	OpUpload OperationType = "upload"
	// OpCreate inserts a new remote record unconditionally.
	OpCreate OperationType = "create"
	// OpDelete soft-deletes the remote record for the trip.
	OpDelete OperationType = "delete"
)

// QueuedOperation is one pending remote-store call that previously failed
// with a retryable error. Operations are durable and processed strictly in
// insertion order.
type QueuedOperation struct {
	ID            uuid.UUID     `json:"id"`
	Type          OperationType `json:"type"`
	Trip          Trip          `json:"trip"`
	Attempts      int           `json:"attempts"`
	LastAttemptAt *time.Time    `json:"last_attempt_at,omitempty"`
	LastError     string        `json:"last_error,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// QueueStatus summarises the offline operation queue. Pending counts
// operations still under the retry ceiling; Failed counts operations that
// exhausted it and now need attention. Failed operations are retained, never
// auto-removed.
type QueueStatus struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// ErrorCategory classifies a remote-store failure for retry policy purposes.
type ErrorCategory string

const (
	ErrorNetwork    ErrorCategory = "network"    // connectivity/timeout
	ErrorServer     ErrorCategory = "server"     // remote-side fault
	ErrorValidation ErrorCategory = "validation" // bad payload, will never succeed
	ErrorAuth       ErrorCategory = "auth"       // expired/invalid credentials
	ErrorUnknown    ErrorCategory = "unknown"    // unclassified
)

// Retryable reports whether operations failing with this category should stay
// queued for another attempt. Unknown errors are retryable by default — the
// conservative choice, since dropping them could silently lose a trip.
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrorAuth, ErrorValidation:
		return false
	}
	return true
}

// SyncError is a categorized remote-store failure. It wraps the underlying
// error so callers can still errors.Is/As through it.
type SyncError struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s error: %s", e.Category, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Retryable reports whether the failure should be retried via the queue.
func (e *SyncError) Retryable() bool { return e.Category.Retryable() }

// NewSyncError builds a SyncError from an underlying error and category.
func NewSyncError(category ErrorCategory, err error) *SyncError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &SyncError{Category: category, Message: msg, Err: err}
}
