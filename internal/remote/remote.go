package remote

import (
	"context"
	"errors"
	"fmt"

	"offline-sync-service/internal/store"
)

var (
	// ErrRemoteUnavailable marks transport failures. They are retryable and
	// leave the mutation queued.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrConflict marks a mutation rejected because the remote row changed.
	ErrConflict = errors.New("remote conflict")
	// ErrRejected marks a mutation the remote refused for any other reason.
	ErrRejected = errors.New("remote rejected mutation")
	// ErrUnknownTable is returned by a Backend for tables it does not serve.
	ErrUnknownTable = errors.New("unknown remote table")
)

// Table is the remote capability a sync context consumes.
type Table interface {
	Query(ctx context.Context, filter store.Predicate) ([]store.Record, error)
	// Apply returns the server row after the change. A row without a version
	// column tells the caller that no new version is known.
	Apply(ctx context.Context, m store.PendingMutation) (store.Record, error)
}

type Backend interface {
	Table(name string) (Table, error)
}

// ConflictError carries the server's current version of the record.
type ConflictError struct {
	Table    string
	RecordID string
	Server   store.Record
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%s: server version %v", e.Table, e.RecordID, e.Server[store.VersionColumn])
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type RejectedError struct {
	Table    string
	RecordID string
	Status   int
	Message  string
}

func (e *RejectedError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s/%s rejected (%d): %s", e.Table, e.RecordID, e.Status, e.Message)
	}
	return fmt.Sprintf("%s/%s rejected: %s", e.Table, e.RecordID, e.Message)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrRemoteUnavailable, err)
}
