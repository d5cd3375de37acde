package store

import (
	"context"
)

type Store interface {
	// Tables
	DefineTable(ctx context.Context, schema TableSchema) error
	Schema(table string) (TableSchema, error)
	Tables() []string

	// Records
	Read(ctx context.Context, table string, pred Predicate) ([]Record, error)
	Get(ctx context.Context, table, id string) (Record, error)
	Write(ctx context.Context, table string, rec Record, op Operation) (Record, error)
	Merge(ctx context.Context, table string, records []Record) (MergeResult, error)

	// Operation queue
	Pending(ctx context.Context) ([]PendingMutation, error)
	HasPending(ctx context.Context, table, id string) (bool, error)
	MarkMutation(ctx context.Context, id string, state MutationState, attempts int) error
	// Acknowledge removes m and adopts server as the local row. A server row
	// without a version leaves the local version untouched.
	Acknowledge(ctx context.Context, m PendingMutation, server Record) error
	// Discard removes m. When no later mutation for the record is queued the
	// local row is reverted: to server when given, otherwise a row the remote
	// never versioned is dropped.
	Discard(ctx context.Context, m PendingMutation, server Record) error
	ResetInFlight(ctx context.Context) (int, error)

	// Conflicts
	CreateConflict(ctx context.Context, conflict *Conflict) error
	ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*Conflict, error)
	OpenConflict(ctx context.Context, mutationID string) (*Conflict, error)
	ResolveConflict(ctx context.Context, id string, strategy string) error

	// History
	CreateSyncHistory(ctx context.Context, history *SyncHistory) error
	UpdateSyncHistory(ctx context.Context, history *SyncHistory) error
	GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// General
	Close() error
}
