package store

import (
	"encoding/json"
	"fmt"
	"time"
)

type ColumnType string

const (
	String  ColumnType = "string"
	Boolean ColumnType = "boolean"
)

const (
	DefaultPrimaryKey = "id"
	DeletedColumn     = "deleted"
	VersionColumn     = "version"
)

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// TableSchema describes a local table. The primary key, deleted and version
// columns are always present once the schema is normalized.
type TableSchema struct {
	Name       string   `json:"name"`
	PrimaryKey string   `json:"primary_key"`
	Columns    []Column `json:"columns"`
}

// Record is one row keyed by column name. Values are string or bool.
type Record map[string]any

// Predicate is a conjunction of column equality constraints.
type Predicate map[string]any

type Operation string

const (
	Insert Operation = "insert"
	Update Operation = "update"
	Delete Operation = "delete"
)

func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case Insert, Update, Delete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

type MutationState string

const (
	StateQueued  MutationState = "queued"
	StatePushing MutationState = "pushing"
)

// PendingMutation is a local write waiting to be pushed. Record is the row as
// it stood right after the write, including the version it was based on.
type PendingMutation struct {
	ID        string        `json:"id"`
	Seq       int64         `json:"seq"`
	Table     string        `json:"table"`
	RecordID  string        `json:"record_id"`
	Operation Operation     `json:"operation"`
	Record    Record        `json:"record"`
	State     MutationState `json:"state"`
	Attempts  int           `json:"attempts"`
	CreatedAt time.Time     `json:"created_at"`
}

func (m PendingMutation) String() string {
	return fmt.Sprintf("[%s] %s/%s (#%d)", m.Operation, m.Table, m.RecordID, m.Seq)
}

type Conflict struct {
	ID                 string          `json:"id"`
	TableName          string          `json:"table_name"`
	PrimaryKeyValue    string          `json:"primary_key_value"`
	MutationID         string          `json:"mutation_id"`
	Operation          Operation       `json:"operation"`
	LocalData          json.RawMessage `json:"local_data"`
	CloudData          json.RawMessage `json:"cloud_data,omitempty"`
	ConflictType       string          `json:"conflict_type"`
	ErrorMessage       string          `json:"error_message,omitempty"`
	DetectedAt         time.Time       `json:"detected_at"`
	Resolved           bool            `json:"resolved"`
	ResolutionStrategy string          `json:"resolution_strategy,omitempty"`
	ResolvedAt         *time.Time      `json:"resolved_at,omitempty"`
}

type SyncHistory struct {
	ID                string     `json:"id"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	Direction         string     `json:"direction"`
	TablesSynced      string     `json:"tables_synced"`
	Applied           int        `json:"applied"`
	Discarded         int        `json:"discarded"`
	Failed            int        `json:"failed"`
	Merged            int        `json:"merged"`
	ConflictsDetected int        `json:"conflicts_detected"`
	Status            string     `json:"status"`
	ErrorMessage      string     `json:"error_message,omitempty"`
}

// MergeResult counts the outcome of merging pulled records.
type MergeResult struct {
	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
}
