package sync

import (
	"errors"
	"fmt"

	"offline-sync-service/internal/store"
)

var (
	ErrNotInitialized     = errors.New("sync context not initialized")
	ErrAlreadyInitialized = errors.New("sync context already initialized")
	ErrSyncInProgress     = errors.New("sync already in progress")
)

// Query scopes a pull to one table.
type Query struct {
	Table  string          `json:"table"`
	Filter store.Predicate `json:"filter,omitempty"`
}

func (q Query) String() string {
	return fmt.Sprintf("%s%v", q.Table, map[string]any(q.Filter))
}

// Outcome is the terminal disposition of a mutation within one push.
type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeOverwritten Outcome = "overwritten"
	OutcomeDiscarded   Outcome = "discarded"
	OutcomeFailed      Outcome = "failed" // still queued for the next cycle
)

type Disposition struct {
	MutationID string          `json:"mutation_id"`
	Table      string          `json:"table"`
	RecordID   string          `json:"record_id"`
	Operation  store.Operation `json:"operation"`
	Outcome    Outcome         `json:"outcome"`
	ConflictID string          `json:"conflict_id,omitempty"`
	Error      string          `json:"error,omitempty"`

	err error
}

type PushResult struct {
	Applied      int           `json:"applied"`
	Discarded    int           `json:"discarded"`
	Failed       int           `json:"failed"`
	Conflicts    int           `json:"conflicts"`
	Remaining    int           `json:"remaining"`
	Halted       bool          `json:"halted"`
	Dispositions []Disposition `json:"dispositions"`
	Error        string        `json:"error,omitempty"`
	Err          error         `json:"-"`
}

func (r *PushResult) add(d Disposition) {
	switch d.Outcome {
	case OutcomeApplied, OutcomeOverwritten:
		r.Applied++
	case OutcomeDiscarded:
		r.Discarded++
	case OutcomeFailed:
		r.Failed++
	}
	if d.ConflictID != "" {
		r.Conflicts++
	}
	r.Dispositions = append(r.Dispositions, d)
}

func (r *PushResult) fail(err error) {
	r.Halted = true
	r.Err = err
	r.Error = err.Error()
}

type PullResult struct {
	Table   string `json:"table"`
	Fetched int    `json:"fetched"`
	Merged  int    `json:"merged"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

func (r *PullResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

type SyncResult struct {
	Push  PushResult   `json:"push"`
	Pulls []PullResult `json:"pulls"`
}

// Err returns the first remote failure of the session, if any.
func (r SyncResult) Err() error {
	if r.Push.Err != nil {
		return r.Push.Err
	}
	for _, p := range r.Pulls {
		if p.Err != nil {
			return p.Err
		}
	}
	return nil
}
