package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTable struct {
	schema TableSchema
	rows   map[string]Record
	order  []string
}

// MemStore is a thread-safe in-memory Store. Nothing survives a restart;
// it backs tests and the "memory" local_store type.
type MemStore struct {
	mu        sync.RWMutex
	locks     *tableLocks
	tables    map[string]*memTable
	queue     []PendingMutation
	seq       int64
	conflicts []*Conflict
	history   []*SyncHistory
}

func NewMemStore() *MemStore {
	return &MemStore{
		locks:  newTableLocks(),
		tables: make(map[string]*memTable),
	}
}

func (m *MemStore) DefineTable(ctx context.Context, schema TableSchema) error {
	norm, err := schema.Normalize()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.tables[norm.Name]; ok {
		if !t.schema.Compatible(norm) {
			return fmt.Errorf("%w: table %s already defined with a different schema", ErrSchema, norm.Name)
		}
		return nil
	}
	m.tables[norm.Name] = &memTable{schema: norm, rows: make(map[string]Record)}
	return nil
}

func (m *MemStore) Schema(table string) (TableSchema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return TableSchema{}, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return t.schema, nil
}

func (m *MemStore) Tables() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.tables))
	for name := range m.tables {
		list = append(list, name)
	}
	sort.Strings(list)
	return list
}

func (m *MemStore) Read(ctx context.Context, table string, pred Predicate) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	p, err := t.schema.CoercePredicate(pred)
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, id := range t.order {
		if row := t.rows[id]; p.Matches(row) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (m *MemStore) Get(ctx context.Context, table, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	row, ok := t.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrRecordNotFound, table, id)
	}
	return row.Clone(), nil
}

func (m *MemStore) Write(ctx context.Context, table string, rec Record, op Operation) (Record, error) {
	unlock := m.locks.lock(table)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	var existing Record
	if id := t.schema.RecordID(rec); id != "" {
		existing = t.rows[id]
	}
	row, err := applyWrite(t.schema, existing, rec, op)
	if err != nil {
		return nil, err
	}

	id := t.schema.RecordID(row)
	if existing == nil {
		t.order = append(t.order, id)
	}
	t.rows[id] = row

	m.seq++
	m.queue = append(m.queue, PendingMutation{
		ID:        uuid.New().String(),
		Seq:       m.seq,
		Table:     table,
		RecordID:  id,
		Operation: op,
		Record:    row.Clone(),
		State:     StateQueued,
		CreatedAt: time.Now().UTC(),
	})
	return row.Clone(), nil
}

func (m *MemStore) Merge(ctx context.Context, table string, records []Record) (MergeResult, error) {
	unlock := m.locks.lock(table)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var res MergeResult
	t, ok := m.tables[table]
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}

	for _, rec := range records {
		row := t.schema.Project(rec)
		id := t.schema.RecordID(row)
		if id == "" || m.hasPendingLocked(table, id) {
			res.Skipped++
			continue
		}
		m.putLocked(t, id, row)
		res.Merged++
	}
	return res, nil
}

func (m *MemStore) putLocked(t *memTable, id string, row Record) {
	if _, ok := t.rows[id]; !ok {
		t.order = append(t.order, id)
	}
	t.rows[id] = row
}

func (m *MemStore) Pending(ctx context.Context) ([]PendingMutation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]PendingMutation, len(m.queue))
	for i, op := range m.queue {
		op.Record = op.Record.Clone()
		out[i] = op
	}
	return out, nil
}

func (m *MemStore) HasPending(ctx context.Context, table, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasPendingLocked(table, id), nil
}

func (m *MemStore) hasPendingLocked(table, id string) bool {
	for _, op := range m.queue {
		if op.Table == table && op.RecordID == id {
			return true
		}
	}
	return false
}

func (m *MemStore) indexLocked(id string) int {
	for i, op := range m.queue {
		if op.ID == id {
			return i
		}
	}
	return -1
}

func (m *MemStore) MarkMutation(ctx context.Context, id string, state MutationState, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMutationNotFound, id)
	}
	m.queue[i].State = state
	m.queue[i].Attempts = attempts
	return nil
}

func (m *MemStore) Acknowledge(ctx context.Context, op PendingMutation, server Record) error {
	unlock := m.locks.lock(op.Table)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.dequeueLocked(op.ID); err != nil {
		return err
	}

	t, ok := m.tables[op.Table]
	if !ok || server == nil {
		return nil
	}
	row := t.schema.Project(server)
	row[t.schema.PrimaryKey] = op.RecordID
	_, versioned := server[VersionColumn]
	local, exists := t.rows[op.RecordID]
	if !versioned && exists {
		row[VersionColumn] = local[VersionColumn]
	}

	if !m.hasPendingLocked(op.Table, op.RecordID) {
		m.putLocked(t, op.RecordID, row)
		return nil
	}
	if !versioned {
		return nil
	}
	// Later writes to the same record are still queued: keep the local
	// values and rebase them onto the version the server just issued.
	version := row[VersionColumn]
	if exists {
		local[VersionColumn] = version
	}
	for j := range m.queue {
		if m.queue[j].Table == op.Table && m.queue[j].RecordID == op.RecordID {
			m.queue[j].Record[VersionColumn] = version
		}
	}
	return nil
}

func (m *MemStore) Discard(ctx context.Context, op PendingMutation, server Record) error {
	unlock := m.locks.lock(op.Table)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.dequeueLocked(op.ID); err != nil {
		return err
	}

	t, ok := m.tables[op.Table]
	if !ok || m.hasPendingLocked(op.Table, op.RecordID) {
		return nil
	}
	if server != nil {
		row := t.schema.Project(server)
		row[t.schema.PrimaryKey] = op.RecordID
		m.putLocked(t, op.RecordID, row)
		return nil
	}
	if local, ok := t.rows[op.RecordID]; ok && local[VersionColumn] == "" {
		delete(t.rows, op.RecordID)
		for i, id := range t.order {
			if id == op.RecordID {
				t.order = append(t.order[:i], t.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (m *MemStore) dequeueLocked(id string) error {
	i := m.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMutationNotFound, id)
	}
	m.queue = append(m.queue[:i], m.queue[i+1:]...)
	return nil
}

func (m *MemStore) ResetInFlight(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.queue {
		if m.queue[i].State == StatePushing {
			m.queue[i].State = StateQueued
			n++
		}
	}
	return n, nil
}

func (m *MemStore) CreateConflict(ctx context.Context, conflict *Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *conflict
	m.conflicts = append(m.conflicts, &c)
	return nil
}

func (m *MemStore) ListConflicts(ctx context.Context, resolved bool, limit, offset int) ([]*Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Conflict
	for _, c := range m.conflicts {
		if c.Resolved == resolved {
			cp := *c
			matched = append(matched, &cp)
		}
	}
	return page(matched, limit, offset), nil
}

func (m *MemStore) OpenConflict(ctx context.Context, mutationID string) (*Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.conflicts {
		if c.MutationID == mutationID && !c.Resolved {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: mutation %s", ErrConflictNotFound, mutationID)
}

func (m *MemStore) ResolveConflict(ctx context.Context, id string, strategy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.conflicts {
		if c.ID == id {
			now := time.Now().UTC()
			c.Resolved = true
			c.ResolutionStrategy = strategy
			c.ResolvedAt = &now
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrConflictNotFound, id)
}

func (m *MemStore) CreateSyncHistory(ctx context.Context, history *SyncHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := *history
	m.history = append(m.history, &h)
	return nil
}

func (m *MemStore) UpdateSyncHistory(ctx context.Context, history *SyncHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, h := range m.history {
		if h.ID == history.ID {
			cp := *history
			m.history[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("sync history %s not found", history.ID)
}

func (m *MemStore) GetSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Newest first, like the SQL stores.
	out := make([]*SyncHistory, 0, len(m.history))
	for i := len(m.history) - 1; i >= 0; i-- {
		h := *m.history[i]
		out = append(out, &h)
	}
	return page(out, limit, offset), nil
}

func (m *MemStore) Close() error {
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemStore)(nil)
