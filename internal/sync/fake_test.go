package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
)

// fakeBackend is an in-memory remote with optimistic versioning.
type fakeBackend struct {
	mu        sync.Mutex
	pks       map[string]string
	rows      map[string]map[string]store.Record
	applied   []string
	ver       int
	failApply error
	failQuery error
	block     chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pks:  make(map[string]string),
		rows: make(map[string]map[string]store.Record),
	}
}

func (b *fakeBackend) define(table, pk string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pks[table] = pk
	b.rows[table] = make(map[string]store.Record)
}

// put stores rec as the current remote row, as if another device wrote it.
func (b *fakeBackend) put(table string, rec store.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[table][rec[b.pks[table]].(string)] = rec.Clone()
}

func (b *fakeBackend) row(table, id string) store.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rows[table][id].Clone()
}

func (b *fakeBackend) log() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.applied...)
}

func (b *fakeBackend) setFailApply(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failApply = err
}

func (b *fakeBackend) Table(name string) (remote.Table, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rows[name]; !ok {
		return nil, fmt.Errorf("%w: %s", remote.ErrUnknownTable, name)
	}
	return &fakeTable{b: b, name: name}, nil
}

type fakeTable struct {
	b    *fakeBackend
	name string
}

func (t *fakeTable) Query(ctx context.Context, filter store.Predicate) ([]store.Record, error) {
	b := t.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failQuery != nil {
		return nil, b.failQuery
	}

	ids := make([]string, 0, len(b.rows[t.name]))
	for id := range b.rows[t.name] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []store.Record
	for _, id := range ids {
		if row := b.rows[t.name][id]; filter.Matches(row) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (t *fakeTable) Apply(ctx context.Context, m store.PendingMutation) (store.Record, error) {
	b := t.b
	b.mu.Lock()
	block := b.block
	b.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", remote.ErrRemoteUnavailable, ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failApply != nil {
		return nil, b.failApply
	}

	rows := b.rows[t.name]
	existing, exists := rows[m.RecordID]
	base, _ := m.Record[store.VersionColumn].(string)

	switch m.Operation {
	case store.Insert:
		if exists {
			return nil, &remote.ConflictError{Table: t.name, RecordID: m.RecordID, Server: existing.Clone()}
		}
	default:
		if !exists {
			return nil, &remote.RejectedError{Table: t.name, RecordID: m.RecordID, Status: 404, Message: "not found"}
		}
		if existing[store.VersionColumn] != base {
			return nil, &remote.ConflictError{Table: t.name, RecordID: m.RecordID, Server: existing.Clone()}
		}
	}

	row := m.Record.Clone()
	if m.Operation == store.Delete {
		row = existing.Clone()
		row[store.DeletedColumn] = true
	}
	b.ver++
	row[store.VersionColumn] = fmt.Sprintf("v%d", b.ver)
	rows[m.RecordID] = row
	b.applied = append(b.applied, fmt.Sprintf("%s/%s", m.Operation, m.RecordID))
	return row.Clone(), nil
}

var employees = store.TableSchema{
	Name:       "Employees",
	PrimaryKey: "cE_ID",
	Columns: []store.Column{
		{Name: "cE_FirstName", Type: store.String},
		{Name: "sUSR_ID", Type: store.String},
	},
}

// employee builds a complete remote row.
func employee(id, name, version string) store.Record {
	return store.Record{
		"cE_ID":        id,
		"cE_FirstName": name,
		"sUSR_ID":      "",
		"deleted":      false,
		"version":      version,
	}
}

func newTestContext(t *testing.T, policy Policy, opts ...Option) (*Context, *store.MemStore, *fakeBackend) {
	t.Helper()
	ctx := context.Background()

	st := store.NewMemStore()
	if err := st.DefineTable(ctx, employees); err != nil {
		t.Fatalf("DefineTable failed: %v", err)
	}
	b := newFakeBackend()
	b.define("Employees", "cE_ID")

	c := NewContext(b, policy, opts...)
	if err := c.Initialize(ctx, st); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return c, st, b
}

func mustWrite(t *testing.T, st store.Store, rec store.Record, op store.Operation) store.Record {
	t.Helper()
	row, err := st.Write(context.Background(), "Employees", rec, op)
	if err != nil {
		t.Fatalf("Write %s failed: %v", op, err)
	}
	return row
}

func mustPull(t *testing.T, c *Context) PullResult {
	t.Helper()
	res, err := c.Pull(context.Background(), Query{Table: "Employees"})
	if err != nil {
		t.Fatalf("Pull failed: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("Pull reported remote error: %v", res.Err)
	}
	return res
}
