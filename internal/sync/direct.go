package sync

import (
	"context"
	"errors"
	"fmt"

	"offline-sync-service/internal/store"
)

// Read serves table rows from the local mirror, or straight from the remote
// when the manager runs online.
func (m *Manager) Read(ctx context.Context, table string, pred store.Predicate) ([]store.Record, error) {
	if m.Offline() {
		return m.store.Read(ctx, table, pred)
	}

	schema, err := m.store.Schema(table)
	if err != nil {
		return nil, err
	}
	filter, err := schema.CoercePredicate(pred)
	if err != nil {
		return nil, err
	}
	t, err := m.backend.Table(table)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := m.syncCtx.callContext(ctx)
	defer cancel()
	rows, err := t.Query(callCtx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, schema.Project(r))
	}
	return out, nil
}

// Get returns one row by primary key.
func (m *Manager) Get(ctx context.Context, table, id string) (store.Record, error) {
	if m.Offline() {
		return m.store.Get(ctx, table, id)
	}
	schema, err := m.store.Schema(table)
	if err != nil {
		return nil, err
	}
	rows, err := m.Read(ctx, table, store.Predicate{schema.PrimaryKey: id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrRecordNotFound, table, id)
	}
	return rows[0], nil
}

// Write records a change. Offline it lands in the local mirror and the
// operation queue; online it is applied to the remote immediately and any
// remote refusal is returned to the caller.
func (m *Manager) Write(ctx context.Context, table string, rec store.Record, op store.Operation) (store.Record, error) {
	if m.Offline() {
		return m.store.Write(ctx, table, rec, op)
	}

	schema, err := m.store.Schema(table)
	if err != nil {
		return nil, err
	}

	var existing store.Record
	if id := schema.RecordID(rec); id != "" {
		existing, err = m.Get(ctx, table, id)
		if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
			return nil, err
		}
	}
	row, err := schema.Prepare(existing, rec, op)
	if err != nil {
		return nil, err
	}

	t, err := m.backend.Table(table)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := m.syncCtx.callContext(ctx)
	defer cancel()
	server, err := t.Apply(callCtx, store.PendingMutation{
		Table:     table,
		RecordID:  schema.RecordID(row),
		Operation: op,
		Record:    row,
	})
	if err != nil {
		return nil, err
	}
	if server == nil {
		return row, nil
	}
	return schema.Project(server), nil
}
