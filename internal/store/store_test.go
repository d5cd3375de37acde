package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"offline-sync-service/internal/config"
)

var employees = TableSchema{
	Name:       "Employees",
	PrimaryKey: "cE_ID",
	Columns: []Column{
		{Name: "cE_FirstName", Type: String},
		{Name: "cE_LastName", Type: String},
		{Name: "sUSR_ID", Type: String},
		{Name: "cE_Active", Type: Boolean},
	},
}

func newSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(config.LocalStoreConfig{
		Type:     "sqlite",
		FilePath: filepath.Join(t.TempDir(), "local.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLite(t)) })
}

func define(t *testing.T, s Store) {
	t.Helper()
	if err := s.DefineTable(context.Background(), employees); err != nil {
		t.Fatalf("DefineTable failed: %v", err)
	}
}

func TestDefineTableEmptyRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		define(t, s)

		rows, err := s.Read(context.Background(), "Employees", nil)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(rows) != 0 {
			t.Errorf("Expected empty table, got %d rows", len(rows))
		}

		schema, err := s.Schema("Employees")
		if err != nil {
			t.Fatalf("Schema failed: %v", err)
		}
		for _, col := range []string{"cE_ID", DeletedColumn, VersionColumn} {
			if _, ok := schema.Column(col); !ok {
				t.Errorf("Expected system column %s", col)
			}
		}
	})
}

func TestDefineTableIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		if _, err := s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "Ann"}, Insert); err != nil {
			t.Fatalf("Write failed: %v", err)
		}

		// Same schema with columns in a different order.
		reordered := employees
		reordered.Columns = []Column{employees.Columns[3], employees.Columns[2], employees.Columns[1], employees.Columns[0]}
		if err := s.DefineTable(ctx, reordered); err != nil {
			t.Fatalf("Expected identical redefinition to succeed, got %v", err)
		}

		rows, _ := s.Read(ctx, "Employees", nil)
		if len(rows) != 1 || rows[0]["cE_FirstName"] != "Ann" {
			t.Errorf("Redefinition altered data: %v", rows)
		}

		changed := employees
		changed.Columns = append([]Column{}, employees.Columns...)
		changed.Columns[3] = Column{Name: "cE_Active", Type: String}
		if err := s.DefineTable(ctx, changed); !errors.Is(err, ErrSchema) {
			t.Errorf("Expected ErrSchema, got %v", err)
		}
	})
}

func TestDefineTableInvalid(t *testing.T) {
	tests := []struct {
		name   string
		schema TableSchema
	}{
		{"bad name", TableSchema{Name: "drop table"}},
		{"reserved name", TableSchema{Name: "_sync_operations"}},
		{"duplicate column", TableSchema{Name: "T", Columns: []Column{{"a", String}, {"a", String}}}},
		{"bad type", TableSchema{Name: "T", Columns: []Column{{"a", "integer"}}}},
		{"deleted not boolean", TableSchema{Name: "T", Columns: []Column{{DeletedColumn, String}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewMemStore().DefineTable(context.Background(), tt.schema)
			if !errors.Is(err, ErrSchema) {
				t.Errorf("Expected ErrSchema, got %v", err)
			}
		})
	}
}

func TestWriteInsert(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		row, err := s.Write(ctx, "Employees", Record{"cE_FirstName": "Bob", "cE_Active": true}, Insert)
		if err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		id, _ := row["cE_ID"].(string)
		if id == "" {
			t.Fatalf("Expected generated id, got %v", row)
		}
		if row["cE_LastName"] != "" || row[DeletedColumn] != false {
			t.Errorf("Expected zero-filled row, got %v", row)
		}

		got, err := s.Get(ctx, "Employees", id)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got["cE_Active"] != true {
			t.Errorf("Expected boolean to round-trip, got %v", got["cE_Active"])
		}

		if _, err := s.Write(ctx, "Employees", Record{"cE_ID": id}, Insert); !errors.Is(err, ErrRecordExists) {
			t.Errorf("Expected ErrRecordExists, got %v", err)
		}
		if _, err := s.Write(ctx, "Employees", Record{"salary": "1"}, Insert); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("Expected ErrInvalidRecord for unknown column, got %v", err)
		}
		if _, err := s.Write(ctx, "Employees", Record{"cE_Active": "yes"}, Insert); !errors.Is(err, ErrInvalidRecord) {
			t.Errorf("Expected ErrInvalidRecord for mistyped value, got %v", err)
		}
		if _, err := s.Write(ctx, "Employees", Record{"cE_ID": "nope"}, Update); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Expected ErrRecordNotFound, got %v", err)
		}
		if _, err := s.Write(ctx, "Nope", Record{}, Insert); !errors.Is(err, ErrTableNotFound) {
			t.Errorf("Expected ErrTableNotFound, got %v", err)
		}

		pending, _ := s.Pending(ctx)
		if len(pending) != 1 {
			t.Errorf("Expected failed writes not to enqueue, got %d mutations", len(pending))
		}
	})
}

func TestSoftDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		s.Write(ctx, "Employees", Record{"cE_ID": "e1", "sUSR_ID": "u1"}, Insert)
		s.Write(ctx, "Employees", Record{"cE_ID": "e2", "sUSR_ID": "u1"}, Insert)
		if _, err := s.Write(ctx, "Employees", Record{"cE_ID": "e1"}, Delete); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		live, err := s.Read(ctx, "Employees", Predicate{"sUSR_ID": "u1", DeletedColumn: false})
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(live) != 1 || live[0]["cE_ID"] != "e2" {
			t.Errorf("Expected only e2 live, got %v", live)
		}

		// Query strings arrive as text.
		gone, err := s.Read(ctx, "Employees", Predicate{DeletedColumn: "true"})
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(gone) != 1 || gone[0]["cE_ID"] != "e1" {
			t.Errorf("Expected tombstone e1, got %v", gone)
		}

		if _, err := s.Read(ctx, "Employees", Predicate{"salary": "1"}); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("Expected ErrInvalidQuery, got %v", err)
		}
	})
}

func TestPendingFIFO(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		s.Write(ctx, "Employees", Record{"cE_ID": "e1"}, Insert)
		s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "Cy"}, Update)
		s.Write(ctx, "Employees", Record{"cE_ID": "e1"}, Delete)

		pending, err := s.Pending(ctx)
		if err != nil {
			t.Fatalf("Pending failed: %v", err)
		}
		want := []Operation{Insert, Update, Delete}
		if len(pending) != len(want) {
			t.Fatalf("Expected %d mutations, got %d", len(want), len(pending))
		}
		for i, op := range want {
			if pending[i].Operation != op {
				t.Errorf("mutation %d: expected %s, got %s", i, op, pending[i].Operation)
			}
			if pending[i].State != StateQueued {
				t.Errorf("mutation %d: expected queued, got %s", i, pending[i].State)
			}
		}
		if pending[1].Record["cE_FirstName"] != "Cy" || pending[1].Record[DeletedColumn] != false {
			t.Errorf("Update snapshot wrong: %v", pending[1].Record)
		}
		if pending[2].Record[DeletedColumn] != true {
			t.Errorf("Delete snapshot should be a tombstone: %v", pending[2].Record)
		}
		if pending[0].Seq >= pending[1].Seq || pending[1].Seq >= pending[2].Seq {
			t.Errorf("Expected increasing sequence numbers")
		}
	})
}

func TestMergeSkipsPending(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		s.Write(ctx, "Employees", Record{"cE_ID": "local", "cE_FirstName": "Mine"}, Insert)

		res, err := s.Merge(ctx, "Employees", []Record{
			{"cE_ID": "local", "cE_FirstName": "Theirs", "version": "v9"},
			{"cE_ID": "remote", "cE_FirstName": "Dee", "cE_Active": float64(1), "createdAt": "2024-01-01"},
			{"cE_FirstName": "no id"},
		})
		if err != nil {
			t.Fatalf("Merge failed: %v", err)
		}
		if res.Merged != 1 || res.Skipped != 2 {
			t.Errorf("Expected 1 merged / 2 skipped, got %+v", res)
		}

		local, _ := s.Get(ctx, "Employees", "local")
		if local["cE_FirstName"] != "Mine" {
			t.Errorf("Pull overwrote a pending record: %v", local)
		}
		remote, err := s.Get(ctx, "Employees", "remote")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if remote["cE_Active"] != true {
			t.Errorf("Expected coerced boolean, got %v", remote["cE_Active"])
		}
		if _, ok := remote["createdAt"]; ok {
			t.Errorf("Unknown remote column should be dropped")
		}

		// Remote wins once nothing is pending.
		s.Merge(ctx, "Employees", []Record{{"cE_ID": "remote", "cE_FirstName": "Dee2", "version": "v2"}})
		remote, _ = s.Get(ctx, "Employees", "remote")
		if remote["cE_FirstName"] != "Dee2" || remote["version"] != "v2" {
			t.Errorf("Expected last writer to win, got %v", remote)
		}
	})
}

func TestAcknowledgeRebasesLaterMutations(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "A"}, Insert)
		s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "B"}, Update)

		pending, _ := s.Pending(ctx)
		server := Record{"cE_ID": "e1", "cE_FirstName": "A", "version": "v1"}
		if err := s.Acknowledge(ctx, pending[0], server); err != nil {
			t.Fatalf("Acknowledge failed: %v", err)
		}

		rest, _ := s.Pending(ctx)
		if len(rest) != 1 || rest[0].Record["version"] != "v1" {
			t.Fatalf("Expected update rebased onto v1, got %v", rest)
		}
		local, _ := s.Get(ctx, "Employees", "e1")
		if local["cE_FirstName"] != "B" || local["version"] != "v1" {
			t.Errorf("Expected local values kept with new version, got %v", local)
		}

		if err := s.Acknowledge(ctx, rest[0], Record{"cE_ID": "e1", "cE_FirstName": "B", "version": "v2"}); err != nil {
			t.Fatalf("Acknowledge failed: %v", err)
		}
		local, _ = s.Get(ctx, "Employees", "e1")
		if local["version"] != "v2" {
			t.Errorf("Expected server row adopted, got %v", local)
		}
		if has, _ := s.HasPending(ctx, "Employees", "e1"); has {
			t.Errorf("Expected queue drained")
		}

		if err := s.Acknowledge(ctx, rest[0], nil); !errors.Is(err, ErrMutationNotFound) {
			t.Errorf("Expected ErrMutationNotFound, got %v", err)
		}
	})
}

func TestAcknowledgeWithoutVersion(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		s.Merge(ctx, "Employees", []Record{{"cE_ID": "e1", "cE_FirstName": "A", "version": "v1"}})
		s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "B"}, Update)
		s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "C"}, Update)

		pending, _ := s.Pending(ctx)
		if err := s.Acknowledge(ctx, pending[0], Record{"cE_ID": "e1", "cE_FirstName": "B"}); err != nil {
			t.Fatalf("Acknowledge failed: %v", err)
		}
		rest, _ := s.Pending(ctx)
		if len(rest) != 1 || rest[0].Record["version"] != "v1" {
			t.Fatalf("Expected later mutation to keep v1, got %v", rest)
		}

		if err := s.Acknowledge(ctx, rest[0], Record{"cE_ID": "e1", "cE_FirstName": "C"}); err != nil {
			t.Fatalf("Acknowledge failed: %v", err)
		}
		local, _ := s.Get(ctx, "Employees", "e1")
		if local["cE_FirstName"] != "C" || local["version"] != "v1" {
			t.Errorf("Expected values adopted with the known version, got %v", local)
		}
	})
}

func TestDiscardRevertsLocalRow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		// Never synced: the row goes with its only mutation.
		s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "bad"}, Insert)
		// Known to the remote, refused with the server's copy.
		s.Merge(ctx, "Employees", []Record{{"cE_ID": "e2", "cE_FirstName": "A", "version": "v1"}})
		s.Write(ctx, "Employees", Record{"cE_ID": "e2", "cE_FirstName": "B"}, Update)
		// Known to the remote, refused without a server copy.
		s.Merge(ctx, "Employees", []Record{{"cE_ID": "e3", "cE_FirstName": "A", "version": "v1"}})
		s.Write(ctx, "Employees", Record{"cE_ID": "e3", "cE_FirstName": "B"}, Update)
		// Never synced, but a later write is still queued.
		s.Write(ctx, "Employees", Record{"cE_ID": "e4", "cE_FirstName": "A"}, Insert)
		s.Write(ctx, "Employees", Record{"cE_ID": "e4", "cE_FirstName": "B"}, Update)

		pending, _ := s.Pending(ctx)
		if len(pending) != 5 {
			t.Fatalf("Expected 5 mutations, got %d", len(pending))
		}
		server := Record{"cE_ID": "e2", "cE_FirstName": "C", "deleted": false, "version": "v3"}
		for i, srv := range []Record{nil, server, nil, nil} {
			if err := s.Discard(ctx, pending[i], srv); err != nil {
				t.Fatalf("Discard %s failed: %v", pending[i], err)
			}
		}

		if _, err := s.Get(ctx, "Employees", "e1"); !errors.Is(err, ErrRecordNotFound) {
			t.Errorf("Expected unsynced insert removed, got %v", err)
		}
		if row, _ := s.Get(ctx, "Employees", "e2"); row["cE_FirstName"] != "C" || row["version"] != "v3" {
			t.Errorf("Expected server copy restored, got %v", row)
		}
		if row, _ := s.Get(ctx, "Employees", "e3"); row["cE_FirstName"] != "B" || row["version"] != "v1" {
			t.Errorf("Expected row left for the next pull, got %v", row)
		}
		if row, _ := s.Get(ctx, "Employees", "e4"); row["cE_FirstName"] != "B" {
			t.Errorf("Expected row with queued writes kept, got %v", row)
		}

		rows, _ := s.Read(ctx, "Employees", nil)
		if len(rows) != 3 {
			t.Errorf("Expected 3 rows left, got %v", rows)
		}
		rest, _ := s.Pending(ctx)
		if len(rest) != 1 || rest[0].RecordID != "e4" {
			t.Errorf("Expected only the e4 update queued, got %v", rest)
		}
	})
}

func TestMarkDiscardReset(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		define(t, s)

		s.Write(ctx, "Employees", Record{"cE_ID": "e1"}, Insert)
		s.Write(ctx, "Employees", Record{"cE_ID": "e2"}, Insert)
		pending, _ := s.Pending(ctx)

		if err := s.MarkMutation(ctx, pending[0].ID, StatePushing, 1); err != nil {
			t.Fatalf("MarkMutation failed: %v", err)
		}
		n, err := s.ResetInFlight(ctx)
		if err != nil || n != 1 {
			t.Fatalf("Expected 1 reset, got %d (%v)", n, err)
		}
		pending, _ = s.Pending(ctx)
		if pending[0].State != StateQueued || pending[0].Attempts != 1 {
			t.Errorf("Unexpected mutation after reset: %+v", pending[0])
		}

		if err := s.Discard(ctx, pending[0], nil); err != nil {
			t.Fatalf("Discard failed: %v", err)
		}
		pending, _ = s.Pending(ctx)
		if len(pending) != 1 || pending[0].RecordID != "e2" {
			t.Errorf("Expected only e2 queued, got %v", pending)
		}
		if err := s.Discard(ctx, PendingMutation{ID: "missing", Table: "Employees"}, nil); !errors.Is(err, ErrMutationNotFound) {
			t.Errorf("Expected ErrMutationNotFound, got %v", err)
		}
		if err := s.MarkMutation(ctx, "missing", StatePushing, 1); !errors.Is(err, ErrMutationNotFound) {
			t.Errorf("Expected ErrMutationNotFound, got %v", err)
		}
	})
}

func TestConflictsAndHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		c := &Conflict{
			ID:              "c1",
			TableName:       "Employees",
			PrimaryKeyValue: "e1",
			MutationID:      "m1",
			Operation:       Update,
			LocalData:       []byte(`{"cE_ID":"e1"}`),
			CloudData:       []byte(`{"cE_ID":"e1","version":"v2"}`),
			ConflictType:    "conflict",
			DetectedAt:      time.Now(),
		}
		if err := s.CreateConflict(ctx, c); err != nil {
			t.Fatalf("CreateConflict failed: %v", err)
		}
		open, _ := s.ListConflicts(ctx, false, 10, 0)
		if len(open) != 1 || string(open[0].CloudData) != `{"cE_ID":"e1","version":"v2"}` {
			t.Fatalf("Unexpected open conflicts: %v", open)
		}
		found, err := s.OpenConflict(ctx, "m1")
		if err != nil || found.ID != "c1" {
			t.Fatalf("OpenConflict = %v, %v", found, err)
		}
		if err := s.ResolveConflict(ctx, "c1", "discard"); err != nil {
			t.Fatalf("ResolveConflict failed: %v", err)
		}
		closed, _ := s.ListConflicts(ctx, true, 10, 0)
		if len(closed) != 1 || closed[0].ResolutionStrategy != "discard" || closed[0].ResolvedAt == nil {
			t.Errorf("Unexpected resolved conflicts: %v", closed)
		}
		if _, err := s.OpenConflict(ctx, "m1"); !errors.Is(err, ErrConflictNotFound) {
			t.Errorf("Expected no open conflict after resolving, got %v", err)
		}
		if err := s.ResolveConflict(ctx, "nope", "discard"); !errors.Is(err, ErrConflictNotFound) {
			t.Errorf("Expected ErrConflictNotFound, got %v", err)
		}

		h := &SyncHistory{ID: "h1", StartedAt: time.Now(), Direction: "sync", TablesSynced: "Employees", Status: "running"}
		if err := s.CreateSyncHistory(ctx, h); err != nil {
			t.Fatalf("CreateSyncHistory failed: %v", err)
		}
		done := time.Now()
		h.CompletedAt = &done
		h.Applied = 3
		h.Status = "completed"
		if err := s.UpdateSyncHistory(ctx, h); err != nil {
			t.Fatalf("UpdateSyncHistory failed: %v", err)
		}
		list, _ := s.GetSyncHistory(ctx, 10, 0)
		if len(list) != 1 || list[0].Applied != 3 || list[0].Status != "completed" || list[0].CompletedAt == nil {
			t.Errorf("Unexpected history: %+v", list)
		}
	})
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	s, err := NewSQLiteStore(config.LocalStoreConfig{FilePath: path})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	define(t, s)
	s.Write(ctx, "Employees", Record{"cE_ID": "e1", "cE_FirstName": "Eve"}, Insert)
	s.Close()

	s, err = NewSQLiteStore(config.LocalStoreConfig{FilePath: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if tables := s.Tables(); len(tables) != 1 || tables[0] != "Employees" {
		t.Errorf("Expected schema to survive restart, got %v", tables)
	}
	define(t, s)

	pending, _ := s.Pending(ctx)
	if len(pending) != 1 || pending[0].Record["cE_FirstName"] != "Eve" {
		t.Errorf("Expected queued mutation to survive restart, got %v", pending)
	}
}
