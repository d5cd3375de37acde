package sync

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/database"
	"offline-sync-service/internal/remote"
	"offline-sync-service/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		Remote: config.RemoteConfig{Timeout: "2s"},
		Sync: config.SyncConfig{
			Offline:        true,
			ConflictPolicy: "discard",
			PushTimeout:    "5s",
			FlushInterval:  "10ms",
			Tables: []config.TableConfig{
				{
					Name:       "Employees",
					PrimaryKey: "cE_ID",
					Columns: []config.ColumnConfig{
						{Name: "cE_FirstName", Type: "string"},
						{Name: "sUSR_ID"},
					},
					PullFilter: []config.FilterConfig{{Column: "sUSR_ID", Value: "u1"}},
				},
				{
					Name:       "System_Users",
					PrimaryKey: "sUSR_ID",
					Columns:    []config.ColumnConfig{{Name: "sUSR_Name", Type: "string"}},
				},
			},
		},
	}
}

func newTestManager(t *testing.T, cfg *config.Config) (*Manager, *fakeBackend) {
	t.Helper()
	b := newFakeBackend()
	b.define("Employees", "cE_ID")
	b.define("System_Users", "sUSR_ID")

	m, err := NewManager(context.Background(), cfg, store.NewMemStore(), b)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, b
}

func TestTableSchemas(t *testing.T) {
	schemas, err := TableSchemas(testConfig().Sync)
	if err != nil {
		t.Fatalf("TableSchemas failed: %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("Expected 2 schemas, got %d", len(schemas))
	}
	c, ok := schemas[0].Column("sUSR_ID")
	if !ok || c.Type != store.String {
		t.Errorf("Expected untyped column to default to string, got %+v", c)
	}
	if _, ok := schemas[1].Column("version"); !ok {
		t.Errorf("Expected system columns, got %+v", schemas[1])
	}

	bad := config.SyncConfig{Tables: []config.TableConfig{{Name: "T", Columns: []config.ColumnConfig{{Name: "x", Type: "int"}}}}}
	if _, err := TableSchemas(bad); !errors.Is(err, store.ErrSchema) {
		t.Errorf("Expected ErrSchema, got %v", err)
	}
}

func TestNewManagerRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Sync.ConflictPolicy = "newest-wins"
	if _, err := NewManager(context.Background(), cfg, store.NewMemStore(), newFakeBackend()); err == nil {
		t.Error("Expected unknown policy to fail")
	}
}

func TestManagerSyncAll(t *testing.T) {
	ctx := context.Background()
	m, b := newTestManager(t, testConfig())

	mine := employee("e1", "Ann", "r1")
	mine["sUSR_ID"] = "u1"
	b.put("Employees", mine)
	b.put("Employees", employee("e2", "Other", "r1"))
	b.put("System_Users", store.Record{"sUSR_ID": "u1", "sUSR_Name": "ann", "deleted": false, "version": "r1"})

	if _, err := m.Write(ctx, "System_Users", store.Record{"sUSR_ID": "u2", "sUSR_Name": "bob"}, store.Insert); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	res, err := m.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll failed: %v", err)
	}
	if res.Err() != nil || res.Push.Applied != 1 || len(res.Pulls) != 2 {
		t.Fatalf("Unexpected result: %+v", res)
	}

	rows, _ := m.Read(ctx, "Employees", nil)
	if len(rows) != 1 || rows[0]["cE_ID"] != "e1" {
		t.Errorf("Expected pull filter to limit employees, got %v", rows)
	}
	users, _ := m.Read(ctx, "System_Users", nil)
	if len(users) != 2 {
		t.Errorf("Expected both users, got %v", users)
	}

	status, err := m.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if status.Session != "idle" || status.Pending != 0 || !status.Offline || len(status.Tables) != 2 {
		t.Errorf("Unexpected status: %+v", status)
	}

	if _, err := m.PullTable(ctx, "Nope", nil); !errors.Is(err, store.ErrTableNotFound) {
		t.Errorf("Expected ErrTableNotFound, got %v", err)
	}
}

func TestManagerOnlineWrites(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Sync.Offline = false
	m, b := newTestManager(t, cfg)

	row, err := m.Write(ctx, "System_Users", store.Record{"sUSR_ID": "u1", "sUSR_Name": "ann"}, store.Insert)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if row["version"] == "" {
		t.Errorf("Expected server version, got %v", row)
	}
	if pending, _ := m.Store().Pending(ctx); len(pending) != 0 {
		t.Errorf("Online writes must not be queued, got %v", pending)
	}

	if _, err := m.Write(ctx, "System_Users", store.Record{"sUSR_ID": "u1", "sUSR_Name": "anne"}, store.Update); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got := b.row("System_Users", "u1"); got["sUSR_Name"] != "anne" {
		t.Errorf("Expected remote update, got %v", got)
	}

	got, err := m.Get(ctx, "System_Users", "u1")
	if err != nil || got["sUSR_Name"] != "anne" {
		t.Errorf("Get = %v, %v", got, err)
	}
	if _, err := m.Get(ctx, "System_Users", "ghost"); !errors.Is(err, store.ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
	if _, err := m.Write(ctx, "System_Users", store.Record{"sUSR_ID": "u1"}, store.Insert); !errors.Is(err, store.ErrRecordExists) {
		t.Errorf("Expected ErrRecordExists, got %v", err)
	}
}

type fakeSource struct {
	events  chan ChangeEvent
	started bool
	stopped bool
}

func (s *fakeSource) Start() error               { s.started = true; return nil }
func (s *fakeSource) Stop()                      { s.stopped = true }
func (s *fakeSource) Events() <-chan ChangeEvent { return s.events }

func TestManagerRealtime(t *testing.T) {
	ctx := context.Background()
	m, b := newTestManager(t, testConfig())

	src := &fakeSource{events: make(chan ChangeEvent, 1)}
	m.newSource = func() (ChangeSource, error) { return src, nil }

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}
	if !src.started || m.Realtime() != "running" {
		t.Fatalf("Expected running source")
	}

	b.put("System_Users", store.Record{"sUSR_ID": "u7", "sUSR_Name": "zed", "deleted": false, "version": "r1"})
	src.events <- ChangeEvent{Table: "System_Users", Type: store.Insert}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.Store().Get(ctx, "System_Users", "u7"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("change event never reached the local store")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.Stop()
	if !src.stopped || m.Realtime() != "idle" {
		t.Errorf("Expected source stopped")
	}
}

// Two devices share one SQL remote and race on the same row.
func TestManagersShareSQLRemote(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDatabase(config.DatabaseConnection{
		Driver:   "sqlite3",
		Database: filepath.Join(t.TempDir(), "cloud.db"),
	})
	if err != nil {
		t.Fatalf("NewDatabase failed: %v", err)
	}
	defer db.Close()

	cfg := testConfig()
	schemas, _ := TableSchemas(cfg.Sync)
	backend, err := remote.NewSQLBackend(db, schemas)
	if err != nil {
		t.Fatalf("NewSQLBackend failed: %v", err)
	}
	if err := backend.EnsureTables(ctx); err != nil {
		t.Fatalf("EnsureTables failed: %v", err)
	}

	devA, err := NewManager(ctx, cfg, store.NewMemStore(), backend)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer devA.Close()
	devB, err := NewManager(ctx, cfg, store.NewMemStore(), backend)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer devB.Close()

	if _, err := devA.Write(ctx, "System_Users", store.Record{"sUSR_ID": "u1", "sUSR_Name": "ann"}, store.Insert); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res, err := devA.SyncAll(ctx); err != nil || res.Err() != nil {
		t.Fatalf("device A sync failed: %v %v", err, res.Err())
	}
	if res, err := devB.SyncAll(ctx); err != nil || res.Err() != nil {
		t.Fatalf("device B sync failed: %v %v", err, res.Err())
	}

	// Both edit from the same version; A pushes first.
	devA.Write(ctx, "System_Users", store.Record{"sUSR_ID": "u1", "sUSR_Name": "from-a"}, store.Update)
	devB.Write(ctx, "System_Users", store.Record{"sUSR_ID": "u1", "sUSR_Name": "from-b"}, store.Update)

	if res, _ := devA.Push(ctx); res.Applied != 1 {
		t.Fatalf("Expected A to win, got %+v", res)
	}
	res, err := devB.SyncAll(ctx)
	if err != nil {
		t.Fatalf("device B sync failed: %v", err)
	}
	if res.Push.Discarded != 1 || res.Push.Conflicts != 1 {
		t.Errorf("Expected B's edit discarded, got %+v", res.Push)
	}

	row, _ := devB.Get(ctx, "System_Users", "u1")
	if row["sUSR_Name"] != "from-a" {
		t.Errorf("Expected B to converge on A's edit, got %v", row)
	}
}
