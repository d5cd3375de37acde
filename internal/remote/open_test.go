package remote

import (
	"context"
	"path/filepath"
	"testing"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/store"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, closer, err := Open(ctx, config.RemoteConfig{Type: "http", BaseURL: "http://localhost"}, nil)
	if err != nil {
		t.Fatalf("Open http failed: %v", err)
	}
	if _, ok := b.(*HTTPBackend); !ok {
		t.Errorf("Expected HTTPBackend, got %T", b)
	}
	closer.Close()

	cfg := config.RemoteConfig{
		Type:         "sql",
		CreateTables: true,
		Database:     config.DatabaseConnection{Driver: "sqlite3", Database: filepath.Join(t.TempDir(), "cloud.db")},
	}
	b, closer, err = Open(ctx, cfg, []store.TableSchema{users})
	if err != nil {
		t.Fatalf("Open sql failed: %v", err)
	}
	defer closer.Close()
	table, err := b.Table("System_Users")
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	if _, err := table.Query(ctx, nil); err != nil {
		t.Errorf("Expected created table to be queryable, got %v", err)
	}

	if _, _, err := Open(ctx, config.RemoteConfig{Type: "grpc"}, nil); err == nil {
		t.Error("Expected unknown type to fail")
	}
}
