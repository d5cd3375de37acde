package remote

import (
	"context"
	"fmt"
	"io"

	"offline-sync-service/internal/config"
	"offline-sync-service/internal/database"
	"offline-sync-service/internal/store"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the backend selected by cfg.Type. The returned closer releases
// any database connection the backend holds.
func Open(ctx context.Context, cfg config.RemoteConfig, schemas []store.TableSchema) (Backend, io.Closer, error) {
	switch cfg.Type {
	case "http", "":
		return NewHTTPBackend(cfg), nopCloser{}, nil

	case "sql":
		db, err := database.NewDatabase(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to remote db: %w", err)
		}
		b, err := NewSQLBackend(db, schemas)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if cfg.CreateTables {
			if err := b.EnsureTables(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return b, b, nil
	}
	return nil, nil, fmt.Errorf("unknown remote type %q", cfg.Type)
}
