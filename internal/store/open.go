package store

import (
	"fmt"

	"offline-sync-service/internal/config"
)

// Open returns the local store selected by cfg.Type.
func Open(cfg config.LocalStoreConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemStore(), nil
	case "sqlite", "":
		s, err := NewSQLiteStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown local store type %q", cfg.Type)
}
