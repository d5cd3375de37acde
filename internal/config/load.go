package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads the YAML file at path, applies OFFLINE_SYNC_* environment
// overrides and validates the result. A missing file is not an error when
// path is empty.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("OFFLINE_SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("local_store.type", "sqlite")
	v.SetDefault("local_store.file_path", "offline.db")

	v.SetDefault("remote.type", "http")
	v.SetDefault("remote.api_version", "2.0.0")
	v.SetDefault("remote.timeout", "30s")
	v.SetDefault("remote.create_tables", false)
	v.SetDefault("remote.database.driver", "mysql")
	v.SetDefault("remote.database.port", 3306)
	v.SetDefault("remote.database.server_id", 100)

	v.SetDefault("sync.offline", true)
	v.SetDefault("sync.conflict_policy", "discard")
	v.SetDefault("sync.push_timeout", "60s")
	v.SetDefault("sync.flush_interval", "500ms")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.interval", "@every 5m")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	switch c.LocalStore.Type {
	case "memory":
	case "sqlite":
		if c.LocalStore.FilePath == "" {
			errs = append(errs, errors.New("local_store.file_path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown local_store.type %q", c.LocalStore.Type))
	}

	switch c.Remote.Type {
	case "http":
		if c.Remote.BaseURL == "" {
			errs = append(errs, errors.New("remote.base_url is required for http"))
		}
	case "sql":
		switch c.Remote.Database.Driver {
		case "mysql", "pgx", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("unknown remote.database.driver %q", c.Remote.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown remote.type %q", c.Remote.Type))
	}

	if c.Sync.Realtime && (c.Remote.Type != "sql" || c.Remote.Database.Driver != "mysql") {
		errs = append(errs, errors.New("sync.realtime requires a mysql remote"))
	}

	seen := make(map[string]bool)
	for i, t := range c.Sync.Tables {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("sync.tables[%d].name is required", i))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("sync.tables: duplicate table %q", t.Name))
		}
		seen[t.Name] = true
	}

	return errors.Join(errs...)
}
