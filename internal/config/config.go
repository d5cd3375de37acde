package config

import (
	"time"
)

type Config struct {
	LocalStore LocalStoreConfig `mapstructure:"local_store"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Sync       SyncConfig       `mapstructure:"sync"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// LocalStoreConfig selects the on-device mirror. Type is "sqlite" or "memory".
type LocalStoreConfig struct {
	Type     string `mapstructure:"type"`
	FilePath string `mapstructure:"file_path"`
}

// RemoteConfig selects the remote table backend. Type is "http" or "sql".
type RemoteConfig struct {
	Type       string             `mapstructure:"type"`
	BaseURL    string             `mapstructure:"base_url"`
	APIVersion string             `mapstructure:"api_version"`
	AuthToken  string             `mapstructure:"auth_token"`
	Timeout    string             `mapstructure:"timeout"`
	Database   DatabaseConnection `mapstructure:"database"`

	// CreateTables creates missing tables on a sql remote at startup.
	CreateTables bool `mapstructure:"create_tables"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(r.Timeout)
	return d
}

type DatabaseConnection struct {
	Driver              string `mapstructure:"driver"` // mysql, pgx or sqlite3
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	User                string `mapstructure:"user"`
	Password            string `mapstructure:"password"`
	Database            string `mapstructure:"database"`
	DSN                 string `mapstructure:"dsn"` // overrides the fields above when set
	ReplicationUser     string `mapstructure:"replication_user"`
	ReplicationPassword string `mapstructure:"replication_password"`
	ServerID            uint32 `mapstructure:"server_id"`
}

type SyncConfig struct {
	Offline        bool          `mapstructure:"offline"`
	Tables         []TableConfig `mapstructure:"tables"`
	ConflictPolicy string        `mapstructure:"conflict_policy"`
	PushTimeout    string        `mapstructure:"push_timeout"`
	Realtime       bool          `mapstructure:"realtime"`
	FlushInterval  string        `mapstructure:"flush_interval"`
}

func (s SyncConfig) GetPushTimeout() time.Duration {
	d, _ := time.ParseDuration(s.PushTimeout)
	return d
}

func (s SyncConfig) GetFlushInterval() time.Duration {
	d, _ := time.ParseDuration(s.FlushInterval)
	return d
}

// Table looks up a table by name.
func (s SyncConfig) Table(name string) (TableConfig, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableConfig{}, false
}

type TableConfig struct {
	Name       string         `mapstructure:"name"`
	PrimaryKey string         `mapstructure:"primary_key"`
	Columns    []ColumnConfig `mapstructure:"columns"`
	PullFilter []FilterConfig `mapstructure:"pull_filter"`
}

type ColumnConfig struct {
	Name string `mapstructure:"name"`
	Type string `mapstructure:"type"`
}

// FilterConfig is one equality constraint of a pull query. Lists are used
// instead of maps because viper lower-cases map keys.
type FilterConfig struct {
	Column string      `mapstructure:"column"`
	Value  interface{} `mapstructure:"value"`
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
