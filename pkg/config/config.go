// Package config loads and validates the payrelay YAML configuration.
package config

import "time"

// Config is the root configuration structure for payrelay.
type Config struct {
	// Storage configures the server record store.
	Storage StorageConfig `yaml:"storage"`

	// Audit configures the audit event trail.
	Audit AuditConfig `yaml:"audit"`

	// Snapshot configures the periodic usage snapshot job.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Metrics configures the Prometheus metrics endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// Auth configures administrator keys gating mutating operations.
	Auth AuthConfig `yaml:"auth"`
}

// StorageConfig configures the server record store.
type StorageConfig struct {
	// Backend selects the store implementation: "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file path.
	// Default: "payrelay.db"
	Path string `yaml:"path"`

	// CheckpointInterval is how often the SQLite WAL is checkpointed.
	// Default: 5m
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// BusyTimeout is how long SQLite waits for locks before failing.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// AuditConfig configures the audit event trail.
type AuditConfig struct {
	// Enabled enables audit recording.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the audit SQLite database file path.
	// Default: "payrelay-audit.db"
	Path string `yaml:"path"`

	// Buffer is the async write buffer size.
	// Default: 1000
	Buffer int `yaml:"buffer"`

	// Retention is how long audit events are kept before pruning.
	// Zero disables pruning. Default: 2160h (90 days)
	Retention time.Duration `yaml:"retention"`
}

// SnapshotConfig configures the periodic usage snapshot job.
type SnapshotConfig struct {
	// Schedule is a standard cron expression. Empty disables the job.
	// Default: "*/5 * * * *"
	Schedule string `yaml:"schedule"`

	// WarnRatio is the usage-to-capacity ratio at or above which a
	// capacity warning is logged. Default: 0.8
	WarnRatio float64 `yaml:"warn_ratio"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled serves Prometheus metrics over HTTP in run mode.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics listener address.
	// Default: "127.0.0.1:9190"
	ListenAddress string `yaml:"listen_address"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// AuthConfig configures administrator authentication.
type AuthConfig struct {
	// AdminKeys lists keys authorized for mutating operations.
	AdminKeys []AdminKey `yaml:"admin_keys"`
}

// AdminKey is one administrator credential.
type AdminKey struct {
	// Name identifies the administrator in audit events.
	Name string `yaml:"name"`

	// Key is the shared secret.
	Key string `yaml:"key"`

	// Enabled allows disabling a key without removing it.
	Enabled bool `yaml:"enabled"`
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:            "sqlite",
			Path:               "payrelay.db",
			CheckpointInterval: 5 * time.Minute,
			BusyTimeout:        5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:   true,
			Path:      "payrelay-audit.db",
			Buffer:    1000,
			Retention: 90 * 24 * time.Hour,
		},
		Snapshot: SnapshotConfig{
			Schedule:  "*/5 * * * *",
			WarnRatio: 0.8,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: "127.0.0.1:9190",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
