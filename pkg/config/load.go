package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the configuration file at path, applies defaults for omitted
// fields, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse unmarshals YAML configuration, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values that yaml unmarshalling may have cleared.
func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = def.Storage.Backend
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = def.Storage.Path
	}
	if cfg.Storage.CheckpointInterval <= 0 {
		cfg.Storage.CheckpointInterval = def.Storage.CheckpointInterval
	}
	if cfg.Storage.BusyTimeout <= 0 {
		cfg.Storage.BusyTimeout = def.Storage.BusyTimeout
	}

	if cfg.Audit.Path == "" {
		cfg.Audit.Path = def.Audit.Path
	}
	if cfg.Audit.Buffer <= 0 {
		cfg.Audit.Buffer = def.Audit.Buffer
	}

	if cfg.Snapshot.WarnRatio <= 0 {
		cfg.Snapshot.WarnRatio = def.Snapshot.WarnRatio
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = def.Metrics.ListenAddress
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.backend must be \"sqlite\" or \"memory\", got %q", c.Storage.Backend)
	}

	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required for the sqlite backend")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}

	if c.Snapshot.WarnRatio < 0 || c.Snapshot.WarnRatio > 2 {
		return fmt.Errorf("snapshot.warn_ratio must be between 0 and 2, got %v", c.Snapshot.WarnRatio)
	}

	seen := make(map[string]bool)
	for i, key := range c.Auth.AdminKeys {
		if key.Name == "" {
			return fmt.Errorf("auth.admin_keys[%d].name cannot be empty", i)
		}
		if key.Key == "" {
			return fmt.Errorf("auth.admin_keys[%d].key cannot be empty", i)
		}
		if seen[key.Key] {
			return fmt.Errorf("auth.admin_keys[%d] duplicates an earlier key", i)
		}
		seen[key.Key] = true
	}

	return nil
}
