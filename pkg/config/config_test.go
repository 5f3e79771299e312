package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "payrelay.db" {
		t.Errorf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Storage.CheckpointInterval != 5*time.Minute {
		t.Errorf("unexpected checkpoint interval: %v", cfg.Storage.CheckpointInterval)
	}
	if !cfg.Audit.Enabled || cfg.Audit.Buffer != 1000 {
		t.Errorf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if cfg.Audit.Retention != 90*24*time.Hour {
		t.Errorf("unexpected audit retention: %v", cfg.Audit.Retention)
	}
	if cfg.Snapshot.Schedule != "*/5 * * * *" || cfg.Snapshot.WarnRatio != 0.8 {
		t.Errorf("unexpected snapshot defaults: %+v", cfg.Snapshot)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Metrics.ListenAddress != "127.0.0.1:9190" {
		t.Errorf("unexpected metrics defaults: %+v", cfg.Metrics)
	}
}

func TestParse_Overrides(t *testing.T) {
	yaml := `
storage:
  backend: memory
audit:
  enabled: false
  retention: 720h
snapshot:
  schedule: "0 * * * *"
  warn_ratio: 0.9
logging:
  level: debug
  format: text
auth:
  admin_keys:
    - name: ops-alice
      key: secret-one
      enabled: true
    - name: ops-bob
      key: secret-two
      enabled: false
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.Audit.Enabled {
		t.Error("expected audit disabled")
	}
	if cfg.Audit.Retention != 720*time.Hour {
		t.Errorf("expected retention 720h, got %v", cfg.Audit.Retention)
	}
	if cfg.Snapshot.Schedule != "0 * * * *" || cfg.Snapshot.WarnRatio != 0.9 {
		t.Errorf("unexpected snapshot config: %+v", cfg.Snapshot)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("unexpected logging config: %+v", cfg.Logging)
	}
	if len(cfg.Auth.AdminKeys) != 2 {
		t.Fatalf("expected 2 admin keys, got %d", len(cfg.Auth.AdminKeys))
	}
	if cfg.Auth.AdminKeys[0].Name != "ops-alice" || !cfg.Auth.AdminKeys[0].Enabled {
		t.Errorf("unexpected first admin key: %+v", cfg.Auth.AdminKeys[0])
	}
	if cfg.Auth.AdminKeys[1].Enabled {
		t.Error("expected second admin key disabled")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad yaml",
			yaml:    "storage: [not a map",
			wantErr: "invalid YAML",
		},
		{
			name:    "unknown backend",
			yaml:    "storage:\n  backend: postgres",
			wantErr: "storage.backend",
		},
		{
			name:    "unknown log level",
			yaml:    "logging:\n  level: verbose",
			wantErr: "logging.level",
		},
		{
			name:    "unknown log format",
			yaml:    "logging:\n  format: xml",
			wantErr: "logging.format",
		},
		{
			name:    "warn ratio out of range",
			yaml:    "snapshot:\n  warn_ratio: 3.5",
			wantErr: "warn_ratio",
		},
		{
			name:    "admin key missing name",
			yaml:    "auth:\n  admin_keys:\n    - key: abc\n      enabled: true",
			wantErr: "name cannot be empty",
		},
		{
			name:    "admin key missing secret",
			yaml:    "auth:\n  admin_keys:\n    - name: ops\n      enabled: true",
			wantErr: "key cannot be empty",
		},
		{
			name: "duplicate admin key",
			yaml: "auth:\n  admin_keys:\n" +
				"    - name: a\n      key: same\n" +
				"    - name: b\n      key: same\n",
			wantErr: "duplicates",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payrelay.yaml")
	content := "storage:\n  backend: memory\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", cfg.Storage.Backend)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
}
