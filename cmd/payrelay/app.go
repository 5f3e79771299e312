package main

import (
	"fmt"

	"storefront-hq/payrelay/pkg/audit"
	"storefront-hq/payrelay/pkg/config"
	"storefront-hq/payrelay/pkg/registry"
	"storefront-hq/payrelay/pkg/registry/storage"
	"storefront-hq/payrelay/pkg/security/auth"
	"storefront-hq/payrelay/pkg/telemetry/logging"
)

// app bundles the wired collaborators a command needs.
type app struct {
	cfg        *config.Config
	store      storage.Store
	auditStore audit.Store
	recorder   *audit.Recorder
	registry   *registry.Registry
	validator  *auth.Validator
	metrics    *registry.Metrics
}

// appOptions controls optional wiring.
type appOptions struct {
	// actor is recorded on audit events emitted during this invocation.
	actor string

	// withMetrics registers Prometheus collectors (run mode only; CLI
	// one-shots skip them).
	withMetrics bool
}

// newApp loads configuration and wires the registry with its store, audit
// trail, and logger.
func newApp(opts appOptions) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.Setup(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return nil, err
	}

	var store storage.Store
	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemory()
	default:
		store, err = storage.NewSQLiteWithConfig(storage.SQLiteConfig{
			DBPath:             cfg.Storage.Path,
			CheckpointInterval: cfg.Storage.CheckpointInterval,
			BusyTimeout:        cfg.Storage.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open server store: %w", err)
		}
	}

	a := &app{
		cfg:       cfg,
		store:     store,
		validator: auth.NewValidator(cfg.Auth.AdminKeys),
	}

	if cfg.Audit.Enabled {
		auditStore, err := audit.NewSQLiteStore(cfg.Audit.Path)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to open audit store: %w", err)
		}
		a.auditStore = auditStore

		actor := opts.actor
		if actor == "" {
			actor = "system"
		}
		a.recorder = audit.NewRecorder(auditStore, &audit.Config{
			Enabled:     true,
			AsyncBuffer: cfg.Audit.Buffer,
			Actor:       actor,
		})
	}

	if opts.withMetrics {
		a.metrics = registry.NewMetrics()
	}

	regOpts := registry.Options{
		Logger:  logger,
		Metrics: a.metrics,
	}
	if a.recorder != nil {
		regOpts.Recorder = a.recorder
	}
	a.registry = registry.New(store, regOpts)

	return a, nil
}

// close releases app resources, draining pending audit events first.
func (a *app) close() {
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.auditStore != nil {
		a.auditStore.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
