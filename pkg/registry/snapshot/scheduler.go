// Package snapshot runs a scheduled job over the server registry: it
// refreshes usage-ratio gauges, logs capacity warnings, and prunes old
// audit events.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"storefront-hq/payrelay/pkg/audit"
	"storefront-hq/payrelay/pkg/registry"
)

// Config configures the snapshot scheduler.
type Config struct {
	// Schedule is a standard cron expression, e.g. "*/5 * * * *".
	// An empty schedule disables the job.
	Schedule string

	// WarnRatio is the usage-to-capacity ratio at or above which a
	// capacity warning is logged. Default: 0.8
	WarnRatio decimal.Decimal

	// AuditRetention is how long audit events are kept. Zero disables
	// audit pruning.
	AuditRetention time.Duration
}

// Scheduler periodically snapshots registry state.
type Scheduler struct {
	config     Config
	reg        *registry.Registry
	metrics    *registry.Metrics
	auditStore audit.Store
	cron       *cron.Cron
	mu         sync.Mutex
	logger     *slog.Logger
	running    bool
}

// NewScheduler creates a snapshot scheduler. metrics and auditStore may be
// nil, disabling the corresponding part of the job.
func NewScheduler(cfg Config, reg *registry.Registry, metrics *registry.Metrics, auditStore audit.Store) *Scheduler {
	if cfg.WarnRatio.IsZero() {
		cfg.WarnRatio = decimal.NewFromFloat(0.8)
	}

	return &Scheduler{
		config:     cfg,
		reg:        reg,
		metrics:    metrics,
		auditStore: auditStore,
		cron:       cron.New(),
		logger:     slog.Default().With("component", "registry.snapshot"),
	}
}

// Start begins the scheduled snapshots. If no schedule is configured the
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" {
		s.logger.Info("snapshot schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runSnapshot(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule snapshot: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("snapshot scheduler started",
		"schedule", s.config.Schedule,
		"warn_ratio", s.config.WarnRatio.String(),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runSnapshot executes one snapshot cycle.
func (s *Scheduler) runSnapshot(ctx context.Context) {
	servers, err := s.reg.GetAllServers(ctx)
	if err != nil {
		s.logger.Error("snapshot failed to list servers", "error", err)
		return
	}

	warned := 0
	for _, srv := range servers {
		s.metrics.ObserveUsageRatio(srv)

		ratio := srv.UsageRatio()
		if srv.CapacityLimit.IsPositive() && ratio.GreaterThanOrEqual(s.config.WarnRatio) {
			warned++
			s.logger.Warn("server approaching capacity",
				"server_id", srv.ID,
				"server", srv.Name,
				"current_usage", srv.CurrentUsage.String(),
				"capacity_limit", srv.CapacityLimit.String(),
				"usage_ratio", ratio.String(),
			)
		}
	}

	s.logger.Debug("snapshot completed",
		"servers", len(servers),
		"capacity_warnings", warned,
	)

	if s.auditStore != nil && s.config.AuditRetention > 0 {
		cutoff := time.Now().Add(-s.config.AuditRetention)
		deleted, err := s.auditStore.Prune(ctx, cutoff)
		if err != nil {
			s.logger.Error("audit pruning failed", "error", err)
		} else if deleted > 0 {
			s.logger.Info("audit events pruned", "deleted_count", deleted)
		}
	}
}

// Stop stops the scheduler and waits for any running job to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("snapshot scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled snapshot time, or nil when idle.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
