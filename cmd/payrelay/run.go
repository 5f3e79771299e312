package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"storefront-hq/payrelay/pkg/config"
	"storefront-hq/payrelay/pkg/registry/snapshot"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the snapshot daemon",
	Long: `Run payrelay in daemon mode: serve Prometheus metrics, execute the
scheduled usage snapshot job, and hot-reload the configuration file when it
changes on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func runDaemon(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(appOptions{withMetrics: true})
	if err != nil {
		return err
	}
	defer a.close()

	scheduler := snapshot.NewScheduler(snapshot.Config{
		Schedule:       a.cfg.Snapshot.Schedule,
		WarnRatio:      decimal.NewFromFloat(a.cfg.Snapshot.WarnRatio),
		AuditRetention: a.cfg.Audit.Retention,
	}, a.registry, a.metrics, a.auditStore)

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Hot-reload admin keys and log level on config change. Storage and
	// audit wiring stay fixed until restart.
	watcher, err := config.NewWatcher(cfgFile, func(cfg *config.Config) {
		a.validator.Update(cfg.Auth.AdminKeys)
	})
	if err != nil {
		slog.Warn("config hot reload unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	var metricsServer *http.Server
	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())

		metricsServer = &http.Server{
			Addr:              a.cfg.Metrics.ListenAddress,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			slog.Info("metrics listener started", "address", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
	}

	slog.Info("payrelay daemon started")
	<-ctx.Done()
	slog.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics listener shutdown: %w", err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}
