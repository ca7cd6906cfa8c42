package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/contextcore/internal/evolution"
	"github.com/fyrsmithlabs/contextcore/internal/telemetry"
)

var (
	daemonMetricsAddr string
	daemonWorkspaces  []string
	daemonInterval    time.Duration
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the maintenance daemon",
	Long: `Run the contextcore maintenance daemon: periodic confidence decay
sweeps over the configured workspaces, plus a Prometheus metrics
endpoint. Failed vector index writes reported by the storage service are
logged for later reconciliation.

Examples:
  contextcore daemon --workspace my-project
  contextcore daemon --workspace my-project --interval 6h --metrics-addr :9090`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", ":9090", "Prometheus metrics listen address (empty disables)")
	daemonCmd.Flags().StringSliceVar(&daemonWorkspaces, "workspace", nil, "workspace to sweep (repeatable; overrides config)")
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "sweep interval (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	tel, err := telemetry.New(ctx, a.cfg.Telemetry, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	workspaces := a.cfg.Evolution.Workspaces
	if len(daemonWorkspaces) > 0 {
		workspaces = daemonWorkspaces
	}
	if len(workspaces) == 0 {
		return fmt.Errorf("no workspaces to sweep: set --workspace or evolution.workspaces")
	}

	interval := a.cfg.Evolution.SweepInterval
	if daemonInterval > 0 {
		interval = daemonInterval
	}

	scheduler, err := evolution.NewScheduler(a.engine, a.logger,
		evolution.WithInterval(interval),
		evolution.WithWorkspaces(workspaces))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := scheduler.Stop(); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}()

	// Surface dual-store drift as it happens so operators know a
	// reconcile run is needed.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case failure := <-a.storage.IndexFailures():
				a.logger.Warn("vector index write failed; reconcile recommended",
					zap.String("context_id", failure.ContextID),
					zap.String("workspace_id", failure.WorkspaceID),
					zap.String("op", failure.Op),
					zap.Error(failure.Err))
			}
		}
	}()

	var metricsSrv *http.Server
	if daemonMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              daemonMetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("metrics server listening", zap.String("addr", daemonMetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	a.logger.Info("daemon started",
		zap.Strings("workspaces", workspaces),
		zap.Duration("interval", interval))

	<-ctx.Done()
	a.logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	return nil
}
