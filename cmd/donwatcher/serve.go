package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rival420/donwatcher/internal/api"
	"github.com/rival420/donwatcher/internal/bus"
	"github.com/rival420/donwatcher/internal/config"
	"github.com/rival420/donwatcher/internal/domain"
	"github.com/rival420/donwatcher/internal/export"
	"github.com/rival420/donwatcher/internal/risk"
	"github.com/rival420/donwatcher/internal/worker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, event worker and recalculation scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			slog.SetDefault(config.NewLogger(cfg.Logging))
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *domain.Config) error {
	slog.Info("starting donwatcher",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scoring_config", cfg.Scoring.ConfigPath,
	)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	opts := []risk.Option{risk.WithEventBus(busImpl)}

	// Optional score export
	if cfg.Export.InfluxURL != "" {
		sink, err := export.NewInfluxSink(cfg.Export)
		if err != nil {
			return fmt.Errorf("failed to initialize influx export: %w", err)
		}
		defer sink.Close()
		if err := sink.Ping(ctx); err != nil {
			slog.Warn("influx not reachable at startup", "error", err)
		}
		opts = append(opts, risk.WithScoreSink(sink))
		slog.Info("influx export enabled", "org", cfg.Export.InfluxOrg, "bucket", cfg.Export.InfluxBucket)
	}

	// Repository, cache tiers and service
	eng, err := openEngine(cfg, opts...)
	if err != nil {
		return err
	}
	defer eng.Close()
	slog.Info("risk engine initialized",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
	)

	// Fact change events
	w := worker.NewWorker(busImpl, eng.svc)
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer w.Stop()

	// Periodic recalculation
	if cfg.Scheduler.Schedule != "" {
		sched := risk.NewScheduler(eng.svc, eng.repo, cfg.Scheduler.Concurrency)
		if err := sched.Start(cfg.Scheduler.Schedule); err != nil {
			return err
		}
		defer sched.Stop()
	} else {
		slog.Info("recalculation scheduler disabled")
	}

	// Scoring hot reload
	if cfg.Scoring.Watch {
		watcher, err := config.NewScoringWatcher(cfg.Scoring.ConfigPath, eng.svc.UpdateScoring)
		if err != nil {
			return fmt.Errorf("failed to watch scoring config: %w", err)
		}
		defer watcher.Close()
		go watcher.Run(ctx)
	}

	srv := api.NewServer(cfg.Server, eng.svc, eng.repo, busImpl, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("donwatcher is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("donwatcher shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	out := os.Stderr
	fmt.Fprintln(out)
	fmt.Fprintln(out, bannerStyle.Render("DonWatcher\nprivileged group risk engine"))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", version)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintf(out, "  Scoring:  %s (watch=%t)\n", cfg.Scoring.ConfigPath, cfg.Scoring.Watch)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    GET    /domains                                   - Known domains")
	fmt.Fprintln(out, "    GET    /domains/{domain}/risk                     - Global risk score")
	fmt.Fprintln(out, "    GET    /domains/{domain}/risk/breakdown           - Categories and groups")
	fmt.Fprintln(out, "    GET    /domains/{domain}/risk/history?days=N      - Score history")
	fmt.Fprintln(out, "    POST   /domains/{domain}/risk/recalculate         - Force recalculation")
	fmt.Fprintln(out, "    DELETE /domains/{domain}/risk/cache               - Invalidate cache")
	fmt.Fprintln(out, "    PUT    /domains/{domain}/groups/{g}/members/{m}/acceptance")
	fmt.Fprintln(out, "    GET    /cache/stats, /scoring, /metrics, /health, /ready")
	fmt.Fprintln(out)
}
