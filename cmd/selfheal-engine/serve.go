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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-selfheal/internal/api"
	"github.com/miradorstack/mirador-selfheal/internal/config"
	"github.com/miradorstack/mirador-selfheal/internal/metrics"
	"github.com/miradorstack/mirador-selfheal/internal/services"
	"github.com/miradorstack/mirador-selfheal/internal/trigger"
	"github.com/miradorstack/mirador-selfheal/internal/utils"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: periodic runs, gRPC control plane and /metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-selfheal", slog.String("address", cfg.Server.Address), slog.String("version", version))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	parts, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer parts.Close()

	lock := runLock(ctx, cfg, logger)
	defer lock.Close()
	runner := trigger.NewRunner(ctx, parts.coordinator.Run, lock, cfg.Schedule.LockTTL, logger.With(slog.String("component", "trigger")))

	control := services.NewControlService(logger, services.Deps{
		Trigger:  runner,
		Backups:  parts.backups,
		Learning: parts.learning,
		History:  parts.coordinator,
		Restarts: parts.restarts,
	})
	server, err := api.NewServer(cfg.Server, control, logger.With(slog.String("component", "api")))
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		logger.Info("control plane listening", slog.String("address", server.Address()))
		if serveErr := server.Run(ctx); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	if cfg.Schedule.Enabled {
		go runner.Every(ctx, cfg.Schedule.Interval)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	<-serverDone

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-selfheal stopped", slog.Int("pending_restarts", len(parts.restarts.Pending())))
	return nil
}
