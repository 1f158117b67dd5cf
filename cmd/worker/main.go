package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/media-asset-hub/internal/bootstrap"
	"github.com/kirillkom/media-asset-hub/internal/config"
	"github.com/kirillkom/media-asset-hub/internal/observability/logging"
	"github.com/kirillkom/media-asset-hub/internal/observability/metrics"
)

const serviceName = "media-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg,
		bootstrap.WithLogger(logger),
		bootstrap.WithBreakerObserver(workerMetrics.SetBreakerState),
	)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	app.Pipeline.SetObserver(workerMetrics.ObserveCapability)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	if app.Ingress != nil {
		go func() {
			logger.Info("local_ingress_watching", "dir", cfg.LocalIngressDir)
			if err := app.Ingress.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("local_ingress_stopped", "error", err)
			}
		}()
	}

	logger.Info("worker_started", "queue_backend", cfg.QueueBackend, "subject", cfg.NATSSubject)
	if err := app.ServeJobs(ctx, workerMetrics); err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
