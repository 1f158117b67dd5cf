package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	httpadapter "github.com/kirillkom/media-asset-hub/internal/adapters/http"
	"github.com/kirillkom/media-asset-hub/internal/bootstrap"
	"github.com/kirillkom/media-asset-hub/internal/config"
	"github.com/kirillkom/media-asset-hub/internal/infrastructure/ratelimit"
	"github.com/kirillkom/media-asset-hub/internal/observability/logging"
	"github.com/kirillkom/media-asset-hub/internal/observability/metrics"
)

const serviceName = "media-api"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg,
		bootstrap.WithLogger(logger),
		bootstrap.WithBreakerObserver(httpMetrics.SetBreakerState),
	)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	routerOpts := []httpadapter.Option{
		httpadapter.WithLogger(logger),
		httpadapter.WithMetrics(httpMetrics),
	}
	if cfg.APIRateLimitRPS > 0 {
		limiter := ratelimit.New(cfg.APIRateLimitRPS, cfg.APIRateLimitBurst, 0)
		go limiter.Run(ctx, 0)
		routerOpts = append(routerOpts, httpadapter.WithRateLimiter(limiter))
	}

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Ingest:   app.IngestUC,
		Assets:   app.MetadataUC,
		Metadata: app.MetadataUC,
		Rollback: app.RollbackUC,
		Jobs:     app.Orchestrator,
		Audit:    app.Audit,
	}, routerOpts...).Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		logger.Error("api_listen_failed", "addr", server.Addr, "error", err)
		os.Exit(1)
	}
	if cfg.APIMaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.APIMaxConnections)
	}

	// Without a broker nobody else consumes the queue, so the API runs the
	// jobs and the ingress watcher itself.
	if app.InProcessQueue() {
		go func() {
			if err := app.ServeJobs(ctx, nil); err != nil {
				logger.Error("in_process_jobs_stopped", "error", err)
			}
		}()
		if app.Ingress != nil {
			go func() {
				if err := app.Ingress.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("local_ingress_stopped", "error", err)
				}
			}()
		}
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "queue_backend", cfg.QueueBackend, "store_backend", cfg.StoreBackend)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
