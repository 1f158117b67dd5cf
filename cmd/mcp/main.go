package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/media-asset-hub/internal/adapters/mcp"
	"github.com/kirillkom/media-asset-hub/internal/bootstrap"
	"github.com/kirillkom/media-asset-hub/internal/config"
	"github.com/kirillkom/media-asset-hub/internal/observability/logging"
)

const serverVersion = "1.0.0"

func main() {
	cfg := config.Load()
	// stdout carries the protocol.
	logger := logging.New(os.Stderr, "media-mcp", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.WithLogger(logger))
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(cfg.MCPServerName, serverVersion, mcpadapter.Services{
		Metadata: app.MetadataUC,
		Rollback: app.RollbackUC,
		Jobs:     app.Orchestrator,
		Audit:    app.Audit,
	}, logger)

	logger.Info("mcp_serving_stdio", "name", cfg.MCPServerName)
	if err := server.ServeStdio(); err != nil {
		logger.Error("mcp_server_stopped", "error", err)
	}
}
