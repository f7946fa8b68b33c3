package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/nldbquery/nldbquery/internal/app"
	"github.com/nldbquery/nldbquery/internal/config"
	"github.com/nldbquery/nldbquery/internal/mcptools"
	"github.com/nldbquery/nldbquery/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("nldb-mcp")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	// stdio carries the protocol; the local process is trusted.
	cfg.Auth.Required = false

	logger := observability.NewLogger(cfg, os.Stderr)
	runtime, err := app.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize runtime", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = runtime.Close() }()

	logger.Info("serving mcp tools on stdio", slog.Any("databases", runtime.Registry.Names()))
	if err := server.ServeStdio(mcptools.NewServer(runtime.Dispatcher, logger)); err != nil {
		logger.Error("mcp server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
