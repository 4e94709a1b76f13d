package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/querygate/querygate/internal/app"
	"github.com/querygate/querygate/internal/config"
	"github.com/querygate/querygate/internal/mcpserver"
	"github.com/querygate/querygate/internal/observability"
)

var version = "dev"

func main() {
	cfg, err := config.LoadFromEnv("querygate-mcp")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// stdout carries the protocol stream.
	logger := observability.NewLogger(cfg, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = a.Close() }()

	srv := mcpserver.NewServer(cfg.Service.Name, version, a.Tools)
	logger.Info("serving tools over stdio", slog.Any("tools", a.Tools.Names()))
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		logger.Error("mcp server failed", slog.Any("error", err))
		os.Exit(1)
	}
}
