package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	mcpadapter "github.com/kirillkom/policy-rag/internal/adapters/mcp"
	"github.com/kirillkom/policy-rag/internal/bootstrap"
	"github.com/kirillkom/policy-rag/internal/config"
	"github.com/kirillkom/policy-rag/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	logger := logging.NewJSONLoggerTo(os.Stderr, "policy-rag-mcp", cfg.LogLevel)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	app.StartBackground(ctx)

	server, err := mcpadapter.NewServer(app.Answers, app.Status)
	if err != nil {
		logger.Error("mcp_init_failed", "error", err)
		return
	}
	if err := server.Run(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
