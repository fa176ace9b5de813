package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/kirillkom/policy-rag/internal/adapters/cli"
	"github.com/kirillkom/policy-rag/internal/observability/logging"
)

func main() {
	_ = godotenv.Load()
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "warn"
	}
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "ragctl", level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		color.New(color.FgRed).Fprintln(os.Stderr, fmt.Sprintf("error: %v", err))
		stop()
		os.Exit(1)
	}
}
