// Package main is the entry point for the job tracker web frontend.
//
// All configuration comes from the environment (or a .env file); see
// internal/config. Typical local run:
//
//	SESSION_SECRET=$(openssl rand -hex 32) \
//	GOOGLE_CLIENT_ID=... GOOGLE_CLIENT_SECRET=... \
//	BACKEND_URL=http://localhost:8000 \
//	go run ./cmd/server
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/sakif/job-tracker-web/internal/config"
	"github.com/sakif/job-tracker-web/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Level(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	srv, err := server.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
