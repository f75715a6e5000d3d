package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/fluent/internal/app"
	"github.com/JonMunkholm/fluent/internal/config"
	_ "github.com/JonMunkholm/fluent/internal/core/tables" // Register all entities
	"github.com/JonMunkholm/fluent/internal/logging"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"backend", cfg.Backend.Mode,
		"realtime", cfg.Realtime.Enabled,
		"stale_time", cfg.Cache.StaleTime,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Open the backend and start the data layer
	a, err := app.New(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to start data layer", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Serve(ctx, a); err != nil {
		slog.Error("server stopped", "error", err)
		a.Close()
		os.Exit(1)
	}
	slog.Info("server stopped")
}
