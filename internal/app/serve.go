package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/fluent/internal/web"
)

// Serve runs the HTTP server until ctx is cancelled, then shuts it down:
// live streams are ended first, then in-flight requests get up to
// ShutdownTimeout to finish.
func Serve(ctx context.Context, a *App) error {
	server := web.NewServer(a.Layer, a.GDPR, a.Config)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()

	if status := server.Streams().Status(); status.Active > 0 {
		slog.Info("closing live streams", "active", status.Active)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
