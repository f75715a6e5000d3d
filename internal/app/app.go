// Package app wires a configured data layer: it selects the backend,
// creates the DataLayer and GDPR service, and runs the cache janitor.
// The server and the CLI both start from here.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/fluent/internal/backend/memory"
	"github.com/JonMunkholm/fluent/internal/backend/postgres"
	"github.com/JonMunkholm/fluent/internal/config"
	"github.com/JonMunkholm/fluent/internal/core"
)

// App holds the process-wide data layer and the resources behind it.
type App struct {
	Config *config.Config
	Layer  *core.DataLayer
	GDPR   *core.GDPRService

	// Memory is set when running on the in-memory backend.
	Memory *memory.Backend

	pool       *pgxpool.Pool
	cancelJobs context.CancelFunc
}

// New opens the configured backend and starts the data layer.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	var backend core.Backend
	switch strings.ToLower(cfg.Backend.Mode) {
	case config.BackendMemory:
		a.Memory = memory.New()
		if cfg.Backend.Seed {
			a.Memory.Seed()
		}
		backend = a.Memory
		slog.Info("using in-memory backend", "seeded", cfg.Backend.Seed)

	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		logDatabase(cfg.Database.URL)

		pg := postgres.New(pool, cfg.Backend.ChannelPrefix)
		if cfg.Backend.InstallTriggers {
			if err := pg.InstallTriggers(ctx, Entities()); err != nil {
				pool.Close()
				return nil, fmt.Errorf("install triggers: %w", err)
			}
			slog.Info("change triggers installed", "prefix", cfg.Backend.ChannelPrefix)
		}
		backend = pg

	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Backend.Mode)
	}

	a.Layer = core.NewDataLayer(backend, core.Options{
		StaleTime:          cfg.Cache.StaleTime,
		EventBuffer:        cfg.Realtime.EventBuffer,
		RefetchConcurrency: cfg.Cache.RefetchConcurrency,
		Realtime:           cfg.Realtime.Enabled,
	})
	a.GDPR = core.NewGDPRService(a.Layer)

	slog.Info("entities registered",
		"count", core.EntityCount(),
		"groups", len(core.Groups()),
	)

	jobCtx, cancel := context.WithCancel(context.Background())
	a.cancelJobs = cancel
	go a.Layer.StartJanitor(jobCtx, core.JanitorConfig{
		GCTime:   cfg.Cache.GCTime,
		Interval: cfg.Cache.JanitorInterval,
	})

	return a, nil
}

// Close stops the janitor, closes every live result and releases the
// backend.
func (a *App) Close() error {
	if a.cancelJobs != nil {
		a.cancelJobs()
	}
	err := a.Layer.Close()
	if a.Memory != nil {
		_ = a.Memory.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

// Entities returns the names of all registered entities.
func Entities() []core.Entity {
	defs := core.All()
	out := make([]core.Entity, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

// logDatabase logs which database we connected to, without credentials.
func logDatabase(rawURL string) {
	if u, err := url.Parse(rawURL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"), "host", u.Hostname())
		return
	}
	slog.Info("connected to database")
}
