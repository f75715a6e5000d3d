package core

// scheduler.go runs background maintenance for the query cache.
//
// The janitor periodically evicts entries nobody watches and nobody has read
// for longer than the GC time, so one-off queries do not accumulate. It is
// long-running and stops when its context is cancelled.

import (
	"context"
	"log/slog"
	"time"
)

// JanitorConfig holds configuration for the cache janitor.
// Zero values select the defaults.
type JanitorConfig struct {
	GCTime   time.Duration // Idle time before an unwatched entry is evicted (default: 10m)
	Interval time.Duration // How often to sweep (default: 1m)
}

func (c JanitorConfig) withDefaults() JanitorConfig {
	if c.GCTime <= 0 {
		c.GCTime = 10 * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	return c
}

// StartJanitor sweeps the cache every Interval until ctx is cancelled.
// It blocks; run it in its own goroutine.
func (l *DataLayer) StartJanitor(ctx context.Context, cfg JanitorConfig) {
	cfg = cfg.withDefaults()

	slog.Info("cache janitor started",
		"gc_time", cfg.GCTime,
		"interval", cfg.Interval,
	)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cache janitor stopped")
			return
		case <-ticker.C:
			l.runSweep(cfg)
		}
	}
}

// runSweep performs one eviction pass.
func (l *DataLayer) runSweep(cfg JanitorConfig) {
	start := time.Now()
	evicted := l.cache.Sweep(cfg.GCTime)

	if evicted > 0 {
		slog.Info("evicted idle cache entries",
			"entries_evicted", evicted,
			"entries_remaining", l.cache.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	slog.Debug("cache sweep completed", "entries", l.cache.Len())
}
