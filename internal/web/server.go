// Package web provides the HTTP API for the data layer: one-shot reads,
// server-sent live streams, derived views and the GDPR operations.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/fluent/internal/config"
	"github.com/JonMunkholm/fluent/internal/core"
	appmw "github.com/JonMunkholm/fluent/internal/web/middleware"
)

// Server is the HTTP server for the data layer.
type Server struct {
	layer   *core.DataLayer
	gdpr    *core.GDPRService
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	streams *StreamLimiter

	// done is closed by Shutdown to end open live streams.
	done     chan struct{}
	doneOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a new Server instance.
func NewServer(layer *core.DataLayer, gdpr *core.GDPRService, cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		layer:   layer,
		gdpr:    gdpr,
		cfg:     cfg,
		router:  chi.NewRouter(),
		streams: NewStreamLimiter(cfg.Realtime.MaxStreams),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout, // 0 keeps live streams open
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(appmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
	s.router.Use(appmw.Metrics)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(appmw.APIKeyAuth(&s.cfg.Security))
		if s.cfg.Rate.Enabled {
			r.Use(s.rateLimiter(s.cfg.Rate.RequestsPerMinute, s.cfg.Rate.Burst))
		}

		// Live streams stay open; everything else gets the request timeout.
		r.Get("/{entity}/live", s.handleLive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Get("/entities", s.handleListEntities)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/inventory/low-stock", s.handleLowStock)
			r.Get("/customers/consented", s.handleConsented)
			r.Get("/{entity}", s.handleQuery)

			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled {
					r.Use(s.rateLimiter(s.cfg.Rate.MutationLimit, s.cfg.Rate.Burst))
				}
				r.Post("/{entity}/update", s.handleUpdate)
				r.Post("/customers/{id}/consent", s.handleConsent)
				r.Delete("/customers/{id}/data", s.handleErase)
				r.Post("/decrypt", s.handleDecrypt)
			})
		})
	})
}

// rateLimiter builds a per-IP limiter whose idle buckets are swept until
// the server shuts down.
func (s *Server) rateLimiter(perMinute, burst int) func(http.Handler) http.Handler {
	rl := appmw.NewRateLimiter(perMinute, burst, 15*time.Minute)
	go rl.Run(s.ctx, time.Minute)
	return rl.Middleware
}

// Start begins listening for HTTP requests. It returns nil once Shutdown
// has been called.
func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown ends open live streams, waits for them to drain and then stops
// the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	defer s.cancel()

	if err := s.streams.WaitForDrain(ctx); err != nil {
		slog.Warn("live streams still open at shutdown", "active", s.streams.ActiveCount())
	}

	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Streams returns the live stream limiter.
func (s *Server) Streams() *StreamLimiter {
	return s.streams
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// JSON API: nothing may be loaded by a browser rendering a response
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":       "ok",
		"live_results": s.layer.OpenResults(),
		"streams":      s.streams.Status(),
	})
}
