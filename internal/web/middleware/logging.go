// Package middleware provides HTTP middleware for the web server.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/logging"
)

type logFieldsKey struct{}

// logFields collects attributes that handlers further down the chain want on
// the request's access log line.
type logFields struct {
	mu   sync.Mutex
	args []any
}

// AddLogFields attaches key/value pairs to the access log line of the request
// ctx belongs to. It is a no-op outside Logger.
func AddLogFields(ctx context.Context, args ...any) {
	f, ok := ctx.Value(logFieldsKey{}).(*logFields)
	if !ok {
		return
	}
	f.mu.Lock()
	f.args = append(f.args, args...)
	f.mu.Unlock()
}

// Logger logs one line per request once it completes.
//
// Besides method, status and timing it records the matched chi route and the
// entity the request addressed, so lines for /api/orders and /api/customers
// group under "/api/{entity}". Live streams are logged as "live stream" when
// they end; their duration is the time the client stayed connected and the
// live result id is attached by the handler through AddLogFields. The actor
// set by APIKeyAuth is attached the same way.
//
// 5xx responses log at error level, 4xx at warn.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		fields := &logFields{}
		r = r.WithContext(context.WithValue(r.Context(), logFieldsKey{}, fields))

		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		args := []any{
			"method", r.Method,
			"route", routePattern(r),
			"path", r.URL.Path,
			"status", ww.status,
			"bytes", ww.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", clientAddr(r),
			"user_agent", r.UserAgent(),
		}
		if entity := chi.URLParam(r, "entity"); entity != "" {
			args = append(args, "entity", entity)
		}
		fields.mu.Lock()
		args = append(args, fields.args...)
		fields.mu.Unlock()

		msg := "request"
		if strings.HasPrefix(ww.Header().Get("Content-Type"), "text/event-stream") {
			msg = "live stream"
		}

		logging.FromContext(r.Context()).Log(r.Context(), levelFor(ww.status), msg, args...)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// clientAddr prefers the address resolved by TrustedRealIP.
func clientAddr(r *http.Request) string {
	if ip := core.IPAddressFromContext(r.Context()); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code and the
// bytes written.
type responseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// live stream handler needs to flush events.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
