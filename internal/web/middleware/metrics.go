package middleware

import (
	"net/http"
	"strconv"

	"github.com/JonMunkholm/fluent/internal/metrics"
)

// Metrics counts requests by method, route pattern and status. The route
// pattern keeps label cardinality bounded: /api/orders and /api/customers
// both count as /api/{entity}.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		metrics.RequestTotal.WithLabelValues(r.Method, routePattern(r), strconv.Itoa(ww.status)).Inc()
	})
}
