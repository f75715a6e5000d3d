// Package metrics exposes Prometheus instruments for the data layer and the
// HTTP surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache reads by entity and outcome (hit, miss, join).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluent_cache_lookups_total",
			Help: "Query cache lookups by outcome",
		},
		[]string{"entity", "outcome"},
	)
	// Fetches counts backend fetches by entity and status.
	Fetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluent_fetches_total",
			Help: "Backend fetches issued by the query cache",
		},
		[]string{"entity", "status"},
	)
	// FetchDuration is the latency of backend fetches.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fluent_fetch_duration_seconds",
			Help:    "Backend fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"entity"},
	)
	// Invalidations counts cache keys marked stale.
	Invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluent_cache_invalidations_total",
			Help: "Cache entries marked stale",
		},
		[]string{"entity"},
	)
	// Evictions counts entries removed from the cache.
	Evictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fluent_cache_evictions_total",
			Help: "Cache entries evicted",
		},
	)
	// ChangeEvents counts change notifications received per entity.
	ChangeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluent_change_events_total",
			Help: "Change notifications received from the backend",
		},
		[]string{"entity", "op"},
	)
	// Subscriptions is the number of open backend channels per entity.
	Subscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluent_subscriptions_open",
			Help: "Open change-feed channels",
		},
		[]string{"entity"},
	)
	// LiveResults is the number of open live results.
	LiveResults = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fluent_live_results_open",
			Help: "Live results currently open",
		},
	)
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluent_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)
