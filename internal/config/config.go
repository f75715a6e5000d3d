// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Backend modes.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Backend  BackendConfig
	Cache    CacheConfig
	Realtime RealtimeConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 0, live streams stay open)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout applies to every non-streaming request (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Required in postgres mode.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// BackendConfig selects the data backend behind the data layer.
type BackendConfig struct {
	// Mode is "postgres" or "memory" (default: postgres)
	Mode string `env:"BACKEND_MODE" default:"postgres"`

	// ChannelPrefix prefixes every LISTEN/NOTIFY channel name (default: fluent)
	ChannelPrefix string `env:"BACKEND_CHANNEL_PREFIX" default:"fluent"`

	// InstallTriggers creates the change-notification triggers on startup (default: false)
	InstallTriggers bool `env:"BACKEND_INSTALL_TRIGGERS" default:"false"`

	// Seed loads the demo dataset into the memory backend (default: true)
	Seed bool `env:"BACKEND_SEED" default:"true"`
}

// CacheConfig holds query cache settings.
type CacheConfig struct {
	// StaleTime is how long a fetched result is served without refetching (default: 5m)
	StaleTime time.Duration `env:"CACHE_STALE_TIME" default:"5m"`

	// GCTime is how long an unwatched entry is kept before eviction (default: 10m)
	GCTime time.Duration `env:"CACHE_GC_TIME" default:"10m"`

	// JanitorInterval is how often unwatched entries are swept (default: 1m)
	JanitorInterval time.Duration `env:"CACHE_JANITOR_INTERVAL" default:"1m"`

	// RefetchConcurrency bounds parallel refetches after a change event (default: 4)
	RefetchConcurrency int `env:"CACHE_REFETCH_CONCURRENCY" default:"4"`
}

// RealtimeConfig holds change-feed settings.
type RealtimeConfig struct {
	// Enabled allows live subscriptions; when false every open is one-shot (default: true)
	Enabled bool `env:"REALTIME_ENABLED" default:"true"`

	// EventBuffer is the dispatch queue length for change events (default: 256)
	EventBuffer int `env:"REALTIME_EVENT_BUFFER" default:"256"`

	// MaxStreams is the maximum number of concurrent live HTTP streams (default: 100)
	MaxStreams int `env:"REALTIME_MAX_STREAMS" default:"100"`

	// StreamHeartbeat is how often an idle live stream sends a keep-alive comment (default: 25s)
	StreamHeartbeat time.Duration `env:"REALTIME_STREAM_HEARTBEAT" default:"25s"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// Burst is the number of requests allowed above the steady rate (default: 20)
	Burst int `env:"RATE_LIMIT_BURST" default:"20"`

	// MutationLimit is requests per minute for mutation endpoints (default: 30)
	MutationLimit int `env:"RATE_LIMIT_MUTATIONS" default:"30"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey rejects API requests without a valid X-API-Key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
