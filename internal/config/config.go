// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Exchange ExchangeConfig
	Cache    CacheConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Metrics  MetricsConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing a response (default: 5m, archives can be large)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"5m"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 10m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"10m"`

	// MaxUploadSize caps the multipart body accepted by the import endpoint (default: 256MB)
	MaxUploadSize int64 `env:"SERVER_MAX_UPLOAD_SIZE" default:"256MiB" unit:"bytes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required for the postgres store)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectTimeout bounds the startup ping (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	// Driver is "postgres" or "memory" (default: postgres)
	Driver string `env:"STORE_DRIVER" default:"postgres"`

	// SeedActors registers actors at startup, as comma-separated id:role[:name] entries
	SeedActors []string `env:"SEED_ACTORS"`
}

// ExchangeConfig holds archive export/import settings.
type ExchangeConfig struct {
	// ScratchDir is the parent of per-operation scratch directories (default: OS temp dir)
	ScratchDir string `env:"EXCHANGE_SCRATCH_DIR"`

	// SchemaVersion is written into every manifest (default: 1.0)
	SchemaVersion string `env:"EXCHANGE_SCHEMA_VERSION" default:"1.0"`

	// ChunkSize is the copy buffer used while extracting entries (default: 32KB)
	ChunkSize int `env:"EXCHANGE_CHUNK_SIZE" default:"32KiB" unit:"bytes"`

	// MaxEntrySize caps the uncompressed size of a single archive entry (default: 512MB)
	MaxEntrySize int64 `env:"EXCHANGE_MAX_ENTRY_SIZE" default:"512MiB" unit:"bytes"`

	// MaxConcurrent is the maximum number of simultaneous imports/exports (default: 2)
	MaxConcurrent int `env:"EXCHANGE_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long to wait for an exchange slot (default: 30s)
	MaxWaitTime time.Duration `env:"EXCHANGE_MAX_WAIT_TIME" default:"30s"`

	// ExportParallelism bounds concurrent collection reads during export (default: 4)
	ExportParallelism int `env:"EXCHANGE_EXPORT_PARALLELISM" default:"4"`

	// DefaultMode is the import conflict policy when none is given: merge or append (default: merge)
	DefaultMode string `env:"EXCHANGE_DEFAULT_MODE" default:"merge"`

	// ImportActor is the actor ID recorded on document mutations made by imports (default: system:import)
	ImportActor string `env:"EXCHANGE_IMPORT_ACTOR" default:"system:import"`
}

// CacheConfig holds in-process cache settings.
type CacheConfig struct {
	// ActorSize is the maximum number of cached actor lookups (default: 512)
	ActorSize int `env:"CACHE_ACTOR_SIZE" default:"512"`

	// ActorTTL is how long a resolved actor stays cached (default: 5m)
	ActorTTL time.Duration `env:"CACHE_ACTOR_TTL" default:"5m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// ExchangeLimit is requests per minute for import/export endpoints (default: 10)
	ExchangeLimit int `env:"RATE_LIMIT_EXCHANGE" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey enables API key checks on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text, json or pretty (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enabled mounts the metrics handler (default: true)
	Enabled bool `env:"METRICS_ENABLED" default:"true"`

	// Path is the route the handler is mounted on (default: /metrics)
	Path string `env:"METRICS_PATH" default:"/metrics"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
