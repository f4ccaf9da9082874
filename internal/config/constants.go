package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Redis connection pool settings
const (
	RedisPoolSize     = 50
	RedisMinIdleConns = 5
	RedisDialTimeout  = 5 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Default per-tenant API rate limit
const DefaultRateLimitPerMin = 60

// Per-IP limit applied before authentication
const IPRateLimitPerMin = 300

// Pairing
const (
	PairingTickInterval = time.Second
	MinPollIntervalMs   = 500
	SSEHeartbeatPeriod  = 30 * time.Second
	TokenCacheSize      = 1024
	TokenCacheTTL       = 30 * time.Second
)
