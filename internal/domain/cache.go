package domain

import (
	"context"
	"time"
)

// Cache defines the interface for caching operations.
// Supports two-phase caching: local LRU (Community) + Redis (Pro).
// All methods require orgID for strict per-organization isolation.
type Cache interface {
	// Get retrieves a value from cache.
	// Returns nil, nil if key not found.
	Get(ctx context.Context, orgID string, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, orgID string, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, orgID string, key string) error

	// IncrementCounter atomically increments a counter and returns new value.
	// Used for velocity checks (e.g., attempts per IP in a time window).
	IncrementCounter(ctx context.Context, orgID string, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Locker serializes work on a single key. The returned unlock function must
// be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `mapstructure:"type"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `mapstructure:"local_max_size"`
	LocalTTL     time.Duration `mapstructure:"local_ttl"`

	// Redis settings (Pro tier)
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Two-phase settings
	EnableTwoPhase bool `mapstructure:"enable_two_phase"` // If true, check local first, then Redis

	// RuleTTL bounds how long an organization's rule list is served from cache.
	RuleTTL time.Duration `mapstructure:"rule_ttl"`
}
