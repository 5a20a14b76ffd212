package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NewLocker returns the key locker matching the cache deployment: a Redis
// lock when the cache is backed by Redis, an in-process lock otherwise.
func NewLocker(c domain.Cache) domain.Locker {
	switch v := c.(type) {
	case *RedisCache:
		return NewRedisLocker(v.Client(), RedisLockerOptions{})
	case *TwoPhaseCache:
		return NewRedisLocker(v.remote.Client(), RedisLockerOptions{})
	default:
		return NewLocalLocker()
	}
}

// GetJSON decodes a cached JSON value into v. It reports false on a miss.
func GetJSON(ctx context.Context, c domain.Cache, orgID, key string, v any) (bool, error) {
	data, err := c.Get(ctx, orgID, key)
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v as JSON and caches it.
func SetJSON(ctx context.Context, c domain.Cache, orgID, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s for cache: %w", key, err)
	}
	return c.Set(ctx, orgID, key, data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and counters
type TwoPhaseCache struct {
	local  *LRUCache
	remote *RedisCache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local *LRUCache, remote *RedisCache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, orgID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, orgID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, orgID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2. L1 keeps the shorter of the two TTLs.
func (c *TwoPhaseCache) Set(ctx context.Context, orgID string, key string, value []byte, ttl time.Duration) error {
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, orgID, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, orgID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, orgID string, key string) error {
	if err := c.local.Delete(ctx, orgID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, orgID, key)
}

// IncrementCounter uses Redis only so counts agree across nodes.
func (c *TwoPhaseCache) IncrementCounter(ctx context.Context, orgID string, key string, window time.Duration) (int64, error) {
	return c.remote.IncrementCounter(ctx, orgID, key, window)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}
