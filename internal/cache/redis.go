package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments a counter and starts its window on first use.
var incrementScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// RedisCache implements Cache using Redis.
// Used as the Pro tier cache and as L2 in two-phase caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Client exposes the underlying client so lockers can share the connection pool.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

// Get retrieves a value from Redis.
func (c *RedisCache) Get(ctx context.Context, orgID string, key string) ([]byte, error) {
	if orgID == "" {
		return nil, fmt.Errorf("orgID is required")
	}

	val, err := c.client.Get(ctx, makeRedisKey(orgID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set stores a value in Redis with TTL.
func (c *RedisCache) Set(ctx context.Context, orgID string, key string, value []byte, ttl time.Duration) error {
	if orgID == "" {
		return fmt.Errorf("orgID is required")
	}
	return c.client.Set(ctx, makeRedisKey(orgID, key), value, ttl).Err()
}

// Delete removes a value from Redis.
func (c *RedisCache) Delete(ctx context.Context, orgID string, key string) error {
	if orgID == "" {
		return fmt.Errorf("orgID is required")
	}
	return c.client.Del(ctx, makeRedisKey(orgID, key)).Err()
}

// IncrementCounter atomically increments a counter using INCR with PEXPIRE.
func (c *RedisCache) IncrementCounter(ctx context.Context, orgID string, key string, window time.Duration) (int64, error) {
	if orgID == "" {
		return 0, fmt.Errorf("orgID is required")
	}

	fullKey := makeRedisKey(orgID, "counter:"+key)
	return incrementScript.Run(ctx, c.client, []string{fullKey}, window.Milliseconds()).Int64()
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func makeRedisKey(orgID, key string) string {
	return "harrier:" + orgID + ":" + key
}
