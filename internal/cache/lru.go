// Package cache provides caching and key-locking implementations for Harrier.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU cache with TTL support.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List
	counters map[string]*counterEntry
}

type cacheEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
	}
}

// Get retrieves a value from cache. Returns nil, nil on miss or expiry.
func (c *LRUCache) Get(ctx context.Context, orgID string, key string) ([]byte, error) {
	if orgID == "" {
		return nil, fmt.Errorf("orgID is required")
	}

	fullKey := c.makeKey(orgID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[fullKey]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores a value in cache with TTL.
func (c *LRUCache) Set(ctx context.Context, orgID string, key string, value []byte, ttl time.Duration) error {
	if orgID == "" {
		return fmt.Errorf("orgID is required")
	}

	fullKey := c.makeKey(orgID, key)
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&cacheEntry{
		key:       fullKey,
		value:     value,
		expiresAt: expiresAt,
	})
	c.items[fullKey] = elem

	for c.order.Len() > c.maxSize {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, orgID string, key string) error {
	if orgID == "" {
		return fmt.Errorf("orgID is required")
	}

	fullKey := c.makeKey(orgID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		c.removeElement(elem)
	}
	return nil
}

// IncrementCounter increments a fixed-window counter. The window starts
// with the first increment and resets once it has elapsed.
func (c *LRUCache) IncrementCounter(ctx context.Context, orgID string, key string, window time.Duration) (int64, error) {
	if orgID == "" {
		return 0, fmt.Errorf("orgID is required")
	}

	fullKey := c.makeKey(orgID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.counters[fullKey]
	if !ok || now.After(entry.expiresAt) {
		if len(c.counters) >= c.maxSize {
			c.pruneCounters(now)
		}
		c.counters[fullKey] = &counterEntry{
			count:     1,
			expiresAt: now.Add(window),
		}
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats returns cache statistics.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) makeKey(orgID, key string) string {
	return orgID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
}

func (c *LRUCache) removeOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

// pruneCounters drops expired counter windows. Caller holds c.mu.
func (c *LRUCache) pruneCounters(now time.Time) {
	for k, e := range c.counters {
		if now.After(e.expiresAt) {
			delete(c.counters, k)
		}
	}
}
