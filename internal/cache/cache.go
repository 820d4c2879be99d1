// Package cache implements the Reference Cache: an in-memory TTL cache of
// rarely-changing IPAM objects (tenant id, roles, VRFs, site-groups,
// VLAN-groups) with request coalescing, so concurrent misses on the same
// key share a single in-flight fetch instead of stampeding the gateway.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/orhaniscoding/vlanctl/internal/metrics"
)

// Typed TTL tiers, per the Reference Cache's documented defaults.
const (
	TTLShort  = 5 * time.Minute
	TTLMedium = 10 * time.Minute
	TTLLong   = 1 * time.Hour
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a TTL map guarded by a single mutex plus a singleflight group
// coalescing concurrent fetches of the same key.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// New returns a ready-to-use Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Get returns the cached value for key and whether it is present and
// unexpired, recording a hit/miss metric labeled by kind.
func (c *Cache) Get(kind, key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		metrics.IncCacheMiss(kind)
		return nil, false
	}
	metrics.IncCacheHit(kind)
	return e.value, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
}

// Invalidate explicitly evicts key, used after writes that make a cached
// value stale (e.g. the prefix list cache after insert/update/delete).
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix evicts every key with the given string prefix, used to
// drop an entire family of cached keys (e.g. all "prefixes:*" list pages).
func (c *Cache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.entries, k)
		}
	}
}

// GetOrFetch returns the cached value for key if present and unexpired;
// otherwise it calls fetch exactly once even under concurrent callers for
// the same key (request coalescing), caches the result with ttl on
// success, and does not cache errors.
func (c *Cache) GetOrFetch(ctx context.Context, kind, key string, ttl time.Duration, fetch func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := c.Get(kind, key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(kind, key); ok {
			return v, nil
		}
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, val, ttl)
		return val, nil
	})
	return v, err
}
