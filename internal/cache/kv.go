// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader produces the value for a cache miss. It is invoked at most once
// per key for any set of concurrent GetOrLoad calls racing on that key.
type Loader func(ctx context.Context) (any, error)

// KVCache is the product-facing cache contract: GetOrLoad collapses
// concurrent misses for the same key into a single Loader invocation and
// InvalidatePrefix clears whole families of keys (e.g. a user's quota
// state, a template's pooled candidates) in one call.
//
// A KVCache wraps a Store (Redis in production, memory in tests or when
// Redis is unset) behind a single-flight group keyed on the cache key, so
// it is a drop-in way to give any loader function request-collapsing
// without touching the loader itself.
//
// The group is injected rather than owned: the TTS materializer collapses
// concurrent synthesis requests on the same fingerprint through this exact
// same group, so a cache miss racing a synthesis call for the same key
// collapses into one winner across both subsystems, not two independent
// single-flight domains that could each let a request through.
type KVCache struct {
	store Store
	group *singleflight.Group
}

// NewKVCache wraps store with single-flight load collapsing using group.
// If store is nil, an unbounded in-memory Store with a one-minute janitor
// is used. If group is nil, KVCache allocates a private one (the common
// case in tests, where no other subsystem needs to share it).
func NewKVCache(store Store, group *singleflight.Group) *KVCache {
	if store == nil {
		store = NewMemoryCache(time.Minute)
	}
	if group == nil {
		group = &singleflight.Group{}
	}
	return &KVCache{store: store, group: group}
}

// GetOrLoad returns the cached value for key, invoking loader on a miss.
// Concurrent calls for the same key share one loader invocation and one
// resulting error; the loaded value is stored with ttl before being
// returned to every waiter.
func (c *KVCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, loader Loader) (any, error) {
	if v, ok := c.store.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.store.Get(key); ok {
			return v, nil
		}
		val, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Set(key, val, ttl)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Invalidate removes a single key.
func (c *KVCache) Invalidate(key string) {
	c.store.Delete(key)
}

// InvalidatePrefix removes every key beginning with prefix.
func (c *KVCache) InvalidatePrefix(prefix string) {
	c.store.DeletePrefix(prefix)
}

// Stats exposes the backing Store's hit/miss/eviction counters.
func (c *KVCache) Stats() CacheStats {
	return c.store.Stats()
}
