// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/affirm/sessioncore/internal/cache"
	"github.com/affirm/sessioncore/internal/types"
)

// goalLookupTTL bounds how stale a cached goal-keyed read may be. Matcher
// decisions tolerate staleness on this order: a rating nudge or newly
// seeded template becoming visible a few seconds late never changes which
// decision branch fires, only which specific template/line wins a
// near-tie.
const goalLookupTTL = 30 * time.Second

// CachedStore wraps Store with C1's cache for the Matcher's two
// goal-keyed reads, which run on every Match call. Writes go straight to
// Store; CachedStore never invalidates proactively, relying on the TTL
// instead, the same tradeoff §4.1 accepts for the rest of the KV cache.
type CachedStore struct {
	*Store
	cache *cache.KVCache
}

// NewCachedStore builds a CachedStore. A nil cache.KVCache disables
// caching entirely and every read goes straight to store.
func NewCachedStore(store *Store, kv *cache.KVCache) *CachedStore {
	return &CachedStore{Store: store, cache: kv}
}

// FindTemplatesByGoal is Store.FindTemplatesByGoal behind the shared cache.
func (c *CachedStore) FindTemplatesByGoal(ctx context.Context, goal types.Goal) ([]types.SessionTemplate, error) {
	if c.cache == nil {
		return c.Store.FindTemplatesByGoal(ctx, goal)
	}
	key := fmt.Sprintf("library:templates:%s", goal)
	v, err := c.cache.GetOrLoad(ctx, key, goalLookupTTL, func(ctx context.Context) (any, error) {
		return c.Store.FindTemplatesByGoal(ctx, goal)
	})
	if err != nil {
		return nil, err
	}
	var out []types.SessionTemplate
	if err := coerce(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindAffirmationsByGoal is Store.FindAffirmationsByGoal behind the shared
// cache. limit/offset are folded into the key so pagination can't collide.
func (c *CachedStore) FindAffirmationsByGoal(ctx context.Context, goal types.Goal, limit, offset int) ([]types.AffirmationLine, error) {
	if c.cache == nil {
		return c.Store.FindAffirmationsByGoal(ctx, goal, limit, offset)
	}
	key := fmt.Sprintf("library:affirmations:%s:%d:%d", goal, limit, offset)
	v, err := c.cache.GetOrLoad(ctx, key, goalLookupTTL, func(ctx context.Context) (any, error) {
		return c.Store.FindAffirmationsByGoal(ctx, goal, limit, offset)
	})
	if err != nil {
		return nil, err
	}
	var out []types.AffirmationLine
	if err := coerce(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// coerce adapts a cached value to dst. MemoryCache returns the exact
// concrete type a Loader produced; RedisCache round-trips through JSON and
// hands back generic map/slice values, so a direct type assertion would
// panic there. Re-marshaling through JSON handles both uniformly.
func coerce(v any, dst any) error {
	if typed, ok := v.([]types.SessionTemplate); ok {
		if out, ok := dst.(*[]types.SessionTemplate); ok {
			*out = typed
			return nil
		}
	}
	if typed, ok := v.([]types.AffirmationLine); ok {
		if out, ok := dst.(*[]types.AffirmationLine); ok {
			*out = typed
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("library: cached value re-marshal: %w", err)
	}
	return json.Unmarshal(data, dst)
}
