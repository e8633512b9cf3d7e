// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affirm/sessioncore/internal/cache"
	"github.com/affirm/sessioncore/internal/types"
)

func TestCachedStore_FindTemplatesByGoal_CachesAcrossCalls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SeedTemplate(ctx, types.SessionTemplate{
		ID: "t1", Goal: types.GoalCalm, CanonicalIntent: "I feel calm and safe.", IntentKeywords: []string{"calm"},
	}))

	kv := cache.NewKVCache(cache.NewMemoryCache(time.Minute), nil)
	cached := NewCachedStore(store, kv)

	first, err := cached.FindTemplatesByGoal(ctx, types.GoalCalm)
	require.NoError(t, err)
	require.Len(t, first, 1)

	require.NoError(t, store.SeedTemplate(ctx, types.SessionTemplate{
		ID: "t2", Goal: types.GoalCalm, CanonicalIntent: "I am grounded.", IntentKeywords: []string{"calm"},
	}))

	second, err := cached.FindTemplatesByGoal(ctx, types.GoalCalm)
	require.NoError(t, err)
	assert.Len(t, second, 1, "cached result should not see the newly seeded template yet")
}

func TestCachedStore_NilCacheBypassesCaching(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	cached := NewCachedStore(store, nil)

	_, err := cached.CreateAffirmation(ctx, "I choose focus.", types.GoalFocus, nil, "confident")
	require.NoError(t, err)

	lines, err := cached.FindAffirmationsByGoal(ctx, types.GoalFocus, 10, 0)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}

func TestCachedStore_FindAffirmationsByGoal_IsolatesKeyByLimitAndOffset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := store.CreateAffirmation(ctx, "I am capable.", types.GoalFocus, nil, "confident")
		require.NoError(t, err)
	}

	kv := cache.NewKVCache(cache.NewMemoryCache(time.Minute), nil)
	cached := NewCachedStore(store, kv)

	page1, err := cached.FindAffirmationsByGoal(ctx, types.GoalFocus, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page1, 2)

	page2, err := cached.FindAffirmationsByGoal(ctx, types.GoalFocus, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page2, 1)
}
