// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestKVCache_GetOrLoad_CachesResult(t *testing.T) {
	kv := NewKVCache(NewMemoryCache(0), nil)

	var calls int32
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	v1, err := kv.GetOrLoad(context.Background(), "key1", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, "value", v1)

	v2, err := kv.GetOrLoad(context.Background(), "key1", time.Minute, loader)
	require.NoError(t, err)
	assert.Equal(t, "value", v2)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "loader should only run on the first miss")
}

func TestKVCache_GetOrLoad_PropagatesLoaderError(t *testing.T) {
	kv := NewKVCache(NewMemoryCache(0), nil)

	wantErr := assert.AnError
	_, err := kv.GetOrLoad(context.Background(), "key1", time.Minute, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	// A failed load must not be cached: the next call retries the loader.
	var calls int32
	v, err := kv.GetOrLoad(context.Background(), "key1", time.Minute, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "recovered", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "recovered", v)
	assert.Equal(t, int32(1), calls)
}

func TestKVCache_GetOrLoad_SingleFlightCollapsesConcurrentMisses(t *testing.T) {
	defer goleak.VerifyNone(t)

	kv := NewKVCache(NewMemoryCache(0), nil)

	const waiters = 20
	var calls int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "fingerprint-match", nil
	}

	var wg sync.WaitGroup
	results := make([]any, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := kv.GetOrLoad(context.Background(), "shared-key", time.Minute, loader)
			require.NoError(t, err)
			results[idx] = v
		}(i)
	}

	// Give every goroutine a chance to reach the single-flight Do call
	// before unblocking the loader.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "expected exactly one loader invocation")
	for _, v := range results {
		assert.Equal(t, "fingerprint-match", v)
	}
}

func TestKVCache_InvalidateAndInvalidatePrefix(t *testing.T) {
	kv := NewKVCache(NewMemoryCache(0), nil)

	loadOnce := func(v any) Loader {
		return func(ctx context.Context) (any, error) { return v, nil }
	}

	_, err := kv.GetOrLoad(context.Background(), "session:1", time.Minute, loadOnce("a"))
	require.NoError(t, err)
	_, err = kv.GetOrLoad(context.Background(), "session:2", time.Minute, loadOnce("b"))
	require.NoError(t, err)
	_, err = kv.GetOrLoad(context.Background(), "other:1", time.Minute, loadOnce("c"))
	require.NoError(t, err)

	kv.InvalidatePrefix("session:")

	var reloaded int32
	_, err = kv.GetOrLoad(context.Background(), "session:1", time.Minute, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&reloaded, 1)
		return "a2", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), reloaded, "session:1 should have been evicted")

	v, err := kv.GetOrLoad(context.Background(), "other:1", time.Minute, func(ctx context.Context) (any, error) {
		t.Fatal("other:1 should not have been invalidated")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "c", v)

	kv.Invalidate("session:2")
	var reloaded2 int32
	_, err = kv.GetOrLoad(context.Background(), "session:2", time.Minute, func(ctx context.Context) (any, error) {
		atomic.AddInt32(&reloaded2, 1)
		return "b2", nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), reloaded2)
}
