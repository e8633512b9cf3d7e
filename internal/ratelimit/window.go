// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var windowRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sessioncore",
		Name:      "quota_window_rejected_total",
		Help:      "Total requests rejected by a fixed-window rate class",
	},
	[]string{"class"},
)

// Class names a product-facing fixed-window quota.
type Class struct {
	Name   string
	Window time.Duration
	Limit  int
}

var (
	// ClassTTS bounds how often a caller may trigger on-demand synthesis.
	ClassTTS = Class{Name: "tts", Window: 15 * time.Minute, Limit: 10}
	// ClassLLM bounds how often a caller may trigger generation fallback.
	ClassLLM = Class{Name: "llm", Window: time.Hour, Limit: 20}
	// ClassAPI bounds general API traffic per caller.
	ClassAPI = Class{Name: "api", Window: 15 * time.Minute, Limit: 100}
)

// Decision reports the outcome of a window check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   int64 // unix seconds the window resets at
}

// KeyForUser derives the window key for an authenticated caller.
func KeyForUser(class Class, userID string) string {
	return fmt.Sprintf("%s:user:%s", class.Name, userID)
}

// KeyForIP derives the window key for an anonymous caller.
func KeyForIP(class Class, ip string) string {
	return fmt.Sprintf("%s:ip:%s", class.Name, ip)
}

// WindowLimiter enforces fixed-window counters. Allow must be safe for
// concurrent use.
type WindowLimiter interface {
	Allow(ctx context.Context, class Class, key string) (Decision, error)
}

// RedisWindowLimiter implements WindowLimiter with an atomic INCR against
// Redis, setting the key's TTL only on the window's first increment so the
// window boundary never slides forward (the classic fixed-window counter).
// A Redis error degrades to an in-process fallback for that call only.
type RedisWindowLimiter struct {
	client   *redis.Client
	logger   zerolog.Logger
	fallback *MemoryWindowLimiter
}

// NewRedisWindowLimiter builds a limiter backed by client, with an
// in-memory limiter held in reserve for transient Redis failures.
func NewRedisWindowLimiter(client *redis.Client, logger zerolog.Logger) *RedisWindowLimiter {
	return &RedisWindowLimiter{
		client:   client,
		logger:   logger,
		fallback: NewMemoryWindowLimiter(),
	}
}

// Allow increments key's counter for class and reports whether the caller
// is still within the window's limit.
func (l *RedisWindowLimiter) Allow(ctx context.Context, class Class, key string) (Decision, error) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn().Err(err).Str("key", key).Msg("redis incr failed, degrading to in-memory window limiter")
		return l.fallback.Allow(ctx, class, key)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, class.Window).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", key).Msg("redis expire failed")
		}
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = class.Window
	}
	resetAt := time.Now().Add(ttl).Unix()

	allowed := int(count) <= class.Limit
	remaining := class.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	if !allowed {
		windowRejected.WithLabelValues(class.Name).Inc()
	}

	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

// memoryWindow is one sharded counter bucket.
type memoryWindow struct {
	mu      sync.Mutex
	entries map[string]*windowCounter
}

type windowCounter struct {
	count   int
	resetAt time.Time
}

// MemoryWindowLimiter is the in-process fixed-window fallback used when
// Redis is unset or unreachable. Keys are sharded across a fixed number of
// mutex-guarded maps to bound lock contention under concurrent callers.
type MemoryWindowLimiter struct {
	shards [memoryWindowShards]*memoryWindow
}

const memoryWindowShards = 32

// NewMemoryWindowLimiter builds a sharded in-memory window limiter.
func NewMemoryWindowLimiter() *MemoryWindowLimiter {
	l := &MemoryWindowLimiter{}
	for i := range l.shards {
		l.shards[i] = &memoryWindow{entries: make(map[string]*windowCounter)}
	}
	return l
}

func (l *MemoryWindowLimiter) shardFor(key string) *memoryWindow {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%memoryWindowShards]
}

// Allow increments key's in-memory counter for class, resetting it lazily
// once the window has elapsed.
func (l *MemoryWindowLimiter) Allow(_ context.Context, class Class, key string) (Decision, error) {
	shard := l.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := time.Now()
	counter, found := shard.entries[key]
	if !found || now.After(counter.resetAt) {
		counter = &windowCounter{count: 0, resetAt: now.Add(class.Window)}
		shard.entries[key] = counter
	}

	counter.count++

	allowed := counter.count <= class.Limit
	remaining := class.Limit - counter.count
	if remaining < 0 {
		remaining = 0
	}
	if !allowed {
		windowRejected.WithLabelValues(class.Name).Inc()
	}

	return Decision{Allowed: allowed, Remaining: remaining, ResetAt: counter.resetAt.Unix()}, nil
}
