// SPDX-License-Identifier: MIT

// Package ratelimit provides two independent rate-limiting concerns for the
// session platform: an outbound token-bucket throttle in front of upstream
// LLM/TTS providers (this file), and the product-facing fixed-window quota
// classes enforced against caller identity (window.go). The two must not be
// conflated: egress throttling protects a provider's own rate limits,
// window limiting protects the platform's own abuse/cost surface.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var egressThrottled = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sessioncore",
		Name:      "egress_throttled_total",
		Help:      "Total outbound provider calls delayed by the egress limiter",
	},
	[]string{"provider"},
)

// EgressConfig holds token-bucket settings for outbound provider calls.
type EgressConfig struct {
	GlobalRate  rate.Limit // requests per second across all providers
	GlobalBurst int

	ProviderRates map[string]rate.Limit // per-provider (e.g. "llm", "tts")
	ProviderBurst map[string]int
}

// DefaultEgressConfig returns sensible defaults for the llm and tts
// upstreams.
func DefaultEgressConfig() EgressConfig {
	return EgressConfig{
		GlobalRate:  20,
		GlobalBurst: 40,

		ProviderRates: map[string]rate.Limit{
			"llm": 5,
			"tts": 10,
		},
		ProviderBurst: map[string]int{
			"llm": 10,
			"tts": 20,
		},
	}
}

// EgressLimiter throttles outbound calls to generation/TTS providers so a
// burst of platform traffic never trips an upstream's own rate limit.
type EgressLimiter struct {
	config  EgressConfig
	global  *rate.Limiter
	mu      sync.RWMutex
	perProv map[string]*rate.Limiter
}

// NewEgressLimiter builds a limiter from config, pre-creating a bucket for
// every provider named in ProviderRates.
func NewEgressLimiter(config EgressConfig) *EgressLimiter {
	l := &EgressLimiter{
		config:  config,
		global:  rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perProv: make(map[string]*rate.Limiter, len(config.ProviderRates)),
	}
	for provider, r := range config.ProviderRates {
		l.perProv[provider] = rate.NewLimiter(r, config.ProviderBurst[provider])
	}
	return l
}

// Wait blocks until both the global and per-provider buckets admit the
// call, or ctx expires. It is the collaborator C5/C6 call before dialing an
// upstream.
func (l *EgressLimiter) Wait(ctx context.Context, provider string) error {
	if err := l.global.Wait(ctx); err != nil {
		return err
	}
	limiter := l.providerLimiter(provider)
	if limiter == nil {
		return nil
	}
	// A single reservation, not Allow()-then-Wait(): calling both would
	// consume two tokens from the bucket for one outbound call and
	// silently halve the configured rate.
	reservation := limiter.Reserve()
	if !reservation.OK() {
		return fmt.Errorf("ratelimit: provider %q burst cannot accommodate this call", provider)
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}
	egressThrottled.WithLabelValues(provider).Inc()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *EgressLimiter) providerLimiter(provider string) *rate.Limiter {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.perProv[provider]
}

// GetClientIP extracts the real client IP from an inbound request, honoring
// X-Forwarded-For and X-Real-IP ahead of RemoteAddr. The window limiters
// do not call it; they take the key their caller passes in.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := indexByte(xff, ','); idx > 0 {
			xff = xff[:idx]
		}
		xff = trimSpace(xff)
		if xff != "" {
			return xff
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
