// SPDX-License-Identifier: MIT

package ratelimit

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestEgressLimiterPerProvider(t *testing.T) {
	limiter := NewEgressLimiter(EgressConfig{
		GlobalRate:  1000,
		GlobalBurst: 1000,
		ProviderRates: map[string]rate.Limit{
			"tts": 1000,
		},
		ProviderBurst: map[string]int{
			"tts": 3,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx, "tts"); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
}

func TestEgressLimiterConsumesOneTokenPerCall(t *testing.T) {
	// 10 req/s with a burst of 3: refills one token every 100ms once the
	// burst is drained. A correct implementation spends the whole burst
	// on 3 calls and returns well inside a 50ms deadline. An
	// implementation that consumes two tokens per call (Allow() then
	// Wait()) drains the burst on call 2 and has to wait out a refill
	// for call 3, blowing the deadline.
	limiter := NewEgressLimiter(EgressConfig{
		GlobalRate:  1000,
		GlobalBurst: 1000,
		ProviderRates: map[string]rate.Limit{
			"tts": 10,
		},
		ProviderBurst: map[string]int{
			"tts": 3,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for i := 0; i < 3; i++ {
		if err := limiter.Wait(ctx, "tts"); err != nil {
			t.Fatalf("call %d: unexpected error %v (burst should cover all 3 calls without waiting)", i, err)
		}
	}
}

func TestEgressLimiterUnknownProviderPassesThrough(t *testing.T) {
	limiter := NewEgressLimiter(EgressConfig{GlobalRate: 1000, GlobalBurst: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "unregistered"); err != nil {
		t.Fatalf("unexpected error for unregistered provider: %v", err)
	}
}

func TestEgressLimiterGlobalBlocksWhenExhausted(t *testing.T) {
	limiter := NewEgressLimiter(EgressConfig{GlobalRate: rate.Limit(0), GlobalBurst: 0})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "llm"); err == nil {
		t.Error("expected deadline exceeded error from exhausted global bucket")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "X-Forwarded-For single IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.1, 192.168.1.1, 10.0.0.1"},
			remoteAddr: "127.0.0.1:12345",
			want:       "203.0.113.1",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.2"},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.2",
		},
		{
			name:       "fallback to RemoteAddr",
			headers:    map[string]string{},
			remoteAddr: "192.168.1.100:54321",
			want:       "192.168.1.100",
		},
		{
			name:       "X-Forwarded-For with spaces",
			headers:    map[string]string{"X-Forwarded-For": "  203.0.113.5  "},
			remoteAddr: "192.168.1.1:12345",
			want:       "203.0.113.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			req.RemoteAddr = tt.remoteAddr

			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %v, want %v", got, tt.want)
			}
		})
	}
}
