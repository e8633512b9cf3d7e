// SPDX-License-Identifier: MIT

// Package tts is the TTS Materializer (C6): it turns an affirmation line
// into a synthesized, persisted audio artifact, guaranteeing at most one
// concurrent synthesis per (affirmationId, voiceId, paceId) fingerprint.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/affirm/sessioncore/internal/blobstore"
	"github.com/affirm/sessioncore/internal/log"
	"github.com/affirm/sessioncore/internal/metrics"
	"github.com/affirm/sessioncore/internal/ratelimit"
	"github.com/affirm/sessioncore/internal/types"
)

const (
	synthesisRetries  = 2
	synthesisBaseWait = 500 * time.Millisecond
	backoffFactor     = 2
)

// AudioStore is the subset of C3 the materializer reads and writes.
type AudioStore interface {
	GetAudio(ctx context.Context, affirmationID, voiceID string, pace types.Pace) (*types.AffirmationAudio, error)
	PutAudio(ctx context.Context, affirmationID, voiceID string, pace types.Pace, url string, durationMs, bytes int, contentType string) (*types.AffirmationAudio, error)
}

// Provider is the external TTS vendor's contract: synthesize text in a
// given voice at a given speed, returning raw audio bytes and their
// content type.
type Provider interface {
	Synthesize(ctx context.Context, text, providerVoiceID string, speed float64) (data []byte, contentType string, err error)
}

// Materializer implements the C6 contract.
type Materializer struct {
	store    AudioStore
	blobs    blobstore.Store
	provider Provider
	egress   *ratelimit.EgressLimiter
	group    *singleflight.Group
}

// New builds a Materializer. group MUST be the same *singleflight.Group
// instance given to cache.NewKVCache in cmd/sessiond: a cache miss racing
// a synthesis call for the same fingerprint collapses into one winner
// across both subsystems rather than two independent single-flight
// domains that could each let a request through.
func New(store AudioStore, blobs blobstore.Store, provider Provider, egress *ratelimit.EgressLimiter, group *singleflight.Group) *Materializer {
	if group == nil {
		group = &singleflight.Group{}
	}
	return &Materializer{store: store, blobs: blobs, provider: provider, egress: egress, group: group}
}

// Materialize returns the AffirmationAudio for (affirmationID, voiceID,
// pace), synthesizing it if necessary. Concurrent calls with the same
// fingerprint share one synthesis and one result.
func (m *Materializer) Materialize(ctx context.Context, affirmationID, text, voiceID string, pace types.Pace) (*types.AffirmationAudio, error) {
	if existing, err := m.store.GetAudio(ctx, affirmationID, voiceID, pace); err != nil {
		return nil, fmt.Errorf("tts: materialize: lookup: %w", err)
	} else if existing != nil {
		return existing, nil
	}

	fingerprint := types.Fingerprint(affirmationID, voiceID, pace)
	start := time.Now()

	v, err, shared := m.group.Do(fingerprint, func() (any, error) {
		return m.synthesizeAndPersist(ctx, affirmationID, text, voiceID, pace)
	})
	if shared {
		metrics.RecordTTSSingleFlightCollapsed()
	}
	if err != nil {
		metrics.RecordTTSSynthesis("error", time.Since(start).Seconds())
		return nil, fmt.Errorf("tts: materialize: %w", err)
	}
	metrics.RecordTTSSynthesis("ok", time.Since(start).Seconds())
	return v.(*types.AffirmationAudio), nil
}

func (m *Materializer) synthesizeAndPersist(ctx context.Context, affirmationID, text, voiceID string, pace types.Pace) (*types.AffirmationAudio, error) {
	// Re-check inside the single-flight critical section: a waiter that
	// lost a previous race to a writer now-committed should adopt that
	// row instead of synthesizing again.
	if existing, err := m.store.GetAudio(ctx, affirmationID, voiceID, pace); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	voice, ok := types.Voices[voiceID]
	if !ok {
		return nil, fmt.Errorf("unknown voice %q", voiceID)
	}
	params := types.PaceParamsFor(pace)

	if m.egress != nil {
		if err := m.egress.Wait(ctx, "tts"); err != nil {
			return nil, fmt.Errorf("egress wait: %w", err)
		}
	}

	data, contentType, err := m.synthesizeWithRetry(ctx, text, voice.ProviderID, params.TTSSpeed)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	url, err := m.blobs.Put(ctx, types.Fingerprint(affirmationID, voiceID, pace), data, contentType)
	if err != nil {
		return nil, fmt.Errorf("persist blob: %w", err)
	}

	durationMs := estimateDurationMs(text, params.DurationMultiplier)

	audio, err := m.store.PutAudio(ctx, affirmationID, voiceID, pace, url, durationMs, len(data), contentType)
	if err != nil {
		return nil, fmt.Errorf("write audio row: %w", err)
	}
	return audio, nil
}

// synthesizeWithRetry calls the provider, retrying transient failures up
// to synthesisRetries times with exponential backoff and full jitter
// (base 500ms, factor 2).
func (m *Materializer) synthesizeWithRetry(ctx context.Context, text, providerVoiceID string, speed float64) ([]byte, string, error) {
	var lastErr error
	for attempt := 0; attempt <= synthesisRetries; attempt++ {
		data, contentType, err := m.provider.Synthesize(ctx, text, providerVoiceID, speed)
		if err == nil {
			return data, contentType, nil
		}
		lastErr = err

		if attempt == synthesisRetries || !isRetryable(err) {
			break
		}

		wait := fullJitterBackoff(attempt)
		log.FromContext(ctx).Warn().Err(err).Int("attempt", attempt+1).Dur("wait", wait).Msg("tts synthesis failed, retrying")
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, "", lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr *providerHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.status == http.StatusTooManyRequests || httpErr.status >= 500
	}
	return true
}

// fullJitterBackoff returns a random duration in [0, base*factor^attempt].
// Two retries at base=500ms never approach a problematic ceiling, so no
// explicit cap is applied.
func fullJitterBackoff(attempt int) time.Duration {
	ceiling := synthesisBaseWait
	for i := 0; i < attempt; i++ {
		ceiling *= backoffFactor
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// estimateDurationMs is a placeholder duration model: roughly 3 words per
// second of speech, scaled by the pace's duration multiplier.
// Provider.Synthesize returns no duration, so every persisted artifact's
// DurationMs comes from this estimate.
func estimateDurationMs(text string, durationMultiplier float64) int {
	words := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if !isSpace && !inWord {
			words++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	seconds := float64(words) / 3.0 * durationMultiplier
	return int(seconds * 1000)
}

// providerHTTPError is the error shape a Provider implementation should
// return for a non-2xx response, so isRetryable can classify it without
// importing the concrete provider package.
type providerHTTPError struct {
	status int
	body   string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("tts provider returned %d: %s", e.status, e.body)
}

// NewProviderHTTPError builds the error Provider implementations should
// return for non-2xx HTTP responses.
func NewProviderHTTPError(status int, body []byte) error {
	return &providerHTTPError{status: status, body: string(bytes.TrimSpace(body))}
}
