// SPDX-License-Identifier: MIT

// Package llmclient is the LLM Client (C5): it turns a goal and a user's
// stated intention into 6..10 novel affirmation lines, or fails cleanly so
// the Matcher can fall back.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/affirm/sessioncore/internal/log"
	"github.com/affirm/sessioncore/internal/ratelimit"
	"github.com/affirm/sessioncore/internal/types"
)

const (
	// generationCost is the fixed-point cost recorded against each
	// successful generation call, per §4.5.
	generationCost = 0.21

	minLines = 6
	maxLines = 10

	maxErrBody = 8 * 1024
)

// Config configures the Client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int // HTTP-level retries per call, independent of the parse-retry in §4.5
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultConfig returns conservative HTTP retry/backoff settings.
func DefaultConfig() Config {
	return Config{
		Timeout:    15 * time.Second,
		MaxRetries: 2,
		Backoff:    300 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
	}
}

// Client implements matcher.Generator against an HTTP-based LLM provider.
type Client struct {
	cfg    Config
	http   *http.Client
	egress *ratelimit.EgressLimiter
}

// New builds a Client. egress may be nil in tests; production callers
// should share the process-wide EgressLimiter so the LLM and TTS
// providers are throttled from one place.
func New(cfg Config, egress *ratelimit.EgressLimiter) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		egress: egress,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Completion string `json:"completion"`
}

// Generate produces 6..10 affirmation lines for goal and userIntention. On
// a malformed response (wrong line count) it retries once with a nudged
// prompt before giving up, per §4.5's parsing contract.
func (c *Client) Generate(ctx context.Context, goal types.Goal, userIntention string) ([]string, float64, error) {
	lines, err := c.generateOnce(ctx, buildPrompt(goal, userIntention, false))
	if err == nil {
		return lines, generationCost, nil
	}

	log.FromContext(ctx).Warn().Err(err).Str("goal", string(goal)).Msg("llm generation rejected, retrying with nudged prompt")

	lines, err = c.generateOnce(ctx, buildPrompt(goal, userIntention, true))
	if err != nil {
		return nil, 0, fmt.Errorf("llmclient: generate: %w", err)
	}
	return lines, generationCost, nil
}

func (c *Client) generateOnce(ctx context.Context, prompt string) ([]string, error) {
	body, err := c.doRequest(ctx, prompt)
	if err != nil {
		return nil, err
	}

	lines := parseLines(body)
	if len(lines) < minLines || len(lines) > maxLines {
		return nil, fmt.Errorf("llmclient: response had %d non-empty lines, want %d..%d", len(lines), minLines, maxLines)
	}
	return lines, nil
}

func (c *Client) doRequest(ctx context.Context, prompt string) (string, error) {
	if c.egress != nil {
		if err := c.egress.Wait(ctx, "llm"); err != nil {
			return "", fmt.Errorf("llmclient: egress wait: %w", err)
		}
	}

	reqBody, err := json.Marshal(generateRequest{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal request: %w", err)
	}

	maxAttempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		completion, status, err := c.attempt(ctx, reqBody)
		if err == nil && status == http.StatusOK {
			return completion, nil
		}
		lastErr = classifyAttemptError(err, status)

		if attempt == maxAttempts || !shouldRetry(status, err) {
			break
		}
		sleep := backoffDuration(attempt, c.cfg.Backoff, c.cfg.MaxBackoff)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(sleep):
		}
	}
	return "", lastErr
}

func (c *Client) attempt(ctx context.Context, body []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_, _ = io.CopyN(io.Discard, res.Body, 4096)
		_ = res.Body.Close()
	}()

	if res.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrBody))
		return "", res.StatusCode, fmt.Errorf("llmclient: provider returned %d: %s", res.StatusCode, string(snippet))
	}

	var parsed generateResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", res.StatusCode, fmt.Errorf("llmclient: decode response: %w", err)
	}
	return parsed.Completion, res.StatusCode, nil
}

func classifyAttemptError(err error, status int) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("llmclient: provider returned status %d", status)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func backoffDuration(attempt int, base, maxBackoff time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	factor := 1 << (attempt - 1)
	d := time.Duration(factor) * base
	if maxBackoff > 0 && d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// parseLines strips whitespace and blank lines from a raw completion, per
// §4.5's parsing rule.
func parseLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func buildPrompt(goal types.Goal, userIntention string, nudge bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write 6 to 10 first-person, present-tense affirmations for someone whose goal is %q and who said: %q. ", goal, userIntention)
	b.WriteString("Each line under 12 words, no numbering, one affirmation per line. ")
	b.WriteString("Include at least 2 lines starting with \"I am\", at least 2 using an active verb after \"I\", and at least 1 starting with \"My\". ")
	b.WriteString(toneGuidance(goal))
	if nudge {
		b.WriteString(" Your previous response had the wrong number of lines; return between 6 and 10 lines, nothing else.")
	}
	return b.String()
}

func toneGuidance(goal types.Goal) string {
	switch goal {
	case types.GoalSleep:
		return "Tone: slow, soothing, winding down for rest."
	case types.GoalFocus:
		return "Tone: clear-headed, energized, task-oriented."
	case types.GoalCalm:
		return "Tone: grounding, reassuring, present-moment."
	case types.GoalManifest:
		return "Tone: confident, forward-looking, aspirational."
	default:
		return ""
	}
}

