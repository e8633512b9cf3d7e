// SPDX-License-Identifier: MIT

// Package pipeline is the Pipeline Orchestrator (C10). It sequences C2
// (edge rate limiting), C8 (subscription quota), and C7 (session
// assembly, which itself drives C3/C4/C5/C6 internally) for the two
// primary entry points plus playlist fetch. It carries no business logic
// of its own beyond deadline propagation, quota rollback, and error
// mapping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/genlog"
	"github.com/affirm/sessioncore/internal/log"
	"github.com/affirm/sessioncore/internal/matcher"
	"github.com/affirm/sessioncore/internal/ratelimit"
	"github.com/affirm/sessioncore/internal/session"
	"github.com/affirm/sessioncore/internal/subscription"
	"github.com/affirm/sessioncore/internal/types"
)

// generateDeadline and playlistDeadline are the per-request ceilings
// named in §5: generation fans out to the Matcher, an optional LLM call,
// and per-line TTS materialization, so it gets considerably more budget
// than a playlist read, which only touches SQLite and the blob store.
const (
	generateDeadline = 30 * time.Second
	playlistDeadline = 10 * time.Second
)

// Orchestrator wires the request-scoped sequencing described in §4.10.
type Orchestrator struct {
	rateLimiter ratelimit.WindowLimiter
	quota       *subscription.Gate
	sessions    *session.Assembler
	logs        *genlog.Store
}

// New builds an Orchestrator from its already-constructed collaborators.
func New(rateLimiter ratelimit.WindowLimiter, quota *subscription.Gate, sessions *session.Assembler, logs *genlog.Store) *Orchestrator {
	return &Orchestrator{rateLimiter: rateLimiter, quota: quota, sessions: sessions, logs: logs}
}

// GenerateFromGoalRequest bundles the generate-from-goal entry point's
// caller-supplied fields.
type GenerateFromGoalRequest struct {
	UserID           string // empty for guest callers
	ClientKey        string // IP or other anonymous rate-limit key when UserID is empty
	Goal             types.Goal
	CustomPrompt     string
	Voice            string
	Pace             types.Pace
	Noise            string
	BinauralCategory string
	BinauralHz       float64
	SilenceBetweenMs int
	IsFirstSession   bool
}

// GenerateFromGoal sequences rate limiting, the Matcher-driven session
// build, and generation-log recording. No subscription check applies:
// the monthly quota in §4.8 bounds custom-session creation only.
func (o *Orchestrator) GenerateFromGoal(ctx context.Context, req GenerateFromGoalRequest) (*types.SessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, generateDeadline)
	defer cancel()

	if err := o.checkRateLimit(ctx, ratelimit.ClassLLM, req.UserID, req.ClientKey); err != nil {
		return nil, err
	}

	resp, decision, err := o.sessions.CreateFromGoal(ctx, session.CreateFromGoalParams{
		UserID: req.UserID, Goal: req.Goal, CustomPrompt: req.CustomPrompt, Voice: req.Voice, Pace: req.Pace,
		Noise: req.Noise, BinauralCategory: req.BinauralCategory, BinauralHz: req.BinauralHz,
		SilenceBetweenMs: req.SilenceBetweenMs, IsFirstSession: req.IsFirstSession,
	})
	if err != nil {
		return nil, mapContextError(ctx, err, "generate from goal")
	}

	o.recordGenerationBestEffort(ctx, req.UserID, req.CustomPrompt, req.Goal, *decision, resp.SessionID)
	return resp, nil
}

// CreateCustomRequest bundles the create-custom entry point's
// caller-supplied fields.
type CreateCustomRequest struct {
	UserID           string
	Title            string
	AffirmationIDs   []string
	Voice            string
	Pace             types.Pace
	Noise            string
	BinauralCategory string
	BinauralHz       float64
	SilenceBetweenMs int
}

// CreateCustom sequences rate limiting, the §4.8 quota gate, and session
// persistence, rolling back the quota increment (best-effort) if
// persistence fails after a successful grant.
func (o *Orchestrator) CreateCustom(ctx context.Context, req CreateCustomRequest) (*types.SessionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, generateDeadline)
	defer cancel()

	if err := o.checkRateLimit(ctx, ratelimit.ClassAPI, req.UserID, ""); err != nil {
		return nil, err
	}

	if err := o.quota.TryConsumeQuota(ctx, req.UserID); err != nil {
		return nil, err
	}

	resp, err := o.sessions.CreateCustom(ctx, session.CreateCustomParams{
		UserID: req.UserID, Title: req.Title, AffirmationIDs: req.AffirmationIDs, Voice: req.Voice, Pace: req.Pace,
		Noise: req.Noise, BinauralCategory: req.BinauralCategory, BinauralHz: req.BinauralHz,
		SilenceBetweenMs: req.SilenceBetweenMs,
	})
	if err != nil {
		if rbErr := o.quota.RollbackQuota(ctx, req.UserID); rbErr != nil {
			log.FromContext(ctx).Warn().Err(rbErr).Str("user_id", req.UserID).Msg("quota rollback failed after custom session persistence error")
		}
		return nil, mapContextError(ctx, err, "create custom session")
	}
	return resp, nil
}

// GetPlaylist sequences the shorter-deadline playlist read.
func (o *Orchestrator) GetPlaylist(ctx context.Context, sessionID, requestingUserID string, requestingTier types.Tier) (*types.Playlist, error) {
	ctx, cancel := context.WithTimeout(ctx, playlistDeadline)
	defer cancel()

	pl, err := o.sessions.GetPlaylist(ctx, sessionID, requestingUserID, requestingTier)
	if err != nil {
		return nil, mapContextError(ctx, err, "get playlist")
	}
	return pl, nil
}

// Rate forwards user feedback to the Generation Log.
func (o *Orchestrator) Rate(ctx context.Context, userID, sessionID string, rating int, wasReplayed *bool) error {
	return o.logs.Rate(ctx, userID, sessionID, rating, wasReplayed)
}

func (o *Orchestrator) checkRateLimit(ctx context.Context, class ratelimit.Class, userID, clientKey string) error {
	if o.rateLimiter == nil {
		return nil
	}
	key := ratelimit.KeyForUser(class, userID)
	if userID == "" {
		key = ratelimit.KeyForIP(class, clientKey)
	}
	decision, err := o.rateLimiter.Allow(ctx, class, key)
	if err != nil {
		return apierr.UpstreamUnavailable("rate limiter unavailable", err)
	}
	if !decision.Allowed {
		return apierr.RateLimited(decision.ResetAt - time.Now().Unix())
	}
	return nil
}

// recordGenerationBestEffort writes the §4.9 log row at session-creation
// time. Failures are logged, not returned: a client must never see a 500
// because an already-successful session's bookkeeping write failed.
func (o *Orchestrator) recordGenerationBestEffort(ctx context.Context, userID, userIntent string, goal types.Goal, decision matcher.Decision, sessionID string) {
	if o.logs == nil {
		return
	}

	entry := types.GenerationLog{
		UserID: userID, UserIntent: userIntent, Goal: goal, MatchType: decision.Kind,
		Confidence: decision.Confidence, TemplateID: decision.TemplateID, APICost: decision.Cost,
		SessionID: sessionID,
	}
	switch decision.Kind {
	case types.MatchExact, types.MatchPooled:
		for _, a := range decision.Affirmations {
			entry.AffirmationsUsed = append(entry.AffirmationsUsed, a.ID)
		}
	case types.MatchGenerated, types.MatchFallback:
		entry.AffirmationsUsed = append(entry.AffirmationsUsed, decision.GeneratedText...)
	}

	if _, err := o.logs.Record(ctx, entry); err != nil {
		log.FromContext(ctx).Warn().Err(err).Str("session_id", sessionID).Msg("generation log record failed")
	}
}

func mapContextError(ctx context.Context, err error, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apierr.Timeout(0)
	}
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return apierr.Internal(fmt.Sprintf("%s failed", op), err)
}
