// SPDX-License-Identifier: MIT

package genlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/log"
	"github.com/affirm/sessioncore/internal/types"
)

// ratingNudge is the rolling-average bump applied to a well-rated
// affirmation or template, clamped at 5.0 by the Library Store.
const ratingNudge = 0.1

// ratingThreshold is the minimum user rating that triggers a nudge.
const ratingThreshold = 4

// LibraryNudger is the subset of C3 this package writes back to on
// positive feedback.
type LibraryNudger interface {
	NudgeRating(ctx context.Context, affirmationID string, delta float64) error
	NudgeTemplateRating(ctx context.Context, templateID string, delta float64) error
}

// Store is the SQLite-backed owner of GenerationLog rows.
type Store struct {
	db      *sql.DB
	library LibraryNudger
}

// New wraps an already-migrated database handle. library may be nil in
// contexts that only ever call Record (e.g. offline replay tooling).
func New(db *sql.DB, library LibraryNudger) *Store {
	return &Store{db: db, library: library}
}

// Record writes one immutable GenerationLog row at session-creation time.
// SessionID is expected to already be populated by the caller (the
// Pipeline Orchestrator, per §4.10).
func (s *Store) Record(ctx context.Context, entry types.GenerationLog) (*types.GenerationLog, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	used, err := json.Marshal(entry.AffirmationsUsed)
	if err != nil {
		return nil, fmt.Errorf("genlog: record: marshal affirmations used: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO generation_logs (id, user_id, user_intent, goal, match_type, confidence,
			affirmations_used, template_id, api_cost, tts_cost, session_id, created_at,
			was_rated, user_rating, was_replayed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0)`,
		entry.ID, entry.UserID, entry.UserIntent, string(entry.Goal), string(entry.MatchType), entry.Confidence,
		string(used), entry.TemplateID, entry.APICost, entry.TTSCost, entry.SessionID, entry.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("genlog: record: %w", err)
	}
	return &entry, nil
}

// Rate locates the most recent log for (userId, sessionId) and applies
// user feedback. wasReplayed is left unchanged when nil. A rating >= 4
// nudges the rolling rating of every referenced AffirmationLine (pooled
// matches) or the referenced SessionTemplate (exact matches).
func (s *Store) Rate(ctx context.Context, userID, sessionID string, rating int, wasReplayed *bool) error {
	entry, err := s.mostRecent(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if entry == nil {
		return apierr.New(apierr.KindNotFound, "no generation log for this session")
	}

	replayed := entry.WasReplayed
	if wasReplayed != nil {
		replayed = *wasReplayed
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE generation_logs SET was_rated = 1, user_rating = ?, was_replayed = ? WHERE id = ?`,
		rating, boolToInt(replayed), entry.ID)
	if err != nil {
		return fmt.Errorf("genlog: rate: %w", err)
	}

	if rating >= ratingThreshold {
		s.nudgeBestEffort(ctx, *entry)
	}
	return nil
}

// nudgeBestEffort applies the §4.9 rating bump. Failures are logged, not
// returned: feedback writes are best-effort and idempotent at the row
// level, and must never fail the client-facing rate() call.
func (s *Store) nudgeBestEffort(ctx context.Context, entry types.GenerationLog) {
	if s.library == nil {
		return
	}
	logger := log.FromContext(ctx)

	switch entry.MatchType {
	case types.MatchPooled:
		for _, affirmationID := range entry.AffirmationsUsed {
			if err := s.library.NudgeRating(ctx, affirmationID, ratingNudge); err != nil {
				logger.Warn().Err(err).Str("affirmation_id", affirmationID).Msg("rating nudge failed")
			}
		}
	case types.MatchExact:
		if entry.TemplateID == "" {
			return
		}
		if err := s.library.NudgeTemplateRating(ctx, entry.TemplateID, ratingNudge); err != nil {
			logger.Warn().Err(err).Str("template_id", entry.TemplateID).Msg("template rating nudge failed")
		}
	}
}

func (s *Store) mostRecent(ctx context.Context, userID, sessionID string) (*types.GenerationLog, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, user_intent, goal, match_type, confidence, affirmations_used, template_id,
		       api_cost, tts_cost, session_id, created_at, was_rated, user_rating, was_replayed
		FROM generation_logs WHERE user_id = ? AND session_id = ? ORDER BY created_at DESC LIMIT 1`,
		userID, sessionID)

	entry, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("genlog: most recent: %w", err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(s rowScanner) (*types.GenerationLog, error) {
	var entry types.GenerationLog
	var createdAt, used string
	var wasRated, wasReplayed int
	if err := s.Scan(&entry.ID, &entry.UserID, &entry.UserIntent, &entry.Goal, &entry.MatchType, &entry.Confidence,
		&used, &entry.TemplateID, &entry.APICost, &entry.TTSCost, &entry.SessionID, &createdAt,
		&wasRated, &entry.UserRating, &wasReplayed); err != nil {
		return nil, err
	}
	entry.WasRated = wasRated != 0
	entry.WasReplayed = wasReplayed != 0
	if err := json.Unmarshal([]byte(used), &entry.AffirmationsUsed); err != nil {
		return nil, fmt.Errorf("unmarshal affirmations used: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	entry.CreatedAt = t
	return &entry, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
