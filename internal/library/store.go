// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/types"
)

// Store is the Library Store (C3): the single owner of AffirmationLine,
// SessionTemplate, and AffirmationAudio persistence.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, already-migrated database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindTemplatesByGoal returns every curated SessionTemplate for goal, most
// used first.
func (s *Store) FindTemplatesByGoal(ctx context.Context, goal types.Goal) ([]types.SessionTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, goal, canonical_intent, intent_keywords, affirmation_ids,
		       binaural_category, binaural_hz, target_length_sec, is_default, rating, use_count
		FROM session_templates WHERE goal = ? ORDER BY use_count DESC, id ASC`, string(goal))
	if err != nil {
		return nil, fmt.Errorf("library: find templates by goal: %w", err)
	}
	defer rows.Close()

	var out []types.SessionTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindAffirmationsByGoal returns a page of AffirmationLine rows for goal,
// ordered by rating descending then id for stable pagination.
func (s *Store) FindAffirmationsByGoal(ctx context.Context, goal types.Goal, limit, offset int) ([]types.AffirmationLine, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, goal, emotion, tags, rating, use_count
		FROM affirmation_lines WHERE goal = ?
		ORDER BY rating DESC, id ASC LIMIT ? OFFSET ?`, string(goal), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("library: find affirmations by goal: %w", err)
	}
	defer rows.Close()

	var out []types.AffirmationLine
	for rows.Next() {
		a, err := scanAffirmation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindAffirmationsByIDs loads a set of AffirmationLine rows in one query,
// returned as a map for the caller to reorder as needed. Missing IDs are
// silently absent from the result rather than erroring.
func (s *Store) FindAffirmationsByIDs(ctx context.Context, ids []string) (map[string]types.AffirmationLine, error) {
	out := make(map[string]types.AffirmationLine, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, text, goal, emotion, tags, rating, use_count
		FROM affirmation_lines WHERE id IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("library: find affirmations by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAffirmation(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

// CreateAffirmation inserts a new AffirmationLine, generated or
// admin-authored, with a zeroed rating and use count.
func (s *Store) CreateAffirmation(ctx context.Context, text string, goal types.Goal, tags []string, emotion string) (*types.AffirmationLine, error) {
	id := uuid.NewString()
	now := nowRFC3339()
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("library: marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO affirmation_lines (id, text, goal, emotion, tags, rating, use_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		id, text, string(goal), emotion, string(tagsJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("library: create affirmation: %w", err)
	}

	return &types.AffirmationLine{
		ID:     id,
		Text:   text,
		Goal:   goal,
		Emotion: emotion,
		Tags:   tags,
	}, nil
}

// GetAudio looks up a single synthesized artifact by its composite key. It
// returns (nil, nil) when no artifact exists yet, not an error.
func (s *Store) GetAudio(ctx context.Context, affirmationID, voiceID string, pace types.Pace) (*types.AffirmationAudio, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, affirmation_id, voice_id, pace_id, url, duration_ms, bytes, content_type
		FROM affirmation_audio WHERE affirmation_id = ? AND voice_id = ? AND pace_id = ?`,
		affirmationID, voiceID, string(pace))

	a, err := scanAudioRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("library: get audio: %w", err)
	}
	return a, nil
}

// PutAudio idempotently records a synthesized artifact. Two callers racing
// on the same (affirmationID, voiceID, pace) converge on whichever row was
// inserted first; PutAudio never overwrites an existing artifact.
func (s *Store) PutAudio(ctx context.Context, affirmationID, voiceID string, pace types.Pace, url string, durationMs, bytes int, contentType string) (*types.AffirmationAudio, error) {
	id := uuid.NewString()
	now := nowRFC3339()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO affirmation_audio (id, affirmation_id, voice_id, pace_id, url, duration_ms, bytes, content_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(affirmation_id, voice_id, pace_id) DO NOTHING`,
		id, affirmationID, voiceID, string(pace), url, durationMs, bytes, contentType, now)
	if err != nil {
		return nil, fmt.Errorf("library: put audio: %w", err)
	}

	existing, err := s.GetAudio(ctx, affirmationID, voiceID, pace)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("library: put audio: row missing immediately after insert")
	}
	return existing, nil
}

// GetAudioBatch loads every artifact at pace for the given affirmation IDs
// in one query, grouped by affirmation. The Session Assembler uses this to
// avoid N+1 lookups when building a playlist.
func (s *Store) GetAudioBatch(ctx context.Context, affirmationIDs []string, pace types.Pace) (map[string][]types.AffirmationAudio, error) {
	out := make(map[string][]types.AffirmationAudio, len(affirmationIDs))
	if len(affirmationIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(affirmationIDs))
	args := make([]any, 0, len(affirmationIDs)+1)
	for i, id := range affirmationIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, string(pace))

	query := fmt.Sprintf(`
		SELECT id, affirmation_id, voice_id, pace_id, url, duration_ms, bytes, content_type
		FROM affirmation_audio WHERE affirmation_id IN (%s) AND pace_id = ?`,
		strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("library: get audio batch: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAudio(rows)
		if err != nil {
			return nil, err
		}
		out[a.AffirmationID] = append(out[a.AffirmationID], a)
	}
	return out, rows.Err()
}

// DeleteAffirmationIfUnreferenced removes an AffirmationLine, failing with
// an apierr.KindConflict if any SessionTemplate still names it.
func (s *Store) DeleteAffirmationIfUnreferenced(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("library: delete affirmation: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	rows, err := tx.QueryContext(ctx, `SELECT id, affirmation_ids FROM session_templates`)
	if err != nil {
		return fmt.Errorf("library: delete affirmation: scan templates: %w", err)
	}
	var referencing []string
	for rows.Next() {
		var templateID, idsJSON string
		if err := rows.Scan(&templateID, &idsJSON); err != nil {
			rows.Close()
			return fmt.Errorf("library: delete affirmation: scan template: %w", err)
		}
		var ids []string
		if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
			rows.Close()
			return fmt.Errorf("library: delete affirmation: decode template ids: %w", err)
		}
		for _, a := range ids {
			if a == id {
				referencing = append(referencing, templateID)
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if len(referencing) > 0 {
		return apierr.Conflict("affirmation is still referenced by one or more session templates", referencing)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM affirmation_lines WHERE id = ?`, id); err != nil {
		return fmt.Errorf("library: delete affirmation: %w", err)
	}
	return tx.Commit()
}

// NudgeRating applies §4.9's feedback nudge to an AffirmationLine: raises
// its rating by delta (the generation log passes +0.1 for a rating of 4 or
// more), capped at 5.0, and bumps its use count.
func (s *Store) NudgeRating(ctx context.Context, affirmationID string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE affirmation_lines
		SET rating = MIN(5.0, rating + ?), use_count = use_count + 1, updated_at = ?
		WHERE id = ?`, delta, nowRFC3339(), affirmationID)
	if err != nil {
		return fmt.Errorf("library: nudge rating: %w", err)
	}
	return nil
}

// NudgeTemplateRating applies the same feedback nudge to a SessionTemplate.
func (s *Store) NudgeTemplateRating(ctx context.Context, templateID string, delta float64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE session_templates
		SET rating = MIN(5.0, rating + ?), use_count = use_count + 1, updated_at = ?
		WHERE id = ?`, delta, nowRFC3339(), templateID)
	if err != nil {
		return fmt.Errorf("library: nudge template rating: %w", err)
	}
	return nil
}

// SeedTemplate inserts or replaces an admin-authored SessionTemplate. It
// exists for fixture and migration seeding, not the runtime request path.
func (s *Store) SeedTemplate(ctx context.Context, t types.SessionTemplate) error {
	keywordsJSON, err := json.Marshal(t.IntentKeywords)
	if err != nil {
		return fmt.Errorf("library: marshal keywords: %w", err)
	}
	idsJSON, err := json.Marshal(t.AffirmationIDs)
	if err != nil {
		return fmt.Errorf("library: marshal affirmation ids: %w", err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := nowRFC3339()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_templates (id, title, goal, canonical_intent, intent_keywords, affirmation_ids,
			binaural_category, binaural_hz, target_length_sec, is_default, rating, use_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, canonical_intent = excluded.canonical_intent,
			intent_keywords = excluded.intent_keywords, affirmation_ids = excluded.affirmation_ids,
			binaural_category = excluded.binaural_category, binaural_hz = excluded.binaural_hz,
			target_length_sec = excluded.target_length_sec, updated_at = excluded.updated_at`,
		t.ID, t.Title, string(t.Goal), t.CanonicalIntent, string(keywordsJSON), string(idsJSON),
		t.BinauralCategory, t.BinauralHz, t.TargetLengthSec, boolToInt(t.IsDefault), t.Rating, t.UseCount, now, now)
	if err != nil {
		return fmt.Errorf("library: seed template: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(s rowScanner) (types.SessionTemplate, error) {
	var t types.SessionTemplate
	var keywordsJSON, idsJSON string
	var isDefault int
	if err := s.Scan(&t.ID, &t.Title, &t.Goal, &t.CanonicalIntent, &keywordsJSON, &idsJSON,
		&t.BinauralCategory, &t.BinauralHz, &t.TargetLengthSec, &isDefault, &t.Rating, &t.UseCount); err != nil {
		return t, fmt.Errorf("library: scan template: %w", err)
	}
	t.IsDefault = isDefault != 0
	if err := json.Unmarshal([]byte(keywordsJSON), &t.IntentKeywords); err != nil {
		return t, fmt.Errorf("library: decode template keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(idsJSON), &t.AffirmationIDs); err != nil {
		return t, fmt.Errorf("library: decode template affirmation ids: %w", err)
	}
	return t, nil
}

func scanAffirmation(s rowScanner) (types.AffirmationLine, error) {
	var a types.AffirmationLine
	var tagsJSON string
	if err := s.Scan(&a.ID, &a.Text, &a.Goal, &a.Emotion, &tagsJSON, &a.Rating, &a.UseCount); err != nil {
		return a, fmt.Errorf("library: scan affirmation: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
		return a, fmt.Errorf("library: decode affirmation tags: %w", err)
	}
	return a, nil
}

func scanAudio(s rowScanner) (types.AffirmationAudio, error) {
	var a types.AffirmationAudio
	if err := s.Scan(&a.ID, &a.AffirmationID, &a.VoiceID, &a.PaceID, &a.URL, &a.DurationMs, &a.Bytes, &a.ContentType); err != nil {
		return a, fmt.Errorf("library: scan audio: %w", err)
	}
	return a, nil
}

func scanAudioRow(row *sql.Row) (*types.AffirmationAudio, error) {
	a, err := scanAudio(row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
