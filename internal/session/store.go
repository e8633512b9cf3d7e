// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/types"
)

// Store is the SQLite-backed owner of AffirmationSession and
// SessionAffirmation rows.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-migrated database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// junctionInput is one ordered line to persist alongside a new session.
type junctionInput struct {
	AffirmationID  string
	SilenceAfterMs int
}

// Create persists a new AffirmationSession and its ordered junctions in one
// transaction. Junction positions are assigned 1..N in the order given.
func (s *Store) Create(ctx context.Context, sess types.AffirmationSession, junctions []junctionInput) (*types.AffirmationSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("session: create: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO affirmation_sessions (id, owner_user_id, goal, title, voice_id, pace, background_noise,
			binaural_category, binaural_hz, total_length_sec, silence_between_ms, is_favorite, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerUserID, string(sess.Goal), sess.Title, sess.VoiceID, string(sess.Pace), sess.BackgroundNoise,
		sess.BinauralCategory, sess.BinauralHz, sess.TotalLengthSec, sess.SilenceBetweenMs, boolToInt(sess.IsFavorite),
		sess.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("session: create: insert session: %w", err)
	}

	for i, j := range junctions {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_affirmations (session_id, affirmation_id, position, silence_after_ms)
			VALUES (?, ?, ?, ?)`, sess.ID, j.AffirmationID, i+1, j.SilenceAfterMs)
		if err != nil {
			return nil, fmt.Errorf("session: create: insert junction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("session: create: commit: %w", err)
	}
	return &sess, nil
}

// Get loads a session by ID, or (nil, nil) if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*types.AffirmationSession, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_user_id, goal, title, voice_id, pace, background_noise,
		       binaural_category, binaural_hz, total_length_sec, silence_between_ms, is_favorite, created_at
		FROM affirmation_sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}
	return sess, nil
}

// ListByOwner returns a user's persisted sessions, most recent first.
func (s *Store) ListByOwner(ctx context.Context, ownerUserID string) ([]types.AffirmationSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_user_id, goal, title, voice_id, pace, background_noise,
		       binaural_category, binaural_hz, total_length_sec, silence_between_ms, is_favorite, created_at
		FROM affirmation_sessions WHERE owner_user_id = ? ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("session: list by owner: %w", err)
	}
	defer rows.Close()

	var out []types.AffirmationSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

// Junctions returns a session's ordered affirmation references.
func (s *Store) Junctions(ctx context.Context, sessionID string) ([]types.SessionAffirmation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, affirmation_id, position, silence_after_ms
		FROM session_affirmations WHERE session_id = ? ORDER BY position ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: junctions: %w", err)
	}
	defer rows.Close()

	var out []types.SessionAffirmation
	for rows.Next() {
		var j types.SessionAffirmation
		if err := rows.Scan(&j.SessionID, &j.AffirmationID, &j.Position, &j.SilenceAfterMs); err != nil {
			return nil, fmt.Errorf("session: junctions: scan: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// SetFavorite toggles is_favorite. The caller is responsible for
// default-session and ownership checks.
func (s *Store) SetFavorite(ctx context.Context, id string, favorite bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE affirmation_sessions SET is_favorite = ? WHERE id = ?`, boolToInt(favorite), id)
	if err != nil {
		return fmt.Errorf("session: set favorite: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateFields updates a session's title, binaural settings, and junction
// set in one transaction. A nil junctions slice leaves junctions
// untouched; a non-nil (possibly empty) slice replaces them entirely.
func (s *Store) UpdateFields(ctx context.Context, id, title, binauralCategory string, binauralHz float64, junctions []junctionInput) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: update: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	res, err := tx.ExecContext(ctx, `
		UPDATE affirmation_sessions SET title = ?, binaural_category = ?, binaural_hz = ? WHERE id = ?`,
		title, binauralCategory, binauralHz, id)
	if err != nil {
		return fmt.Errorf("session: update: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return err
	}

	if junctions != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_affirmations WHERE session_id = ?`, id); err != nil {
			return fmt.Errorf("session: update: clear junctions: %w", err)
		}
		for i, j := range junctions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_affirmations (session_id, affirmation_id, position, silence_after_ms)
				VALUES (?, ?, ?, ?)`, id, j.AffirmationID, i+1, j.SilenceAfterMs); err != nil {
				return fmt.Errorf("session: update: insert junction: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Delete removes a session and its junctions.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: delete: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_affirmations WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("session: delete: junctions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM affirmation_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if err := requireRowAffected(res); err != nil {
		return err
	}
	return tx.Commit()
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: rows affected: %w", err)
	}
	if n == 0 {
		return apierr.New(apierr.KindNotFound, "session not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(s rowScanner) (*types.AffirmationSession, error) {
	var sess types.AffirmationSession
	var createdAt string
	var isFavorite int
	if err := s.Scan(&sess.ID, &sess.OwnerUserID, &sess.Goal, &sess.Title, &sess.VoiceID, &sess.Pace, &sess.BackgroundNoise,
		&sess.BinauralCategory, &sess.BinauralHz, &sess.TotalLengthSec, &sess.SilenceBetweenMs, &isFavorite, &createdAt); err != nil {
		return nil, err
	}
	sess.IsFavorite = isFavorite != 0
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("session: parse created_at: %w", err)
	}
	sess.CreatedAt = t
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
