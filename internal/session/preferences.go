// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/affirm/sessioncore/internal/types"
)

// Preferences is a user's stored playback defaults, consulted by
// createFromGoal and getPlaylist's voice-fallback logic.
type Preferences struct {
	UserID                string
	VoiceID               string
	Pace                  types.Pace
	BackgroundNoise       string
	AffirmationSpacingSec int
}

// DefaultPreferences returns the catalog defaults for a user with no
// stored row yet.
func DefaultPreferences(userID string) Preferences {
	return Preferences{
		UserID:                userID,
		VoiceID:               types.DefaultVoiceID,
		Pace:                  types.PaceNormal,
		AffirmationSpacingSec: types.DefaultAffirmationSpacingSec,
	}
}

// PreferencesStore owns user_preferences.
type PreferencesStore struct {
	db *sql.DB
}

// NewPreferencesStore wraps an already-migrated database handle.
func NewPreferencesStore(db *sql.DB) *PreferencesStore {
	return &PreferencesStore{db: db}
}

// Get returns a user's stored preferences, or the catalog defaults if none
// have been saved yet.
func (s *PreferencesStore) Get(ctx context.Context, userID string) (Preferences, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, voice_id, pace, background_noise, affirmation_spacing_s
		FROM user_preferences WHERE user_id = ?`, userID)

	var p Preferences
	err := row.Scan(&p.UserID, &p.VoiceID, &p.Pace, &p.BackgroundNoise, &p.AffirmationSpacingSec)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultPreferences(userID), nil
	}
	if err != nil {
		return Preferences{}, fmt.Errorf("session: get preferences: %w", err)
	}
	return p, nil
}

// Upsert saves a user's preferences, validating the pace and spacing
// enumerations.
func (s *PreferencesStore) Upsert(ctx context.Context, p Preferences) error {
	if !types.IsValidSpacing(p.AffirmationSpacingSec) {
		return fmt.Errorf("session: invalid affirmation spacing %d seconds", p.AffirmationSpacingSec)
	}
	if _, ok := types.Paces[p.Pace]; !ok {
		return fmt.Errorf("session: invalid pace %q", p.Pace)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, voice_id, pace, background_noise, affirmation_spacing_s, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			voice_id = excluded.voice_id, pace = excluded.pace, background_noise = excluded.background_noise,
			affirmation_spacing_s = excluded.affirmation_spacing_s, updated_at = excluded.updated_at`,
		p.UserID, p.VoiceID, string(p.Pace), p.BackgroundNoise, p.AffirmationSpacingSec, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("session: upsert preferences: %w", err)
	}
	return nil
}
