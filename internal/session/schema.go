// SPDX-License-Identifier: MIT

// Package session is the Session Assembler (C7): it turns a Matcher
// decision (or a caller-supplied custom list) into a persisted
// AffirmationSession with ordered junctions, and serves playlists back out.
package session

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS affirmation_sessions (
	id                 TEXT PRIMARY KEY,
	owner_user_id      TEXT NOT NULL DEFAULT '',
	goal               TEXT NOT NULL,
	title              TEXT NOT NULL,
	voice_id           TEXT NOT NULL,
	pace               TEXT NOT NULL,
	background_noise   TEXT NOT NULL DEFAULT '',
	binaural_category  TEXT NOT NULL DEFAULT '',
	binaural_hz        REAL NOT NULL DEFAULT 0,
	total_length_sec   INTEGER NOT NULL,
	silence_between_ms INTEGER NOT NULL,
	is_favorite        INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_affirmation_sessions_owner ON affirmation_sessions(owner_user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_affirmation_sessions_goal ON affirmation_sessions(goal);

CREATE TABLE IF NOT EXISTS session_affirmations (
	session_id       TEXT NOT NULL,
	affirmation_id   TEXT NOT NULL,
	position         INTEGER NOT NULL,
	silence_after_ms INTEGER NOT NULL,
	PRIMARY KEY (session_id, position)
);
CREATE INDEX IF NOT EXISTS idx_session_affirmations_session ON session_affirmations(session_id);

CREATE TABLE IF NOT EXISTS user_preferences (
	user_id               TEXT PRIMARY KEY,
	voice_id              TEXT NOT NULL DEFAULT 'neutral',
	pace                  TEXT NOT NULL DEFAULT 'normal',
	background_noise      TEXT NOT NULL DEFAULT '',
	affirmation_spacing_s INTEGER NOT NULL DEFAULT 8,
	updated_at            TEXT NOT NULL
);
`

// Migrate creates every table this package owns if it does not already
// exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("session: migrate: %w", err)
	}
	return nil
}
