// SPDX-License-Identifier: MIT

// Package library is the Library Store (C3): persistent CRUD over
// AffirmationLine, SessionTemplate, and AffirmationAudio.
package library

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS affirmation_lines (
	id         TEXT PRIMARY KEY,
	text       TEXT NOT NULL,
	goal       TEXT NOT NULL,
	emotion    TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	rating     REAL NOT NULL DEFAULT 0,
	use_count  INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_affirmation_lines_goal ON affirmation_lines(goal);

CREATE TABLE IF NOT EXISTS session_templates (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	goal              TEXT NOT NULL,
	canonical_intent  TEXT NOT NULL,
	intent_keywords   TEXT NOT NULL DEFAULT '[]',
	affirmation_ids   TEXT NOT NULL DEFAULT '[]',
	binaural_category TEXT NOT NULL DEFAULT '',
	binaural_hz       REAL NOT NULL DEFAULT 0,
	target_length_sec INTEGER NOT NULL DEFAULT 0,
	is_default        INTEGER NOT NULL DEFAULT 0,
	rating            REAL NOT NULL DEFAULT 0,
	use_count         INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_templates_goal ON session_templates(goal);

CREATE TABLE IF NOT EXISTS affirmation_audio (
	id             TEXT PRIMARY KEY,
	affirmation_id TEXT NOT NULL,
	voice_id       TEXT NOT NULL,
	pace_id        TEXT NOT NULL,
	url            TEXT NOT NULL,
	duration_ms    INTEGER NOT NULL,
	bytes          INTEGER NOT NULL,
	content_type   TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	UNIQUE(affirmation_id, voice_id, pace_id)
);
CREATE INDEX IF NOT EXISTS idx_affirmation_audio_affirmation ON affirmation_audio(affirmation_id);
`

// Migrate creates every table this package owns if it does not already
// exist. It is idempotent and safe to call on every process start.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("library: migrate: %w", err)
	}
	return nil
}
