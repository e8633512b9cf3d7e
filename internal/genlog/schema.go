// SPDX-License-Identifier: MIT

// Package genlog is the Generation Log (C9): an append-only record of
// every Matcher outcome, later annotated with user feedback that feeds
// rating nudges back into the Library Store.
package genlog

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS generation_logs (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL DEFAULT '',
	user_intent         TEXT NOT NULL DEFAULT '',
	goal                TEXT NOT NULL,
	match_type          TEXT NOT NULL,
	confidence          REAL NOT NULL DEFAULT 0,
	affirmations_used   TEXT NOT NULL DEFAULT '[]',
	template_id         TEXT NOT NULL DEFAULT '',
	api_cost            REAL NOT NULL DEFAULT 0,
	tts_cost            REAL NOT NULL DEFAULT 0,
	session_id          TEXT NOT NULL DEFAULT '',
	created_at          TEXT NOT NULL,
	was_rated           INTEGER NOT NULL DEFAULT 0,
	user_rating         INTEGER NOT NULL DEFAULT 0,
	was_replayed        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_generation_logs_user_session ON generation_logs(user_id, session_id, created_at);
`

// Migrate creates the generation_logs table if it does not already exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("genlog: migrate: %w", err)
	}
	return nil
}
