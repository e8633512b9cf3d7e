// SPDX-License-Identifier: MIT

// Package subscription is the Subscription Gate (C8): it owns
// UserSubscription, enforces the free-tier monthly custom-session quota
// via an atomic conditional update, and records tier transitions.
package subscription

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_subscriptions (
	user_id                         TEXT PRIMARY KEY,
	tier                            TEXT NOT NULL DEFAULT 'free',
	status                          TEXT NOT NULL DEFAULT 'active',
	billing_period                  TEXT NOT NULL DEFAULT '',
	current_period_start            TEXT NOT NULL DEFAULT '',
	current_period_end              TEXT NOT NULL DEFAULT '',
	cancel_at_period_end            INTEGER NOT NULL DEFAULT 0,
	custom_sessions_used_this_month INTEGER NOT NULL DEFAULT 0,
	last_reset_date                 TEXT NOT NULL,
	last_verified_product_id        TEXT NOT NULL DEFAULT ''
);
`

// Migrate creates the subscription table if it does not already exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("subscription: migrate: %w", err)
	}
	return nil
}
