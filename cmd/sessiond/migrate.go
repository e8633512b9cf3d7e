// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/affirm/sessioncore/internal/genlog"
	"github.com/affirm/sessioncore/internal/library"
	"github.com/affirm/sessioncore/internal/session"
	"github.com/affirm/sessioncore/internal/subscription"
)

// migrateAll applies every component's schema in dependency order:
// library before session (session's junction table references
// affirmations), subscription and genlog are independent of both.
func migrateAll(ctx context.Context, db *sql.DB) error {
	steps := []struct {
		name    string
		migrate func(context.Context, *sql.DB) error
	}{
		{"library", library.Migrate},
		{"session", session.Migrate},
		{"subscription", subscription.Migrate},
		{"genlog", genlog.Migrate},
	}
	for _, step := range steps {
		if err := step.migrate(ctx, db); err != nil {
			return fmt.Errorf("migrate %s: %w", step.name, err)
		}
	}
	return nil
}
