// SPDX-License-Identifier: MIT

package subscription

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/metrics"
	"github.com/affirm/sessioncore/internal/types"
)

// FreeTierMonthlyLimit mirrors types.FreeTierMonthlyLimit; kept as a
// local alias so call sites in this package read naturally.
const FreeTierMonthlyLimit = types.FreeTierMonthlyLimit

// Gate is the SQLite-backed owner of UserSubscription rows.
type Gate struct {
	db *sql.DB
}

// New wraps an already-migrated database handle.
func New(db *sql.DB) *Gate {
	return &Gate{db: db}
}

// Get returns a user's subscription, creating a default free-tier row on
// first read and applying the lazy monthly reset before returning.
func (g *Gate) Get(ctx context.Context, userID string) (*types.UserSubscription, error) {
	if err := g.ensureResetIfNewMonth(ctx, userID); err != nil {
		return nil, err
	}
	return g.load(ctx, userID)
}

func (g *Gate) load(ctx context.Context, userID string) (*types.UserSubscription, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT user_id, tier, status, billing_period, current_period_start, current_period_end,
		       cancel_at_period_end, custom_sessions_used_this_month, last_reset_date, last_verified_product_id
		FROM user_subscriptions WHERE user_id = ?`, userID)

	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		if err := g.createDefault(ctx, userID); err != nil {
			return nil, err
		}
		return g.load(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("subscription: get: %w", err)
	}
	return sub, nil
}

func (g *Gate) createDefault(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	_, err := g.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (user_id, tier, status, custom_sessions_used_this_month, last_reset_date)
		VALUES (?, 'free', 'active', 0, ?)
		ON CONFLICT(user_id) DO NOTHING`, userID, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("subscription: create default: %w", err)
	}
	return nil
}

// ensureResetIfNewMonth applies §4.8's lazy monthly reset: if now is in a
// later calendar month than last_reset_date, zero the counter and advance
// the reset marker. Idempotent and safe to call on every read.
func (g *Gate) ensureResetIfNewMonth(ctx context.Context, userID string) error {
	if err := g.createDefault(ctx, userID); err != nil {
		return err
	}

	var lastReset string
	row := g.db.QueryRowContext(ctx, `SELECT last_reset_date FROM user_subscriptions WHERE user_id = ?`, userID)
	if err := row.Scan(&lastReset); err != nil {
		return fmt.Errorf("subscription: ensure reset: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, lastReset)
	if err != nil {
		return fmt.Errorf("subscription: ensure reset: parse last_reset_date: %w", err)
	}

	now := time.Now().UTC()
	if sameCalendarMonth(t, now) {
		return nil
	}

	_, err = g.db.ExecContext(ctx, `
		UPDATE user_subscriptions SET custom_sessions_used_this_month = 0, last_reset_date = ?
		WHERE user_id = ? AND last_reset_date = ?`, now.Format(time.RFC3339Nano), userID, lastReset)
	if err != nil {
		return fmt.Errorf("subscription: ensure reset: %w", err)
	}
	return nil
}

func sameCalendarMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// TryConsumeQuota performs the atomic conditional increment described in
// §4.8: free-tier users are granted a custom session only if their
// monthly count is still under FreeTierMonthlyLimit; pro-tier users
// always pass. Returns apierr.KindQuotaExceeded with {limit, used, tier}
// details when the conditional update affects zero rows.
func (g *Gate) TryConsumeQuota(ctx context.Context, userID string) error {
	if err := g.ensureResetIfNewMonth(ctx, userID); err != nil {
		return err
	}

	sub, err := g.load(ctx, userID)
	if err != nil {
		return err
	}
	if sub.Tier == types.TierPro {
		metrics.RecordQuotaConsumed(string(types.TierPro))
		return nil
	}

	res, err := g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET custom_sessions_used_this_month = custom_sessions_used_this_month + 1
		WHERE user_id = ? AND tier = 'free' AND custom_sessions_used_this_month < ?`,
		userID, FreeTierMonthlyLimit)
	if err != nil {
		return fmt.Errorf("subscription: consume quota: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("subscription: consume quota: rows affected: %w", err)
	}
	if n == 0 {
		metrics.RecordQuotaRejected(string(types.TierFree))
		return apierr.QuotaExceeded(FreeTierMonthlyLimit, sub.CustomSessionsUsedThisMonth, string(types.TierFree))
	}
	metrics.RecordQuotaConsumed(string(types.TierFree))
	return nil
}

// RollbackQuota decrements the monthly counter, undoing a prior
// TryConsumeQuota when downstream session persistence failed. Best-effort:
// callers log but do not fail the request on error.
func (g *Gate) RollbackQuota(ctx context.Context, userID string) error {
	_, err := g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET custom_sessions_used_this_month = MAX(0, custom_sessions_used_this_month - 1)
		WHERE user_id = ? AND tier = 'free'`, userID)
	if err != nil {
		return fmt.Errorf("subscription: rollback quota: %w", err)
	}
	return nil
}

// VerifyPurchase records a tier upgrade: productId's suffix ("...monthly"
// or "...annual") determines the billing period, and the current period
// is derived from it starting now.
//
// Idempotent per §8's round-trip law: calling this twice with the same
// productID while the prior grant is still pro/active and its period
// hasn't lapsed must not extend the period a second time, so a replayed
// purchase receipt (or a client retry) can't give a user free extra
// months. Only a genuinely new purchase — a different productID, or a
// call after the period has already ended — recomputes the period.
func (g *Gate) VerifyPurchase(ctx context.Context, userID, productID, platform string) (*types.UserSubscription, error) {
	if err := g.createDefault(ctx, userID); err != nil {
		return nil, err
	}

	existing, err := g.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if existing.Tier == types.TierPro && existing.Status == types.StatusActive &&
		existing.LastVerifiedProductID == productID && now.Before(existing.CurrentPeriodEnd) {
		return existing, nil
	}

	period, duration, err := billingPeriodFromProductID(productID)
	if err != nil {
		return nil, fmt.Errorf("subscription: verify purchase: %w", err)
	}

	end := now.Add(duration)
	_, err = g.db.ExecContext(ctx, `
		UPDATE user_subscriptions
		SET tier = 'pro', status = 'active', billing_period = ?, current_period_start = ?,
		    current_period_end = ?, cancel_at_period_end = 0, last_verified_product_id = ?
		WHERE user_id = ?`, string(period), now.Format(time.RFC3339Nano), end.Format(time.RFC3339Nano), productID, userID)
	if err != nil {
		return nil, fmt.Errorf("subscription: verify purchase: %w", err)
	}
	metrics.RecordTierTransition(platform, string(period))
	return g.load(ctx, userID)
}

// Cancel marks a subscription for non-renewal: cancelAtPeriodEnd is set,
// but tier and status are left unchanged until the period lapses
// (an external collaborator, not this package, drives that transition).
func (g *Gate) Cancel(ctx context.Context, userID string) error {
	res, err := g.db.ExecContext(ctx, `UPDATE user_subscriptions SET cancel_at_period_end = 1 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("subscription: cancel: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("subscription: cancel: rows affected: %w", err)
	}
	if n == 0 {
		return apierr.New(apierr.KindNotFound, "subscription not found")
	}
	return nil
}

func billingPeriodFromProductID(productID string) (types.BillingPeriod, time.Duration, error) {
	switch {
	case strings.HasSuffix(productID, "monthly"):
		return types.BillingMonthly, 30 * 24 * time.Hour, nil
	case strings.HasSuffix(productID, "annual"):
		return types.BillingYearly, 365 * 24 * time.Hour, nil
	default:
		return "", 0, fmt.Errorf("unrecognized product id suffix: %q", productID)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(s rowScanner) (*types.UserSubscription, error) {
	var sub types.UserSubscription
	var periodStart, periodEnd, lastReset string
	var cancelAtEnd int
	if err := s.Scan(&sub.UserID, &sub.Tier, &sub.Status, &sub.BillingPeriod, &periodStart, &periodEnd,
		&cancelAtEnd, &sub.CustomSessionsUsedThisMonth, &lastReset, &sub.LastVerifiedProductID); err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = cancelAtEnd != 0
	sub.LastResetDate, _ = time.Parse(time.RFC3339Nano, lastReset)
	if periodStart != "" {
		sub.CurrentPeriodStart, _ = time.Parse(time.RFC3339Nano, periodStart)
	}
	if periodEnd != "" {
		sub.CurrentPeriodEnd, _ = time.Parse(time.RFC3339Nano, periodEnd)
	}
	return &sub, nil
}
