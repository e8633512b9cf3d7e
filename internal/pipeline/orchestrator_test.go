// SPDX-License-Identifier: MIT

package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/genlog"
	"github.com/affirm/sessioncore/internal/library"
	"github.com/affirm/sessioncore/internal/matcher"
	"github.com/affirm/sessioncore/internal/persistence/sqlite"
	"github.com/affirm/sessioncore/internal/ratelimit"
	"github.com/affirm/sessioncore/internal/session"
	"github.com/affirm/sessioncore/internal/subscription"
	"github.com/affirm/sessioncore/internal/types"
)

type fakeMatcherService struct {
	decision matcher.Decision
}

func (f *fakeMatcherService) Match(_ context.Context, _ types.Goal, _ string, _ bool) (matcher.Decision, error) {
	return f.decision, nil
}

type denyingLimiter struct{}

func (denyingLimiter) Allow(_ context.Context, _ ratelimit.Class, _ string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, ResetAt: 0}, nil
}

func newTestOrchestrator(t *testing.T, rl ratelimit.WindowLimiter) (*Orchestrator, *subscription.Gate) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pipeline.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, library.Migrate(context.Background(), db))
	require.NoError(t, session.Migrate(context.Background(), db))
	require.NoError(t, subscription.Migrate(context.Background(), db))
	require.NoError(t, genlog.Migrate(context.Background(), db))

	libStore := library.New(db)
	sessStore := session.NewStore(db)
	prefStore := session.NewPreferencesStore(db)
	quota := subscription.New(db)
	logs := genlog.New(db, libStore)

	m := &fakeMatcherService{decision: matcher.Decision{
		Kind:          types.MatchFallback,
		GeneratedText: []string{"I am enough.", "I choose peace."},
	}}
	assembler := session.New(sessStore, prefStore, libStore, m, nil, session.NewDefaultCatalog())

	if rl == nil {
		rl = ratelimit.NewMemoryWindowLimiter()
	}
	return New(rl, quota, assembler, logs), quota
}

func TestGenerateFromGoal_RecordsGenerationLogWithSessionID(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)

	resp, err := o.GenerateFromGoal(context.Background(), GenerateFromGoalRequest{
		UserID: "u1", Goal: types.GoalCalm, Voice: types.DefaultVoiceID, Pace: types.PaceNormal,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)

	require.NoError(t, o.Rate(context.Background(), "u1", resp.SessionID, 5, nil))
}

func TestGenerateFromGoal_RejectsWhenRateLimited(t *testing.T) {
	o, _ := newTestOrchestrator(t, denyingLimiter{})

	_, err := o.GenerateFromGoal(context.Background(), GenerateFromGoalRequest{
		UserID: "u1", Goal: types.GoalCalm,
	})
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindRateLimited, apiErr.Kind)
}

func TestCreateCustom_RejectsWhenQuotaExhausted(t *testing.T) {
	o, quota := newTestOrchestrator(t, nil)
	ctx := context.Background()

	for i := 0; i < subscription.FreeTierMonthlyLimit; i++ {
		require.NoError(t, quota.TryConsumeQuota(ctx, "u1"))
	}

	_, err := o.CreateCustom(ctx, CreateCustomRequest{
		UserID: "u1", Title: "mix", AffirmationIDs: []string{}, Voice: types.DefaultVoiceID, Pace: types.PaceNormal,
	})
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindQuotaExceeded, apiErr.Kind)
}

func TestCreateCustom_GrantsQuotaAndPersists(t *testing.T) {
	o, quota := newTestOrchestrator(t, nil)
	ctx := context.Background()

	resp, err := o.CreateCustom(ctx, CreateCustomRequest{
		UserID: "u1", Title: "mix", AffirmationIDs: []string{}, Voice: types.DefaultVoiceID, Pace: types.PaceNormal,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)

	sub, err := quota.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, sub.CustomSessionsUsedThisMonth)
}

func TestGetPlaylist_ReturnsDefaultSessionForKnownID(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil)
	pl, err := o.GetPlaylist(context.Background(), "default-calm", "", types.TierFree)
	require.NoError(t, err)
	assert.Equal(t, "default-calm", pl.SessionID)
}
