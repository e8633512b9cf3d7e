// SPDX-License-Identifier: MIT

package library

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/persistence/sqlite"
	"github.com/affirm/sessioncore/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "library.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return New(db)
}

func TestCreateAffirmation_AndFindByGoal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateAffirmation(ctx, "I am calm and present.", types.GoalCalm, []string{"breath"}, "calm")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	found, err := store.FindAffirmationsByGoal(ctx, types.GoalCalm, 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, a.ID, found[0].ID)
	assert.Equal(t, []string{"breath"}, found[0].Tags)
}

func TestFindAffirmationsByGoal_EmptyWhenNoneMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateAffirmation(ctx, "Focus line.", types.GoalFocus, nil, "")
	require.NoError(t, err)

	found, err := store.FindAffirmationsByGoal(ctx, types.GoalSleep, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestPutAudio_IsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a1, err := store.PutAudio(ctx, "aff-1", "neutral", types.PaceNormal, "https://cdn/aff-1.mp3", 4200, 67000, "audio/mpeg")
	require.NoError(t, err)

	a2, err := store.PutAudio(ctx, "aff-1", "neutral", types.PaceNormal, "https://cdn/different-url.mp3", 9999, 1, "audio/mpeg")
	require.NoError(t, err)

	assert.Equal(t, a1.ID, a2.ID, "second write must not replace the first artifact")
	assert.Equal(t, a1.URL, a2.URL)
}

func TestGetAudio_ReturnsNilWithoutErrorWhenMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetAudio(context.Background(), "missing", "neutral", types.PaceNormal)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetAudioBatch_GroupsByAffirmationAndFiltersPace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.PutAudio(ctx, "aff-1", "neutral", types.PaceNormal, "https://cdn/1-neutral-normal.mp3", 1000, 1, "audio/mpeg")
	require.NoError(t, err)
	_, err = store.PutAudio(ctx, "aff-1", "warm", types.PaceNormal, "https://cdn/1-warm-normal.mp3", 1100, 1, "audio/mpeg")
	require.NoError(t, err)
	_, err = store.PutAudio(ctx, "aff-1", "neutral", types.PaceSlow, "https://cdn/1-neutral-slow.mp3", 1300, 1, "audio/mpeg")
	require.NoError(t, err)
	_, err = store.PutAudio(ctx, "aff-2", "neutral", types.PaceNormal, "https://cdn/2-neutral-normal.mp3", 1200, 1, "audio/mpeg")
	require.NoError(t, err)

	batch, err := store.GetAudioBatch(ctx, []string{"aff-1", "aff-2", "aff-3"}, types.PaceNormal)
	require.NoError(t, err)

	assert.Len(t, batch["aff-1"], 2, "both voices at the requested pace")
	assert.Len(t, batch["aff-2"], 1)
	assert.Empty(t, batch["aff-3"])
}

func TestDeleteAffirmationIfUnreferenced_DeletesWhenUnused(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateAffirmation(ctx, "Unreferenced line.", types.GoalManifest, nil, "")
	require.NoError(t, err)

	require.NoError(t, store.DeleteAffirmationIfUnreferenced(ctx, a.ID))

	found, err := store.FindAffirmationsByGoal(ctx, types.GoalManifest, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestDeleteAffirmationIfUnreferenced_ConflictsWhenTemplateReferencesIt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateAffirmation(ctx, "Referenced line.", types.GoalManifest, nil, "")
	require.NoError(t, err)

	require.NoError(t, store.SeedTemplate(ctx, types.SessionTemplate{
		Title:           "Manifest starter",
		Goal:            types.GoalManifest,
		CanonicalIntent: "manifest abundance",
		AffirmationIDs:  []string{a.ID},
	}))

	err = store.DeleteAffirmationIfUnreferenced(ctx, a.ID)
	require.Error(t, err)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindConflict, apiErr.Kind)
}

func TestNudgeRating_CapsAtFive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.CreateAffirmation(ctx, "Line.", types.GoalFocus, nil, "")
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		require.NoError(t, store.NudgeRating(ctx, a.ID, 0.1))
	}

	found, err := store.FindAffirmationsByGoal(ctx, types.GoalFocus, 10, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 5.0, found[0].Rating)
	assert.Equal(t, 60, found[0].UseCount)
}

func TestFindTemplatesByGoal_OrdersByUseCountDescending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedTemplate(ctx, types.SessionTemplate{
		ID: "low", Title: "Low use", Goal: types.GoalSleep, CanonicalIntent: "sleep", UseCount: 1,
	}))
	require.NoError(t, store.SeedTemplate(ctx, types.SessionTemplate{
		ID: "high", Title: "High use", Goal: types.GoalSleep, CanonicalIntent: "sleep", UseCount: 9,
	}))

	found, err := store.FindTemplatesByGoal(ctx, types.GoalSleep)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "high", found[0].ID)
	assert.Equal(t, "low", found[1].ID)
}
