// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/matcher"
	"github.com/affirm/sessioncore/internal/persistence/sqlite"
	"github.com/affirm/sessioncore/internal/types"
)

func newTestStores(t *testing.T) (*Store, *PreferencesStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "session.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return NewStore(db), NewPreferencesStore(db)
}

type fakeMatcher struct {
	decision matcher.Decision
	err      error
}

func (f *fakeMatcher) Match(_ context.Context, _ types.Goal, _ string, _ bool) (matcher.Decision, error) {
	return f.decision, f.err
}

type fakeTTS struct {
	calls int
	fail  bool
}

func (f *fakeTTS) Materialize(_ context.Context, affirmationID, _, voiceID string, pace types.Pace) (*types.AffirmationAudio, error) {
	f.calls++
	if f.fail {
		return nil, assert.AnError
	}
	return &types.AffirmationAudio{
		ID: affirmationID + "-audio", AffirmationID: affirmationID, VoiceID: voiceID, PaceID: pace,
		URL: "https://cdn.example.com/" + affirmationID, DurationMs: 4000,
	}, nil
}

type fakeLibrary struct {
	created int
	batch   map[string][]types.AffirmationAudio
}

func (f *fakeLibrary) CreateAffirmation(_ context.Context, text string, goal types.Goal, _ []string, _ string) (*types.AffirmationLine, error) {
	f.created++
	return &types.AffirmationLine{ID: "gen-" + text[:min(len(text), 6)], Text: text, Goal: goal}, nil
}

func (f *fakeLibrary) GetAudioBatch(_ context.Context, ids []string, pace types.Pace) (map[string][]types.AffirmationAudio, error) {
	out := make(map[string][]types.AffirmationAudio, len(ids))
	for _, id := range ids {
		out[id] = f.batch[id]
	}
	return out, nil
}

func TestCreateFromGoal_GuestSessionSkipsPersistenceAndMaterialization(t *testing.T) {
	store, prefs := newTestStores(t)
	tts := &fakeTTS{}
	lib := &fakeLibrary{}
	m := &fakeMatcher{decision: matcher.Decision{
		Kind: types.MatchExact,
		Affirmations: []types.AffirmationLine{
			{ID: "a1", Text: "I am calm.", Goal: types.GoalCalm},
		},
	}}
	a := New(store, prefs, lib, m, tts, NewDefaultCatalog())

	resp, decision, err := a.CreateFromGoal(context.Background(), CreateFromGoalParams{
		Goal: types.GoalCalm, Voice: types.DefaultVoiceID, Pace: types.PaceNormal,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.SessionID)
	assert.Equal(t, types.MatchExact, decision.Kind)
	require.Len(t, resp.Affirmations, 1)
	assert.Empty(t, resp.Affirmations[0].AudioURL, "guest sessions must not pre-materialize audio")
	assert.Equal(t, 0, tts.calls)
}

func TestCreateFromGoal_AuthenticatedSessionPersistsAndMaterializes(t *testing.T) {
	store, prefs := newTestStores(t)
	tts := &fakeTTS{}
	lib := &fakeLibrary{}
	m := &fakeMatcher{decision: matcher.Decision{
		Kind: types.MatchExact,
		Affirmations: []types.AffirmationLine{
			{ID: "a1", Text: "I am calm.", Goal: types.GoalCalm},
			{ID: "a2", Text: "I breathe easy.", Goal: types.GoalCalm},
		},
	}}
	a := New(store, prefs, lib, m, tts, NewDefaultCatalog())

	resp, _, err := a.CreateFromGoal(context.Background(), CreateFromGoalParams{
		UserID: "user-1", Goal: types.GoalCalm, Voice: types.DefaultVoiceID, Pace: types.PaceNormal,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.SessionID)
	assert.Equal(t, 2, tts.calls)
	assert.Equal(t, 180, resp.LengthSec)

	persisted, err := store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, "user-1", persisted.OwnerUserID)

	junctions, err := store.Junctions(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.Len(t, junctions, 2)
	assert.Equal(t, "a1", junctions[0].AffirmationID)
}

func TestCreateFromGoal_SlowPaceScalesLength(t *testing.T) {
	store, prefs := newTestStores(t)
	lib := &fakeLibrary{}
	m := &fakeMatcher{decision: matcher.Decision{Kind: types.MatchFallback, GeneratedText: []string{"line one"}}}
	a := New(store, prefs, lib, m, nil, NewDefaultCatalog())

	resp, _, err := a.CreateFromGoal(context.Background(), CreateFromGoalParams{
		Goal: types.GoalSleep, Pace: types.PaceSlow,
	})
	require.NoError(t, err)
	assert.Equal(t, 234, resp.LengthSec) // round(180 * 1.3)
}

func TestCreateFromGoal_GeneratedAndFallbackLinesArePersistedAsNewAffirmations(t *testing.T) {
	store, prefs := newTestStores(t)
	lib := &fakeLibrary{}
	m := &fakeMatcher{decision: matcher.Decision{
		Kind:          types.MatchGenerated,
		GeneratedText: []string{"I am worthy.", "I am capable."},
	}}
	a := New(store, prefs, lib, m, nil, NewDefaultCatalog())

	resp, _, err := a.CreateFromGoal(context.Background(), CreateFromGoalParams{UserID: "u1", Goal: types.GoalFocus})
	require.NoError(t, err)
	assert.Equal(t, 2, lib.created)
	assert.Len(t, resp.Affirmations, 2)
}

func TestCreateCustom_ComputesLengthFromAffirmationCountAndPace(t *testing.T) {
	store, prefs := newTestStores(t)
	lib := &fakeLibrary{batch: map[string][]types.AffirmationAudio{
		"a1": {{VoiceID: types.DefaultVoiceID, URL: "u1", DurationMs: 3000}},
		"a2": {{VoiceID: types.DefaultVoiceID, URL: "u2", DurationMs: 3500}},
	}}
	a := New(store, prefs, lib, nil, nil, NewDefaultCatalog())

	resp, err := a.CreateCustom(context.Background(), CreateCustomParams{
		UserID: "u1", Title: "My Mix", AffirmationIDs: []string{"a1", "a2"}, Pace: types.PaceNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, resp.LengthSec) // round(30 * 2 * 1.0)
	require.Len(t, resp.Affirmations, 2)
	assert.Equal(t, "u1", resp.Affirmations[0].AudioURL)
}

func TestGetPlaylist_ForbidsNonOwnerRequest(t *testing.T) {
	store, prefs := newTestStores(t)
	a := New(store, prefs, &fakeLibrary{}, nil, nil, NewDefaultCatalog())

	created, err := store.Create(context.Background(), types.AffirmationSession{
		OwnerUserID: "owner", Goal: types.GoalCalm, Title: "t", VoiceID: types.DefaultVoiceID, Pace: types.PaceNormal,
	}, nil)
	require.NoError(t, err)

	_, err = a.GetPlaylist(context.Background(), created.ID, "someone-else", types.TierFree)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
}

func TestGetPlaylist_DefaultSessionIsEmptyAndPublic(t *testing.T) {
	store, prefs := newTestStores(t)
	a := New(store, prefs, &fakeLibrary{}, nil, nil, NewDefaultCatalog())

	pl, err := a.GetPlaylist(context.Background(), "default-sleep", "", types.TierFree)
	require.NoError(t, err)
	assert.Equal(t, "default-sleep", pl.SessionID)
	assert.Empty(t, pl.Affirmations)
}

func TestGetPlaylist_SumsDurationAndSilenceAcrossSegments(t *testing.T) {
	store, prefs := newTestStores(t)
	lib := &fakeLibrary{batch: map[string][]types.AffirmationAudio{
		"a1": {{VoiceID: types.DefaultVoiceID, URL: "u1", DurationMs: 1000}},
		"a2": {{VoiceID: types.DefaultVoiceID, URL: "u2", DurationMs: 2000}},
	}}
	a := New(store, prefs, lib, nil, nil, NewDefaultCatalog())

	created, err := store.Create(context.Background(), types.AffirmationSession{
		OwnerUserID: "owner", Goal: types.GoalCalm, Title: "t", VoiceID: types.DefaultVoiceID, Pace: types.PaceNormal,
		SilenceBetweenMs: 8000,
	}, []junctionInput{
		{AffirmationID: "a1", SilenceAfterMs: 8000},
		{AffirmationID: "a2", SilenceAfterMs: 8000},
	})
	require.NoError(t, err)

	pl, err := a.GetPlaylist(context.Background(), created.ID, "owner", types.TierFree)
	require.NoError(t, err)
	assert.Equal(t, (1000+8000)+(2000+8000), pl.TotalDurationMs)
}

func TestGetPlaylist_FallsBackToFirstAllowedVoiceWithArtifact(t *testing.T) {
	store, prefs := newTestStores(t)
	lib := &fakeLibrary{batch: map[string][]types.AffirmationAudio{
		"a1": {{VoiceID: "warm", URL: "u1", DurationMs: 1000}},
	}}
	a := New(store, prefs, lib, nil, nil, NewDefaultCatalog())

	created, err := store.Create(context.Background(), types.AffirmationSession{
		OwnerUserID: "owner", Goal: types.GoalCalm, Title: "t", VoiceID: "premium1", Pace: types.PaceNormal,
	}, []junctionInput{{AffirmationID: "a1"}})
	require.NoError(t, err)

	pl, err := a.GetPlaylist(context.Background(), created.ID, "owner", types.TierFree)
	require.NoError(t, err)
	require.Len(t, pl.Affirmations, 1)
	assert.Equal(t, "warm", pl.Affirmations[0].VoiceID)
}

func TestGetPlaylist_PreferredVoiceAllowedButNoArtifactUsesFirstAllowedVoiceWithArtifact(t *testing.T) {
	store, prefs := newTestStores(t)
	// "warm" is free-tier allowed but has no artifact for a1. The only
	// artifacts are a pro-only voice ("premium1") and "neutral", which is
	// also free-tier allowed. The fallback must land on "neutral", not on
	// "premium1" just because it happens to be first in candidates.
	lib := &fakeLibrary{batch: map[string][]types.AffirmationAudio{
		"a1": {
			{VoiceID: "premium1", URL: "u1", DurationMs: 1000},
			{VoiceID: "neutral", URL: "u2", DurationMs: 1000},
		},
	}}
	a := New(store, prefs, lib, nil, nil, NewDefaultCatalog())
	require.NoError(t, prefs.Upsert(context.Background(), Preferences{
		UserID: "owner", VoiceID: "warm", Pace: types.PaceNormal, AffirmationSpacingSec: types.DefaultAffirmationSpacingSec,
	}))

	created, err := store.Create(context.Background(), types.AffirmationSession{
		OwnerUserID: "owner", Goal: types.GoalCalm, Title: "t", VoiceID: "warm", Pace: types.PaceNormal,
	}, []junctionInput{{AffirmationID: "a1"}})
	require.NoError(t, err)

	pl, err := a.GetPlaylist(context.Background(), created.ID, "owner", types.TierFree)
	require.NoError(t, err)
	require.Len(t, pl.Affirmations, 1)
	assert.Equal(t, "neutral", pl.Affirmations[0].VoiceID)
}

func TestToggleFavorite_RejectsDefaultSessions(t *testing.T) {
	store, prefs := newTestStores(t)
	a := New(store, prefs, &fakeLibrary{}, nil, nil, NewDefaultCatalog())

	err := a.ToggleFavorite(context.Background(), "default-focus", "anyone", true)
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
}

func TestDelete_RejectsNonOwner(t *testing.T) {
	store, prefs := newTestStores(t)
	a := New(store, prefs, &fakeLibrary{}, nil, nil, NewDefaultCatalog())

	created, err := store.Create(context.Background(), types.AffirmationSession{
		OwnerUserID: "owner", Goal: types.GoalCalm, Title: "t", VoiceID: types.DefaultVoiceID, Pace: types.PaceNormal,
	}, nil)
	require.NoError(t, err)

	err = a.Delete(context.Background(), created.ID, "not-owner")
	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindForbidden, apiErr.Kind)
}

func TestUpdate_ReplacesJunctionsWhenProvided(t *testing.T) {
	store, prefs := newTestStores(t)
	a := New(store, prefs, &fakeLibrary{}, nil, nil, NewDefaultCatalog())

	created, err := store.Create(context.Background(), types.AffirmationSession{
		OwnerUserID: "owner", Goal: types.GoalCalm, Title: "old", VoiceID: types.DefaultVoiceID, Pace: types.PaceNormal,
	}, []junctionInput{{AffirmationID: "a1"}})
	require.NoError(t, err)

	err = a.Update(context.Background(), created.ID, "owner", UpdateParams{
		Title: "new title", AffirmationIDs: []string{"a2", "a3"},
	})
	require.NoError(t, err)

	junctions, err := store.Junctions(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, junctions, 2)
	assert.Equal(t, "a2", junctions[0].AffirmationID)

	persisted, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "new title", persisted.Title)
}
