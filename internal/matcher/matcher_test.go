// SPDX-License-Identifier: MIT

package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affirm/sessioncore/internal/types"
)

type fakeLibrary struct {
	templates    map[types.Goal][]types.SessionTemplate
	affirmations map[types.Goal][]types.AffirmationLine
	byID         map[string]types.AffirmationLine
}

func (f *fakeLibrary) FindTemplatesByGoal(_ context.Context, goal types.Goal) ([]types.SessionTemplate, error) {
	return f.templates[goal], nil
}

func (f *fakeLibrary) FindAffirmationsByGoal(_ context.Context, goal types.Goal, _, _ int) ([]types.AffirmationLine, error) {
	return f.affirmations[goal], nil
}

func (f *fakeLibrary) FindAffirmationsByIDs(_ context.Context, ids []string) (map[string]types.AffirmationLine, error) {
	out := make(map[string]types.AffirmationLine, len(ids))
	for _, id := range ids {
		if l, ok := f.byID[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

type fakeGenerator struct {
	lines []string
	cost  float64
	err   error
	calls int
}

func (g *fakeGenerator) Generate(_ context.Context, _ types.Goal, _ string) ([]string, float64, error) {
	g.calls++
	return g.lines, g.cost, g.err
}

func newLineSet(goal types.Goal, texts []string) ([]types.AffirmationLine, map[string]types.AffirmationLine) {
	var lines []types.AffirmationLine
	byID := map[string]types.AffirmationLine{}
	for i, text := range texts {
		id := text[:3] + string(rune('a'+i))
		l := types.AffirmationLine{ID: id, Text: text, Goal: goal}
		lines = append(lines, l)
		byID[id] = l
	}
	return lines, byID
}

func TestMatch_ExactWhenTemplateScoreMeetsThreshold(t *testing.T) {
	lib := &fakeLibrary{
		templates: map[types.Goal][]types.SessionTemplate{
			types.GoalCalm: {{
				ID:              "tpl-1",
				Goal:            types.GoalCalm,
				CanonicalIntent: "find peace and center myself in the present moment",
				IntentKeywords:  []string{"peace", "center", "present", "moment"},
				AffirmationIDs:  []string{"a1", "a2"},
			}},
		},
		byID: map[string]types.AffirmationLine{
			"a1": {ID: "a1", Text: "I am calm.", Goal: types.GoalCalm},
			"a2": {ID: "a2", Text: "I am present.", Goal: types.GoalCalm},
		},
	}
	m := New(lib, nil)

	d, err := m.Match(context.Background(), types.GoalCalm, "I want to find peace and center myself in the present moment", false)
	require.NoError(t, err)
	assert.Equal(t, types.MatchExact, d.Kind)
	assert.Equal(t, "tpl-1", d.TemplateID)
	assert.Len(t, d.Affirmations, 2)
}

func TestMatch_PooledWhenEnoughLinesQualify(t *testing.T) {
	texts := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		texts = append(texts, "help me finish my thesis outline today and stay focused")
	}
	lines, _ := newLineSet(types.GoalFocus, texts)
	for i := range lines {
		lines[i].Rating = float64(i)
	}

	lib := &fakeLibrary{
		affirmations: map[types.Goal][]types.AffirmationLine{types.GoalFocus: lines},
	}
	m := New(lib, nil)

	d, err := m.Match(context.Background(), types.GoalFocus, "help me finish my thesis outline today", false)
	require.NoError(t, err)
	assert.Equal(t, types.MatchPooled, d.Kind)
	assert.Len(t, d.Affirmations, 8)
}

func TestMatch_GeneratedOnFirstSessionEvenWithQualifyingPool(t *testing.T) {
	texts := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		texts = append(texts, "manifest abundance and opportunity every single day")
	}
	lines, _ := newLineSet(types.GoalManifest, texts)

	lib := &fakeLibrary{
		affirmations: map[types.Goal][]types.AffirmationLine{types.GoalManifest: lines},
	}
	gen := &fakeGenerator{lines: []string{"I am open to abundance."}, cost: 0.21}
	m := New(lib, gen)

	d, err := m.Match(context.Background(), types.GoalManifest, "manifest abundance and opportunity every single day", true)
	require.NoError(t, err)
	assert.Equal(t, types.MatchGenerated, d.Kind)
	assert.Equal(t, 1, gen.calls)
}

func TestMatch_FallbackWhenPoolEmptyAndNoLLM(t *testing.T) {
	lib := &fakeLibrary{}
	m := New(lib, nil)

	d, err := m.Match(context.Background(), types.GoalSleep, "anything at all", false)
	require.NoError(t, err)
	assert.Equal(t, types.MatchFallback, d.Kind)
	assert.Len(t, d.GeneratedText, FallbackAffirmationCount)
}

func TestMatch_FallsBackWhenGenerationFailsEvenIfPoolQualifies(t *testing.T) {
	texts := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		texts = append(texts, "i want to feel calm and grounded right now")
	}
	lines, _ := newLineSet(types.GoalCalm, texts)

	lib := &fakeLibrary{
		affirmations: map[types.Goal][]types.AffirmationLine{types.GoalCalm: lines},
	}
	gen := &fakeGenerator{err: errors.New("upstream down")}
	m := New(lib, gen)

	d, err := m.Match(context.Background(), types.GoalCalm, "i want to feel calm and grounded right now", true)
	require.NoError(t, err)
	assert.Equal(t, types.MatchFallback, d.Kind, "a failed generation attempt must fall through to step 4, not a reconsidered pooled result")
	assert.Len(t, d.GeneratedText, FallbackAffirmationCount)
}

func TestSimilarity_KeywordCoverageAndCosineAgree(t *testing.T) {
	s := similarity("I want to find peace and center myself", "find peace and center", []string{"peace", "center"})
	assert.Greater(t, s, 0.5)
}

func TestSimilarity_EmptyIntentionIsZero(t *testing.T) {
	s := similarity("", "anything", []string{"a"})
	assert.Equal(t, 0.0, s)
}

func TestScoreBeats_TieBreaksRatingThenUseCountThenID(t *testing.T) {
	assert.True(t, scoreBeats(0.9, 4.0, 1, "b", 0.9, 3.0, 1, "a"), "higher rating wins")
	assert.True(t, scoreBeats(0.9, 3.0, 1, "b", 0.9, 3.0, 2, "a"), "lower use count wins on rating tie")
	assert.True(t, scoreBeats(0.9, 3.0, 1, "a", 0.9, 3.0, 1, "b"), "lexicographically smaller id wins final tie")
}
