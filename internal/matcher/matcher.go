// SPDX-License-Identifier: MIT

package matcher

import (
	"context"
	"fmt"
	"sort"

	"github.com/affirm/sessioncore/internal/metrics"
	"github.com/affirm/sessioncore/internal/types"
)

// MinPoolAffirmations is the smallest pool selection the decision procedure
// will accept before falling through to generation; MaxPoolAffirmations
// caps how many pooled lines a single session surfaces.
const (
	MinPoolAffirmations = 6
	MaxPoolAffirmations = 10
)

// FallbackAffirmationCount is the fixed size of the pre-baked fallback list.
const FallbackAffirmationCount = 6

// LibraryStore is the subset of C3 the matcher consults.
type LibraryStore interface {
	FindTemplatesByGoal(ctx context.Context, goal types.Goal) ([]types.SessionTemplate, error)
	FindAffirmationsByGoal(ctx context.Context, goal types.Goal, limit, offset int) ([]types.AffirmationLine, error)
	FindAffirmationsByIDs(ctx context.Context, ids []string) (map[string]types.AffirmationLine, error)
}

// Generator is C5's contract, consulted only when steps 1 and 2 fail to
// produce a confident match.
type Generator interface {
	Generate(ctx context.Context, goal types.Goal, userIntention string) (lines []string, cost float64, err error)
}

// Decision is the tagged result of the matcher's four-way decision
// procedure. Exactly one of the Kind-specific fields is meaningful.
type Decision struct {
	Kind types.MatchType

	TemplateID    string                  // Exact only
	Affirmations  []types.AffirmationLine // Exact, Pooled
	GeneratedText []string                // Generated, Fallback
	Confidence    float64                 // Exact, Pooled
	Cost          float64                 // Generated
}

// Matcher implements the C4 decision procedure.
type Matcher struct {
	library   LibraryStore
	generator Generator // nil when no LLM is configured
	fallbacks map[types.Goal][]string
}

// New builds a Matcher. generator may be nil to disable the generation
// route entirely (step 3 is skipped and step 4 always applies).
func New(library LibraryStore, generator Generator) *Matcher {
	return &Matcher{library: library, generator: generator, fallbacks: defaultFallbacks()}
}

// Match runs the full decision procedure for one generate-session request.
//
// The first-session bootstrap override (step 3) takes priority over a
// qualifying pool: a brand-new user always gets novel generation when an
// LLM is configured, so the pool has something to grow from. Returning
// users fall back to the pool before paying for generation.
func (m *Matcher) Match(ctx context.Context, goal types.Goal, userIntention string, isFirstSession bool) (Decision, error) {
	if d, ok, err := m.tryExact(ctx, goal, userIntention); err != nil {
		return Decision{}, err
	} else if ok {
		metrics.RecordMatcherDecision(string(goal), string(types.MatchExact))
		return d, nil
	}

	pooled, poolQualifies, err := m.tryPooled(ctx, goal, userIntention)
	if err != nil {
		return Decision{}, err
	}

	wantsGeneration := isFirstSession || !poolQualifies
	if wantsGeneration && m.generator != nil {
		if d, ok := m.tryGenerate(ctx, goal, userIntention); ok {
			metrics.RecordMatcherDecision(string(goal), string(types.MatchGenerated))
			return d, nil
		}
		// Generation was attempted and failed: step 4 fallback applies
		// unconditionally, even if the pool qualified, per §4.4's
		// procedure — a reconsidered pooled result is not on the table
		// once generation has been tried and failed.
		metrics.RecordMatcherDecision(string(goal), string(types.MatchFallback))
		return m.fallback(goal), nil
	}

	if poolQualifies {
		metrics.RecordMatcherDecision(string(goal), string(types.MatchPooled))
		return pooled, nil
	}

	metrics.RecordMatcherDecision(string(goal), string(types.MatchFallback))
	return m.fallback(goal), nil
}

func (m *Matcher) tryExact(ctx context.Context, goal types.Goal, userIntention string) (Decision, bool, error) {
	templates, err := m.library.FindTemplatesByGoal(ctx, goal)
	if err != nil {
		return Decision{}, false, fmt.Errorf("matcher: exact: %w", err)
	}

	best, bestScore, ok := bestTemplate(userIntention, templates)
	if !ok || bestScore < ExactThreshold {
		return Decision{}, false, nil
	}

	byID, err := m.library.FindAffirmationsByIDs(ctx, best.AffirmationIDs)
	if err != nil {
		return Decision{}, false, fmt.Errorf("matcher: exact: resolve template lines: %w", err)
	}
	ordered := make([]types.AffirmationLine, 0, len(best.AffirmationIDs))
	for _, id := range best.AffirmationIDs {
		if line, ok := byID[id]; ok {
			ordered = append(ordered, line)
		}
	}

	return Decision{
		Kind:         types.MatchExact,
		TemplateID:   best.ID,
		Affirmations: ordered,
		Confidence:   bestScore,
	}, true, nil
}

func bestTemplate(userIntention string, templates []types.SessionTemplate) (types.SessionTemplate, float64, bool) {
	var best types.SessionTemplate
	bestScore := -1.0
	found := false

	for _, t := range templates {
		score := similarity(userIntention, t.CanonicalIntent, t.IntentKeywords)
		if !found || scoreBeats(score, t.Rating, t.UseCount, t.ID, bestScore, best.Rating, best.UseCount, best.ID) {
			best, bestScore, found = t, score, true
		}
	}
	return best, bestScore, found
}

func (m *Matcher) tryPooled(ctx context.Context, goal types.Goal, userIntention string) (Decision, bool, error) {
	lines, err := m.library.FindAffirmationsByGoal(ctx, goal, 0, 0)
	if err != nil {
		return Decision{}, false, fmt.Errorf("matcher: pooled: %w", err)
	}

	type scored struct {
		line  types.AffirmationLine
		score float64
	}
	var qualifying []scored
	for _, l := range lines {
		score := similarity(userIntention, l.Text, l.Tags)
		if score >= PoolThreshold {
			qualifying = append(qualifying, scored{l, score})
		}
	}

	if len(qualifying) < MinPoolAffirmations {
		return Decision{}, false, nil
	}

	sort.Slice(qualifying, func(i, j int) bool {
		a, b := qualifying[i], qualifying[j]
		return scoreBeats(a.score, a.line.Rating, a.line.UseCount, a.line.ID, b.score, b.line.Rating, b.line.UseCount, b.line.ID)
	})

	n := len(qualifying)
	if n > MaxPoolAffirmations {
		n = MaxPoolAffirmations
	}

	selected := make([]types.AffirmationLine, n)
	var confidence float64
	for i := 0; i < n; i++ {
		selected[i] = qualifying[i].line
		confidence += qualifying[i].score
	}
	confidence /= float64(n)

	return Decision{
		Kind:         types.MatchPooled,
		Affirmations: selected,
		Confidence:   confidence,
	}, true, nil
}

func (m *Matcher) tryGenerate(ctx context.Context, goal types.Goal, userIntention string) (Decision, bool) {
	lines, cost, err := m.generator.Generate(ctx, goal, userIntention)
	if err != nil {
		return Decision{}, false
	}
	return Decision{
		Kind:          types.MatchGenerated,
		GeneratedText: lines,
		Cost:          cost,
	}, true
}

func (m *Matcher) fallback(goal types.Goal) Decision {
	return Decision{
		Kind:          types.MatchFallback,
		GeneratedText: m.fallbacks[goal],
	}
}

// scoreBeats reports whether candidate (score, rating, useCount, id) wins
// the tie-break against the current best, per §4.4's deterministic
// ordering: higher similarity, then higher rating, then lower use-count
// (diversity), then lexicographically smaller ID.
func scoreBeats(score, rating float64, useCount int, id string, bestScore, bestRating float64, bestUseCount int, bestID string) bool {
	if score != bestScore {
		return score > bestScore
	}
	if rating != bestRating {
		return rating > bestRating
	}
	if useCount != bestUseCount {
		return useCount < bestUseCount
	}
	return id < bestID
}

func defaultFallbacks() map[types.Goal][]string {
	return map[types.Goal][]string{
		types.GoalSleep: {
			"I am letting go of today and welcoming rest.",
			"My body is heavy, calm, and safe.",
			"I release every tense thought into the dark.",
			"I trust that tomorrow will take care of itself.",
			"My breath slows with every passing moment.",
			"I am drifting into peaceful, uninterrupted sleep.",
		},
		types.GoalFocus: {
			"I am fully present with the task in front of me.",
			"My mind is clear and my attention is steady.",
			"I choose one thing and give it my full effort.",
			"I work with calm, deliberate concentration.",
			"My focus returns easily whenever it wanders.",
			"I am capable of deep, sustained work.",
		},
		types.GoalCalm: {
			"I am safe in this moment.",
			"My breath is slow, steady, and deep.",
			"I release tension with every exhale.",
			"I choose calm over worry.",
			"My body knows how to relax.",
			"I am grounded and at ease.",
		},
		types.GoalManifest: {
			"I am worthy of the life I am building.",
			"My actions today shape the future I want.",
			"I attract opportunities aligned with my goals.",
			"I trust my own ability to create change.",
			"My intentions are clear and my effort is steady.",
			"I am becoming the person I want to be.",
		},
	}
}
