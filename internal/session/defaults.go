// SPDX-License-Identifier: MIT

package session

import "github.com/affirm/sessioncore/internal/types"

// defaultSessionIDPrefix is the ID prefix marking a static, in-memory
// default session; types.IsDefaultSessionID is the authoritative check.
const defaultSessionIDPrefix = "default-"

// DefaultCatalog is the immutable, in-process set of pre-baked sessions
// served read-only for every goal. It is built once at process start via
// NewDefaultCatalog, never mutated, and safe to share across workers.
type DefaultCatalog struct {
	byID map[string]types.AffirmationSession
}

// NewDefaultCatalog builds the catalog explicitly (not via init()) so
// construction is visible at the call site in cmd/sessiond and testable
// in isolation.
func NewDefaultCatalog() *DefaultCatalog {
	sessions := []types.AffirmationSession{
		{
			ID: defaultSessionIDPrefix + "sleep", Goal: types.GoalSleep, Title: "Wind Down for Sleep",
			VoiceID: types.DefaultVoiceID, Pace: types.PaceSlow,
			BinauralCategory: types.DefaultBinauralCategoryForGoal[types.GoalSleep],
			TotalLengthSec:   int(180 * types.PaceParamsFor(types.PaceSlow).DurationMultiplier),
			SilenceBetweenMs: types.DefaultAffirmationSpacingSec * 1000,
		},
		{
			ID: defaultSessionIDPrefix + "focus", Goal: types.GoalFocus, Title: "Sharpen Your Focus",
			VoiceID: types.DefaultVoiceID, Pace: types.PaceNormal,
			BinauralCategory: types.DefaultBinauralCategoryForGoal[types.GoalFocus],
			TotalLengthSec:   180,
			SilenceBetweenMs: types.DefaultAffirmationSpacingSec * 1000,
		},
		{
			ID: defaultSessionIDPrefix + "calm", Goal: types.GoalCalm, Title: "Find Your Calm",
			VoiceID: types.DefaultVoiceID, Pace: types.PaceNormal,
			BinauralCategory: types.DefaultBinauralCategoryForGoal[types.GoalCalm],
			TotalLengthSec:   180,
			SilenceBetweenMs: types.DefaultAffirmationSpacingSec * 1000,
		},
		{
			ID: defaultSessionIDPrefix + "manifest", Goal: types.GoalManifest, Title: "Manifest Your Goals",
			VoiceID: types.DefaultVoiceID, Pace: types.PaceNormal,
			BinauralCategory: types.DefaultBinauralCategoryForGoal[types.GoalManifest],
			TotalLengthSec:   180,
			SilenceBetweenMs: types.DefaultAffirmationSpacingSec * 1000,
		},
	}

	byID := make(map[string]types.AffirmationSession, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
	}
	return &DefaultCatalog{byID: byID}
}

// Get returns a default session by ID, or the zero value and false if id
// is not a default catalog entry.
func (c *DefaultCatalog) Get(id string) (types.AffirmationSession, bool) {
	s, ok := c.byID[id]
	return s, ok
}

// All returns every default session, for inclusion in list responses.
func (c *DefaultCatalog) All() []types.AffirmationSession {
	out := make([]types.AffirmationSession, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	return out
}
