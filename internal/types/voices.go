// SPDX-License-Identifier: MIT

package types

// Voice is a closed catalog entry mapping a platform voice ID to the
// underlying TTS provider's voice ID and the tier required to select it.
type Voice struct {
	ID           string
	ProviderID   string
	RequiresTier Tier // TierFree means available to everyone
}

// Voices is the exhaustive voice table. Adding a voice is a single edit
// here; nothing else in the codebase enumerates voices independently.
var Voices = map[string]Voice{
	"neutral":  {ID: "neutral", ProviderID: "provider-neutral-1", RequiresTier: TierFree},
	"warm":     {ID: "warm", ProviderID: "provider-warm-1", RequiresTier: TierFree},
	"premium1": {ID: "premium1", ProviderID: "provider-premium-1", RequiresTier: TierPro},
	"premium2": {ID: "premium2", ProviderID: "provider-premium-2", RequiresTier: TierPro},
}

// DefaultVoiceID is used when no preference is stored.
const DefaultVoiceID = "neutral"

// VoiceAllowedForTier reports whether tier may select voiceID.
func VoiceAllowedForTier(voiceID string, tier Tier) bool {
	v, ok := Voices[voiceID]
	if !ok {
		return false
	}
	if v.RequiresTier == TierFree {
		return true
	}
	return tier == TierPro
}

// AllowedVoicesForTier returns every voice ID selectable by tier, in the
// table's declaration order via a stable explicit list (Go map iteration
// order is unspecified and must never leak into client-facing fallback
// order).
func AllowedVoicesForTier(tier Tier) []string {
	order := []string{"neutral", "warm", "premium1", "premium2"}
	allowed := make([]string, 0, len(order))
	for _, id := range order {
		if VoiceAllowedForTier(id, tier) {
			allowed = append(allowed, id)
		}
	}
	return allowed
}

// PaceParams holds the duration multiplier and TTS provider speed knob for
// a Pace value.
type PaceParams struct {
	DurationMultiplier float64
	TTSSpeed           float64
}

// Paces is the exhaustive pace table (§4.6).
var Paces = map[Pace]PaceParams{
	PaceSlow:   {DurationMultiplier: 1.3, TTSSpeed: 0.85},
	PaceNormal: {DurationMultiplier: 1.0, TTSSpeed: 1.0},
}

// PaceParamsFor returns the params for pace, defaulting to PaceNormal's if
// pace is unrecognized.
func PaceParamsFor(pace Pace) PaceParams {
	if p, ok := Paces[pace]; ok {
		return p
	}
	return Paces[PaceNormal]
}

// BinauralBand is a named brainwave range with its accompanying Hz window,
// and the goal it defaults to.
type BinauralBand struct {
	Category string
	MinHz    float64
	MaxHz    float64
}

// BinauralBands is the exhaustive band table.
var BinauralBands = map[string]BinauralBand{
	"delta": {Category: "delta", MinHz: 0.5, MaxHz: 4},
	"theta": {Category: "theta", MinHz: 4, MaxHz: 8},
	"alpha": {Category: "alpha", MinHz: 8, MaxHz: 14},
	"beta":  {Category: "beta", MinHz: 14, MaxHz: 30},
	"gamma": {Category: "gamma", MinHz: 30, MaxHz: 100},
}

// DefaultBinauralCategoryForGoal maps a goal to its default brainwave band.
var DefaultBinauralCategoryForGoal = map[Goal]string{
	GoalSleep:    "delta",
	GoalFocus:    "beta",
	GoalCalm:     "alpha",
	GoalManifest: "theta",
}

// AffirmationSpacingOptions is the closed set of allowed silence-between
// values in seconds (§4.7).
var AffirmationSpacingOptions = []int{3, 5, 8, 10, 15, 20, 30}

// DefaultAffirmationSpacingSec is used when the caller has no preference.
const DefaultAffirmationSpacingSec = 8

// IsValidSpacing reports whether secs is one of the allowed spacing values.
func IsValidSpacing(secs int) bool {
	for _, v := range AffirmationSpacingOptions {
		if v == secs {
			return true
		}
	}
	return false
}
