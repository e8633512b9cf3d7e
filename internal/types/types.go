// SPDX-License-Identifier: MIT

// Package types holds the domain entities shared across every component:
// affirmation content, sessions built from it, subscription state, and the
// generation log that records how each session's content was produced.
package types

import "time"

// Goal is a closed enumeration of the intents a session can serve.
type Goal string

const (
	GoalSleep    Goal = "sleep"
	GoalFocus    Goal = "focus"
	GoalCalm     Goal = "calm"
	GoalManifest Goal = "manifest"
)

// ValidGoals lists every recognized Goal, in a stable order used for
// iteration (fallback catalog lookups, default-session seeding).
var ValidGoals = []Goal{GoalSleep, GoalFocus, GoalCalm, GoalManifest}

// IsValid reports whether g is one of the closed enumeration values.
func (g Goal) IsValid() bool {
	for _, v := range ValidGoals {
		if g == v {
			return true
		}
	}
	return false
}

// Pace controls playback speed and, via PaceParams, the TTS provider's
// stability/speed knobs.
type Pace string

const (
	PaceSlow   Pace = "slow"
	PaceNormal Pace = "normal"
)

// Tier gates voice access and custom-session quota.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// SubscriptionStatus tracks the lifecycle of a UserSubscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// BillingPeriod is null for free-tier users.
type BillingPeriod string

const (
	BillingMonthly BillingPeriod = "monthly"
	BillingYearly  BillingPeriod = "yearly"
)

// MatchType records which branch of the matcher's decision procedure
// produced a set of affirmations.
type MatchType string

const (
	MatchExact     MatchType = "exact"
	MatchPooled    MatchType = "pooled"
	MatchGenerated MatchType = "generated"
	MatchFallback  MatchType = "fallback"
)

// AffirmationLine is a single spoken line, owned by the Library Store.
type AffirmationLine struct {
	ID       string
	Text     string
	Goal     Goal
	Emotion  string // optional
	Tags     []string
	Rating   float64 // rolling average, 0 if never rated
	UseCount int
}

// SessionTemplate is a curated, admin-seeded set of lines for a goal.
type SessionTemplate struct {
	ID               string
	Title            string
	Goal             Goal
	CanonicalIntent  string
	IntentKeywords   []string
	AffirmationIDs   []string // 1..32, ordered
	BinauralCategory string   // optional
	BinauralHz       float64  // optional
	TargetLengthSec  int
	IsDefault        bool
	Rating           float64
	UseCount         int
}

// AffirmationAudio is a synthesized artifact keyed by the composite
// fingerprint (AffirmationID, VoiceID, PaceID).
type AffirmationAudio struct {
	ID            string
	AffirmationID string
	VoiceID       string
	PaceID        Pace
	URL           string
	DurationMs    int
	Bytes         int
	ContentType   string
}

// Fingerprint returns the composite key identifying this artifact.
func (a AffirmationAudio) Fingerprint() string {
	return Fingerprint(a.AffirmationID, a.VoiceID, a.PaceID)
}

// Fingerprint builds the composite key used to dedupe synthesis across C1
// (cache), C3 (storage) and C6 (materializer).
func Fingerprint(affirmationID, voiceID string, pace Pace) string {
	return affirmationID + "|" + voiceID + "|" + string(pace)
}

// AffirmationSession is a persisted, playable session owned by the Session
// Assembler. OwnerUserID is empty for guest sessions.
type AffirmationSession struct {
	ID               string
	OwnerUserID      string
	Goal             Goal
	Title            string
	VoiceID          string
	Pace             Pace
	BackgroundNoise  string
	BinauralCategory string
	BinauralHz       float64
	TotalLengthSec   int
	SilenceBetweenMs int
	IsFavorite       bool
	CreatedAt        time.Time
}

// IsDefault reports whether this is a static, in-memory default session.
func (s AffirmationSession) IsDefault() bool {
	return IsDefaultSessionID(s.ID)
}

// IsDefaultSessionID reports whether id names a static default session.
func IsDefaultSessionID(id string) bool {
	return len(id) >= len("default-") && id[:len("default-")] == "default-"
}

// SessionAffirmation is the ordered junction row linking a session to one
// of its affirmation lines.
type SessionAffirmation struct {
	SessionID      string
	AffirmationID  string
	Position       int // 1..N, dense, unique per session
	SilenceAfterMs int
}

// UserSubscription is owned by the Subscription Gate.
type UserSubscription struct {
	UserID                      string
	Tier                        Tier
	Status                      SubscriptionStatus
	BillingPeriod               BillingPeriod // empty for free tier
	CurrentPeriodStart          time.Time
	CurrentPeriodEnd            time.Time
	CancelAtPeriodEnd           bool
	CustomSessionsUsedThisMonth int
	LastResetDate               time.Time
	LastVerifiedProductID       string
}

// FreeTierMonthlyLimit is the number of custom-session creations a free
// user may make per calendar month.
const FreeTierMonthlyLimit = 3

// GenerationLog is an immutable record of one Matcher decision.
type GenerationLog struct {
	ID                string
	UserID            string // optional
	UserIntent        string
	Goal              Goal
	MatchType         MatchType
	Confidence        float64
	AffirmationsUsed  []string // IDs or raw text for generated/fallback lines
	TemplateID        string   // optional, exact matches only
	APICost           float64
	TTSCost           float64
	SessionID         string // populated post-hoc
	CreatedAt         time.Time
	WasRated          bool
	UserRating        int // 1..5
	WasReplayed       bool
}

// SessionAffirmationView is one playable segment in a Playlist.
type SessionAffirmationView struct {
	ID             string
	Text           string
	AudioURL       string // empty means "no artifact available"
	DurationMs     int
	SilenceAfterMs int
	VoiceID        string // empty alongside AudioURL == ""
}

// Playlist is the client-facing §6 response for GET .../playlist.
type Playlist struct {
	SessionID        string
	TotalDurationMs  int
	SilenceBetweenMs int
	Affirmations     []SessionAffirmationView
	BinauralCategory string
	BinauralHz       float64
	BackgroundNoise  string
}

// SessionResponse is the client-facing §6 response for session creation.
type SessionResponse struct {
	SessionID        string
	Title            string
	Affirmations     []SessionAffirmationView
	Goal             Goal
	VoiceID          string
	Pace             Pace
	Noise            string
	LengthSec        int
	BinauralCategory string
	BinauralHz       float64
}
