// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/matcher"
	"github.com/affirm/sessioncore/internal/types"
)

// MatcherService is the subset of C4 the assembler consults.
type MatcherService interface {
	Match(ctx context.Context, goal types.Goal, userIntention string, isFirstSession bool) (matcher.Decision, error)
}

// TTSService is the subset of C6 the assembler consults. Materialize
// returning an error is not fatal: the assembler still creates the
// session, surfacing the affected segment with a null audio URL.
type TTSService interface {
	Materialize(ctx context.Context, affirmationID, text, voiceID string, pace types.Pace) (*types.AffirmationAudio, error)
}

// LibraryService is the subset of C3 the assembler consults: resolving
// generated text into persisted lines and batch-loading playback audio.
type LibraryService interface {
	CreateAffirmation(ctx context.Context, text string, goal types.Goal, tags []string, emotion string) (*types.AffirmationLine, error)
	GetAudioBatch(ctx context.Context, affirmationIDs []string, pace types.Pace) (map[string][]types.AffirmationAudio, error)
}

// Assembler implements the C7 contract.
type Assembler struct {
	store       *Store
	preferences *PreferencesStore
	library     LibraryService
	matcher     MatcherService
	tts         TTSService
	defaults    *DefaultCatalog
}

// New builds an Assembler. tts may be nil, in which case guest and
// authenticated sessions alike are created without audio
// pre-materialization (every segment's audioUrl is absent until a
// background or on-demand materialization path fills it in).
func New(store *Store, preferences *PreferencesStore, library LibraryService, m MatcherService, tts TTSService, defaults *DefaultCatalog) *Assembler {
	return &Assembler{store: store, preferences: preferences, library: library, matcher: m, tts: tts, defaults: defaults}
}

// CreateFromGoalParams bundles createFromGoal's inputs.
type CreateFromGoalParams struct {
	UserID           string // empty for guest sessions
	Goal             types.Goal
	CustomPrompt     string
	Voice            string
	Pace             types.Pace
	Noise            string
	BinauralCategory string
	BinauralHz       float64
	SilenceBetweenMs int
	IsFirstSession   bool
}

// CreateFromGoal runs the matcher and assembles a goal-driven session.
// Guest sessions (UserID == "") are never persisted and never
// pre-materialize audio; the response is still fully formed for immediate
// playback.
func (a *Assembler) CreateFromGoal(ctx context.Context, p CreateFromGoalParams) (*types.SessionResponse, *matcher.Decision, error) {
	decision, err := a.matcher.Match(ctx, p.Goal, p.CustomPrompt, p.IsFirstSession)
	if err != nil {
		return nil, nil, fmt.Errorf("session: create from goal: match: %w", err)
	}

	lines, err := a.resolveDecisionLines(ctx, p.Goal, decision)
	if err != nil {
		return nil, nil, fmt.Errorf("session: create from goal: resolve lines: %w", err)
	}

	if p.UserID != "" && a.preferences != nil {
		if prefs, err := a.preferences.Get(ctx, p.UserID); err == nil {
			if p.Voice == "" {
				p.Voice = prefs.VoiceID
			}
			if p.Pace == "" {
				p.Pace = prefs.Pace
			}
			if p.SilenceBetweenMs <= 0 {
				p.SilenceBetweenMs = prefs.AffirmationSpacingSec * 1000
			}
		}
	}
	voice := resolveVoice(p.Voice)
	pace := resolvePace(p.Pace)
	silenceMs := resolveSilence(p.SilenceBetweenMs)

	views := a.buildViews(ctx, p.UserID != "", lines, voice, pace, silenceMs)

	lengthSec := int(math.Round(180 * types.PaceParamsFor(pace).DurationMultiplier))
	title := titleForGoal(p.Goal, time.Now())

	resp := &types.SessionResponse{
		Title: title, Affirmations: views, Goal: p.Goal, VoiceID: voice, Pace: pace,
		Noise: p.Noise, LengthSec: lengthSec, BinauralCategory: p.BinauralCategory, BinauralHz: p.BinauralHz,
	}

	if p.UserID == "" {
		resp.SessionID = ""
		return resp, &decision, nil
	}

	junctions := make([]junctionInput, len(lines))
	for i, l := range lines {
		junctions[i] = junctionInput{AffirmationID: l.ID, SilenceAfterMs: silenceMs}
	}

	sess := types.AffirmationSession{
		OwnerUserID: p.UserID, Goal: p.Goal, Title: title, VoiceID: voice, Pace: pace,
		BackgroundNoise: p.Noise, BinauralCategory: p.BinauralCategory, BinauralHz: p.BinauralHz,
		TotalLengthSec: lengthSec, SilenceBetweenMs: silenceMs,
	}
	created, err := a.store.Create(ctx, sess, junctions)
	if err != nil {
		return nil, nil, fmt.Errorf("session: create from goal: persist: %w", err)
	}
	resp.SessionID = created.ID
	return resp, &decision, nil
}

// resolveDecisionLines turns a matcher Decision into a concrete,
// persisted-ID list of AffirmationLine, creating rows in the Library
// Store for Generated and Fallback text that has no ID yet.
func (a *Assembler) resolveDecisionLines(ctx context.Context, goal types.Goal, d matcher.Decision) ([]types.AffirmationLine, error) {
	switch d.Kind {
	case types.MatchExact, types.MatchPooled:
		return d.Affirmations, nil
	case types.MatchGenerated, types.MatchFallback:
		lines := make([]types.AffirmationLine, 0, len(d.GeneratedText))
		for _, text := range d.GeneratedText {
			l, err := a.library.CreateAffirmation(ctx, text, goal, nil, "")
			if err != nil {
				return nil, err
			}
			lines = append(lines, *l)
		}
		return lines, nil
	default:
		return nil, fmt.Errorf("unknown match kind %q", d.Kind)
	}
}

// CreateCustomParams bundles createCustom's inputs. Quota enforcement
// (§4.8) happens in the Pipeline Orchestrator before this is called.
type CreateCustomParams struct {
	UserID           string
	Title            string
	AffirmationIDs   []string
	Voice            string
	Pace             types.Pace
	Noise            string
	BinauralCategory string
	BinauralHz       float64
	SilenceBetweenMs int
}

// CreateCustom assembles a user-authored session from an explicit
// affirmation list.
func (a *Assembler) CreateCustom(ctx context.Context, p CreateCustomParams) (*types.SessionResponse, error) {
	voice := resolveVoice(p.Voice)
	pace := resolvePace(p.Pace)
	silenceMs := resolveSilence(p.SilenceBetweenMs)

	batch, err := a.library.GetAudioBatch(ctx, p.AffirmationIDs, pace)
	if err != nil {
		return nil, fmt.Errorf("session: create custom: batch audio: %w", err)
	}

	views := make([]types.SessionAffirmationView, len(p.AffirmationIDs))
	junctions := make([]junctionInput, len(p.AffirmationIDs))
	for i, id := range p.AffirmationIDs {
		views[i] = viewFromBatch(id, "", batch[id], voice, silenceMs)
		junctions[i] = junctionInput{AffirmationID: id, SilenceAfterMs: silenceMs}
	}

	lengthSec := int(math.Round(30 * float64(len(p.AffirmationIDs)) * types.PaceParamsFor(pace).DurationMultiplier))

	sess := types.AffirmationSession{
		OwnerUserID: p.UserID, Title: p.Title, VoiceID: voice, Pace: pace, BackgroundNoise: p.Noise,
		BinauralCategory: p.BinauralCategory, BinauralHz: p.BinauralHz,
		TotalLengthSec: lengthSec, SilenceBetweenMs: silenceMs,
	}
	created, err := a.store.Create(ctx, sess, junctions)
	if err != nil {
		return nil, fmt.Errorf("session: create custom: persist: %w", err)
	}

	return &types.SessionResponse{
		SessionID: created.ID, Title: p.Title, Affirmations: views, VoiceID: voice, Pace: pace,
		Noise: p.Noise, LengthSec: lengthSec, BinauralCategory: p.BinauralCategory, BinauralHz: p.BinauralHz,
	}, nil
}

// GetPlaylist assembles the playable view of a persisted or default
// session, applying the voice-fallback rule for the requesting user's tier.
func (a *Assembler) GetPlaylist(ctx context.Context, sessionID, requestingUserID string, requestingTier types.Tier) (*types.Playlist, error) {
	if types.IsDefaultSessionID(sessionID) {
		if _, ok := a.defaults.Get(sessionID); !ok {
			return nil, apierr.New(apierr.KindNotFound, "unknown default session")
		}
		return &types.Playlist{SessionID: sessionID}, nil
	}

	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: get playlist: %w", err)
	}
	if sess == nil {
		return nil, apierr.New(apierr.KindNotFound, "session not found")
	}
	if sess.OwnerUserID != "" && sess.OwnerUserID != requestingUserID {
		return nil, apierr.New(apierr.KindForbidden, "not the session owner")
	}

	junctions, err := a.store.Junctions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: get playlist: junctions: %w", err)
	}

	ids := make([]string, len(junctions))
	for i, j := range junctions {
		ids[i] = j.AffirmationID
	}
	batch, err := a.library.GetAudioBatch(ctx, ids, sess.Pace)
	if err != nil {
		return nil, fmt.Errorf("session: get playlist: batch audio: %w", err)
	}

	preferredVoice := sess.VoiceID
	if requestingUserID != "" && requestingUserID == sess.OwnerUserID {
		prefs, err := a.preferences.Get(ctx, requestingUserID)
		if err == nil {
			preferredVoice = prefs.VoiceID
		}
	}

	var total int
	views := make([]types.SessionAffirmationView, len(junctions))
	for i, j := range junctions {
		voice := selectFallbackVoice(preferredVoice, requestingTier, batch[j.AffirmationID])
		view := viewFromBatch(j.AffirmationID, "", batch[j.AffirmationID], voice, j.SilenceAfterMs)
		views[i] = view
		total += view.DurationMs + view.SilenceAfterMs
	}

	return &types.Playlist{
		SessionID: sessionID, TotalDurationMs: total, SilenceBetweenMs: sess.SilenceBetweenMs,
		Affirmations: views, BinauralCategory: sess.BinauralCategory, BinauralHz: sess.BinauralHz,
		BackgroundNoise: sess.BackgroundNoise,
	}, nil
}

// ToggleFavorite sets a session's favorite flag. Owner-only; default
// sessions always reject.
func (a *Assembler) ToggleFavorite(ctx context.Context, sessionID, requestingUserID string, favorite bool) error {
	if types.IsDefaultSessionID(sessionID) {
		return apierr.New(apierr.KindForbidden, "default sessions are read-only")
	}
	if err := a.requireOwner(ctx, sessionID, requestingUserID); err != nil {
		return err
	}
	return a.store.SetFavorite(ctx, sessionID, favorite)
}

// Delete removes a session. Owner-only; default sessions always reject.
func (a *Assembler) Delete(ctx context.Context, sessionID, requestingUserID string) error {
	if types.IsDefaultSessionID(sessionID) {
		return apierr.New(apierr.KindForbidden, "default sessions are read-only")
	}
	if err := a.requireOwner(ctx, sessionID, requestingUserID); err != nil {
		return err
	}
	return a.store.Delete(ctx, sessionID)
}

// UpdateParams bundles the editable fields of updateSession.
type UpdateParams struct {
	Title            string
	AffirmationIDs   []string // nil leaves the affirmation list untouched
	BinauralCategory string
	BinauralHz       float64
}

// Update edits a session's title, affirmations, and binaural settings.
// Owner-only; default sessions always reject.
func (a *Assembler) Update(ctx context.Context, sessionID, requestingUserID string, p UpdateParams) error {
	if types.IsDefaultSessionID(sessionID) {
		return apierr.New(apierr.KindForbidden, "default sessions are read-only")
	}
	if err := a.requireOwner(ctx, sessionID, requestingUserID); err != nil {
		return err
	}

	var junctions []junctionInput
	if p.AffirmationIDs != nil {
		junctions = make([]junctionInput, len(p.AffirmationIDs))
		for i, id := range p.AffirmationIDs {
			junctions[i] = junctionInput{AffirmationID: id, SilenceAfterMs: types.DefaultAffirmationSpacingSec * 1000}
		}
	}
	return a.store.UpdateFields(ctx, sessionID, p.Title, p.BinauralCategory, p.BinauralHz, junctions)
}

func (a *Assembler) requireOwner(ctx context.Context, sessionID, requestingUserID string) error {
	sess, err := a.store.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session: require owner: %w", err)
	}
	if sess == nil {
		return apierr.New(apierr.KindNotFound, "session not found")
	}
	if sess.OwnerUserID != requestingUserID {
		return apierr.New(apierr.KindForbidden, "not the session owner")
	}
	return nil
}

// buildViews materializes audio for authenticated users only; guest
// sessions omit pre-materialization entirely, per §4.7.
func (a *Assembler) buildViews(ctx context.Context, authenticated bool, lines []types.AffirmationLine, voice string, pace types.Pace, silenceMs int) []types.SessionAffirmationView {
	views := make([]types.SessionAffirmationView, len(lines))
	for i, l := range lines {
		view := types.SessionAffirmationView{ID: l.ID, Text: l.Text, SilenceAfterMs: silenceMs}

		if authenticated && a.tts != nil {
			if audio, err := a.tts.Materialize(ctx, l.ID, l.Text, voice, pace); err == nil {
				view.AudioURL = audio.URL
				view.DurationMs = audio.DurationMs
				view.VoiceID = voice
			}
			// Materialize failures leave AudioURL empty; the orchestrator
			// still creates the session per §4.6's failure contract.
		}
		views[i] = view
	}
	return views
}

func viewFromBatch(affirmationID, text string, candidates []types.AffirmationAudio, preferredVoice string, silenceAfterMs int) types.SessionAffirmationView {
	view := types.SessionAffirmationView{ID: affirmationID, Text: text, SilenceAfterMs: silenceAfterMs}
	for _, c := range candidates {
		if c.VoiceID == preferredVoice {
			view.AudioURL, view.DurationMs, view.VoiceID = c.URL, c.DurationMs, c.VoiceID
			return view
		}
	}
	if len(candidates) > 0 {
		first := candidates[0]
		view.AudioURL, view.DurationMs, view.VoiceID = first.URL, first.DurationMs, first.VoiceID
	}
	return view
}

// selectFallbackVoice implements §4.7's ordered voice fallback: preferred
// → first allowed voice with an artifact for this affirmation → any
// artifact present.
func selectFallbackVoice(preferred string, tier types.Tier, candidates []types.AffirmationAudio) string {
	if types.VoiceAllowedForTier(preferred, tier) && hasArtifact(preferred, candidates) {
		return preferred
	}
	for _, voiceID := range types.AllowedVoicesForTier(tier) {
		for _, c := range candidates {
			if c.VoiceID == voiceID {
				return voiceID
			}
		}
	}
	if len(candidates) > 0 {
		return candidates[0].VoiceID
	}
	return preferred
}

func hasArtifact(voiceID string, candidates []types.AffirmationAudio) bool {
	for _, c := range candidates {
		if c.VoiceID == voiceID {
			return true
		}
	}
	return false
}

func resolveVoice(voice string) string {
	if voice == "" {
		return types.DefaultVoiceID
	}
	return voice
}

func resolvePace(pace types.Pace) types.Pace {
	if _, ok := types.Paces[pace]; ok {
		return pace
	}
	return types.PaceNormal
}

func resolveSilence(ms int) int {
	if ms <= 0 {
		return types.DefaultAffirmationSpacingSec * 1000
	}
	return ms
}

// titleForGoal builds a goal-generated session's title: "{Capitalized
// Goal} Session — {short date}".
func titleForGoal(goal types.Goal, t time.Time) string {
	return strings.ToUpper(string(goal[:1])) + string(goal[1:]) + " Session — " + t.Format("Jan 2, 2006")
}
