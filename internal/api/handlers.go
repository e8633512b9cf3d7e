// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/genlog"
	"github.com/affirm/sessioncore/internal/pipeline"
	"github.com/affirm/sessioncore/internal/problem"
	"github.com/affirm/sessioncore/internal/session"
	"github.com/affirm/sessioncore/internal/subscription"
	"github.com/affirm/sessioncore/internal/types"
)

// Handler serves every route in §6's HTTP surface table.
type Handler struct {
	orchestrator *pipeline.Orchestrator
	sessions     *session.Store
	preferences  *session.PreferencesStore
	defaults     *session.DefaultCatalog
	quota        *subscription.Gate
	logs         *genlog.Store
}

// New builds a Handler from its already-constructed collaborators.
func New(orchestrator *pipeline.Orchestrator, sessions *session.Store, preferences *session.PreferencesStore,
	defaults *session.DefaultCatalog, quota *subscription.Gate, logs *genlog.Store) *Handler {
	return &Handler{orchestrator: orchestrator, sessions: sessions, preferences: preferences, defaults: defaults, quota: quota, logs: logs}
}

// Mount registers every route under r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/generate", h.generateSession)
		r.Post("/create", h.createCustomSession)
		r.Get("/", h.listSessions)
		r.Get("/{id}/playlist", h.getPlaylist)
		r.Patch("/{id}/favorite", h.toggleFavorite)
		r.Patch("/{id}", h.updateSession)
		r.Delete("/{id}", h.deleteSession)
		r.Post("/{id}/feedback", h.submitFeedback)
	})
	r.Route("/api/preferences", func(r chi.Router) {
		r.Get("/", h.getPreferences)
		r.Patch("/", h.updatePreferences)
	})
	r.Route("/api/subscription", func(r chi.Router) {
		r.Get("/", h.getSubscription)
		r.Post("/verify-purchase", h.verifyPurchase)
	})
}

type generateSessionRequest struct {
	Goal             types.Goal `json:"goal"`
	CustomPrompt     string     `json:"customPrompt"`
	Voice            string     `json:"voiceId"`
	Pace             types.Pace `json:"pace"`
	Noise            string     `json:"noise"`
	BinauralCategory string     `json:"binauralCategory"`
	BinauralHz       float64    `json:"binauralHz"`
	SilenceBetweenMs int        `json:"silenceBetweenMs"`
	IsFirstSession   bool       `json:"isFirstSession"`
}

func (h *Handler) generateSession(w http.ResponseWriter, r *http.Request) {
	var req generateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, err)
		return
	}
	if !req.Goal.IsValid() {
		problem.Write(w, r, apierr.Validation("invalid goal", map[string]any{"goal": req.Goal}))
		return
	}

	resp, err := h.orchestrator.GenerateFromGoal(r.Context(), pipeline.GenerateFromGoalRequest{
		UserID: userIDFromRequest(r), ClientKey: clientKeyFromRequest(r), Goal: req.Goal, CustomPrompt: req.CustomPrompt,
		Voice: req.Voice, Pace: req.Pace, Noise: req.Noise, BinauralCategory: req.BinauralCategory,
		BinauralHz: req.BinauralHz, SilenceBetweenMs: req.SilenceBetweenMs, IsFirstSession: req.IsFirstSession,
	})
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createCustomSessionRequest struct {
	Title            string     `json:"title"`
	BinauralCategory string     `json:"binauralCategory"`
	BinauralHz       float64    `json:"binauralHz"`
	Affirmations     []string   `json:"affirmations"`
	Voice            string     `json:"voiceId"`
	Pace             types.Pace `json:"pace"`
	Noise            string     `json:"noise"`
	SilenceBetweenMs int        `json:"silenceBetweenMs"`
}

func (h *Handler) createCustomSession(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		problem.Write(w, r, apierr.Unauthorized("custom session creation requires a signed-in user"))
		return
	}

	var req createCustomSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, err)
		return
	}
	if req.Title == "" || len(req.Affirmations) == 0 {
		problem.Write(w, r, apierr.Validation("title and affirmations are required", nil))
		return
	}

	resp, err := h.orchestrator.CreateCustom(r.Context(), pipeline.CreateCustomRequest{
		UserID: userID, Title: req.Title, AffirmationIDs: req.Affirmations, Voice: req.Voice, Pace: req.Pace,
		Noise: req.Noise, BinauralCategory: req.BinauralCategory, BinauralHz: req.BinauralHz, SilenceBetweenMs: req.SilenceBetweenMs,
	})
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	var owned []types.AffirmationSession
	if userID != "" {
		var err error
		owned, err = h.sessions.ListByOwner(r.Context(), userID)
		if err != nil {
			problem.Write(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": append(owned, h.defaults.All()...),
	})
}

func (h *Handler) getPlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pl, err := h.orchestrator.GetPlaylist(r.Context(), id, userIDFromRequest(r), userTierFromRequest(r))
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

type toggleFavoriteRequest struct {
	IsFavorite bool `json:"isFavorite"`
}

func (h *Handler) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req toggleFavoriteRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, err)
		return
	}

	assembler := session.New(h.sessions, h.preferences, nil, nil, nil, h.defaults)
	if err := assembler.ToggleFavorite(r.Context(), id, userIDFromRequest(r), req.IsFavorite); err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type updateSessionRequest struct {
	Title            string   `json:"title"`
	Affirmations     []string `json:"affirmations"`
	BinauralCategory string   `json:"binauralCategory"`
	BinauralHz       float64  `json:"binauralHz"`
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, err)
		return
	}

	assembler := session.New(h.sessions, h.preferences, nil, nil, nil, h.defaults)
	err := assembler.Update(r.Context(), id, userIDFromRequest(r), session.UpdateParams{
		Title: req.Title, AffirmationIDs: req.Affirmations, BinauralCategory: req.BinauralCategory, BinauralHz: req.BinauralHz,
	})
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	assembler := session.New(h.sessions, h.preferences, nil, nil, nil, h.defaults)
	if err := assembler.Delete(r.Context(), id, userIDFromRequest(r)); err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type feedbackRequest struct {
	Rating      int   `json:"rating"`
	WasReplayed *bool `json:"wasReplayed"`
}

func (h *Handler) submitFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, err)
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		problem.Write(w, r, apierr.Validation("rating must be between 1 and 5", map[string]any{"rating": req.Rating}))
		return
	}

	if err := h.orchestrator.Rate(r.Context(), userIDFromRequest(r), id, req.Rating, req.WasReplayed); err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) getPreferences(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		problem.Write(w, r, apierr.Unauthorized("preferences require a signed-in user"))
		return
	}
	prefs, err := h.preferences.Get(r.Context(), userID)
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

type updatePreferencesRequest struct {
	VoiceID               string     `json:"voiceId"`
	Pace                  types.Pace `json:"pace"`
	BackgroundNoise       string     `json:"backgroundNoise"`
	AffirmationSpacingSec int        `json:"affirmationSpacingSec"`
}

func (h *Handler) updatePreferences(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		problem.Write(w, r, apierr.Unauthorized("preferences require a signed-in user"))
		return
	}
	var req updatePreferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, err)
		return
	}

	prefs := session.Preferences{
		UserID: userID, VoiceID: req.VoiceID, Pace: req.Pace,
		BackgroundNoise: req.BackgroundNoise, AffirmationSpacingSec: req.AffirmationSpacingSec,
	}
	if err := h.preferences.Upsert(r.Context(), prefs); err != nil {
		problem.Write(w, r, apierr.Validation(err.Error(), nil))
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		problem.Write(w, r, apierr.Unauthorized("subscription lookup requires a signed-in user"))
		return
	}
	sub, err := h.quota.Get(r.Context(), userID)
	if err != nil {
		problem.Write(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type verifyPurchaseRequest struct {
	ProductID string `json:"productId"`
	Platform  string `json:"platform"`
}

func (h *Handler) verifyPurchase(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromRequest(r)
	if userID == "" {
		problem.Write(w, r, apierr.Unauthorized("purchase verification requires a signed-in user"))
		return
	}
	var req verifyPurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		problem.Write(w, r, err)
		return
	}

	sub, err := h.quota.VerifyPurchase(r.Context(), userID, req.ProductID, req.Platform)
	if err != nil {
		problem.Write(w, r, apierr.Validation(err.Error(), map[string]any{"productId": req.ProductID}))
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Validation("malformed JSON body", map[string]any{"cause": err.Error()})
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
