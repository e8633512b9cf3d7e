// SPDX-License-Identifier: MIT

// Package api is the §6 HTTP surface: chi handlers translating JSON
// requests into Pipeline Orchestrator calls and apierr failures into the
// platform's problem-detail envelope. Session-cookie authentication
// itself is an explicit external collaborator (out of scope); this
// package only reads the identity an upstream auth layer has already
// established.
package api

import (
	"net/http"

	"github.com/affirm/sessioncore/internal/types"
)

// HeaderUserID and HeaderUserTier are set by the upstream authentication
// collaborator once a session cookie has been validated. Their absence
// means an anonymous (guest) caller, not an error — most endpoints accept
// guests; the handful that don't reject with Unauthorized explicitly.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserTier = "X-User-Tier"
)

func userIDFromRequest(r *http.Request) string {
	return r.Header.Get(HeaderUserID)
}

func userTierFromRequest(r *http.Request) types.Tier {
	if types.Tier(r.Header.Get(HeaderUserTier)) == types.TierPro {
		return types.TierPro
	}
	return types.TierFree
}

func clientKeyFromRequest(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
