// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/affirm/sessioncore/internal/api/middleware"
)

// NewRouter builds the full chi router for the §6 HTTP surface: the
// canonical ingress middleware stack plus every route Handler serves.
func NewRouter(stackCfg middleware.StackConfig, h *Handler) *chi.Mux {
	r := middleware.NewRouter(stackCfg)
	r.Get("/healthz", healthz)
	h.Mount(r)
	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
