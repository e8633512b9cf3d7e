// SPDX-License-Identifier: MIT

// Package problem writes the platform's JSON error envelope:
// {error, code, message, details?}. It is the single place that turns an
// *apierr.Error (or an unclassified error) into an HTTP response.
package problem

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/affirm/sessioncore/internal/log"
)

// HeaderRequestID is the response header carrying the request's correlation ID.
const HeaderRequestID = "X-Request-ID"

// envelope is the wire shape required by §6: {error, code, message, details?}.
type envelope struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Write maps err to the §7 HTTP status and §6 JSON envelope. Unclassified
// errors are sanitized to KindInternal so no raw upstream error body or
// internal detail ever reaches the client.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierr.Internal("an unexpected error occurred", err)
	}

	reqID := ""
	if r != nil {
		reqID = log.RequestIDFromContext(r.Context())
	}
	if reqID == "" {
		reqID = w.Header().Get(HeaderRequestID)
	}

	res := envelope{
		Error:   string(apiErr.Kind),
		Code:    string(apiErr.Kind),
		Message: apiErr.Message,
		Details: apiErr.Details,
	}

	if apiErr.Kind == apierr.KindInternal {
		ctx := context.Background()
		if r != nil {
			ctx = r.Context()
		}
		log.FromContext(ctx).Error().Err(err).Str("request_id", reqID).Msg("internal error")
	}

	w.Header().Set("Content-Type", "application/json")
	if reqID != "" {
		w.Header().Set(HeaderRequestID, reqID)
	}
	w.WriteHeader(apiErr.Status())

	if encodeErr := json.NewEncoder(w).Encode(res); encodeErr != nil {
		log.L().Error().Err(encodeErr).Msg("failed to encode problem response")
	}
}
