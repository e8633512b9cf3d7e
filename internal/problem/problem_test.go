// SPDX-License-Identifier: MIT

package problem

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/affirm/sessioncore/internal/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite_TypedError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/sessions/create", nil)

	Write(rec, req, apierr.QuotaExceeded(3, 3, "free"))

	assert.Equal(t, 403, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "SUBSCRIPTION_LIMIT_EXCEEDED", body.Error)
	assert.Equal(t, "SUBSCRIPTION_LIMIT_EXCEEDED", body.Code)
	assert.Equal(t, float64(3), body.Details["limit"])
}

func TestWrite_UnclassifiedErrorSanitizedToInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sessions", nil)

	Write(rec, req, errors.New("pq: connection refused on internal-db.private:5432"))

	assert.Equal(t, 500, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL", body.Code)
	assert.NotContains(t, body.Message, "internal-db.private")
}

func TestWrite_NilRequestDoesNotPanic(t *testing.T) {
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		Write(rec, nil, apierr.NotFound("session not found"))
	})
	assert.Equal(t, 404, rec.Code)
}
