package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/grantengine/internal/domain/oautherr"
	"github.com/dropDatabas3/grantengine/internal/domain/repository"
	"github.com/dropDatabas3/grantengine/internal/rate"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid grant", oautherr.New(oautherr.InvalidGrant, "nope"), http.StatusBadRequest, "invalid_grant"},
		{"wrapped kind", fmt.Errorf("ctx: %w", oautherr.New(oautherr.SlowDown, "")), http.StatusBadRequest, "slow_down"},
		{"invalid client", oautherr.New(oautherr.InvalidClient, ""), http.StatusUnauthorized, "invalid_client"},
		{"lifetime", oautherr.New(oautherr.InvalidLifetime, "access lifetime 0"), http.StatusInternalServerError, "server_error"},
		{"persistence", oautherr.New(oautherr.PersistenceUnavailable, ""), http.StatusServiceUnavailable, "temporarily_unavailable"},
		{"store sentinel", fmt.Errorf("get: %w", repository.ErrUnavailable), http.StatusServiceUnavailable, "temporarily_unavailable"},
		{"plain", fmt.Errorf("boom"), http.StatusInternalServerError, "server_error"},
		{"app error", ErrInvalidJSON, http.StatusBadRequest, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			assert.Equal(t, tt.status, got.HTTPStatus)
			assert.Equal(t, tt.code, got.Code)
		})
	}
}

func TestFromError_HidesInternalDescription(t *testing.T) {
	got := FromError(oautherr.New(oautherr.InvalidLifetime, "refresh lifetime must be positive"))
	assert.Equal(t, ErrInternalServerError.Description, got.Description)
}

func TestWriteError_RateLimited(t *testing.T) {
	err := oautherr.Wrap(&rate.LimitedError{Action: "token", Result: rate.Result{RetryAfter: 12 * time.Second}},
		oautherr.RateLimited, "too many requests")
	rec := httptest.NewRecorder()
	WriteError(rec, err)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "12", rec.Header().Get("Retry-After"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["error"])
	assert.Equal(t, "too many requests", body["error_description"])
}

func TestWriteError_InvalidClientChallenge(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, oautherr.New(oautherr.InvalidClient, "client authentication failed"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestWithDetailCopies(t *testing.T) {
	e := ErrInvalidRequest.WithDetail("missing grant_type")
	assert.Equal(t, "missing grant_type", e.Description)
	assert.NotEqual(t, e.Description, ErrInvalidRequest.Description)
}
