package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/catalog/pkg/provider"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"app error passes through", BadRequest("bad", nil), http.StatusBadRequest, CodeBadRequest},
		{"wrapped app error", fmt.Errorf("ctx: %w", NotFound("no session")), http.StatusNotFound, CodeNotFound},
		{"provider not found", &provider.ProviderError{Op: "Head", Err: provider.ErrNotFound}, http.StatusNotFound, provider.CodeNotFound},
		{"access denied", provider.ErrAccessDenied, http.StatusForbidden, provider.CodeAccessDenied},
		{"throttled", provider.ErrThrottled, http.StatusTooManyRequests, provider.CodeThrottled},
		{"unsupported", provider.ErrUnsupported, http.StatusNotImplemented, provider.CodeUnsupported},
		{"unknown", stderrors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := FromError(tt.err)
			assert.Equal(t, tt.wantStatus, app.Status)
			assert.Equal(t, tt.wantCode, app.Code)
		})
	}
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, BadRequest("invalid prefix", stderrors.New("decode")).WithDetails(map[string]any{"prefix": "%zz"}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeBadRequest, body.Error.Code)
	assert.Equal(t, "invalid prefix: decode", body.Error.Message)
	assert.Equal(t, "%zz", body.Error.Details["prefix"])
	assert.Equal(t, "req-1", body.Error.RequestID)
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("cause")
	err := WrapInternal(cause, "failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed: cause", err.Error())
	assert.Equal(t, "gone", NewExternalServiceError("gone").Error())
}

func TestAppError_Envelope(t *testing.T) {
	app := New(http.StatusServiceUnavailable, CodeServiceUnavailable, "service unhealthy").
		WithDetails(map[string]any{"checks": map[string]string{"bookmarks": "unhealthy"}})

	env := app.Envelope("req-9")
	assert.Equal(t, CodeServiceUnavailable, env.Code)
	assert.Equal(t, "service unhealthy", env.Message)
	assert.Equal(t, "req-9", env.CorrelationID)
	assert.Contains(t, env.Context, "checks")

	body := Body(NotFound("no session").Envelope(""))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	assert.Empty(t, body.Error.RequestID)
	assert.Nil(t, body.Error.Details)
}
