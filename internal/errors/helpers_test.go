package errors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("to_user_id", "", "is required")

	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, "Invalid to_user_id: is required", err.UserMessage)
	assert.Equal(t, "to_user_id", err.Context["field"])
	assert.True(t, IsValidation(err))
}

func TestNewUpstreamError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		retryable  bool
	}{
		{"server error", 500, true},
		{"unavailable", 503, true},
		{"rate limited", 429, true},
		{"request timeout", 408, true},
		{"transport failure", 0, true},
		{"bad request", 400, false},
		{"unauthorized", 401, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewUpstreamError("media storage", "/upload", tt.statusCode, errors.New("failed"))
			assert.Equal(t, ErrCodeUpstream, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, "media storage", err.Context["service"])
		})
	}
}

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{NewValidationError("text", "", "empty"), http.StatusBadRequest},
		{NewAuthError("missing token"), http.StatusUnauthorized},
		{NewNotFoundError("run", "r1"), http.StatusNotFound},
		{NewRateLimitError(5, "1s"), http.StatusTooManyRequests},
		{NewUpstreamError("email", "/send", 500, nil), http.StatusBadGateway},
		{NewDatabaseError("insert", errors.New("locked")), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPStatusCode(tt.err), tt.err.Error())
	}
}

func TestToHTTPResponse(t *testing.T) {
	err := NewValidationError("text", "secret words", "too long")
	resp := ToHTTPResponse(err, "req-1")

	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid text: too long", resp.Message)
	assert.Equal(t, ErrCodeValidationFailed, resp.Code)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestWithContextFromRequest(t *testing.T) {
	ctx := ContextWithUserID(context.Background(), "u1")
	ctx = ContextWithRequestID(ctx, "req-9")

	err := WithContextFromRequest(New(ErrCodeInternalError, "x"), ctx)

	assert.Equal(t, "u1", err.Context["user_id"])
	assert.Equal(t, "req-9", err.Context["request_id"])
	assert.Nil(t, WithContextFromRequest(nil, ctx))
}
