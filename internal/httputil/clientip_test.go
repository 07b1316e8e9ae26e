package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "pingup/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{
			name:       "X-Forwarded-For takes first entry",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "198.51.100.7",
		},
		{
			name:       "invalid X-Forwarded-For falls through to X-Real-IP",
			headers:    map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "203.0.113.5"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "203.0.113.5",
		},
		{
			name:       "bracketed IPv6 in X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "[2001:db8::1]"},
			remoteAddr: "10.0.0.1:1234",
			expected:   "2001:db8::1",
		},
		{
			name:       "RemoteAddr IPv4",
			remoteAddr: "192.0.2.10:5555",
			expected:   "192.0.2.10",
		},
		{
			name:       "RemoteAddr IPv6",
			remoteAddr: "[2001:db8::2]:443",
			expected:   "2001:db8::2",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.0.2.11",
			expected:   "192.0.2.11",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "http://example.com", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, GetClientIP(r))
		})
	}
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()

	err := WriteJSON(rec, http.StatusCreated, map[string]bool{"success": true})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()

	status := WriteError(rec, apperrors.NewNotFoundError("user", "u1"), "req_1")

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
	assert.Contains(t, rec.Body.String(), `"request_id":"req_1"`)
}
