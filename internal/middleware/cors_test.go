package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name            string
		allowed         []string
		method          string
		origin          string
		wantStatus      int
		wantOrigin      string
		wantCredentials string
	}{
		{"explicit origin", []string{"https://app.pingup.test"}, http.MethodGet, "https://app.pingup.test", http.StatusTeapot, "https://app.pingup.test", "true"},
		{"wildcard", []string{"*"}, http.MethodGet, "https://other.test", http.StatusTeapot, "https://other.test", ""},
		{"not allowed", []string{"https://app.pingup.test"}, http.MethodGet, "https://evil.test", http.StatusTeapot, "", ""},
		{"no origin", []string{"*"}, http.MethodGet, "", http.StatusTeapot, "", ""},
		{"preflight", []string{"https://app.pingup.test"}, http.MethodOptions, "https://app.pingup.test", http.StatusNoContent, "https://app.pingup.test", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/message/send", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			CORS(tt.allowed)(next).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredentials, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}
