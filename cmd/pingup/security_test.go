package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	body := `{"connectionId":"conn-1"}`
	secret := "events-secret"

	tests := []struct {
		name      string
		header    string
		secret    string
		wantError string
	}{
		{name: "valid", header: "sha256=" + signBody(secret, []byte(body)), secret: secret},
		{name: "uppercase hex", header: "sha256=" + strings.ToUpper(signBody(secret, []byte(body))), secret: secret},
		{name: "missing header", secret: secret, wantError: "missing signature header"},
		{name: "wrong scheme", header: "sha1=abc", secret: secret, wantError: "invalid signature format"},
		{name: "no scheme", header: signBody(secret, []byte(body)), secret: secret, wantError: "invalid signature format"},
		{name: "mismatch", header: "sha256=" + signBody("other", []byte(body)), secret: secret, wantError: "signature mismatch"},
		{name: "no secret outside production", secret: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/events/connection-request", strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(SignatureHeader, tt.header)
			}

			got, err := verifySignature(req, tt.secret, SignatureHeader, 1024)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, body, string(got))

			again, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Equal(t, body, string(again), "body is restored for later readers")
		})
	}
}

func TestVerifySignature_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("PINGUP_ENV", "production")

	req := httptest.NewRequest(http.MethodPost, "/api/events/user", strings.NewReader(`{}`))
	_, err := verifySignature(req, "", SignatureHeader, 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required in production")
}

func TestVerifySignature_BodyTooLarge(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/events/user", strings.NewReader(strings.Repeat("x", 2048)))
	_, err := verifySignature(req, "secret", SignatureHeader, 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestVerifySharedSecret(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/workflows/runs/x", nil)
	assert.Error(t, verifySharedSecret(req, "operator-secret"), "missing token")

	req.Header.Set("Authorization", "Bearer wrong")
	assert.Error(t, verifySharedSecret(req, "operator-secret"))

	req.Header.Set("Authorization", "Bearer operator-secret")
	assert.NoError(t, verifySharedSecret(req, "operator-secret"))

	assert.NoError(t, verifySharedSecret(httptest.NewRequest(http.MethodGet, "/", nil), ""))

	t.Setenv("PINGUP_ENV", "production")
	assert.Error(t, verifySharedSecret(httptest.NewRequest(http.MethodGet, "/", nil), ""))
}
