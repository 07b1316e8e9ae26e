package storage

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	apperrors "pingup/internal/errors"
	"pingup/internal/models"
	"pingup/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(serverURL string) *Client {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewClient(models.StorageConfig{
		UploadURL:      serverURL + "/api/v1/files/upload",
		APIKey:         "private_key",
		Folder:         "/pingup/messages",
		Transformation: "q-auto,f-webp,w-1280",
		TimeoutSec:     5,
	}, nil, logger)
}

func TestClient_Upload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/files/upload", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "private_key", user)
		assert.Empty(t, pass)

		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "photo.png", r.FormValue("fileName"))
		assert.Equal(t, "/pingup/messages", r.FormValue("folder"))

		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "photo.png", header.Filename)
		assert.Equal(t, []byte("image-bytes"), data)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"fileId": "f1",
			"name":   "photo_abc.png",
			"url":    "https://ik.imagekit.io/pingup/messages/photo_abc.png",
		})
	}))
	defer server.Close()

	url, err := newTestClient(server.URL).Upload(context.Background(), []byte("image-bytes"), "photo.png")
	require.NoError(t, err)
	assert.Equal(t, "https://ik.imagekit.io/pingup/messages/photo_abc.png?tr=q-auto%2Cf-webp%2Cw-1280", url)
}

func TestClient_Upload_Failures(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, `{"message":"boom"}`, true},
		{"rejected", http.StatusBadRequest, `{"message":"bad file"}`, false},
		{"throttled", http.StatusTooManyRequests, ``, true},
		{"bad json", http.StatusOK, `not json`, false},
		{"missing url", http.StatusOK, `{"fileId":"f1"}`, false},
		{"internal url", http.StatusOK, `{"url":"http://127.0.0.1/a.png"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestClient(server.URL).Upload(context.Background(), []byte("x"), "a.png")
			require.Error(t, err)
			assert.True(t, apperrors.IsUpstream(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestClient_Upload_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < breakerFailures; i++ {
		_, err := client.Upload(context.Background(), []byte("x"), "a.png")
		require.Error(t, err)
	}

	_, err := client.Upload(context.Background(), []byte("x"), "a.png")
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
	assert.Contains(t, err.Error(), "circuit breaker")
	assert.Equal(t, int32(breakerFailures), calls.Load())

	stats := client.Stats()
	assert.Equal(t, serviceName, stats.Name)
	assert.Equal(t, circuitbreaker.StateOpen, stats.State)
}

func TestClient_Upload_RejectionsDoNotOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	for i := 0; i < breakerFailures+2; i++ {
		_, _ = client.Upload(context.Background(), []byte("x"), "a.png")
	}
	assert.Equal(t, int32(breakerFailures+2), calls.Load())
}

func TestClient_Upload_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	_, err := newTestClient(serverURL).Upload(context.Background(), []byte("x"), "a.png")
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
	assert.True(t, apperrors.IsRetryable(err))
}
