package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pingup/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nonFlusher struct {
	http.ResponseWriter
}

func TestNewSSE_RequiresFlusher(t *testing.T) {
	_, err := NewSSE(nonFlusher{httptest.NewRecorder()}, 4, 0)
	assert.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestSSE_WritesFramesInOrder(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := NewSSE(rec, 4, 0)
	require.NoError(t, err)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	require.True(t, s.Send(registry.Event{Name: registry.EventConnected, Data: map[string]string{"status": "connected"}}))
	require.True(t, s.Send(registry.Event{Name: registry.EventMessage, Data: map[string]string{"text": "hi"}}))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	s.Close()
	require.NoError(t, <-done)

	assert.Equal(t,
		"event: connected\ndata: {\"status\":\"connected\"}\n\n"+
			"data: {\"text\":\"hi\"}\n\n",
		rec.Body.String())
}

func TestSSE_SendNeverBlocks(t *testing.T) {
	s, err := NewSSE(httptest.NewRecorder(), 2, 0)
	require.NoError(t, err)

	assert.True(t, s.Send(registry.Event{Name: registry.EventMessage}))
	assert.True(t, s.Send(registry.Event{Name: registry.EventMessage}))
	assert.False(t, s.Send(registry.Event{Name: registry.EventMessage}), "full buffer drops")

	s.Close()
	s.Close()
	assert.False(t, s.Send(registry.Event{Name: registry.EventMessage}), "closed stream drops")

	select {
	case <-s.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestSSE_HeartbeatAndContextCancel(t *testing.T) {
	rec := httptest.NewRecorder()
	s, err := NewSSE(rec, 1, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Contains(t, rec.Body.String(), ": ping\n\n")
}

func TestStreamIDsAreUnique(t *testing.T) {
	a, err := NewSSE(httptest.NewRecorder(), 1, 0)
	require.NoError(t, err)
	b, err := NewSSE(httptest.NewRecorder(), 1, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}
