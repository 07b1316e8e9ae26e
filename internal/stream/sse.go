package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pingup/internal/registry"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming unsupported")

// SSE is a live stream over Server-Sent Events. Message events use the
// default event type so EventSource.onmessage receives them.
type SSE struct {
	base
	w         http.ResponseWriter
	flusher   http.Flusher
	heartbeat time.Duration
}

// NewSSE writes the event-stream headers and prepares the stream.
func NewSSE(w http.ResponseWriter, bufferSize int, heartbeat time.Duration) (*SSE, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSE{
		base:      newBase(bufferSize),
		w:         w,
		flusher:   flusher,
		heartbeat: heartbeat,
	}, nil
}

// Run writes queued events until ctx is done, the stream is closed, or a
// write fails. It must be called from the request goroutine.
func (s *SSE) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.heartbeat > 0 {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case ev := <-s.events:
			if err := s.write(ev); err != nil {
				return err
			}
		case <-tick:
			if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
				return err
			}
			s.flusher.Flush()
		}
	}
}

func (s *SSE) write(ev registry.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Name, err)
	}

	bw := bufio.NewWriter(s.w)
	if ev.Name != "" && ev.Name != registry.EventMessage {
		fmt.Fprintf(bw, "event: %s\n", ev.Name)
	}
	fmt.Fprintf(bw, "data: %s\n\n", data)
	if err := bw.Flush(); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
