// Package stream implements live streams over SSE and WebSocket.
package stream

import (
	"sync"

	"pingup/internal/registry"

	"github.com/google/uuid"
)

// base holds the buffered event queue shared by both transports. Events are
// queued by Send without blocking and written by the transport's Run loop.
type base struct {
	id     string
	events chan registry.Event
	done   chan struct{}
	once   sync.Once
}

func newBase(bufferSize int) base {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return base{
		id:     uuid.NewString(),
		events: make(chan registry.Event, bufferSize),
		done:   make(chan struct{}),
	}
}

func (b *base) ID() string { return b.id }

// Send queues ev. It returns false if the stream is closed or the queue is full.
func (b *base) Send(ev registry.Event) bool {
	select {
	case <-b.done:
		return false
	default:
	}

	select {
	case b.events <- ev:
		return true
	default:
		return false
	}
}

// Close stops the Run loop. Safe to call more than once.
func (b *base) Close() {
	b.once.Do(func() { close(b.done) })
}

// Done is closed once the stream has been closed.
func (b *base) Done() <-chan struct{} {
	return b.done
}
