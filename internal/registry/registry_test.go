package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	id     string
	mu     sync.Mutex
	events []Event
	full   bool
	closed atomic.Bool
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{id: id}
}

func (f *fakeStream) ID() string { return f.id }

func (f *fakeStream) Send(ev Event) bool {
	if f.closed.Load() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeStream) Close() { f.closed.Store(true) }

func (f *fakeStream) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

func newTestRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return New(logger)
}

func TestPush_Absent(t *testing.T) {
	r := newTestRegistry()

	assert.Equal(t, PushAbsent, r.Push("nobody", Event{Name: EventMessage}))
	assert.False(t, r.IsOnline("nobody"))
}

func TestRegisterAndPush(t *testing.T) {
	r := newTestRegistry()
	s := newFakeStream("s1")

	r.Register("u1", s)
	assert.True(t, r.IsOnline("u1"))
	assert.Equal(t, 1, r.Len())

	result := r.Push("u1", Event{Name: EventMessage, Data: "hi"})
	assert.Equal(t, PushDelivered, result)
	require.Len(t, s.received(), 1)
	assert.Equal(t, "hi", s.received()[0].Data)

	assert.Equal(t, PushAbsent, r.Push("u2", Event{Name: EventMessage}))
}

func TestPush_FullBufferIsDropped(t *testing.T) {
	r := newTestRegistry()
	s := newFakeStream("s1")
	s.full = true
	r.Register("u1", s)

	assert.Equal(t, PushDropped, r.Push("u1", Event{Name: EventMessage}))
}

func TestRegister_IdempotentForSameStream(t *testing.T) {
	r := newTestRegistry()
	s := newFakeStream("s1")

	r.Register("u1", s)
	r.Register("u1", s)

	assert.False(t, s.closed.Load())
	assert.Equal(t, 1, r.Len())
}

func TestStaleUnregisterKeepsNewerStream(t *testing.T) {
	r := newTestRegistry()
	older := newFakeStream("old")
	newer := newFakeStream("new")

	r.Register("u1", older)
	r.Register("u1", newer)
	assert.True(t, older.closed.Load(), "superseded stream is closed")

	assert.False(t, r.Unregister("u1", older))
	assert.True(t, r.IsOnline("u1"))

	assert.Equal(t, PushDelivered, r.Push("u1", Event{Name: EventMessage}))
	assert.Len(t, newer.received(), 1)
	assert.Empty(t, older.received())

	assert.True(t, r.Unregister("u1", newer))
	assert.False(t, r.IsOnline("u1"))
	assert.Equal(t, PushAbsent, r.Push("u1", Event{Name: EventMessage}))
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry()
	streams := []*fakeStream{newFakeStream("a"), newFakeStream("b")}
	r.Register("u1", streams[0])
	r.Register("u2", streams[1])

	r.CloseAll()

	assert.Zero(t, r.Len())
	for _, s := range streams {
		assert.True(t, s.closed.Load())
	}
}

func TestConcurrentRegisterUnregisterPush(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup

	for u := 0; u < 16; u++ {
		userID := fmt.Sprintf("user-%d", u)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				s := newFakeStream(fmt.Sprintf("%s-%d", userID, i))
				r.Register(userID, s)
				r.Push(userID, Event{Name: EventMessage})
				r.Unregister(userID, s)
			}(i)
		}
	}
	wg.Wait()

	for u := 0; u < 16; u++ {
		assert.Equal(t, PushAbsent, r.Push(fmt.Sprintf("user-%d", u), Event{Name: EventMessage}))
	}
}

func TestPushResultString(t *testing.T) {
	assert.Equal(t, "absent", PushAbsent.String())
	assert.Equal(t, "delivered", PushDelivered.String())
	assert.Equal(t, "dropped", PushDropped.String())
}
