// Package registry maps online users to their live stream.
package registry

import (
	"hash/fnv"
	"sync"

	"pingup/internal/metrics"
	"pingup/internal/privacy"

	"github.com/sirupsen/logrus"
)

const shardCount = 32

// Event is one frame written to a live stream.
type Event struct {
	Name string
	Data any
}

const (
	EventConnected = "connected"
	EventMessage   = "message"
)

// Stream is a live server-to-client channel. Send must not block: it
// returns false when the stream is closed or its buffer is full.
type Stream interface {
	ID() string
	Send(Event) bool
	Close()
}

// PushResult is the outcome of Push.
type PushResult int

const (
	PushAbsent PushResult = iota
	PushDelivered
	PushDropped
)

func (p PushResult) String() string {
	switch p {
	case PushDelivered:
		return "delivered"
	case PushDropped:
		return "dropped"
	default:
		return "absent"
	}
}

type shard struct {
	mu      sync.Mutex
	streams map[string]Stream
}

// Registry holds at most one stream per user. Operations on the same user
// are mutually exclusive; different users rarely contend.
type Registry struct {
	shards [shardCount]shard
	logger *logrus.Logger
}

func New(logger *logrus.Logger) *Registry {
	r := &Registry{logger: logger}
	for i := range r.shards {
		r.shards[i].streams = make(map[string]Stream)
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &r.shards[h.Sum32()%shardCount]
}

// Register makes s the user's stream. A previously registered stream is
// closed so its client sees the disconnect instead of silently going stale.
func (r *Registry) Register(userID string, s Stream) {
	sh := r.shardFor(userID)

	sh.mu.Lock()
	previous, existed := sh.streams[userID]
	sh.streams[userID] = s
	sh.mu.Unlock()

	if existed && previous.ID() != s.ID() {
		previous.Close()
		metrics.IncrementCounter("registry_streams_superseded_total", nil, "Streams closed because the user opened a newer one")
		r.logger.WithFields(logrus.Fields{
			"user_id":       privacy.MaskUserID(userID),
			"stream_id":     s.ID(),
			"superseded_id": previous.ID(),
		}).Info("Live stream superseded")
	}

	metrics.SetGauge("registry_live_streams", float64(r.Len()), nil, "Users with a registered live stream")
}

// Unregister removes the user's stream only if it is still s, so a stale
// disconnect cannot evict a newer registration.
func (r *Registry) Unregister(userID string, s Stream) bool {
	sh := r.shardFor(userID)

	sh.mu.Lock()
	current, ok := sh.streams[userID]
	removed := ok && current.ID() == s.ID()
	if removed {
		delete(sh.streams, userID)
	}
	sh.mu.Unlock()

	if !removed {
		metrics.IncrementCounter("registry_stale_unregister_total", nil, "Unregister calls for a stream that was already replaced")
		r.logger.WithFields(logrus.Fields{
			"user_id":   privacy.MaskUserID(userID),
			"stream_id": s.ID(),
		}).Debug("Ignoring unregister of superseded stream")
		return false
	}

	metrics.SetGauge("registry_live_streams", float64(r.Len()), nil, "Users with a registered live stream")
	return true
}

// Push hands ev to the user's stream without blocking.
func (r *Registry) Push(userID string, ev Event) PushResult {
	sh := r.shardFor(userID)

	sh.mu.Lock()
	s, ok := sh.streams[userID]
	result := PushAbsent
	if ok {
		result = PushDropped
		if s.Send(ev) {
			result = PushDelivered
		}
	}
	sh.mu.Unlock()

	metrics.IncrementCounter("registry_push_total", map[string]string{"result": result.String()}, "Live push attempts by outcome")
	return result
}

// IsOnline reports whether the user has a registered stream.
func (r *Registry) IsOnline(userID string) bool {
	sh := r.shardFor(userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.streams[userID]
	return ok
}

// Len returns the number of users with a registered stream.
func (r *Registry) Len() int {
	total := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		total += len(sh.streams)
		sh.mu.Unlock()
	}
	return total
}

// CloseAll closes and removes every stream. Used on shutdown so open
// stream requests return.
func (r *Registry) CloseAll() {
	var streams []Stream
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for userID, s := range sh.streams {
			streams = append(streams, s)
			delete(sh.streams, userID)
		}
		sh.mu.Unlock()
	}
	for _, s := range streams {
		s.Close()
	}
	metrics.SetGauge("registry_live_streams", 0, nil, "Users with a registered live stream")
}
