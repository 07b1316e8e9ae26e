package stream

import (
	"context"
	"time"

	"pingup/internal/registry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// frame is the JSON envelope of one WebSocket message.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// WebSocket is a live stream over a WebSocket connection. Inbound client
// messages are discarded; the connection is server-to-client only.
type WebSocket struct {
	base
	conn         *websocket.Conn
	heartbeat    time.Duration
	writeTimeout time.Duration
}

func NewWebSocket(conn *websocket.Conn, bufferSize int, heartbeat time.Duration) *WebSocket {
	return &WebSocket{
		base:         newBase(bufferSize),
		conn:         conn,
		heartbeat:    heartbeat,
		writeTimeout: 10 * time.Second,
	}
}

// Run writes queued events until ctx is done, the peer disconnects, the
// stream is closed, or a write fails.
func (s *WebSocket) Run(ctx context.Context) error {
	// CloseRead returns a context cancelled when the peer closes.
	ctx = s.conn.CloseRead(ctx)

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
			_ = s.conn.Close(websocket.StatusNormalClosure, "stream closed")
			return nil
		case ev := <-s.events:
			if err := s.write(ctx, ev); err != nil {
				return err
			}
		case <-tick:
			pingCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := s.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (s *WebSocket) write(ctx context.Context, ev registry.Event) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, s.conn, frame{Event: ev.Name, Data: ev.Data})
}
