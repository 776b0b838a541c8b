// Package client is the native call SDK: it dials the signaling server,
// keeps the mesh of peer connections in step with room events and
// captures local audio through Pion.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/warasat/Chat-Application/internal/signal"
)

// Signaler is the only surface the call manager needs from the
// transport. Fakes stand in for it in tests.
type Signaler interface {
	Send(eventType string, payload any) error
	Subscribe() (ch chan signal.Envelope, cancel func())
	Close() error
}

// WSSignaler speaks the server's websocket envelope protocol.
type WSSignaler struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]chan signal.Envelope
	nextID int

	closeOnce sync.Once
	done      chan struct{}
}

// DialSignaler connects to the server's /ws endpoint and starts reading.
func DialSignaler(ctx context.Context, url string, log *slog.Logger) (*WSSignaler, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}

	s := &WSSignaler{
		conn: conn,
		log:  log,
		subs: make(map[int]chan signal.Envelope),
		done: make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Send encodes and writes one signaling event.
func (s *WSSignaler) Send(eventType string, payload any) error {
	msg := signal.Encode(eventType, payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Subscribe returns a channel of inbound envelopes. Slow subscribers
// lose messages rather than stalling the read loop.
func (s *WSSignaler) Subscribe() (chan signal.Envelope, func()) {
	ch := make(chan signal.Envelope, 64)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *WSSignaler) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
	return nil
}

func (s *WSSignaler) readLoop() {
	defer s.Close()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Debug("signaler read closed", "error", err)
			}
			return
		}

		var env signal.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			s.log.Warn("signaler bad envelope", "error", err)
			continue
		}

		s.subMu.Lock()
		for _, ch := range s.subs {
			select {
			case ch <- env:
			default:
				s.log.Warn("signaler subscriber lagging; dropping event", "type", env.Type)
			}
		}
		s.subMu.Unlock()
	}
}
