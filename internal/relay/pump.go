package relay

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/warasat/Chat-Application/internal/signal"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
)

// EventHandler consumes parsed events from one connection. Events from
// the same connection are delivered sequentially; events from different
// connections interleave.
type EventHandler interface {
	HandleEvent(c *Client, ev signal.Event)
	HandleDisconnect(c *Client)
}

// Serve runs the connection's pumps until the peer goes away. It blocks
// in the read loop; the write pump runs in its own goroutine.
func (h *Hub) Serve(client *Client, handler EventHandler) {
	go h.writePump(client)
	h.readPump(client, handler)
}

func (h *Hub) readPump(client *Client, handler EventHandler) {
	defer func() {
		h.log.Debug("ws disconnect", "conn_id", client.id, "user_id", client.UserID())
		_ = client.conn.Close()
		h.Remove(client.id)
		handler.HandleDisconnect(client)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			h.log.Debug("ws read error", "conn_id", client.id, "error", err)
			return
		}

		ev, err := signal.Parse(payload)
		if err != nil {
			// Malformed input never crashes the loop or drops other
			// participants.
			h.log.Warn("ws bad signal", "conn_id", client.id, "user_id", client.UserID(), "error", err)
			continue
		}

		// Avoid logging SDP/candidate bodies (may contain IPs); sizes only.
		h.log.Debug("ws recv", "conn_id", client.id, "user_id", client.UserID(), "type", ev.EventType(), "bytes", len(payload))

		handler.HandleEvent(client, ev)
	}
}

func (h *Hub) writePump(client *Client) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
