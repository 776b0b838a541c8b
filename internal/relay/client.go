package relay

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one live signaling connection. Session identity (user, chat)
// is attached after the connection announces set_session.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	mu     sync.RWMutex
	userID string
	chatID string
}

// ID returns the connection identifier assigned at upgrade time.
func (c *Client) ID() string { return c.id }

// SetSession attaches the announced user identity to this connection.
func (c *Client) SetSession(userID, chatID string) {
	c.mu.Lock()
	c.userID = userID
	c.chatID = chatID
	c.mu.Unlock()
}

// UserID returns the announced user identity, or "" before set_session.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// ChatID returns the chat announced with set_session.
func (c *Client) ChatID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chatID
}

func (c *Client) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
