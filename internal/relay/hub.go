// Package relay forwards signaling payloads between live connections:
// point-to-point when a target is known, room-wide otherwise. It owns no
// call semantics; the room coordinator decides who hears what.
package relay

import (
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/gorilla/websocket"
)

// Hub tracks connections and their room membership.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*Client                // connID -> client
	rooms map[string]map[string]*Client     // roomID -> connID -> client
	joins map[string]map[string]struct{}    // connID -> roomIDs
	log   *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*Client),
		rooms: make(map[string]map[string]*Client),
		joins: make(map[string]map[string]struct{}),
		log:   log,
	}
}

// NewClient wraps an upgraded websocket connection and registers it.
func (h *Hub) NewClient(conn *websocket.Conn) (*Client, error) {
	id, err := gonanoid.New(16)
	if err != nil {
		return nil, err
	}

	client := &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, 32),
	}

	h.mu.Lock()
	h.conns[id] = client
	h.joins[id] = make(map[string]struct{})
	h.mu.Unlock()

	return client, nil
}

// JoinRoom adds the connection to a room. Idempotent.
func (h *Hub) JoinRoom(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.rooms[roomID]
	if !ok {
		peers = make(map[string]*Client)
		h.rooms[roomID] = peers
	}
	peers[c.id] = c
	if joined, ok := h.joins[c.id]; ok {
		joined[roomID] = struct{}{}
	}
}

// LeaveRoom removes the connection from one room.
func (h *Hub) LeaveRoom(roomID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(roomID, connID)
}

func (h *Hub) leaveRoomLocked(roomID, connID string) {
	if peers, ok := h.rooms[roomID]; ok {
		delete(peers, connID)
		if len(peers) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if joined, ok := h.joins[connID]; ok {
		delete(joined, roomID)
	}
}

// Remove unregisters a connection entirely and returns the rooms it was in.
func (h *Hub) Remove(connID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.conns[connID]
	if !ok {
		return nil
	}
	delete(h.conns, connID)

	var roomIDs []string
	for roomID := range h.joins[connID] {
		roomIDs = append(roomIDs, roomID)
		if peers, exists := h.rooms[roomID]; exists {
			delete(peers, connID)
			if len(peers) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	delete(h.joins, connID)

	client.closeSend()
	return roomIDs
}

// SendToConn delivers a payload to one connection. A full send buffer
// counts as failure and the connection is closed.
func (h *Hub) SendToConn(connID string, payload []byte) bool {
	h.mu.Lock()
	client := h.conns[connID]
	h.mu.Unlock()

	if client == nil {
		return false
	}
	if !client.trySend(payload) {
		_ = client.conn.Close()
		return false
	}
	return true
}

// SendToUser delivers to the member of roomID announced as userID.
func (h *Hub) SendToUser(roomID, userID string, payload []byte) bool {
	h.mu.Lock()
	var target *Client
	for _, client := range h.rooms[roomID] {
		if client.UserID() == userID {
			target = client
			break
		}
	}
	h.mu.Unlock()

	if target == nil {
		return false
	}
	if !target.trySend(payload) {
		_ = target.conn.Close()
		return false
	}
	return true
}

// Broadcast delivers to every member of roomID except exceptConnID
// (pass "" to include everyone).
func (h *Hub) Broadcast(roomID string, payload []byte, exceptConnID string) {
	h.mu.Lock()
	var clients []*Client
	for connID, client := range h.rooms[roomID] {
		if connID == exceptConnID {
			continue
		}
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		if !client.trySend(payload) {
			_ = client.conn.Close()
		}
	}
}

// FlushRoom forces every remaining connection out of the room. The
// connections themselves stay open; only membership is cleared.
func (h *Hub) FlushRoom(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for connID := range h.rooms[roomID] {
		if joined, ok := h.joins[connID]; ok {
			delete(joined, roomID)
		}
	}
	delete(h.rooms, roomID)
}

// RoomSize returns the number of connections currently in the room.
func (h *Hub) RoomSize(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}
