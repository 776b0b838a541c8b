package relay

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(slog.New(slog.DiscardHandler))
}

func addClient(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	client, err := h.NewClient(nil)
	require.NoError(t, err)
	client.SetSession(userID, "chat-1")
	return client
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	default:
		t.Fatalf("expected a pending message for %s", c.UserID())
		return nil
	}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message for %s: %s", c.UserID(), msg)
	default:
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	h := newTestHub(t)
	alice := addClient(t, h, "alice")
	bob := addClient(t, h, "bob")
	carol := addClient(t, h, "carol")

	h.JoinRoom("call_chat-1", alice)
	h.JoinRoom("call_chat-1", bob)
	h.JoinRoom("call_chat-1", carol)

	h.Broadcast("call_chat-1", []byte("hello"), alice.ID())

	assertEmpty(t, alice)
	assert.Equal(t, "hello", string(recv(t, bob)))
	assert.Equal(t, "hello", string(recv(t, carol)))
}

func TestSendToUserTargetsRoomMemberOnly(t *testing.T) {
	h := newTestHub(t)
	alice := addClient(t, h, "alice")
	bob := addClient(t, h, "bob")

	h.JoinRoom("call_chat-1", alice)

	require.True(t, h.SendToUser("call_chat-1", "alice", []byte("direct")))
	assert.Equal(t, "direct", string(recv(t, alice)))

	// bob never joined the room
	assert.False(t, h.SendToUser("call_chat-1", "bob", []byte("direct")))
	assertEmpty(t, bob)
}

func TestSendToConn(t *testing.T) {
	h := newTestHub(t)
	alice := addClient(t, h, "alice")

	require.True(t, h.SendToConn(alice.ID(), []byte("hi")))
	assert.Equal(t, "hi", string(recv(t, alice)))

	assert.False(t, h.SendToConn("missing", []byte("hi")))
}

func TestFlushRoomClearsMembershipOnly(t *testing.T) {
	h := newTestHub(t)
	alice := addClient(t, h, "alice")
	bob := addClient(t, h, "bob")

	h.JoinRoom("call_chat-1", alice)
	h.JoinRoom("call_chat-1", bob)
	require.Equal(t, 2, h.RoomSize("call_chat-1"))

	h.FlushRoom("call_chat-1")

	assert.Equal(t, 0, h.RoomSize("call_chat-1"))
	// Connections survive the flush and are still addressable.
	assert.True(t, h.SendToConn(alice.ID(), []byte("still here")))
}

func TestRemoveLeavesAllRooms(t *testing.T) {
	h := newTestHub(t)
	alice := addClient(t, h, "alice")

	h.JoinRoom("chat-1", alice)
	h.JoinRoom("call_chat-1", alice)

	rooms := h.Remove(alice.ID())
	assert.ElementsMatch(t, []string{"chat-1", "call_chat-1"}, rooms)
	assert.Equal(t, 0, h.RoomSize("chat-1"))
	assert.False(t, h.SendToConn(alice.ID(), []byte("gone")))
}
