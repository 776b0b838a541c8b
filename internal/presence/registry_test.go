package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndLookup(t *testing.T) {
	r := NewRegistry()

	r.Set("alice", "conn-1", "chat-1")

	entry, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-1", entry.ConnID)
	assert.Equal(t, "chat-1", entry.ChatID)
	assert.True(t, r.Online("alice"))
	assert.False(t, r.Online("bob"))
}

func TestReconnectReplacesEntry(t *testing.T) {
	r := NewRegistry()

	r.Set("alice", "conn-1", "chat-1")
	r.Set("alice", "conn-2", "chat-1")

	entry, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "conn-2", entry.ConnID)
}

func TestStaleClearKeepsNewerSession(t *testing.T) {
	r := NewRegistry()

	r.Set("alice", "conn-1", "chat-1")
	r.Set("alice", "conn-2", "chat-1")

	// Disconnect of the old connection arrives after the reconnect.
	r.Clear("alice", "conn-1")
	assert.True(t, r.Online("alice"))

	r.Clear("alice", "conn-2")
	assert.False(t, r.Online("alice"))
}

func TestSnapshot(t *testing.T) {
	r := NewRegistry()

	r.Set("alice", "conn-1", "chat-1")
	r.Set("bob", "conn-2", "chat-2")

	assert.ElementsMatch(t, []string{"alice", "bob"}, r.Snapshot())
}
