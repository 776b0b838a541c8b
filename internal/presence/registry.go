// Package presence tracks which user identities currently hold a live
// signaling connection. It is a pure lookup service: populated when a
// connection announces its session and cleared on disconnect.
package presence

import (
	"sync"
	"time"
)

// Entry describes one user's live connection.
type Entry struct {
	UserID string
	ConnID string
	ChatID string
	Since  time.Time
}

// Registry is safe for concurrent use. It is passed into handlers
// explicitly rather than held as ambient shared state.
type Registry struct {
	mu    sync.RWMutex
	users map[string]Entry
	nowFn func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]Entry),
		nowFn: time.Now,
	}
}

// Set registers userID as online on the given connection. A later Set for
// the same user replaces the previous entry (reconnects win).
func (r *Registry) Set(userID, connID, chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.users[userID] = Entry{
		UserID: userID,
		ConnID: connID,
		ChatID: chatID,
		Since:  r.nowFn(),
	}
}

// Clear removes the entry for userID, but only if it still belongs to
// connID. A disconnect racing a fresh reconnect must not wipe the newer
// session.
func (r *Registry) Clear(userID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.users[userID]; ok && entry.ConnID == connID {
		delete(r.users, userID)
	}
}

// Lookup returns the live entry for userID, if any.
func (r *Registry) Lookup(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.users[userID]
	return entry, ok
}

// Online reports whether userID currently holds a connection.
func (r *Registry) Online(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns the set of online user IDs.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	return ids
}
