// Package room coordinates the lifecycle of audio call rooms: who is in a
// call, which peer links exist between members, and when an unanswered
// call times out. It consumes parsed signaling events and talks back to
// connections through the relay.
package room

import (
	"time"

	"github.com/samber/lo"
)

// Room is the state of one active call, keyed by the chat it belongs to.
// Members form a full mesh: every pair of members holds exactly one peer
// link. Mutation goes through the owning Coordinator's lock.
type Room struct {
	id   string
	host string

	members map[string]struct{}
	links   map[string]map[string]struct{}

	// ringing is the callee the host is waiting on, "" once answered or
	// for members added later.
	ringing string

	// timerVersion increments every time the no-answer timer is armed or
	// cleared; a pending fire carrying an older version is stale and must
	// be ignored.
	timerVersion uint64
	timer        *time.Timer
}

func newRoom(id, host string) *Room {
	return &Room{
		id:      id,
		host:    host,
		members: make(map[string]struct{}),
		links:   make(map[string]map[string]struct{}),
	}
}

// addMember inserts userID and links it to every existing member,
// preserving the full-mesh invariant. Idempotent.
func (r *Room) addMember(userID string) {
	if _, ok := r.members[userID]; ok {
		return
	}
	for peer := range r.members {
		r.link(userID, peer)
	}
	r.members[userID] = struct{}{}
}

// removeMember drops userID and every link touching it.
func (r *Room) removeMember(userID string) {
	if _, ok := r.members[userID]; !ok {
		return
	}
	delete(r.members, userID)
	for peer := range r.links[userID] {
		delete(r.links[peer], userID)
		if len(r.links[peer]) == 0 {
			delete(r.links, peer)
		}
	}
	delete(r.links, userID)
}

func (r *Room) link(a, b string) {
	if r.links[a] == nil {
		r.links[a] = make(map[string]struct{})
	}
	if r.links[b] == nil {
		r.links[b] = make(map[string]struct{})
	}
	r.links[a][b] = struct{}{}
	r.links[b][a] = struct{}{}
}

func (r *Room) isMember(userID string) bool {
	_, ok := r.members[userID]
	return ok
}

func (r *Room) size() int { return len(r.members) }

// Members returns a snapshot of the current member IDs.
func (r *Room) Members() []string {
	return lo.Keys(r.members)
}

// othersThan returns every member except userID.
func (r *Room) othersThan(userID string) []string {
	return lo.Filter(lo.Keys(r.members), func(id string, _ int) bool {
		return id != userID
	})
}

// linkCount returns the number of distinct peer links. For n members it
// must equal n*(n-1)/2.
func (r *Room) linkCount() int {
	total := 0
	for _, peers := range r.links {
		total += len(peers)
	}
	return total / 2
}
