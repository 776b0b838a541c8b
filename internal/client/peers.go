package client

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// rtcConn is the slice of *webrtc.PeerConnection the link layer touches.
// Narrow on purpose: ICE buffering is tested against fakes, not live SDP.
type rtcConn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(webrtc.ICECandidateInit) error
	Close() error
}

// PeerLink is one edge of the call mesh: this client's connection to a
// single remote member.
//
// Candidates routinely arrive before the remote description. They are
// buffered in arrival order and applied exactly once as soon as
// SetRemoteDescription lands; anything arriving later goes straight
// through.
type PeerLink struct {
	peerID string
	pc     rtcConn

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	cleanup   func()
}

// AddRemoteCandidate buffers or applies one ICE candidate from peerID.
func (l *PeerLink) AddRemoteCandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.remoteSet {
		l.pending = append(l.pending, cand)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(cand)
}

// SetRemoteDescription applies the remote SDP and drains the candidate
// buffer in arrival order.
func (l *PeerLink) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return err
	}

	l.mu.Lock()
	buffered := l.pending
	l.pending = nil
	l.remoteSet = true
	l.mu.Unlock()

	for _, cand := range buffered {
		if err := l.pc.AddICECandidate(cand); err != nil {
			return err
		}
	}
	return nil
}

func (l *PeerLink) close() {
	l.mu.Lock()
	cleanup := l.cleanup
	l.cleanup = nil
	l.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	_ = l.pc.Close()
}

// connFactory builds a configured peer connection for one remote peer,
// with local media already attached. The returned func runs when the
// link closes; it must not stop anything other links still share.
type connFactory func(peerID string) (rtcConn, func(), error)

// PeerManager owns every link of the mesh, one per remote member.
type PeerManager struct {
	mu      sync.Mutex
	links   map[string]*PeerLink
	newConn connFactory
	log     *slog.Logger
}

func NewPeerManager(newConn connFactory, log *slog.Logger) *PeerManager {
	return &PeerManager{
		links:   make(map[string]*PeerLink),
		newConn: newConn,
		log:     log,
	}
}

// InitPeer returns the link to peerID, creating it on first use.
// Idempotent: a second init for the same peer hands back the existing
// link untouched.
func (m *PeerManager) InitPeer(peerID string) (*PeerLink, error) {
	m.mu.Lock()
	if link, ok := m.links[peerID]; ok {
		m.mu.Unlock()
		return link, nil
	}
	m.mu.Unlock()

	pc, cleanup, err := m.newConn(peerID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if link, ok := m.links[peerID]; ok {
		// Lost the race; discard ours.
		if cleanup != nil {
			cleanup()
		}
		_ = pc.Close()
		return link, nil
	}

	link := &PeerLink{peerID: peerID, pc: pc, cleanup: cleanup}
	m.links[peerID] = link
	return link, nil
}

// Link returns the existing link to peerID, if any.
func (m *PeerManager) Link(peerID string) (*PeerLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[peerID]
	return link, ok
}

// AddCandidate routes a candidate to peerID's link. Candidates for
// unknown peers are dropped: the peer either never joined or already
// left, and applying them later would poison a fresh link.
func (m *PeerManager) AddCandidate(peerID string, cand webrtc.ICECandidateInit) bool {
	link, ok := m.Link(peerID)
	if !ok {
		m.log.Debug("ice candidate for unknown peer dropped", "peer_id", peerID)
		return false
	}
	if err := link.AddRemoteCandidate(cand); err != nil {
		m.log.Warn("ice candidate rejected", "peer_id", peerID, "error", err)
		return false
	}
	return true
}

// RemovePeer closes and forgets the link to peerID.
func (m *PeerManager) RemovePeer(peerID string) {
	m.mu.Lock()
	link, ok := m.links[peerID]
	delete(m.links, peerID)
	m.mu.Unlock()

	if ok {
		link.close()
	}
}

// Peers returns the IDs currently linked.
func (m *PeerManager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down every link.
func (m *PeerManager) Close() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*PeerLink)
	m.mu.Unlock()

	for _, link := range links {
		link.close()
	}
}
