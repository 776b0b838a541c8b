package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/warasat/Chat-Application/internal/signal"
)

// State is the lifecycle of this client's participation in a call.
type State string

const (
	StateIdle            State = "idle"
	StateOutgoingCalling State = "outgoing-calling"
	StateOutgoingRinging State = "outgoing-ringing"
	StateIncoming        State = "incoming"
	StateConnected       State = "connected"
	StateEnded           State = "ended"
)

var ErrBusy = errors.New("call already in progress")

// incomingInvite holds a ringing call until the user answers or rejects.
type incomingInvite struct {
	from  string
	offer json.RawMessage
}

// Options carries optional observer hooks.
type Options struct {
	// OnStateChange fires after every state transition.
	OnStateChange func(State)
	// OnRemoteScreen fires when a remote member starts or stops sharing.
	OnRemoteScreen func(from string, sharing bool)
	// ReleaseMedia stops the shared capture device. It runs on full
	// teardown only, never when a single link drops.
	ReleaseMedia func()
}

// Manager drives one client's side of the call protocol: it owns the
// state machine, the peer mesh and the signaling subscription.
type Manager struct {
	sig    Signaler
	selfID string
	chatID string
	peers  *PeerManager
	log    *slog.Logger
	opts   Options

	mu          sync.Mutex
	state       State
	invite      *incomingInvite
	primary     string
	connectedAt time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager announces the session and starts consuming signaling
// events. The factory builds one peer connection per remote member.
func NewManager(sig Signaler, selfID, chatID string, factory connFactory, log *slog.Logger, opts Options) (*Manager, error) {
	m := &Manager{
		sig:    sig,
		selfID: selfID,
		chatID: chatID,
		peers:  NewPeerManager(factory, log),
		log:    log,
		opts:   opts,
		state:  StateIdle,
		done:   make(chan struct{}),
	}

	if err := sig.Send(signal.TypeSetSession, signal.SetSession{
		SenderID: selfID,
		ChatID:   chatID,
	}); err != nil {
		return nil, fmt.Errorf("announce session: %w", err)
	}

	go m.dispatchLoop()
	return m, nil
}

// State returns the current call state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// chat returns the chat this manager signals in. Guarded: JoinRoom can
// retarget it while the dispatch goroutine is sending.
func (m *Manager) chat() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatID
}

// Elapsed reports how long the call has been connected, zero before the
// first connection.
func (m *Manager) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectedAt.IsZero() {
		return 0
	}
	return time.Since(m.connectedAt)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	if s == StateConnected {
		m.connectedAt = time.Now()
	}
	m.mu.Unlock()

	m.log.Debug("call state", "state", s)
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(s)
	}
}

// StartCall rings receiverID. Media capture happens inside the peer
// factory; when it fails the call is aborted before any signaling and
// the state stays where it was.
func (m *Manager) StartCall(receiverID, phoneNumber string) error {
	m.mu.Lock()
	if m.state != StateIdle && m.state != StateEnded {
		m.mu.Unlock()
		return ErrBusy
	}
	m.mu.Unlock()

	offer, err := m.offerFor(receiverID)
	if err != nil {
		return err
	}

	if err := m.sig.Send(signal.TypeCallUser, signal.CallUser{
		ChatID:      m.chat(),
		From:        m.selfID,
		ReceiverID:  receiverID,
		Offer:       offer,
		PhoneNumber: phoneNumber,
	}); err != nil {
		m.peers.RemovePeer(receiverID)
		return err
	}

	m.mu.Lock()
	m.primary = receiverID
	m.mu.Unlock()
	m.setState(StateOutgoingCalling)
	return nil
}

// offerFor builds the link to peerID and produces a local offer.
func (m *Manager) offerFor(peerID string) (json.RawMessage, error) {
	link, err := m.peers.InitPeer(peerID)
	if err != nil {
		return nil, fmt.Errorf("init peer %s: %w", peerID, err)
	}

	desc, err := link.pc.CreateOffer(nil)
	if err != nil {
		m.peers.RemovePeer(peerID)
		return nil, err
	}
	if err := link.pc.SetLocalDescription(desc); err != nil {
		m.peers.RemovePeer(peerID)
		return nil, err
	}
	return json.Marshal(desc)
}

// Answer accepts the ringing call.
func (m *Manager) Answer() error {
	m.mu.Lock()
	if m.state != StateIncoming || m.invite == nil {
		m.mu.Unlock()
		return errors.New("no ringing call")
	}
	invite := m.invite
	m.invite = nil
	m.primary = invite.from
	m.mu.Unlock()

	if err := m.answerOffer(invite.from, invite.offer); err != nil {
		return err
	}
	m.setState(StateConnected)
	return nil
}

// answerOffer sets up the link to from, applies its offer and sends the
// answer back.
func (m *Manager) answerOffer(from string, offer json.RawMessage) error {
	link, err := m.peers.InitPeer(from)
	if err != nil {
		return fmt.Errorf("init peer %s: %w", from, err)
	}

	var remote webrtc.SessionDescription
	if err := json.Unmarshal(offer, &remote); err != nil {
		m.peers.RemovePeer(from)
		return fmt.Errorf("bad offer: %w", err)
	}
	if err := link.SetRemoteDescription(remote); err != nil {
		m.peers.RemovePeer(from)
		return err
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		m.peers.RemovePeer(from)
		return err
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		m.peers.RemovePeer(from)
		return err
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	return m.sig.Send(signal.TypeAnswerCall, signal.AnswerCall{
		ChatID:     m.chat(),
		From:       m.selfID,
		ReceiverID: from,
		Answer:     raw,
	})
}

// Reject declines the ringing call.
func (m *Manager) Reject() error {
	m.mu.Lock()
	if m.state != StateIncoming || m.invite == nil {
		m.mu.Unlock()
		return errors.New("no ringing call")
	}
	from := m.invite.from
	m.invite = nil
	m.mu.Unlock()

	err := m.sig.Send(signal.TypeRejectCall, signal.RejectCall{
		ChatID: m.chat(),
		To:     from,
		From:   m.selfID,
	})
	m.setState(StateIdle)
	return err
}

// Ignore silences the ring locally. The caller keeps ringing until the
// server's timeout converts the call into a missed one.
func (m *Manager) Ignore() error {
	m.mu.Lock()
	if m.state != StateIncoming || m.invite == nil {
		m.mu.Unlock()
		return errors.New("no ringing call")
	}
	from := m.invite.from
	m.invite = nil
	m.mu.Unlock()

	err := m.sig.Send(signal.TypeCallIgnored, signal.CallIgnored{
		ChatID: m.chat(),
		To:     from,
		From:   m.selfID,
	})
	m.setState(StateIdle)
	return err
}

// Leave exits the call without ending it for the others.
func (m *Manager) Leave() error {
	err := m.sig.Send(signal.TypeParticipantLeft, signal.ParticipantLeft{
		ChatID: m.chat(),
		UserID: m.selfID,
	})
	m.teardown(StateEnded)
	return err
}

// End terminates the call for everyone. Only effective when this client
// started the call; otherwise the server degrades it to a leave.
func (m *Manager) End() error {
	err := m.sig.Send(signal.TypeEndCall, signal.EndCall{
		ChatID: m.chat(),
		From:   m.selfID,
	})
	m.teardown(StateEnded)
	return err
}

// Invite asks another user to join the ongoing call.
func (m *Manager) Invite(userID, fromName string) error {
	return m.sig.Send(signal.TypeInviteToCall, signal.InviteToCall{
		ChatID:        m.chat(),
		InvitedUserID: userID,
		From:          m.selfID,
		FromName:      fromName,
	})
}

// JoinRoom enters an ongoing call this client was invited to. Peer
// links form as existing members dial in; this side only announces.
func (m *Manager) JoinRoom(roomID string) error {
	if err := m.sig.Send(signal.TypeJoinCallRoom, signal.JoinCallRoom{
		ChatID: roomID,
		UserID: m.selfID,
	}); err != nil {
		return err
	}
	m.mu.Lock()
	m.chatID = roomID
	m.mu.Unlock()
	m.setState(StateConnected)
	return nil
}

// Close drops the subscription, every link and the capture device.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.peers.Close()
		if m.opts.ReleaseMedia != nil {
			m.opts.ReleaseMedia()
		}
	})
}

func (m *Manager) teardown(final State) {
	m.mu.Lock()
	m.invite = nil
	m.primary = ""
	m.connectedAt = time.Time{}
	m.mu.Unlock()
	m.peers.Close()
	if m.opts.ReleaseMedia != nil {
		m.opts.ReleaseMedia()
	}
	m.setState(final)
}

func (m *Manager) dispatchLoop() {
	ch, cancel := m.sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-m.done:
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			m.dispatch(env)
		}
	}
}

func (m *Manager) dispatch(env signal.Envelope) {
	switch env.Type {
	case signal.TypeCallStatus:
		if m.State() == StateOutgoingCalling {
			m.setState(StateOutgoingRinging)
		}

	case signal.TypeIncomingCall:
		var p signal.IncomingCallPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			m.log.Warn("bad incoming-call payload", "error", err)
			return
		}
		m.handleIncoming(p)

	case signal.TypeCallAnswered:
		var p signal.CallAnsweredPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		m.handleAnswered(p)

	case signal.TypeICECandidate:
		var p signal.ICEForwardPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(p.Candidate, &cand); err != nil {
			m.log.Warn("bad ice candidate payload", "from", p.From, "error", err)
			return
		}
		m.peers.AddCandidate(p.From, cand)

	case signal.TypeUserJoinedGroup:
		var p signal.UserJoinedGroupPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		m.handleJoined(p.UserID)

	case signal.TypeUserLeft:
		var p signal.UserLeftPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		m.peers.RemovePeer(p.From)

	case signal.TypeCallRejected:
		m.teardown(StateEnded)

	case signal.TypeCallEnded:
		m.teardown(StateEnded)

	case signal.TypeRemoteScreen:
		var p signal.RemoteScreenPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		m.handleRemoteScreen(p)
	}
}

// handleIncoming rings on an idle client. A connected client is being
// meshed into a group call instead: answer silently, no state change.
func (m *Manager) handleIncoming(p signal.IncomingCallPayload) {
	if p.From == "" || len(p.Offer) == 0 {
		m.log.Warn("incoming call without sender or offer dropped")
		return
	}

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state == StateConnected {
		if err := m.answerOffer(p.From, p.Offer); err != nil {
			m.log.Warn("mesh join failed", "from", p.From, "error", err)
		}
		return
	}
	if state != StateIdle && state != StateEnded {
		m.log.Debug("incoming call while busy ignored", "from", p.From)
		return
	}

	m.mu.Lock()
	m.invite = &incomingInvite{from: p.From, offer: p.Offer}
	m.mu.Unlock()
	m.setState(StateIncoming)
}

func (m *Manager) handleAnswered(p signal.CallAnsweredPayload) {
	link, ok := m.peers.Link(p.From)
	if !ok {
		m.log.Warn("answer from unknown peer", "from", p.From)
		return
	}

	var remote webrtc.SessionDescription
	if err := json.Unmarshal(p.Answer, &remote); err != nil {
		m.log.Warn("bad answer payload", "from", p.From, "error", err)
		return
	}
	if err := link.SetRemoteDescription(remote); err != nil {
		m.log.Warn("answer not applied", "from", p.From, "error", err)
		return
	}
	m.setState(StateConnected)
}

// handleJoined dials the new member so the mesh stays complete. The new
// member sees a plain incoming-call and answers silently.
func (m *Manager) handleJoined(userID string) {
	if userID == m.selfID {
		return
	}
	if _, ok := m.peers.Link(userID); ok {
		return
	}

	offer, err := m.offerFor(userID)
	if err != nil {
		m.log.Warn("mesh offer failed", "to", userID, "error", err)
		return
	}
	if err := m.sig.Send(signal.TypeCallUser, signal.CallUser{
		ChatID:     m.chat(),
		From:       m.selfID,
		ReceiverID: userID,
		Offer:      offer,
	}); err != nil {
		m.log.Warn("mesh offer not sent", "to", userID, "error", err)
	}
}
