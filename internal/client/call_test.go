package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warasat/Chat-Application/internal/signal"
)

// fakeSignaler records outbound events and lets tests inject inbound
// envelopes.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []signal.Envelope
	ch   chan signal.Envelope
}

func newFakeSignaler() *fakeSignaler {
	return &fakeSignaler{ch: make(chan signal.Envelope, 32)}
}

func (f *fakeSignaler) Send(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, signal.Envelope{Type: eventType, Data: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeSignaler) Subscribe() (chan signal.Envelope, func()) {
	return f.ch, func() {}
}

func (f *fakeSignaler) Close() error { return nil }

func (f *fakeSignaler) push(t *testing.T, eventType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	f.ch <- signal.Envelope{Type: eventType, Data: data}
}

func (f *fakeSignaler) sentTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.sent))
	for i, env := range f.sent {
		types[i] = env.Type
	}
	return types
}

func (f *fakeSignaler) lastOfType(t *testing.T, eventType string, out any) bool {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Type == eventType {
			require.NoError(t, json.Unmarshal(f.sent[i].Data, out))
			return true
		}
	}
	return false
}

func newTestManager(t *testing.T, ff *fakeFactory) (*Manager, *fakeSignaler) {
	t.Helper()
	sig := newFakeSignaler()
	m, err := NewManager(sig, "alice", "chat-1", ff.factory(), slog.New(slog.DiscardHandler), Options{})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, sig
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.State() == want
	}, time.Second, 5*time.Millisecond, "state never reached %s (now %s)", want, m.State())
}

func rawAnswer(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0\r\n"})
	require.NoError(t, err)
	return raw
}

func rawRemoteOffer(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"})
	require.NoError(t, err)
	return raw
}

func TestManagerAnnouncesSession(t *testing.T) {
	_, sig := newTestManager(t, newFakeFactory())

	var session signal.SetSession
	require.True(t, sig.lastOfType(t, signal.TypeSetSession, &session))
	assert.Equal(t, "alice", session.SenderID)
	assert.Equal(t, "chat-1", session.ChatID)
}

func TestOutgoingCallLifecycle(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	require.NoError(t, m.StartCall("bob", "+1555"))
	assert.Equal(t, StateOutgoingCalling, m.State())

	var call signal.CallUser
	require.True(t, sig.lastOfType(t, signal.TypeCallUser, &call))
	assert.Equal(t, "bob", call.ReceiverID)
	assert.NotEmpty(t, call.Offer)

	sig.push(t, signal.TypeCallStatus, signal.CallStatusPayload{IsOnline: true})
	waitState(t, m, StateOutgoingRinging)

	sig.push(t, signal.TypeCallAnswered, signal.CallAnsweredPayload{Answer: rawAnswer(t), From: "bob"})
	waitState(t, m, StateConnected)
}

func TestSecondStartCallWhileBusyFails(t *testing.T) {
	m, _ := newTestManager(t, newFakeFactory())

	require.NoError(t, m.StartCall("bob", ""))
	assert.ErrorIs(t, m.StartCall("carol", ""), ErrBusy)
}

func TestCaptureFailureAbortsBeforeSignaling(t *testing.T) {
	ff := newFakeFactory()
	ff.err = errors.New("no microphone")
	m, sig := newTestManager(t, ff)

	err := m.StartCall("bob", "")
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.NotContains(t, sig.sentTypes(), signal.TypeCallUser)
}

func TestIncomingAnswerFlow(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	sig.push(t, signal.TypeIncomingCall, signal.IncomingCallPayload{From: "bob", Offer: rawRemoteOffer(t), IsOnline: true})
	waitState(t, m, StateIncoming)

	require.NoError(t, m.Answer())
	assert.Equal(t, StateConnected, m.State())

	var answer signal.AnswerCall
	require.True(t, sig.lastOfType(t, signal.TypeAnswerCall, &answer))
	assert.Equal(t, "bob", answer.ReceiverID)
	assert.NotEmpty(t, answer.Answer)
}

func TestRejectReturnsToIdle(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	sig.push(t, signal.TypeIncomingCall, signal.IncomingCallPayload{From: "bob", Offer: rawRemoteOffer(t)})
	waitState(t, m, StateIncoming)

	require.NoError(t, m.Reject())
	assert.Equal(t, StateIdle, m.State())

	var reject signal.RejectCall
	require.True(t, sig.lastOfType(t, signal.TypeRejectCall, &reject))
	assert.Equal(t, "bob", reject.To)
}

func TestIgnoreSilencesLocally(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	sig.push(t, signal.TypeIncomingCall, signal.IncomingCallPayload{From: "bob", Offer: rawRemoteOffer(t)})
	waitState(t, m, StateIncoming)

	require.NoError(t, m.Ignore())
	assert.Equal(t, StateIdle, m.State())
	assert.Contains(t, sig.sentTypes(), signal.TypeCallIgnored)
}

func TestConnectedClientMeshesSilently(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	sig.push(t, signal.TypeIncomingCall, signal.IncomingCallPayload{From: "bob", Offer: rawRemoteOffer(t)})
	waitState(t, m, StateIncoming)
	require.NoError(t, m.Answer())

	// A further incoming-call while connected is a mesh link from a new
	// group member: answered silently, no ringing state.
	sig.push(t, signal.TypeIncomingCall, signal.IncomingCallPayload{From: "carol", Offer: rawRemoteOffer(t)})

	require.Eventually(t, func() bool {
		var answer signal.AnswerCall
		return sig.lastOfType(t, signal.TypeAnswerCall, &answer) && answer.ReceiverID == "carol"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, m.State())
}

func TestUserJoinedTriggersMeshOffer(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	sig.push(t, signal.TypeIncomingCall, signal.IncomingCallPayload{From: "bob", Offer: rawRemoteOffer(t)})
	waitState(t, m, StateIncoming)
	require.NoError(t, m.Answer())

	sig.push(t, signal.TypeUserJoinedGroup, signal.UserJoinedGroupPayload{UserID: "dave"})

	require.Eventually(t, func() bool {
		var call signal.CallUser
		return sig.lastOfType(t, signal.TypeCallUser, &call) && call.ReceiverID == "dave"
	}, time.Second, 5*time.Millisecond)
}

func TestJoinRoomConcurrentWithMeshDispatch(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	sig.push(t, signal.TypeIncomingCall, signal.IncomingCallPayload{From: "bob", Offer: rawRemoteOffer(t)})
	waitState(t, m, StateIncoming)
	require.NoError(t, m.Answer())

	// JoinRoom retargets the chat while the dispatch goroutine sends
	// mesh offers that read it; both must go through the same lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			assert.NoError(t, m.JoinRoom(fmt.Sprintf("chat-%d", i)))
		}
	}()
	for i := 0; i < 50; i++ {
		sig.push(t, signal.TypeUserJoinedGroup, signal.UserJoinedGroupPayload{UserID: fmt.Sprintf("peer-%d", i)})
	}
	<-done

	require.Eventually(t, func() bool {
		var call signal.CallUser
		return sig.lastOfType(t, signal.TypeCallUser, &call) && call.ChatID != ""
	}, time.Second, 5*time.Millisecond)
}

func TestCallEndedTearsDownMesh(t *testing.T) {
	ff := newFakeFactory()
	m, sig := newTestManager(t, ff)

	require.NoError(t, m.StartCall("bob", ""))
	sig.push(t, signal.TypeCallAnswered, signal.CallAnsweredPayload{Answer: rawAnswer(t), From: "bob"})
	waitState(t, m, StateConnected)

	sig.push(t, signal.TypeCallEnded, signal.CallEndedPayload{Reason: signal.ReasonEnded})
	waitState(t, m, StateEnded)

	assert.Empty(t, m.peers.Peers())
	assert.True(t, ff.pcs["bob"].closed)
}

func TestIceForUnknownPeerIsIgnored(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	raw, err := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:0"})
	require.NoError(t, err)
	sig.push(t, signal.TypeICECandidate, signal.ICEForwardPayload{Candidate: raw, From: "ghost"})

	// Nothing to assert beyond "no crash, no state change".
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateIdle, m.State())
}

func TestLeaveAndEndSendAndTearDown(t *testing.T) {
	m, sig := newTestManager(t, newFakeFactory())

	require.NoError(t, m.StartCall("bob", ""))
	sig.push(t, signal.TypeCallAnswered, signal.CallAnsweredPayload{Answer: rawAnswer(t), From: "bob"})
	waitState(t, m, StateConnected)

	require.NoError(t, m.Leave())
	assert.Equal(t, StateEnded, m.State())
	assert.Contains(t, sig.sentTypes(), signal.TypeParticipantLeft)
}
