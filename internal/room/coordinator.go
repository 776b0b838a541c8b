package room

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/warasat/Chat-Application/internal/calllog"
	"github.com/warasat/Chat-Application/internal/models"
	"github.com/warasat/Chat-Application/internal/presence"
	"github.com/warasat/Chat-Application/internal/relay"
	"github.com/warasat/Chat-Application/internal/signal"
)

// missedCallContent is the message body rendered in chat history for an
// unanswered call. Clients match on it; do not change.
const missedCallContent = "Missed Audio Call"

// Sender is the slice of the relay the coordinator needs. *relay.Hub
// satisfies it.
type Sender interface {
	JoinRoom(roomID string, c *relay.Client)
	LeaveRoom(roomID, connID string)
	SendToConn(connID string, payload []byte) bool
	SendToUser(roomID, userID string, payload []byte) bool
	Broadcast(roomID string, payload []byte, exceptConnID string)
	FlushRoom(roomID string)
}

// CallRecorder persists call lifecycle events. Implementations must not
// block the signaling path on storage trouble.
type CallRecorder interface {
	Record(ev calllog.Event)
}

// PushSender delivers a notification to a user with no live connection.
type PushSender interface {
	Notify(userID, title, body string) error
}

// Coordinator owns every active call room and implements the relay's
// event handler. All room state is guarded by one mutex; signaling
// volume is low enough that finer locking buys nothing.
type Coordinator struct {
	wire     Sender
	registry *presence.Registry
	calls    CallRecorder
	push     PushSender
	timeout  time.Duration
	log      *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room

	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewCoordinator(wire Sender, registry *presence.Registry, calls CallRecorder, push PushSender, timeout time.Duration, log *slog.Logger) *Coordinator {
	return &Coordinator{
		wire:      wire,
		registry:  registry,
		calls:     calls,
		push:      push,
		timeout:   timeout,
		log:       log,
		rooms:     make(map[string]*Room),
		afterFunc: time.AfterFunc,
	}
}

func callRoomID(chatID string) string { return "call_" + chatID }

// HandleEvent dispatches one parsed signaling event from a connection.
func (c *Coordinator) HandleEvent(client *relay.Client, ev signal.Event) {
	switch ev := ev.(type) {
	case *signal.SetSession:
		c.setSession(client, ev)
	case *signal.CallUser:
		c.callUser(client, ev)
	case *signal.AnswerCall:
		c.answerCall(client, ev)
	case *signal.EndCall:
		c.endCall(client, ev)
	case *signal.ParticipantLeft:
		c.participantLeft(client, ev)
	case *signal.RejectCall:
		c.rejectCall(client, ev)
	case *signal.InviteToCall:
		c.inviteToCall(client, ev)
	case *signal.JoinCallRoom:
		c.joinCallRoom(client, ev)
	case *signal.CallIgnored:
		c.callIgnored(client, ev)
	case *signal.ICECandidate:
		c.iceCandidate(client, ev)
	case *signal.ScreenShare:
		c.screenShare(client, ev)
	default:
		c.log.Warn("unhandled event", "type", ev.EventType())
	}
}

// HandleDisconnect runs after a connection is gone: presence is cleared,
// the chat is told, and any call the user was in treats it as a leave.
func (c *Coordinator) HandleDisconnect(client *relay.Client) {
	userID := client.UserID()
	if userID == "" {
		return
	}
	chatID := client.ChatID()

	c.registry.Clear(userID, client.ID())
	if chatID != "" {
		c.wire.Broadcast(chatID, signal.Encode(signal.TypeUserStatus, signal.UserStatusPayload{
			UserID: userID,
			Status: "offline",
		}), client.ID())
	}

	c.mu.Lock()
	for _, r := range c.rooms {
		if r.isMember(userID) {
			c.leaveLocked(r, userID, client.ID())
		}
	}
	c.mu.Unlock()
}

// setSession binds a user identity to the connection, joins the chat's
// delivery rooms and announces presence.
func (c *Coordinator) setSession(client *relay.Client, ev *signal.SetSession) {
	client.SetSession(ev.SenderID, ev.ChatID)
	c.registry.Set(ev.SenderID, client.ID(), ev.ChatID)

	c.wire.JoinRoom(ev.ChatID, client)
	c.wire.JoinRoom(callRoomID(ev.ChatID), client)

	c.wire.Broadcast(ev.ChatID, signal.Encode(signal.TypeUserStatus, signal.UserStatusPayload{
		UserID: ev.SenderID,
		Status: "online",
	}), client.ID())

	c.wire.SendToConn(client.ID(), signal.Encode(signal.TypeSessionReady, map[string]any{
		"onlineUsers": c.registry.Snapshot(),
	}))

	c.log.Info("session set", "user_id", ev.SenderID, "chat_id", ev.ChatID, "conn_id", client.ID())
}

// callUser opens (or reuses) the chat's call room with the caller as
// host, rings the callee and arms the no-answer timer. An offline
// callee short-circuits: the miss is recorded immediately, no room and
// no timer. A dial to someone already in the room is mesh formation
// after a group join: the offer is relayed as-is, without ringing
// state, timer or records — the live call must stay untouched even if
// that one link never comes up.
func (c *Coordinator) callUser(client *relay.Client, ev *signal.CallUser) {
	callee, online := c.registry.Lookup(ev.ReceiverID)

	c.mu.Lock()
	if r, ok := c.rooms[ev.ChatID]; ok && r.isMember(ev.ReceiverID) {
		c.mu.Unlock()
		if online {
			c.wire.SendToConn(callee.ConnID, signal.Encode(signal.TypeIncomingCall, signal.IncomingCallPayload{
				From:     ev.From,
				Offer:    ev.Offer,
				IsOnline: true,
			}))
		}
		c.log.Debug("mesh offer relayed", "chat_id", ev.ChatID, "from", ev.From, "to", ev.ReceiverID)
		return
	}
	c.mu.Unlock()

	if !online {
		c.wire.SendToConn(client.ID(), signal.Encode(signal.TypeCallStatus, signal.CallStatusPayload{
			IsOnline: false,
		}))
		c.calls.Record(calllog.Event{
			ChatID:     ev.ChatID,
			From:       ev.From,
			ReceiverID: ev.ReceiverID,
			Type:       models.CallRecordMissed,
			Content:    missedCallContent,
		})
		c.notifyPush(ev.ReceiverID, "Missed call", missedCallContent)
		c.log.Info("call to offline user", "chat_id", ev.ChatID, "from", ev.From, "to", ev.ReceiverID)
		return
	}

	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok {
		r = newRoom(ev.ChatID, ev.From)
		c.rooms[ev.ChatID] = r
	}
	r.addMember(ev.From)
	r.ringing = ev.ReceiverID
	c.wire.JoinRoom(callRoomID(ev.ChatID), client)
	c.armTimerLocked(r, ev.From, ev.ReceiverID)
	c.mu.Unlock()

	c.wire.SendToConn(client.ID(), signal.Encode(signal.TypeCallStatus, signal.CallStatusPayload{
		IsOnline: true,
	}))
	c.wire.SendToConn(callee.ConnID, signal.Encode(signal.TypeIncomingCall, signal.IncomingCallPayload{
		From:        ev.From,
		Offer:       ev.Offer,
		PhoneNumber: ev.PhoneNumber,
		IsOnline:    true,
	}))

	c.log.Info("call started", "chat_id", ev.ChatID, "from", ev.From, "to", ev.ReceiverID, "offer_bytes", len(ev.Offer))
}

// answerCall admits the callee into the room, defuses the no-answer
// timer and forwards the answer to the caller.
func (c *Coordinator) answerCall(client *relay.Client, ev *signal.AnswerCall) {
	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok {
		c.mu.Unlock()
		// The call is already over; tell the answerer so its UI settles.
		c.wire.SendToConn(client.ID(), signal.Encode(signal.TypeCallEnded, signal.CallEndedPayload{
			Reason: signal.ReasonEnded,
		}))
		return
	}

	// An answer from an existing member resolves a mesh dial, not the
	// ring: no timer to defuse, no record to write.
	meshAnswer := r.isMember(ev.From)
	if !meshAnswer {
		c.clearTimerLocked(r)
		r.addMember(ev.From)
		if r.ringing == ev.From {
			r.ringing = ""
		}
		c.wire.JoinRoom(callRoomID(ev.ChatID), client)
	}

	target := ev.ReceiverID
	if target == "" {
		target = r.host
	}
	caller := r.host
	c.wire.SendToUser(callRoomID(ev.ChatID), target, signal.Encode(signal.TypeCallAnswered, signal.CallAnsweredPayload{
		Answer: ev.Answer,
		From:   ev.From,
	}))
	c.mu.Unlock()

	if meshAnswer {
		c.log.Debug("mesh answer relayed", "chat_id", ev.ChatID, "from", ev.From, "to", target)
		return
	}

	c.calls.Record(calllog.Event{
		ChatID:     ev.ChatID,
		From:       caller,
		ReceiverID: ev.From,
		Type:       models.CallRecordAccepted,
		Content:    "Audio Call",
	})

	c.log.Info("call answered", "chat_id", ev.ChatID, "from", ev.From, "answer_bytes", len(ev.Answer))
}

// endCall is the host's terminate switch: the room ends for everyone no
// matter how many members remain. A non-host sender degrades to a leave.
func (c *Coordinator) endCall(client *relay.Client, ev *signal.EndCall) {
	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if ev.From != r.host {
		if r.isMember(ev.From) {
			c.leaveLocked(r, ev.From, client.ID())
		}
		c.mu.Unlock()
		return
	}

	payload := signal.Encode(signal.TypeCallEnded, signal.CallEndedPayload{
		From:   ev.From,
		Reason: signal.ReasonEnded,
	})
	for _, member := range r.othersThan(ev.From) {
		c.wire.SendToUser(callRoomID(r.id), member, payload)
	}
	if r.ringing != "" {
		c.notifyConn(r.ringing, payload)
	}
	c.dropRoomLocked(r)
	c.mu.Unlock()

	c.log.Info("call ended by host", "chat_id", ev.ChatID, "host", ev.From)
}

// participantLeft removes one member and lets the room decide its fate:
// two or more remaining members keep talking, fewer ends the call.
func (c *Coordinator) participantLeft(client *relay.Client, ev *signal.ParticipantLeft) {
	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok || !r.isMember(ev.UserID) {
		c.mu.Unlock()
		return
	}
	c.leaveLocked(r, ev.UserID, client.ID())
	c.mu.Unlock()
}

// leaveLocked implements the shared leave path for participant-left and
// disconnects. Caller holds c.mu.
func (c *Coordinator) leaveLocked(r *Room, userID, connID string) {
	r.removeMember(userID)
	c.wire.LeaveRoom(callRoomID(r.id), connID)

	if r.size() >= 2 {
		payload := signal.Encode(signal.TypeUserLeft, signal.UserLeftPayload{From: userID})
		for _, member := range r.Members() {
			c.wire.SendToUser(callRoomID(r.id), member, payload)
		}
		c.log.Info("participant left", "chat_id", r.id, "user_id", userID, "remaining", r.size())
		return
	}

	payload := signal.Encode(signal.TypeCallEnded, signal.CallEndedPayload{
		From:   userID,
		Reason: signal.ReasonInsufficientParticipants,
	})
	for _, member := range r.Members() {
		c.wire.SendToUser(callRoomID(r.id), member, payload)
	}
	if r.ringing != "" && r.ringing != userID {
		c.notifyConn(r.ringing, payload)
	}
	c.dropRoomLocked(r)
	c.log.Info("call collapsed", "chat_id", r.id, "last_leaver", userID)
}

// rejectCall declines a ringing call: the caller hears the rejection and
// the call is torn down before any media was exchanged.
func (c *Coordinator) rejectCall(client *relay.Client, ev *signal.RejectCall) {
	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok {
		c.mu.Unlock()
		return
	}
	c.clearTimerLocked(r)
	caller := ev.To

	// The caller's live connection, not room membership: the rejection
	// must land even if the caller never entered the room.
	c.notifyConn(caller, signal.Encode(signal.TypeCallRejected, signal.CallRejectedPayload{
		From: ev.From,
	}))
	c.wire.SendToUser(callRoomID(ev.ChatID), caller, signal.Encode(signal.TypeCallEnded, signal.CallEndedPayload{
		From:   ev.From,
		Reason: signal.ReasonRejected,
	}))
	c.dropRoomLocked(r)
	c.mu.Unlock()

	c.calls.Record(calllog.Event{
		ChatID:     ev.ChatID,
		From:       caller,
		ReceiverID: ev.From,
		Type:       models.CallRecordRejected,
		Content:    "Declined Audio Call",
	})

	c.log.Info("call rejected", "chat_id", ev.ChatID, "by", ev.From)
}

// inviteToCall brings a third user toward an ongoing call over two
// independent channels: a live ping when the invitee is connected, and
// always a durable invite record so the invite survives until their
// next session. An offline invitee additionally gets a push.
func (c *Coordinator) inviteToCall(client *relay.Client, ev *signal.InviteToCall) {
	c.mu.Lock()
	_, ok := c.rooms[ev.ChatID]
	c.mu.Unlock()
	if !ok {
		c.log.Warn("invite for inactive call", "chat_id", ev.ChatID, "from", ev.From)
		return
	}

	c.calls.Record(calllog.Event{
		ChatID:     ev.ChatID,
		From:       ev.From,
		ReceiverID: ev.InvitedUserID,
		Type:       models.CallRecordInvite,
		Content:    fmt.Sprintf("call-invite:%s", ev.ChatID),
	})

	if entry, online := c.registry.Lookup(ev.InvitedUserID); online {
		c.wire.SendToConn(entry.ConnID, signal.Encode(signal.TypeCallInviteReceived, signal.CallInviteReceivedPayload{
			ChatID:   ev.ChatID,
			From:     ev.From,
			FromName: ev.FromName,
		}))
		return
	}
	c.notifyPush(ev.InvitedUserID, "Call invite", "You were invited to join a call")
}

// joinCallRoom admits an invitee into an ongoing call. Joining a call
// that has since ended yields call-ended rather than a ghost room.
func (c *Coordinator) joinCallRoom(client *relay.Client, ev *signal.JoinCallRoom) {
	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok {
		c.mu.Unlock()
		c.wire.SendToConn(client.ID(), signal.Encode(signal.TypeCallEnded, signal.CallEndedPayload{
			Reason: signal.ReasonEnded,
		}))
		return
	}

	r.addMember(ev.UserID)
	c.wire.JoinRoom(callRoomID(ev.ChatID), client)

	payload := signal.Encode(signal.TypeUserJoinedGroup, signal.UserJoinedGroupPayload{UserID: ev.UserID})
	for _, member := range r.othersThan(ev.UserID) {
		c.wire.SendToUser(callRoomID(ev.ChatID), member, payload)
	}
	c.mu.Unlock()

	c.log.Info("joined call", "chat_id", ev.ChatID, "user_id", ev.UserID)
}

// callIgnored forwards the silence notice to the caller and nothing
// else: the room, its timer and the eventual missed-call record are
// untouched.
func (c *Coordinator) callIgnored(client *relay.Client, ev *signal.CallIgnored) {
	c.notifyConn(ev.To, signal.Encode(signal.TypeCallIgnored, signal.CallIgnoredPayload{From: ev.From}))
}

// iceCandidate forwards a candidate to one member, or fans it out to
// everyone else when the sender did not target a peer.
func (c *Coordinator) iceCandidate(client *relay.Client, ev *signal.ICECandidate) {
	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug("ice for inactive call", "chat_id", ev.ChatID, "from", ev.From)
		return
	}

	payload := signal.Encode(signal.TypeICECandidate, signal.ICEForwardPayload{
		Candidate: ev.Candidate,
		From:      ev.From,
	})
	if ev.ToUserID != "" {
		c.wire.SendToUser(callRoomID(ev.ChatID), ev.ToUserID, payload)
	} else {
		for _, member := range r.othersThan(ev.From) {
			c.wire.SendToUser(callRoomID(ev.ChatID), member, payload)
		}
	}
	// Candidates may arrive for the ringing callee before they join.
	if ev.ToUserID == "" && r.ringing != "" && r.ringing != ev.From {
		c.notifyConn(r.ringing, payload)
	}
	c.mu.Unlock()
}

// screenShare relays a share start (with its renegotiation offer) or a
// share stop to the other members.
func (c *Coordinator) screenShare(client *relay.Client, ev *signal.ScreenShare) {
	c.mu.Lock()
	r, ok := c.rooms[ev.ChatID]
	if !ok {
		c.mu.Unlock()
		return
	}

	payload := signal.Encode(signal.TypeRemoteScreen, signal.RemoteScreenPayload{
		Offer:     ev.Offer,
		IsSharing: ev.IsSharing,
		From:      ev.From,
	})
	if ev.ToUserID != "" {
		c.wire.SendToUser(callRoomID(ev.ChatID), ev.ToUserID, payload)
	} else {
		for _, member := range r.othersThan(ev.From) {
			c.wire.SendToUser(callRoomID(ev.ChatID), member, payload)
		}
	}
	c.mu.Unlock()

	c.log.Info("screen share", "chat_id", ev.ChatID, "from", ev.From, "sharing", ev.IsSharing)
}

// armTimerLocked arms the room's single no-answer timer, replacing any
// previous one. Caller holds c.mu.
func (c *Coordinator) armTimerLocked(r *Room, caller, callee string) {
	c.clearTimerLocked(r)
	version := r.timerVersion
	roomID := r.id
	r.timer = c.afterFunc(c.timeout, func() {
		c.noAnswer(roomID, version, caller, callee)
	})
}

// clearTimerLocked stops a pending timer and bumps the version so an
// already-fired callback cannot act. Caller holds c.mu.
func (c *Coordinator) clearTimerLocked(r *Room) {
	r.timerVersion++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// noAnswer runs when the no-answer timer fires. A stale version means the
// call was answered, rejected or ended in the meantime.
func (c *Coordinator) noAnswer(roomID string, version uint64, caller, callee string) {
	c.mu.Lock()
	r, ok := c.rooms[roomID]
	if !ok || r.timerVersion != version {
		c.mu.Unlock()
		return
	}

	payload := signal.Encode(signal.TypeCallEnded, signal.CallEndedPayload{
		Reason: signal.ReasonNoAnswer,
	})
	for _, member := range r.Members() {
		c.wire.SendToUser(callRoomID(roomID), member, payload)
	}
	calleeEntry, calleeOnline := c.registry.Lookup(callee)
	if calleeOnline {
		c.wire.SendToConn(calleeEntry.ConnID, payload)
	}
	c.dropRoomLocked(r)
	c.mu.Unlock()

	c.calls.Record(calllog.Event{
		ChatID:     roomID,
		From:       caller,
		ReceiverID: callee,
		Type:       models.CallRecordMissed,
		Content:    missedCallContent,
	})
	if !calleeOnline {
		c.notifyPush(callee, "Missed call", missedCallContent)
	}

	c.log.Info("call not answered", "chat_id", roomID, "from", caller, "to", callee)
}

// dropRoomLocked removes the room and clears relay membership. Caller
// holds c.mu.
func (c *Coordinator) dropRoomLocked(r *Room) {
	c.clearTimerLocked(r)
	delete(c.rooms, r.id)
	c.wire.FlushRoom(callRoomID(r.id))
}

// notifyConn delivers to a user's live connection wherever it is, room
// membership or not.
func (c *Coordinator) notifyConn(userID string, payload []byte) {
	if entry, ok := c.registry.Lookup(userID); ok {
		c.wire.SendToConn(entry.ConnID, payload)
	}
}

func (c *Coordinator) notifyPush(userID, title, body string) {
	if c.push == nil {
		return
	}
	if err := c.push.Notify(userID, title, body); err != nil {
		c.log.Warn("push not delivered", "user_id", userID, "error", err)
	}
}

// RoomSnapshot reports the members of an active call, for the HTTP
// surface and tests.
func (c *Coordinator) RoomSnapshot(chatID string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[chatID]
	if !ok {
		return nil, false
	}
	return r.Members(), true
}
