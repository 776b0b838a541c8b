// Package signal defines the signaling event surface shared by the
// server and the client SDK: one envelope format, one typed payload per
// event name, and required-field validation at the boundary.
package signal

import "encoding/json"

// Envelope is the wire format of every signaling message in both
// directions. Data is kept raw so SDP and candidate blobs pass through
// untouched.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	TypeSetSession      = "set_session"
	TypeCallUser        = "call-user"
	TypeAnswerCall      = "answer-call"
	TypeEndCall         = "end-call"
	TypeParticipantLeft = "participant-left"
	TypeRejectCall      = "reject-call"
	TypeInviteToCall    = "invite-to-call"
	TypeJoinCallRoom    = "join-call-room"
	TypeCallIgnored     = "call-ignored"
	TypeICECandidate    = "ice-candidate"
	TypeScreenShare     = "screen-sharing-signal"
)

// Outbound event names.
const (
	TypeSessionReady       = "session_ready"
	TypeUserStatus         = "user_status"
	TypeIncomingCall       = "incoming-call"
	TypeCallStatus         = "call-status"
	TypeCallAnswered       = "call-answered"
	TypeCallRejected       = "call-rejected"
	TypeCallEnded          = "call-ended"
	TypeUserLeft           = "user-left"
	TypeUserJoinedGroup    = "user-joined-group"
	TypeCallInviteReceived = "call-invite-received"
	TypeRemoteScreen       = "remote-screen-signal"
	TypeReceiveMessage     = "receive_message"
)

// Call-ended reasons. Stable strings; clients branch on them.
const (
	ReasonNoAnswer                 = "no-answer"
	ReasonRejected                 = "rejected"
	ReasonInsufficientParticipants = "insufficient-participants"
	ReasonEnded                    = "ended"
)

// Event is implemented by every inbound payload type.
type Event interface {
	EventType() string
}

type SetSession struct {
	SenderID string `json:"senderId" validate:"required"`
	ChatID   string `json:"chatId" validate:"required"`
}

func (SetSession) EventType() string { return TypeSetSession }

type CallUser struct {
	ChatID      string          `json:"chatId" validate:"required"`
	From        string          `json:"from" validate:"required"`
	ReceiverID  string          `json:"receiverId" validate:"required"`
	Offer       json.RawMessage `json:"offer" validate:"required"`
	PhoneNumber string          `json:"phoneNumber"`
}

func (CallUser) EventType() string { return TypeCallUser }

type AnswerCall struct {
	ChatID     string          `json:"chatId" validate:"required"`
	Answer     json.RawMessage `json:"answer" validate:"required"`
	From       string          `json:"from" validate:"required"`
	ReceiverID string          `json:"receiverId"`
}

func (AnswerCall) EventType() string { return TypeAnswerCall }

// EndCall is the host-issued terminate: it unconditionally ends the call
// for every member of the room.
type EndCall struct {
	ChatID string `json:"chatId" validate:"required"`
	From   string `json:"from" validate:"required"`
}

func (EndCall) EventType() string { return TypeEndCall }

// ParticipantLeft is a non-destructive leave; the server decides whether
// the call survives based on remaining membership.
type ParticipantLeft struct {
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

func (ParticipantLeft) EventType() string { return TypeParticipantLeft }

type RejectCall struct {
	ChatID string `json:"chatId" validate:"required"`
	To     string `json:"to" validate:"required"`
	From   string `json:"from" validate:"required"`
}

func (RejectCall) EventType() string { return TypeRejectCall }

type InviteToCall struct {
	ChatID        string `json:"chatId" validate:"required"`
	InvitedUserID string `json:"invitedUserId" validate:"required"`
	From          string `json:"from" validate:"required"`
	FromName      string `json:"fromName"`
}

func (InviteToCall) EventType() string { return TypeInviteToCall }

type JoinCallRoom struct {
	ChatID string `json:"chatId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

func (JoinCallRoom) EventType() string { return TypeJoinCallRoom }

type CallIgnored struct {
	ChatID string `json:"chatId" validate:"required"`
	To     string `json:"to" validate:"required"`
	From   string `json:"from" validate:"required"`
}

func (CallIgnored) EventType() string { return TypeCallIgnored }

type ICECandidate struct {
	ChatID    string          `json:"chatId" validate:"required"`
	Candidate json.RawMessage `json:"candidate" validate:"required"`
	From      string          `json:"from" validate:"required"`
	ToUserID  string          `json:"toUserId"`
}

func (ICECandidate) EventType() string { return TypeICECandidate }

type ScreenShare struct {
	ChatID    string          `json:"chatId" validate:"required"`
	Offer     json.RawMessage `json:"offer"`
	IsSharing bool            `json:"isSharing"`
	From      string          `json:"from"`
	ToUserID  string          `json:"toUserId"`
}

func (ScreenShare) EventType() string { return TypeScreenShare }
