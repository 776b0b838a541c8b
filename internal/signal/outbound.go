package signal

import (
	"encoding/json"
	"time"
)

// Outbound payloads. Field names are part of the public event surface.

type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type IncomingCallPayload struct {
	From        string          `json:"from"`
	Offer       json.RawMessage `json:"offer"`
	PhoneNumber string          `json:"phoneNumber,omitempty"`
	IsOnline    bool            `json:"isOnline"`
}

type CallStatusPayload struct {
	IsOnline bool `json:"isOnline"`
}

type CallAnsweredPayload struct {
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

type CallRejectedPayload struct {
	From string `json:"from"`
}

type CallEndedPayload struct {
	From   string `json:"from,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type UserLeftPayload struct {
	From string `json:"from"`
}

type UserJoinedGroupPayload struct {
	UserID string `json:"userId"`
}

type CallInviteReceivedPayload struct {
	ChatID   string `json:"chatId"`
	From     string `json:"from"`
	FromName string `json:"fromName,omitempty"`
}

type CallIgnoredPayload struct {
	From string `json:"from"`
}

type ICEForwardPayload struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

type RemoteScreenPayload struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	IsSharing bool            `json:"isSharing"`
	From      string          `json:"from,omitempty"`
}

type ReceiveMessagePayload struct {
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id"`
	ReceiverID  string    `json:"receiver_id"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	MessageTime time.Time `json:"message_time"`
}
