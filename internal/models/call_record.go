package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CallRecordType is the kind of call lifecycle record stored in a chat's
// message history. Keep values stable because clients render on them.
type CallRecordType string

const (
	CallRecordMissed   CallRecordType = "missed_call"
	CallRecordAccepted CallRecordType = "call_accepted"
	CallRecordRejected CallRecordType = "call_rejected"
	CallRecordInvite   CallRecordType = "call_invite"
)

// CallRecord is one immutable call lifecycle event appended to a chat.
// Rows are never updated after insert.
type CallRecord struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID     string         `gorm:"type:varchar(64);not null;index" json:"chat_id"`
	SenderID   string         `gorm:"type:varchar(36);not null" json:"sender_id"`
	ReceiverID string         `gorm:"type:varchar(36);not null" json:"receiver_id"`
	Type       CallRecordType `gorm:"type:varchar(20);not null" json:"type"`
	Content    string         `gorm:"type:text" json:"content"`
	CreatedAt  time.Time      `json:"message_time"`
}

func (r *CallRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}
