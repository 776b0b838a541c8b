// Package calllog durably records call lifecycle events as immutable chat
// records. It sits outside the signaling path: a persistence failure is
// logged and swallowed, never surfaced to a handler.
package calllog

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/warasat/Chat-Application/internal/models"
	"github.com/warasat/Chat-Application/internal/signal"
)

// RoomNotifier lets the logger mirror a freshly stored record to the live
// chat room so open conversations render it immediately.
type RoomNotifier interface {
	Broadcast(roomID string, payload []byte, exceptConnID string)
}

// Event is the persistence collaborator contract: one immutable record
// appended per call lifecycle event.
type Event struct {
	ChatID     string
	From       string
	ReceiverID string
	Type       models.CallRecordType
	Content    string
}

type Logger struct {
	db       *gorm.DB
	notifier RoomNotifier
	log      *slog.Logger
}

func New(db *gorm.DB, notifier RoomNotifier, log *slog.Logger) *Logger {
	return &Logger{db: db, notifier: notifier, log: log}
}

// Record appends one call event to the chat history and mirrors it to the
// live room. It has no error return on purpose: call sites run on the
// signaling path and must not block or abort on storage trouble.
// At-most-once; there is no retry queue.
func (l *Logger) Record(ev Event) {
	record := models.CallRecord{
		ChatID:     ev.ChatID,
		SenderID:   ev.From,
		ReceiverID: ev.ReceiverID,
		Type:       ev.Type,
		Content:    ev.Content,
	}

	if err := l.db.Create(&record).Error; err != nil {
		l.log.Error("call event not persisted",
			"chat_id", ev.ChatID, "type", ev.Type, "error", err)
		return
	}

	if l.notifier == nil {
		return
	}
	msg := signal.Encode(signal.TypeReceiveMessage, signal.ReceiveMessagePayload{
		ChatID:      record.ChatID,
		SenderID:    record.SenderID,
		ReceiverID:  record.ReceiverID,
		Content:     record.Content,
		Type:        string(record.Type),
		MessageTime: record.CreatedAt,
	})
	l.notifier.Broadcast(ev.ChatID, msg, "")
}

// History returns the stored call records for one chat, oldest first.
func (l *Logger) History(chatID string, limit int) ([]models.CallRecord, error) {
	var records []models.CallRecord
	q := l.db.Where("chat_id = ?", chatID).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
