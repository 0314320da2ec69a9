package model

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is a message in a patient/counselor chat, read back to
// resolve the sender and build the notification snippet.
type ChatMessage struct {
	ID        uuid.UUID `db:"id" json:"id"`
	ChatID    uuid.UUID `db:"chat_id" json:"chat_id"`
	SenderID  uuid.UUID `db:"sender_id" json:"sender_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
