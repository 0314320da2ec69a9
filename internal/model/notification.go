package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending     NotificationStatus = "pending"
	NotificationStatusDispatching NotificationStatus = "dispatching"
	NotificationStatusSent        NotificationStatus = "sent"
	NotificationStatusFailed      NotificationStatus = "failed"
)

type NotificationKind string

const (
	NotificationKindMessage           NotificationKind = "message"
	NotificationKindPatientAssignment NotificationKind = "patient_assignment"
	NotificationKindSessionReminder   NotificationKind = "session_reminder"
)

type DeliveryChannel string

const (
	ChannelEmail DeliveryChannel = "email"
	ChannelInApp DeliveryChannel = "in_app"
)

// Notification is a persisted notification owed to a recipient. Rows are
// created by the enqueue and reminder services; only the dispatch runner
// mutates status, attempts and claim fields.
type Notification struct {
	ID           uuid.UUID          `db:"id" json:"id"`
	RecipientID  uuid.UUID          `db:"recipient_id" json:"recipient_id"`
	Kind         NotificationKind   `db:"kind" json:"kind"`
	SubjectID    string             `db:"subject_id" json:"subject_id"`
	Payload      json.RawMessage    `db:"payload" json:"payload"`
	Channel      DeliveryChannel    `db:"channel" json:"channel"`
	ScheduledFor time.Time          `db:"scheduled_for" json:"scheduled_for"`
	Status       NotificationStatus `db:"status" json:"status"`
	Attempts     int                `db:"attempts" json:"attempts"`
	LastError    *string            `db:"last_error" json:"last_error,omitempty"`
	ClaimedAt    *time.Time         `db:"claimed_at" json:"claimed_at,omitempty"`
	SentAt       *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt    time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at" json:"updated_at"`
}

type MessagePayload struct {
	ChatID     string `json:"chat_id"`
	SenderName string `json:"sender_name"`
	Snippet    string `json:"snippet"`
}

type PatientAssignmentPayload struct {
	PatientID     string  `json:"patient_id"`
	PatientName   string  `json:"patient_name"`
	CounselorID   string  `json:"counselor_id"`
	CounselorName string  `json:"counselor_name"`
	AssignedBy    *string `json:"assigned_by,omitempty"`
}

type SessionReminderPayload struct {
	SessionID       string    `json:"session_id"`
	SessionStart    time.Time `json:"session_start"`
	CounterpartName string    `json:"counterpart_name"`
}

// SessionReminderMarker records that reminders were already seeded for a
// session, so repeated seeding runs stay idempotent.
type SessionReminderMarker struct {
	SessionID uuid.UUID `db:"session_id" json:"session_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type NotificationFilters struct {
	RecipientID uuid.UUID
	Status      NotificationStatus
	Kind        NotificationKind
	Limit       int
}
