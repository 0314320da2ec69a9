package model

import "time"

// Domain event requests accepted by the ingestion endpoints. Events are
// transient: consumed immediately by the enqueue/reminder services, never
// persisted.

type MessageEventRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

type PatientAssignmentEventRequest struct {
	PatientID   string  `json:"patientId" binding:"required"`
	CounselorID string  `json:"counselorId" binding:"required"`
	AssignedBy  *string `json:"assignedBy"`
}

type SessionEventRequest struct {
	SessionID string `json:"sessionId" binding:"required"`
}

// DispatchResult summarizes one dispatch run.
type DispatchResult struct {
	Dispatched int       `json:"dispatched"`
	Failed     int       `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}
