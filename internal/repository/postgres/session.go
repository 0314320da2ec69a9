package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/internal/repository"
)

type sessionRepository struct {
	BaseRepository
}

func NewSessionRepository(base BaseRepository) repository.SessionRepository {
	return &sessionRepository{base}
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	query := `
		SELECT id, patient_id, counselor_id, start_time, end_time,
			   status, notes, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`
	var session model.Session
	err := r.db.GetContext(ctx, &session, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (r *sessionRepository) ListUpcomingWithoutReminder(ctx context.Context, from, to time.Time) ([]*model.Session, error) {
	query := `
		SELECT s.id, s.patient_id, s.counselor_id, s.start_time, s.end_time,
			   s.status, s.notes, s.created_at, s.updated_at
		FROM sessions s
		LEFT JOIN session_reminder_markers m ON m.session_id = s.id
		WHERE s.status = $1
		AND s.start_time >= $2
		AND s.start_time <= $3
		AND m.session_id IS NULL
		ORDER BY s.start_time ASC
	`
	var sessions []*model.Session
	err := r.db.SelectContext(ctx, &sessions, query, model.SessionStatusConfirmed, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming sessions: %w", err)
	}
	return sessions, nil
}

type reminderMarkerRepository struct {
	BaseRepository
}

func NewReminderMarkerRepository(base BaseRepository) repository.ReminderMarkerRepository {
	return &reminderMarkerRepository{base}
}

func (r *reminderMarkerRepository) Exists(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM session_reminder_markers
			WHERE session_id = $1
		)
	`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("failed to check reminder marker: %w", err)
	}
	return exists, nil
}

func (r *reminderMarkerRepository) Create(ctx context.Context, sessionID uuid.UUID) error {
	query := `
		INSERT INTO session_reminder_markers (session_id, created_at)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, sessionID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create reminder marker: %w", err)
	}
	return nil
}
