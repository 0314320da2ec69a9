package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/internal/repository"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}
	if n.Payload == nil {
		return fmt.Errorf("notification payload cannot be nil")
	}

	query := `
		INSERT INTO notifications (
			id, recipient_id, kind, subject_id, payload, channel,
			scheduled_for, status, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.Status = model.NotificationStatusPending
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		n.ID,
		n.RecipientID,
		n.Kind,
		n.SubjectID,
		n.Payload,
		n.Channel,
		n.ScheduledFor,
		n.Status,
		n.Attempts,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) Get(ctx context.Context, id uuid.UUID) (*model.Notification, error) {
	query := `
		SELECT id, recipient_id, kind, subject_id, payload, channel,
			   scheduled_for, status, attempts, last_error, claimed_at,
			   sent_at, created_at, updated_at
		FROM notifications
		WHERE id = $1
	`
	var n model.Notification
	err := r.db.GetContext(ctx, &n, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, filters *model.NotificationFilters) ([]*model.Notification, error) {
	query := `
		SELECT id, recipient_id, kind, subject_id, payload, channel,
			   scheduled_for, status, attempts, last_error, claimed_at,
			   sent_at, created_at, updated_at
		FROM notifications
		WHERE 1=1
	`
	args := []interface{}{}
	argCount := 1

	if filters.RecipientID != uuid.Nil {
		query += fmt.Sprintf(" AND recipient_id = $%d", argCount)
		args = append(args, filters.RecipientID)
		argCount++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, filters.Status)
		argCount++
	}
	if filters.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argCount)
		args = append(args, filters.Kind)
		argCount++
	}

	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filters.Limit)
	}

	var notifications []*model.Notification
	err := r.db.SelectContext(ctx, &notifications, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (r *notificationRepository) PendingExists(ctx context.Context, recipientID uuid.UUID, kind model.NotificationKind, subjectID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notifications
			WHERE recipient_id = $1
			AND kind = $2
			AND subject_id = $3
			AND status = $4
		)
	`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, recipientID, kind, subjectID, model.NotificationStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to check pending notification: %w", err)
	}
	return exists, nil
}

// ClaimDue selects due pending rows with a row lock, marks them
// dispatching and returns them. SKIP LOCKED keeps concurrent runners off
// each other's claims.
func (r *notificationRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	var claimed []*model.Notification
	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		selectQuery := `
			SELECT id, recipient_id, kind, subject_id, payload, channel,
				   scheduled_for, status, attempts, last_error, claimed_at,
				   sent_at, created_at, updated_at
			FROM notifications
			WHERE status = $1
			AND scheduled_for <= $2
			ORDER BY scheduled_for ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $3
		`
		if err := tx.SelectContext(ctx, &claimed, selectQuery, model.NotificationStatusPending, now, limit); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(claimed))
		for i, n := range claimed {
			ids[i] = n.ID
		}

		updateQuery, args, err := sqlx.In(`
			UPDATE notifications
			SET status = ?, claimed_at = ?, updated_at = ?
			WHERE id IN (?)
		`, model.NotificationStatusDispatching, now, now, ids)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(updateQuery), args...); err != nil {
			return err
		}

		for _, n := range claimed {
			n.Status = model.NotificationStatusDispatching
			claimedAt := now
			n.ClaimedAt = &claimedAt
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim due notifications: %w", err)
	}
	return claimed, nil
}

func (r *notificationRepository) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET status = $1, claimed_at = NULL, updated_at = NOW()
		WHERE status = $2
		AND claimed_at < $3
	`
	result, err := r.db.ExecContext(ctx, query,
		model.NotificationStatusPending,
		model.NotificationStatusDispatching,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale notifications: %w", err)
	}
	return result.RowsAffected()
}

func (r *notificationRepository) Release(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE notifications
		SET status = ?, claimed_at = NULL, updated_at = NOW()
		WHERE id IN (?)
		AND status = ?
	`, model.NotificationStatusPending, ids, model.NotificationStatusDispatching)
	if err != nil {
		return fmt.Errorf("failed to build release query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to release notifications: %w", err)
	}
	return nil
}

func (r *notificationRepository) MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = $1, sent_at = $2, claimed_at = NULL, updated_at = NOW()
		WHERE id = $3
		AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query,
		model.NotificationStatusSent,
		sentAt,
		id,
		model.NotificationStatusDispatching,
	)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

func (r *notificationRepository) RecordFailure(ctx context.Context, id uuid.UUID, deliveryErr string, terminal bool) error {
	status := model.NotificationStatusPending
	if terminal {
		status = model.NotificationStatusFailed
	}

	query := `
		UPDATE notifications
		SET status = $1, attempts = attempts + 1, last_error = $2,
			claimed_at = NULL, updated_at = NOW()
		WHERE id = $3
		AND status = $4
	`
	_, err := r.db.ExecContext(ctx, query,
		status,
		deliveryErr,
		id,
		model.NotificationStatusDispatching,
	)
	if err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}
	return nil
}
