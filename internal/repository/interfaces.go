package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rwandacancerrelief/notify-api/internal/model"
)

// All repository interfaces in one file
type (
	// NotificationRepository owns the pending-notification table. Claim,
	// MarkSent and RecordFailure are the conditional updates the dispatch
	// runner relies on so two concurrent runs never double-deliver a row.
	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		Get(ctx context.Context, id uuid.UUID) (*model.Notification, error)
		List(ctx context.Context, filters *model.NotificationFilters) ([]*model.Notification, error)
		// PendingExists reports whether a pending row with the same
		// recipient, kind and subject already exists.
		PendingExists(ctx context.Context, recipientID uuid.UUID, kind model.NotificationKind, subjectID string) (bool, error)
		// ClaimDue atomically transitions up to limit due pending rows to
		// dispatching, oldest scheduled_for first, and returns them.
		ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.Notification, error)
		// ReclaimStale returns dispatching rows claimed before the cutoff
		// to pending.
		ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
		// Release returns specific dispatching rows to pending without
		// touching attempts.
		Release(ctx context.Context, ids []uuid.UUID) error
		// MarkSent transitions dispatching -> sent. No-op if the row left
		// dispatching in the meantime.
		MarkSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
		// RecordFailure increments attempts, stores the error, and either
		// releases the row to pending or marks it failed when attempts
		// reached the cap.
		RecordFailure(ctx context.Context, id uuid.UUID, deliveryErr string, terminal bool) error
	}

	// ReminderMarkerRepository guards reminder seeding idempotency.
	ReminderMarkerRepository interface {
		Exists(ctx context.Context, sessionID uuid.UUID) (bool, error)
		Create(ctx context.Context, sessionID uuid.UUID) error
	}

	// SessionRepository reads scheduled counseling sessions.
	SessionRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
		// ListUpcomingWithoutReminder returns confirmed sessions starting
		// within [from, to] that have no reminder marker yet.
		ListUpcomingWithoutReminder(ctx context.Context, from, to time.Time) ([]*model.Session, error)
	}

	// ChatRepository resolves messages and chat participants.
	ChatRepository interface {
		GetMessage(ctx context.Context, id uuid.UUID) (*model.ChatMessage, error)
		GetParticipants(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error)
	}

	// UserRepository reads recipient accounts.
	UserRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
	}
)
