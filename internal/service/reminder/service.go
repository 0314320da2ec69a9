package reminder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/internal/repository"
	apperrors "github.com/rwandacancerrelief/notify-api/pkg/errors"
	"github.com/rwandacancerrelief/notify-api/pkg/logger"
	"github.com/rwandacancerrelief/notify-api/pkg/metrics"
)

const (
	// Sessions starting within this window get their reminders seeded.
	LookaheadWindow = 48 * time.Hour
	// Reminders become due this long before the session starts.
	ReminderLeadTime = time.Hour
)

// Service seeds session-reminder notifications ahead of confirmed
// counseling sessions. Seeding is idempotent per session: a marker row is
// written after the reminders and checked before any new ones.
type Service interface {
	SeedUpcomingSessionReminders(ctx context.Context) (int, error)
	EnsureSessionReminder(ctx context.Context, sessionID string) error
}

type service struct {
	notifications repository.NotificationRepository
	markers       repository.ReminderMarkerRepository
	sessions      repository.SessionRepository
	users         repository.UserRepository
	metrics       *metrics.Metrics
	logger        *logger.Logger
	now           func() time.Time
}

func NewService(
	notifications repository.NotificationRepository,
	markers repository.ReminderMarkerRepository,
	sessions repository.SessionRepository,
	users repository.UserRepository,
	m *metrics.Metrics,
	l *logger.Logger,
) Service {
	return &service{
		notifications: notifications,
		markers:       markers,
		sessions:      sessions,
		users:         users,
		metrics:       m,
		logger:        l,
		now:           time.Now,
	}
}

// SeedUpcomingSessionReminders scans confirmed sessions starting within
// the lookahead window that have no marker yet and seeds reminders for
// each. Returns the number of sessions seeded.
func (s *service) SeedUpcomingSessionReminders(ctx context.Context) (int, error) {
	now := s.now()
	sessions, err := s.sessions.ListUpcomingWithoutReminder(ctx, now, now.Add(LookaheadWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to list upcoming sessions: %w", err)
	}

	seeded := 0
	for _, session := range sessions {
		if err := s.seedSession(ctx, session); err != nil {
			// One broken session must not starve the rest of the scan.
			s.logger.Error(err, "failed to seed session reminder",
				"session_id", session.ID.String())
			continue
		}
		seeded++
	}

	if seeded > 0 {
		s.logger.Info("seeded session reminders", "sessions", seeded)
	}
	return seeded, nil
}

// EnsureSessionReminder seeds reminders for a single session, typically
// right after booking. Safe to call repeatedly: the marker check makes
// every call after the first a no-op.
func (s *service) EnsureSessionReminder(ctx context.Context, sessionID string) error {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return apperrors.Validation("sessionId must be a valid id")
	}

	exists, err := s.markers.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to check reminder marker: %w", err)
	}
	if exists {
		return nil
	}

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return apperrors.NotFound("session", err)
	}
	// Same eligibility rule as the bulk scan: only confirmed sessions
	// get reminders.
	if session.Status != model.SessionStatusConfirmed {
		return nil
	}

	return s.seedSession(ctx, session)
}

func (s *service) seedSession(ctx context.Context, session *model.Session) error {
	patient, err := s.users.Get(ctx, session.PatientID)
	if err != nil {
		return apperrors.NotFound("patient", err)
	}
	counselor, err := s.users.Get(ctx, session.CounselorID)
	if err != nil {
		return apperrors.NotFound("counselor", err)
	}

	scheduledFor := session.StartTime.Add(-ReminderLeadTime)

	// One reminder per participant, each naming the other party.
	pairs := []struct {
		recipient   *model.User
		counterpart *model.User
	}{
		{patient, counselor},
		{counselor, patient},
	}

	for _, pair := range pairs {
		// A retry after a partial failure must not double up the rows
		// already written.
		exists, err := s.notifications.PendingExists(ctx, pair.recipient.ID, model.NotificationKindSessionReminder, session.ID.String())
		if err != nil {
			return fmt.Errorf("failed to check for duplicates: %w", err)
		}
		if exists {
			continue
		}

		payload, err := json.Marshal(model.SessionReminderPayload{
			SessionID:       session.ID.String(),
			SessionStart:    session.StartTime,
			CounterpartName: pair.counterpart.Name,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}

		n := &model.Notification{
			ID:           uuid.New(),
			RecipientID:  pair.recipient.ID,
			Kind:         model.NotificationKindSessionReminder,
			SubjectID:    session.ID.String(),
			Payload:      payload,
			Channel:      channelFor(pair.recipient),
			ScheduledFor: scheduledFor,
		}
		if err := s.notifications.Create(ctx, n); err != nil {
			return fmt.Errorf("failed to create reminder: %w", err)
		}
		if s.metrics != nil {
			s.metrics.NotificationsEnqueued.WithLabelValues(string(n.Kind)).Inc()
		}
	}

	// Marker is written after the reminders; a crash before this point
	// leaves the session eligible for reseeding.
	if err := s.markers.Create(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to create reminder marker: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RemindersSeeded.Inc()
	}
	return nil
}

func channelFor(u *model.User) model.DeliveryChannel {
	if u.PreferredChannel != "" {
		return u.PreferredChannel
	}
	return model.ChannelInApp
}
