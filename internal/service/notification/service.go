package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/internal/repository"
	apperrors "github.com/rwandacancerrelief/notify-api/pkg/errors"
	"github.com/rwandacancerrelief/notify-api/pkg/logger"
	"github.com/rwandacancerrelief/notify-api/pkg/metrics"
)

const (
	snippetMaxLen = 120

	recipientCacheTTL     = 5 * time.Minute
	recipientCacheCleanup = 10 * time.Minute
)

// Service translates domain events into pending notification rows. It is
// one of the two writers of new rows (the reminder service is the other);
// it never touches status transitions.
type Service interface {
	EnqueueMessageNotifications(ctx context.Context, messageID string) ([]*model.Notification, error)
	EnqueuePatientAssignmentNotifications(ctx context.Context, patientID, counselorID string, assignedBy *string) ([]*model.Notification, error)
}

type service struct {
	repo    repository.NotificationRepository
	chats   repository.ChatRepository
	users   repository.UserRepository
	cache   *gocache.Cache
	metrics *metrics.Metrics
	logger  *logger.Logger
	now     func() time.Time
}

func NewService(
	repo repository.NotificationRepository,
	chats repository.ChatRepository,
	users repository.UserRepository,
	m *metrics.Metrics,
	l *logger.Logger,
) Service {
	return &service{
		repo:    repo,
		chats:   chats,
		users:   users,
		cache:   gocache.New(recipientCacheTTL, recipientCacheCleanup),
		metrics: m,
		logger:  l,
		now:     time.Now,
	}
}

// EnqueueMessageNotifications creates one pending notification per chat
// participant other than the sender. Resolution failures abort the whole
// enqueue so upstream retries see all-or-nothing behaviour.
func (s *service) EnqueueMessageNotifications(ctx context.Context, messageID string) ([]*model.Notification, error) {
	msgID, err := uuid.Parse(messageID)
	if err != nil {
		return nil, apperrors.Validation("messageId must be a valid id")
	}

	msg, err := s.chats.GetMessage(ctx, msgID)
	if err != nil {
		return nil, apperrors.NotFound("message", err)
	}

	sender, err := s.resolveUser(ctx, msg.SenderID)
	if err != nil {
		return nil, apperrors.NotFound("sender", err)
	}

	participants, err := s.chats.GetParticipants(ctx, msg.ChatID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chat participants: %w", err)
	}

	payload, err := json.Marshal(model.MessagePayload{
		ChatID:     msg.ChatID.String(),
		SenderName: sender.Name,
		Snippet:    truncate(msg.Body, snippetMaxLen),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Resolve every recipient before creating anything, so a missing
	// account fails the event without a partial fan-out.
	var recipients []*model.User
	for _, participantID := range participants {
		if participantID == msg.SenderID {
			continue
		}
		recipient, err := s.resolveUser(ctx, participantID)
		if err != nil {
			return nil, apperrors.NotFound("recipient", err)
		}
		recipients = append(recipients, recipient)
	}

	var created []*model.Notification
	for _, recipient := range recipients {
		n, err := s.enqueue(ctx, recipient, model.NotificationKindMessage, messageID, payload, s.now())
		if err != nil {
			return nil, err
		}
		if n != nil {
			created = append(created, n)
		}
	}

	s.logger.Info("enqueued message notifications",
		"message_id", messageID, "count", len(created))
	return created, nil
}

// EnqueuePatientAssignmentNotifications notifies both sides of a new
// patient/counselor assignment.
func (s *service) EnqueuePatientAssignmentNotifications(ctx context.Context, patientID, counselorID string, assignedBy *string) ([]*model.Notification, error) {
	pID, err := uuid.Parse(patientID)
	if err != nil {
		return nil, apperrors.Validation("patientId must be a valid id")
	}
	cID, err := uuid.Parse(counselorID)
	if err != nil {
		return nil, apperrors.Validation("counselorId must be a valid id")
	}

	patient, err := s.resolveUser(ctx, pID)
	if err != nil {
		return nil, apperrors.NotFound("patient", err)
	}
	counselor, err := s.resolveUser(ctx, cID)
	if err != nil {
		return nil, apperrors.NotFound("counselor", err)
	}

	payload, err := json.Marshal(model.PatientAssignmentPayload{
		PatientID:     patient.ID.String(),
		PatientName:   patient.Name,
		CounselorID:   counselor.ID.String(),
		CounselorName: counselor.Name,
		AssignedBy:    assignedBy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	subjectID := fmt.Sprintf("%s:%s", patientID, counselorID)
	now := s.now()

	var created []*model.Notification
	for _, recipient := range []*model.User{counselor, patient} {
		n, err := s.enqueue(ctx, recipient, model.NotificationKindPatientAssignment, subjectID, payload, now)
		if err != nil {
			return nil, err
		}
		if n != nil {
			created = append(created, n)
		}
	}

	s.logger.Info("enqueued patient assignment notifications",
		"patient_id", patientID, "counselor_id", counselorID, "count", len(created))
	return created, nil
}

// enqueue creates one pending row unless an identical pending row already
// exists. Returns nil without error on a dedup hit.
func (s *service) enqueue(ctx context.Context, recipient *model.User, kind model.NotificationKind, subjectID string, payload json.RawMessage, scheduledFor time.Time) (*model.Notification, error) {
	exists, err := s.repo.PendingExists(ctx, recipient.ID, kind, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if exists {
		if s.metrics != nil {
			s.metrics.NotificationsDeduped.WithLabelValues(string(kind)).Inc()
		}
		s.logger.Debug("skipping duplicate notification",
			"recipient_id", recipient.ID.String(), "kind", string(kind), "subject_id", subjectID)
		return nil, nil
	}

	n := &model.Notification{
		ID:           uuid.New(),
		RecipientID:  recipient.ID,
		Kind:         kind,
		SubjectID:    subjectID,
		Payload:      payload,
		Channel:      channelFor(recipient),
		ScheduledFor: scheduledFor,
	}

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	if s.metrics != nil {
		s.metrics.NotificationsEnqueued.WithLabelValues(string(kind)).Inc()
	}
	return n, nil
}

// resolveUser looks a user up through a short-lived cache. Enqueue bursts
// (a busy chat) hit the same handful of accounts repeatedly.
func (s *service) resolveUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if cached, ok := s.cache.Get(id.String()); ok {
		return cached.(*model.User), nil
	}

	user, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cache.Set(id.String(), user, gocache.DefaultExpiration)
	return user, nil
}

func channelFor(u *model.User) model.DeliveryChannel {
	if u.PreferredChannel != "" {
		return u.PreferredChannel
	}
	return model.ChannelInApp
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
