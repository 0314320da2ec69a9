package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	apperrors "github.com/rwandacancerrelief/notify-api/pkg/errors"
	"github.com/rwandacancerrelief/notify-api/pkg/logger"
)

type fakeNotificationRepo struct {
	created   []*model.Notification
	createErr error
}

func (f *fakeNotificationRepo) Create(_ context.Context, n *model.Notification) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, n)
	return nil
}

func (f *fakeNotificationRepo) Get(context.Context, uuid.UUID) (*model.Notification, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeNotificationRepo) List(context.Context, *model.NotificationFilters) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepo) PendingExists(_ context.Context, recipientID uuid.UUID, kind model.NotificationKind, subjectID string) (bool, error) {
	for _, n := range f.created {
		if n.RecipientID == recipientID && n.Kind == kind && n.SubjectID == subjectID && n.Status == model.NotificationStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeNotificationRepo) ClaimDue(context.Context, time.Time, int) ([]*model.Notification, error) {
	return nil, nil
}

func (f *fakeNotificationRepo) ReclaimStale(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeNotificationRepo) Release(context.Context, []uuid.UUID) error { return nil }

func (f *fakeNotificationRepo) MarkSent(context.Context, uuid.UUID, time.Time) error { return nil }

func (f *fakeNotificationRepo) RecordFailure(context.Context, uuid.UUID, string, bool) error {
	return nil
}

type fakeChatRepo struct {
	messages     map[uuid.UUID]*model.ChatMessage
	participants map[uuid.UUID][]uuid.UUID
}

func (f *fakeChatRepo) GetMessage(_ context.Context, id uuid.UUID) (*model.ChatMessage, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, fmt.Errorf("message not found")
	}
	return msg, nil
}

func (f *fakeChatRepo) GetParticipants(_ context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	return f.participants[chatID], nil
}

type fakeUserRepo struct {
	users map[uuid.UUID]*model.User
}

func (f *fakeUserRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	user, ok := f.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return user, nil
}

func newTestUser(name string) *model.User {
	return &model.User{
		ID:               uuid.New(),
		Name:             name,
		Email:            strings.ToLower(name) + "@example.com",
		Role:             model.UserRolePatient,
		PreferredChannel: model.ChannelInApp,
	}
}

func newTestService(repo *fakeNotificationRepo, chats *fakeChatRepo, users *fakeUserRepo) *service {
	svc := NewService(repo, chats, users, nil, logger.NewLogger(nil)).(*service)
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestEnqueueMessageNotificationsExcludesSender(t *testing.T) {
	sender := newTestUser("Alice")
	recipient := newTestUser("Bob")
	chatID := uuid.New()
	msgID := uuid.New()

	repo := &fakeNotificationRepo{}
	chats := &fakeChatRepo{
		messages: map[uuid.UUID]*model.ChatMessage{
			msgID: {ID: msgID, ChatID: chatID, SenderID: sender.ID, Body: "hello there"},
		},
		participants: map[uuid.UUID][]uuid.UUID{
			chatID: {sender.ID, recipient.ID},
		},
	}
	users := &fakeUserRepo{users: map[uuid.UUID]*model.User{
		sender.ID:    sender,
		recipient.ID: recipient,
	}}

	svc := newTestService(repo, chats, users)
	created, err := svc.EnqueueMessageNotifications(context.Background(), msgID.String())
	require.NoError(t, err)

	require.Len(t, created, 1)
	assert.Equal(t, recipient.ID, created[0].RecipientID)
	assert.Equal(t, model.NotificationKindMessage, created[0].Kind)
	assert.Equal(t, svc.now(), created[0].ScheduledFor)

	var payload model.MessagePayload
	require.NoError(t, json.Unmarshal(created[0].Payload, &payload))
	assert.Equal(t, "Alice", payload.SenderName)
	assert.Equal(t, "hello there", payload.Snippet)
}

func TestEnqueueMessageNotificationsFanOut(t *testing.T) {
	sender := newTestUser("Alice")
	others := []*model.User{newTestUser("Bob"), newTestUser("Carol"), newTestUser("Dan")}
	chatID := uuid.New()
	msgID := uuid.New()

	participants := []uuid.UUID{sender.ID}
	usersByID := map[uuid.UUID]*model.User{sender.ID: sender}
	for _, u := range others {
		participants = append(participants, u.ID)
		usersByID[u.ID] = u
	}

	repo := &fakeNotificationRepo{}
	chats := &fakeChatRepo{
		messages: map[uuid.UUID]*model.ChatMessage{
			msgID: {ID: msgID, ChatID: chatID, SenderID: sender.ID, Body: "group update"},
		},
		participants: map[uuid.UUID][]uuid.UUID{chatID: participants},
	}

	svc := newTestService(repo, chats, &fakeUserRepo{users: usersByID})
	created, err := svc.EnqueueMessageNotifications(context.Background(), msgID.String())
	require.NoError(t, err)

	assert.Len(t, created, len(participants)-1)
	for _, n := range created {
		assert.NotEqual(t, sender.ID, n.RecipientID)
	}
}

func TestEnqueueMessageNotificationsTruncatesSnippet(t *testing.T) {
	sender := newTestUser("Alice")
	recipient := newTestUser("Bob")
	chatID := uuid.New()
	msgID := uuid.New()

	repo := &fakeNotificationRepo{}
	chats := &fakeChatRepo{
		messages: map[uuid.UUID]*model.ChatMessage{
			msgID: {ID: msgID, ChatID: chatID, SenderID: sender.ID, Body: strings.Repeat("x", 500)},
		},
		participants: map[uuid.UUID][]uuid.UUID{chatID: {sender.ID, recipient.ID}},
	}
	users := &fakeUserRepo{users: map[uuid.UUID]*model.User{
		sender.ID:    sender,
		recipient.ID: recipient,
	}}

	svc := newTestService(repo, chats, users)
	created, err := svc.EnqueueMessageNotifications(context.Background(), msgID.String())
	require.NoError(t, err)
	require.Len(t, created, 1)

	var payload model.MessagePayload
	require.NoError(t, json.Unmarshal(created[0].Payload, &payload))
	assert.Len(t, []rune(payload.Snippet), snippetMaxLen)
}

func TestEnqueueMessageNotificationsUnknownMessage(t *testing.T) {
	svc := newTestService(&fakeNotificationRepo{}, &fakeChatRepo{messages: map[uuid.UUID]*model.ChatMessage{}}, &fakeUserRepo{})

	_, err := svc.EnqueueMessageNotifications(context.Background(), uuid.New().String())
	assert.True(t, apperrors.IsNotFound(err))
}

func TestEnqueueMessageNotificationsInvalidID(t *testing.T) {
	svc := newTestService(&fakeNotificationRepo{}, &fakeChatRepo{}, &fakeUserRepo{})

	_, err := svc.EnqueueMessageNotifications(context.Background(), "not-a-uuid")
	assert.True(t, apperrors.IsValidation(err))
}

func TestEnqueuePatientAssignmentNotifiesBothSides(t *testing.T) {
	patient := newTestUser("Grace")
	counselor := newTestUser("Henry")
	counselor.Role = model.UserRoleCounselor

	repo := &fakeNotificationRepo{}
	users := &fakeUserRepo{users: map[uuid.UUID]*model.User{
		patient.ID:   patient,
		counselor.ID: counselor,
	}}

	svc := newTestService(repo, &fakeChatRepo{}, users)
	created, err := svc.EnqueuePatientAssignmentNotifications(context.Background(), patient.ID.String(), counselor.ID.String(), nil)
	require.NoError(t, err)

	require.Len(t, created, 2)
	recipients := map[uuid.UUID]bool{}
	for _, n := range created {
		assert.Equal(t, model.NotificationKindPatientAssignment, n.Kind)
		recipients[n.RecipientID] = true
	}
	assert.True(t, recipients[patient.ID])
	assert.True(t, recipients[counselor.ID])
}

func TestEnqueuePatientAssignmentDeduplicates(t *testing.T) {
	patient := newTestUser("Grace")
	counselor := newTestUser("Henry")

	repo := &fakeNotificationRepo{}
	users := &fakeUserRepo{users: map[uuid.UUID]*model.User{
		patient.ID:   patient,
		counselor.ID: counselor,
	}}

	svc := newTestService(repo, &fakeChatRepo{}, users)

	first, err := svc.EnqueuePatientAssignmentNotifications(context.Background(), patient.ID.String(), counselor.ID.String(), nil)
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// Same event redelivered while the first rows are still pending.
	second, err := svc.EnqueuePatientAssignmentNotifications(context.Background(), patient.ID.String(), counselor.ID.String(), nil)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Len(t, repo.created, 2)
}

func TestEnqueuePatientAssignmentUnknownCounselorIsAtomic(t *testing.T) {
	patient := newTestUser("Grace")

	repo := &fakeNotificationRepo{}
	users := &fakeUserRepo{users: map[uuid.UUID]*model.User{patient.ID: patient}}

	svc := newTestService(repo, &fakeChatRepo{}, users)
	_, err := svc.EnqueuePatientAssignmentNotifications(context.Background(), patient.ID.String(), uuid.New().String(), nil)

	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, repo.created)
}

func TestEnqueueMessageUnknownRecipientIsAtomic(t *testing.T) {
	sender := newTestUser("Alice")
	chatID := uuid.New()
	msgID := uuid.New()

	repo := &fakeNotificationRepo{}
	chats := &fakeChatRepo{
		messages: map[uuid.UUID]*model.ChatMessage{
			msgID: {ID: msgID, ChatID: chatID, SenderID: sender.ID, Body: "hi"},
		},
		participants: map[uuid.UUID][]uuid.UUID{chatID: {sender.ID, uuid.New()}},
	}
	users := &fakeUserRepo{users: map[uuid.UUID]*model.User{sender.ID: sender}}

	svc := newTestService(repo, chats, users)
	_, err := svc.EnqueueMessageNotifications(context.Background(), msgID.String())

	assert.True(t, apperrors.IsNotFound(err))
	assert.Empty(t, repo.created)
}
