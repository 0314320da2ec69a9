package dispatch

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwandacancerrelief/notify-api/internal/delivery"
	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/pkg/logger"
)

// memoryRepo implements the claim semantics in memory: ClaimDue only
// takes pending rows and flips them to dispatching, MarkSent and
// RecordFailure only act on dispatching rows.
type memoryRepo struct {
	rows map[uuid.UUID]*model.Notification
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: map[uuid.UUID]*model.Notification{}}
}

func (m *memoryRepo) Create(_ context.Context, n *model.Notification) error {
	cp := *n
	cp.Status = model.NotificationStatusPending
	m.rows[n.ID] = &cp
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (*model.Notification, error) {
	n, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("notification not found")
	}
	return n, nil
}

func (m *memoryRepo) List(context.Context, *model.NotificationFilters) ([]*model.Notification, error) {
	return nil, nil
}

func (m *memoryRepo) PendingExists(context.Context, uuid.UUID, model.NotificationKind, string) (bool, error) {
	return false, nil
}

func (m *memoryRepo) ClaimDue(_ context.Context, now time.Time, limit int) ([]*model.Notification, error) {
	var due []*model.Notification
	for _, n := range m.rows {
		if n.Status == model.NotificationStatusPending && !n.ScheduledFor.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}

	var claimed []*model.Notification
	for _, n := range due {
		n.Status = model.NotificationStatusDispatching
		claimedAt := now
		n.ClaimedAt = &claimedAt
		cp := *n
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *memoryRepo) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	var count int64
	for _, n := range m.rows {
		if n.Status == model.NotificationStatusDispatching && n.ClaimedAt != nil && n.ClaimedAt.Before(cutoff) {
			n.Status = model.NotificationStatusPending
			n.ClaimedAt = nil
			count++
		}
	}
	return count, nil
}

func (m *memoryRepo) Release(_ context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if n, ok := m.rows[id]; ok && n.Status == model.NotificationStatusDispatching {
			n.Status = model.NotificationStatusPending
			n.ClaimedAt = nil
		}
	}
	return nil
}

func (m *memoryRepo) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time) error {
	n, ok := m.rows[id]
	if !ok || n.Status != model.NotificationStatusDispatching {
		return nil
	}
	n.Status = model.NotificationStatusSent
	n.SentAt = &sentAt
	n.ClaimedAt = nil
	return nil
}

func (m *memoryRepo) RecordFailure(_ context.Context, id uuid.UUID, deliveryErr string, terminal bool) error {
	n, ok := m.rows[id]
	if !ok || n.Status != model.NotificationStatusDispatching {
		return nil
	}
	n.Attempts++
	n.LastError = &deliveryErr
	n.ClaimedAt = nil
	if terminal {
		n.Status = model.NotificationStatusFailed
	} else {
		n.Status = model.NotificationStatusPending
	}
	return nil
}

type staticUserRepo struct {
	users map[uuid.UUID]*model.User
}

func (s *staticUserRepo) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return u, nil
}

// mockChannel records delivery order and fails on request, either for
// every send or for specific notifications.
type mockChannel struct {
	name     model.DeliveryChannel
	sent     []uuid.UUID
	failWith error
	failFor  map[uuid.UUID]error
}

func (c *mockChannel) Name() model.DeliveryChannel { return c.name }

func (c *mockChannel) Send(_ context.Context, n *model.Notification, _ *model.User) error {
	if err, ok := c.failFor[n.ID]; ok {
		return err
	}
	if c.failWith != nil {
		return c.failWith
	}
	c.sent = append(c.sent, n.ID)
	return nil
}

type harness struct {
	runner  *Runner
	repo    *memoryRepo
	channel *mockChannel
	user    *model.User
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	user := &model.User{ID: uuid.New(), Name: "Grace", Email: "grace@example.com", PreferredChannel: model.ChannelInApp}
	repo := newMemoryRepo()
	channel := &mockChannel{name: model.ChannelInApp}
	users := &staticUserRepo{users: map[uuid.UUID]*model.User{user.ID: user}}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	runner := NewRunner(repo, users, delivery.NewRegistry(channel), nil, logger.NewLogger(nil))
	runner.now = func() time.Time { return now }

	return &harness{runner: runner, repo: repo, channel: channel, user: user, now: now}
}

func (h *harness) addNotification(scheduledFor time.Time) *model.Notification {
	n := &model.Notification{
		ID:           uuid.New(),
		RecipientID:  h.user.ID,
		Kind:         model.NotificationKindMessage,
		SubjectID:    uuid.New().String(),
		Payload:      []byte(`{}`),
		Channel:      model.ChannelInApp,
		ScheduledFor: scheduledFor,
	}
	_ = h.repo.Create(context.Background(), n)
	return n
}

func TestDispatchDueEmptyQueue(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		result, err := h.runner.DispatchDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, result.Dispatched)
	}
}

func TestDispatchDueDeliversAndMarksSent(t *testing.T) {
	h := newHarness(t)
	n := h.addNotification(h.now.Add(-time.Minute))

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Dispatched)
	row := h.repo.rows[n.ID]
	assert.Equal(t, model.NotificationStatusSent, row.Status)
	require.NotNil(t, row.SentAt)
	assert.Nil(t, row.ClaimedAt)
}

func TestDispatchDueSkipsFutureNotifications(t *testing.T) {
	h := newHarness(t)
	due := h.addNotification(h.now.Add(-time.Minute))
	future := h.addNotification(h.now.Add(time.Hour))

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, model.NotificationStatusSent, h.repo.rows[due.ID].Status)
	assert.Equal(t, model.NotificationStatusPending, h.repo.rows[future.ID].Status)
}

func TestDispatchDueOldestFirst(t *testing.T) {
	h := newHarness(t)
	later := h.addNotification(h.now.Add(-time.Minute))
	earlier := h.addNotification(h.now.Add(-time.Hour))

	_, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	require.Len(t, h.channel.sent, 2)
	assert.Equal(t, earlier.ID, h.channel.sent[0])
	assert.Equal(t, later.ID, h.channel.sent[1])
}

func TestDispatchDueRetriesUntilTerminalFailure(t *testing.T) {
	h := newHarness(t)
	n := h.addNotification(h.now.Add(-time.Minute))
	h.channel.failWith = fmt.Errorf("smtp connection refused")

	// Retries ride the polling cadence: one attempt per run.
	for run := 1; run <= maxAttempts; run++ {
		result, err := h.runner.DispatchDue(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, result.Dispatched)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, run, h.repo.rows[n.ID].Attempts)
	}

	row := h.repo.rows[n.ID]
	assert.Equal(t, model.NotificationStatusFailed, row.Status)
	require.NotNil(t, row.LastError)

	// Terminal rows never re-enter a due scan.
	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, model.NotificationStatusFailed, h.repo.rows[n.ID].Status)
}

func TestDispatchDueFailureDoesNotAbortRun(t *testing.T) {
	h := newHarness(t)

	broken := h.addNotification(h.now.Add(-2 * time.Hour))
	// Point the broken row at a recipient that cannot be resolved.
	h.repo.rows[broken.ID].RecipientID = uuid.New()
	ok := h.addNotification(h.now.Add(-time.Hour))

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, model.NotificationStatusSent, h.repo.rows[ok.ID].Status)
	assert.Equal(t, model.NotificationStatusPending, h.repo.rows[broken.ID].Status)
	assert.Equal(t, 1, h.repo.rows[broken.ID].Attempts)
}

func TestDispatchDueReclaimsStaleClaims(t *testing.T) {
	h := newHarness(t)
	n := h.addNotification(h.now.Add(-time.Hour))

	// Simulate a run that died mid-flight long ago.
	stale := h.now.Add(-10 * time.Minute)
	h.repo.rows[n.ID].Status = model.NotificationStatusDispatching
	h.repo.rows[n.ID].ClaimedAt = &stale

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Dispatched)
	assert.Equal(t, model.NotificationStatusSent, h.repo.rows[n.ID].Status)
}

func TestDispatchDueLeavesFreshClaimsAlone(t *testing.T) {
	h := newHarness(t)
	n := h.addNotification(h.now.Add(-time.Hour))

	// A concurrent runner claimed this row moments ago.
	fresh := h.now.Add(-10 * time.Second)
	h.repo.rows[n.ID].Status = model.NotificationStatusDispatching
	h.repo.rows[n.ID].ClaimedAt = &fresh

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Dispatched)
	assert.Equal(t, model.NotificationStatusDispatching, h.repo.rows[n.ID].Status)
}

func TestDispatchDueDoesNotRetryWithinOneRun(t *testing.T) {
	h := newHarness(t)
	n := h.addNotification(h.now.Add(-time.Minute))
	h.channel.failWith = fmt.Errorf("broker unavailable")

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, h.repo.rows[n.ID].Attempts)
	assert.Equal(t, model.NotificationStatusPending, h.repo.rows[n.ID].Status)
}

func TestDispatchDueOneAttemptPerRunAcrossBatches(t *testing.T) {
	h := newHarness(t)

	// The flaky row is the oldest, so it lands in the first full batch;
	// after its failure releases it to pending it gets claimed again in
	// the next batch alongside the one remaining fresh row.
	flaky := h.addNotification(h.now.Add(-2 * time.Hour))
	h.channel.failFor = map[uuid.UUID]error{flaky.ID: fmt.Errorf("smtp connection refused")}
	for i := 0; i < batchSize; i++ {
		h.addNotification(h.now.Add(-time.Hour + time.Duration(i)*time.Second))
	}

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, batchSize, result.Dispatched)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, h.repo.rows[flaky.ID].Attempts)
	assert.Equal(t, model.NotificationStatusPending, h.repo.rows[flaky.ID].Status)
}

func TestDispatchDueUnsupportedChannel(t *testing.T) {
	h := newHarness(t)
	n := h.addNotification(h.now.Add(-time.Minute))
	h.repo.rows[n.ID].Channel = model.ChannelEmail

	result, err := h.runner.DispatchDue(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, h.repo.rows[n.ID].Attempts)
}
