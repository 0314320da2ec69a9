package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rwandacancerrelief/notify-api/internal/delivery"
	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/internal/repository"
	"github.com/rwandacancerrelief/notify-api/pkg/logger"
	"github.com/rwandacancerrelief/notify-api/pkg/metrics"
)

const (
	maxAttempts  = 3
	claimTimeout = 5 * time.Minute
	batchSize    = 100
)

// Runner delivers due notifications and records outcomes. It is the only
// writer of status transitions: pending -> dispatching -> sent, or back to
// pending until attempts hit the cap, then failed. Terminal rows never
// re-enter a due scan.
type Runner struct {
	repo     repository.NotificationRepository
	users    repository.UserRepository
	channels *delivery.Registry
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewRunner(
	repo repository.NotificationRepository,
	users repository.UserRepository,
	channels *delivery.Registry,
	m *metrics.Metrics,
	l *logger.Logger,
) *Runner {
	return &Runner{
		repo:     repo,
		users:    users,
		channels: channels,
		metrics:  m,
		logger:   l,
		now:      time.Now,
	}
}

// DispatchDue claims every due pending notification and attempts delivery
// for each one independently. A delivery failure is recorded on the row,
// never raised; the run always finishes the batch. Returns the number
// delivered in this run.
func (r *Runner) DispatchDue(ctx context.Context) (*model.DispatchResult, error) {
	var timer *prometheus.Timer
	if r.metrics != nil {
		timer = prometheus.NewTimer(r.metrics.DispatchRunLatency)
		defer timer.ObserveDuration()
	}

	now := r.now()

	// Claims abandoned by an aborted run come back first, so nothing
	// stays stuck in dispatching.
	reclaimed, err := r.repo.ReclaimStale(ctx, now.Add(-claimTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stale claims: %w", err)
	}
	if reclaimed > 0 {
		r.logger.Warn("reclaimed stale dispatch claims", "count", reclaimed)
	}

	result := &model.DispatchResult{Timestamp: now}
	attempted := make(map[string]bool)
	for {
		claimed, err := r.repo.ClaimDue(ctx, now, batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to claim due notifications: %w", err)
		}
		if len(claimed) == 0 {
			break
		}
		if r.metrics != nil {
			r.metrics.DueQueueSize.Set(float64(len(claimed)))
		}

		// A failed row goes back to pending while still due, so the scan
		// can claim it again within the same run. Retries wait for the
		// next run, not this one: already-attempted rows are released,
		// only fresh ones get delivered.
		var fresh []*model.Notification
		var repeats []uuid.UUID
		for _, n := range claimed {
			if attempted[n.ID.String()] {
				repeats = append(repeats, n.ID)
			} else {
				fresh = append(fresh, n)
			}
		}
		if len(repeats) > 0 {
			if err := r.repo.Release(ctx, repeats); err != nil {
				r.logger.Error(err, "failed to release wrapped claims")
			}
		}
		if len(fresh) == 0 {
			break
		}

		for _, n := range fresh {
			if err := ctx.Err(); err != nil {
				// Aborted mid-run: claimed rows not yet attempted are
				// recovered by the stale-claim rule on the next run.
				return result, err
			}
			attempted[n.ID.String()] = true
			if r.deliver(ctx, n) {
				result.Dispatched++
			} else {
				result.Failed++
			}
		}

		if len(claimed) < batchSize {
			break
		}
	}

	return result, nil
}

// deliver attempts one notification and records the outcome. Reports true
// on successful delivery.
func (r *Runner) deliver(ctx context.Context, n *model.Notification) bool {
	err := r.send(ctx, n)
	if err == nil {
		if markErr := r.repo.MarkSent(ctx, n.ID, r.now()); markErr != nil {
			r.logger.Error(markErr, "failed to mark notification sent",
				"notification_id", n.ID.String())
			return false
		}
		if r.metrics != nil {
			r.metrics.NotificationsSent.Inc()
			r.metrics.DeliveryAttempts.WithLabelValues(string(n.Channel), "success").Inc()
		}
		return true
	}

	terminal := n.Attempts+1 >= maxAttempts
	if recordErr := r.repo.RecordFailure(ctx, n.ID, err.Error(), terminal); recordErr != nil {
		r.logger.Error(recordErr, "failed to record delivery failure",
			"notification_id", n.ID.String())
	}
	if r.metrics != nil {
		r.metrics.DeliveryAttempts.WithLabelValues(string(n.Channel), "error").Inc()
		if terminal {
			r.metrics.NotificationsFailed.Inc()
		}
	}

	r.logger.Error(err, "notification delivery failed",
		"notification_id", n.ID.String(),
		"attempts", n.Attempts+1,
		"terminal", terminal)
	return false
}

func (r *Runner) send(ctx context.Context, n *model.Notification) error {
	recipient, err := r.users.Get(ctx, n.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve recipient: %w", err)
	}

	channel, err := r.channels.Get(n.Channel)
	if err != nil {
		return err
	}

	return channel.Send(ctx, n, recipient)
}
