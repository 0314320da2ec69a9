package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Pipeline metrics
	NotificationsEnqueued *prometheus.CounterVec
	NotificationsDeduped  *prometheus.CounterVec
	RemindersSeeded       prometheus.Counter
	NotificationsSent     prometheus.Counter
	NotificationsFailed   prometheus.Counter
	DispatchRunLatency    prometheus.Histogram
	DueQueueSize          prometheus.Gauge

	// Delivery channel metrics
	DeliveryAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		NotificationsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_enqueued_total",
			Help:      "Total number of pending notifications created",
		}, []string{"kind"}),
		NotificationsDeduped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_deduped_total",
			Help:      "Total number of notifications skipped as duplicates",
		}, []string{"kind"}),
		RemindersSeeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_reminders_seeded_total",
			Help:      "Total number of sessions that had reminders seeded",
		}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications delivered",
		}),
		NotificationsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Total number of notifications that reached terminal failure",
		}),
		DispatchRunLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_run_duration_seconds",
			Help:      "Time spent per dispatch run",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		DueQueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "due_notifications",
			Help:      "Number of due notifications claimed by the last run",
		}),
		DeliveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Total delivery attempts by channel and outcome",
		}, []string{"channel", "status"}),
	}
}
