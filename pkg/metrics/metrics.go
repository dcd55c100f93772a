package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Queue related metrics
	JobEvents    *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	JobQueueSize *prometheus.GaugeVec

	// Cron related metrics
	CronJobResults  *prometheus.CounterVec
	CronJobDuration *prometheus.HistogramVec

	// Broadcast delivery metrics
	BroadcastSent     prometheus.Counter
	BroadcastFailed   prometheus.Counter
	BroadcastBlocked  prometheus.Counter
	FloodWaitSeconds  prometheus.Counter
	NotificationsSent *prometheus.CounterVec

	// Pool metrics
	DatabaseConnections    prometheus.Gauge
	DatabaseConnectionsMax prometheus.Gauge
	RedisConnections       prometheus.Gauge
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		JobEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Total job events grouped by queue and status",
		}, []string{"queue", "status"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Duration of job executions",
			Buckets:   []float64{.1, .5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"queue", "status"}),
		JobQueueSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_queue_size",
			Help:      "Pending jobs per queue",
		}, []string{"queue"}),

		CronJobResults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cron_job_results_total",
			Help:      "Cron job outcomes grouped by job name and status",
		}, []string{"job_name", "status"}),
		CronJobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cron_job_duration_seconds",
			Help:      "Duration of cron job handler executions",
			Buckets:   []float64{.1, .5, 1, 5, 15, 60, 300},
		}, []string{"job_name"}),

		BroadcastSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sent_total",
			Help:      "Number of broadcast messages sent",
		}),
		BroadcastFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failed_total",
			Help:      "Number of broadcast messages that failed",
		}),
		BroadcastBlocked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_blocked_total",
			Help:      "Number of broadcast recipients that blocked delivery",
		}),
		FloodWaitSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_wait_seconds_total",
			Help:      "Cumulative seconds spent honoring flood-wait backoff",
		}),
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered grouped by channel and status",
		}, []string{"channel", "status"}),

		DatabaseConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_active",
			Help:      "Active PostgreSQL connections",
		}),
		DatabaseConnectionsMax: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "database_connections_max",
			Help:      "Maximum configured PostgreSQL connections",
		}),
		RedisConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "redis_connections_active",
			Help:      "Active Redis connections",
		}),
	}
}
