package cron

import (
	"context"
	"encoding/json"
	"time"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/metrics"
)

// Dispatcher returns the queue handler that executes fired schedules. A key
// with no definition, for example after a rollback that removed the job, is
// logged and skipped rather than retried, since no retry can make it known.
func Dispatcher(registry *Registry, m *metrics.Metrics, log *logger.Logger) queue.Handler {
	return func(ctx context.Context, job *model.QueueJob) error {
		var payload model.CronJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.Error(err, "malformed cron dispatch payload", "job_id", job.ID)
			return nil
		}

		def, ok := registry.Get(payload.JobKey)
		if !ok {
			log.Warn("fired schedule has no registered handler, skipping", "key", payload.JobKey)
			m.CronJobResults.WithLabelValues(payload.JobKey, "skipped").Inc()
			return nil
		}

		start := time.Now()
		err := def.Handler(ctx)
		m.CronJobDuration.WithLabelValues(def.Key).Observe(time.Since(start).Seconds())

		if err != nil {
			m.CronJobResults.WithLabelValues(def.Key, "error").Inc()
			log.Error(err, "scheduled job failed", "key", def.Key)
			return err
		}

		m.CronJobResults.WithLabelValues(def.Key, "success").Inc()
		log.Info("scheduled job completed", "key", def.Key, "duration", time.Since(start).String())
		return nil
	}
}
