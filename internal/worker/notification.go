package worker

import (
	"context"
	"encoding/json"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/service/notification"
	"github.com/televine/broadcast-api/pkg/logger"
)

// NotificationHandler returns the queue handler that delivers one queued
// notification. Delivery errors propagate so the queue retries them.
func NotificationHandler(svc *notification.Service, log *logger.Logger) queue.Handler {
	return func(ctx context.Context, job *model.QueueJob) error {
		var payload model.NotificationJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.Error(err, "malformed notification payload, dropping job", "job_id", job.ID)
			return nil
		}
		return svc.Deliver(ctx, payload)
	}
}
