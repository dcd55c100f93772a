package worker

import (
	"context"
	"encoding/json"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/pkg/logger"
)

// CleanupHandler returns the queue handler that purges one expired account's
// data and notifies the user afterwards. The purge is transactional in the
// repository, so a retry after a partial failure repeats cleanly.
func CleanupHandler(maintenance repository.MaintenanceRepository, notifier Notifier, log *logger.Logger) queue.Handler {
	return func(ctx context.Context, job *model.QueueJob) error {
		var payload model.CleanupJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.Error(err, "malformed cleanup payload, dropping job", "job_id", job.ID)
			return nil
		}

		result, err := maintenance.PurgeUserData(ctx, payload.UserID)
		if err != nil {
			return err
		}

		log.Info("purged expired account data",
			"user_id", payload.UserID, "reason", payload.Reason, "rows_removed", result.Total())

		if notifier != nil && result.Total() > 0 {
			metadata := map[string]interface{}{"reason": payload.Reason}
			if err := notifier.Queue(ctx, payload.UserID, model.TemplateDataRemoval, metadata); err != nil {
				log.Error(err, "failed to queue data removal notice", "user_id", payload.UserID)
			}
		}
		return nil
	}
}
