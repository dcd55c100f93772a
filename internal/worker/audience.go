package worker

import (
	"context"
	"encoding/json"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/pkg/logger"
)

// AudienceHandler returns the queue handler that recomputes one segment's
// recipient count against the current parsed data. Queued after re-parses so
// stored counts do not drift from what a send would actually reach.
func AudienceHandler(segments repository.SegmentRepository, log *logger.Logger) queue.Handler {
	return func(ctx context.Context, job *model.QueueJob) error {
		var payload model.AudienceJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.Error(err, "malformed audience payload, dropping job", "job_id", job.ID)
			return nil
		}

		segment, err := segments.Get(ctx, payload.UserID, payload.SegmentID)
		if err != nil {
			log.Warn("segment gone, skipping recount", "segment_id", payload.SegmentID)
			return nil
		}
		if segment.SourceParsingID == nil {
			return nil
		}

		recipients, err := segments.Recipients(ctx, payload.UserID, *segment.SourceParsingID, segment.Filters, model.MaxSegmentRecipients)
		if err != nil {
			return err
		}

		if err := segments.UpdateTotal(ctx, segment.ID, len(recipients)); err != nil {
			return err
		}

		log.Info("recomputed segment audience", "segment_id", segment.ID, "total", len(recipients))
		return nil
	}
}
