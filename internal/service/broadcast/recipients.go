package broadcast

import (
	"context"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
)

// Resolver turns a campaign's targeting into a concrete recipient list.
// Segment targets are resolved against the parsed data as it exists now, not
// as it existed when the campaign was drafted; a re-parse between draft and
// send is reflected in the send.
type Resolver struct {
	segments repository.SegmentRepository
}

func NewResolver(segments repository.SegmentRepository) *Resolver {
	return &Resolver{segments: segments}
}

func (r *Resolver) Resolve(ctx context.Context, campaign *model.Campaign) ([]string, error) {
	switch campaign.TargetType {
	case model.TargetManual:
		recipients := model.ParseManualRecipients(campaign.ManualRecipients)
		if len(recipients) == 0 {
			return nil, apperrors.NewValidation("campaign has no valid recipients")
		}
		return recipients, nil

	case model.TargetSegment:
		if campaign.SegmentID == nil {
			return nil, apperrors.NewValidation("segment campaign has no segment")
		}
		segment, err := r.segments.Get(ctx, campaign.UserID, *campaign.SegmentID)
		if err != nil {
			return nil, err
		}
		if segment.SourceParsingID == nil {
			return nil, apperrors.NewValidation("audience segment has no source data")
		}

		rows, err := r.segments.Recipients(ctx, campaign.UserID, *segment.SourceParsingID, segment.Filters, model.MaxSegmentRecipients)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, apperrors.NewValidation("audience segment matches no recipients")
		}

		recipients := make([]string, 0, len(rows))
		for _, row := range rows {
			recipients = append(recipients, row.Username)
		}

		// Keep the stored count in step with what a send would reach.
		_ = r.segments.UpdateTotal(ctx, segment.ID, len(recipients))

		return recipients, nil

	default:
		return nil, apperrors.NewValidation("unknown campaign target type")
	}
}
