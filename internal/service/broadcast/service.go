package broadcast

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/internal/service/usage"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
	"github.com/televine/broadcast-api/pkg/logger"
)

// maxMessageLength matches the Telegram text message limit.
const maxMessageLength = 4096

// Service orchestrates the campaign lifecycle: creation, run starts and
// retries, and the read paths. Delivery itself happens in the worker; the
// service only moves the state machine and enqueues the job.
type Service struct {
	campaigns repository.CampaignRepository
	resolver  *Resolver
	usage     *usage.Service
	manager   *queue.Manager
	progress  *ProgressCache
	logger    *logger.Logger
}

func NewService(campaigns repository.CampaignRepository, resolver *Resolver, usageSvc *usage.Service, manager *queue.Manager, progress *ProgressCache, log *logger.Logger) *Service {
	return &Service{
		campaigns: campaigns,
		resolver:  resolver,
		usage:     usageSvc,
		manager:   manager,
		progress:  progress,
		logger:    log,
	}
}

// CreateInput is the validated shape of a campaign creation request.
type CreateInput struct {
	Title            string
	TargetType       model.TargetType
	SegmentID        *uuid.UUID
	ManualRecipients []string
	Message          model.Message
	Delay            *model.DelayConfig
}

// Create validates the input, charges the campaign quota and stores a draft.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*model.Campaign, error) {
	if strings.TrimSpace(input.Message.Text) == "" {
		return nil, apperrors.NewValidation("message text is required")
	}
	if len(input.Message.Text) > maxMessageLength {
		return nil, apperrors.NewValidation("message text exceeds the 4096 character limit")
	}

	campaign := &model.Campaign{
		UserID:     userID,
		Title:      strings.TrimSpace(input.Title),
		TargetType: input.TargetType,
		Message:    input.Message,
		Delay:      model.NormalizeDelay(input.Delay),
	}

	switch input.TargetType {
	case model.TargetManual:
		recipients := model.ParseManualRecipients(input.ManualRecipients)
		if len(recipients) == 0 {
			return nil, apperrors.NewValidation("recipient list contains no valid handles")
		}
		campaign.ManualRecipients = recipients
		campaign.TotalRecipients = len(recipients)

	case model.TargetSegment:
		if input.SegmentID == nil {
			return nil, apperrors.NewValidation("segment_id is required for segment campaigns")
		}
		// Resolve now to reject empty segments early; the send re-resolves.
		recipients, err := s.resolver.Resolve(ctx, &model.Campaign{
			UserID:     userID,
			TargetType: model.TargetSegment,
			SegmentID:  input.SegmentID,
		})
		if err != nil {
			return nil, err
		}
		campaign.SegmentID = input.SegmentID
		campaign.TotalRecipients = len(recipients)

	default:
		return nil, apperrors.NewValidation("target_type must be manual or segment")
	}

	// Check before the insert, consume after: a failed insert must not burn
	// a quota slot.
	limit, err := s.usage.Check(ctx, userID, model.ResourceBroadcastCampaigns, 1)
	if err != nil {
		return nil, err
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, err
	}
	s.usage.Consume(ctx, limit, 1)

	s.logger.Info("campaign created",
		"campaign_id", campaign.ID, "user_id", userID,
		"target_type", campaign.TargetType, "total_recipients", campaign.TotalRecipients)
	return campaign, nil
}

// Start moves a draft into delivery.
func (s *Service) Start(ctx context.Context, userID, campaignID uuid.UUID) (*model.Campaign, error) {
	return s.beginRun(ctx, userID, campaignID, model.ActionStart, false)
}

// Retry re-runs a finished campaign. With onlyFailed set, only recipients
// whose last attempt failed or was blocked are targeted.
func (s *Service) Retry(ctx context.Context, userID, campaignID uuid.UUID, onlyFailed bool) (*model.Campaign, error) {
	return s.beginRun(ctx, userID, campaignID, model.ActionRetry, onlyFailed)
}

// beginRun is the shared start/retry path. The enqueue happens before the
// status flip; a job whose campaign lost the race finds a stale job id and
// exits without sending.
func (s *Service) beginRun(ctx context.Context, userID, campaignID uuid.UUID, action model.CampaignAction, onlyFailed bool) (*model.Campaign, error) {
	campaign, err := s.campaigns.Get(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}

	if _, err := model.Transition(campaign.Status, action); err != nil {
		return nil, apperrors.NewValidation(err.Error())
	}

	var total int
	if onlyFailed {
		failed, err := s.campaigns.FailedRecipients(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		if len(failed) == 0 {
			return nil, apperrors.NewValidation("campaign has no failed recipients to retry")
		}
		total = len(failed)
	} else {
		recipients, err := s.resolver.Resolve(ctx, campaign)
		if err != nil {
			return nil, err
		}
		total = len(recipients)
	}

	// Check only; the run is charged for actual attempts at finalize.
	if _, err := s.usage.Check(ctx, userID, model.ResourceBroadcastMessages, int64(total)); err != nil {
		return nil, err
	}

	payload := model.BroadcastJobPayload{
		CampaignID:      campaignID,
		UserID:          userID,
		RetryOnlyFailed: onlyFailed,
	}
	job, err := s.manager.Enqueue(ctx, model.JobTypeBroadcast, payload)
	if err != nil {
		return nil, err
	}

	var fromStatuses []model.CampaignStatus
	if action == model.ActionStart {
		fromStatuses = []model.CampaignStatus{model.CampaignStatusDraft}
	} else {
		fromStatuses = []model.CampaignStatus{model.CampaignStatusCompleted, model.CampaignStatusFailed}
	}

	won, err := s.campaigns.BeginRun(ctx, campaignID, job.ID.String(), total, fromStatuses)
	if err != nil {
		return nil, err
	}
	if !won {
		// A concurrent call flipped the status first; its job owns the run.
		return nil, apperrors.NewValidation("campaign run already started")
	}

	updated, err := s.campaigns.Get(ctx, userID, campaignID)
	if err != nil {
		return nil, err
	}
	s.progress.Put(ctx, model.BuildProgress(updated))

	s.logger.Info("campaign run queued",
		"campaign_id", campaignID, "job_id", job.ID, "action", action, "total", total)
	return updated, nil
}

// Get returns one campaign, owner scoped.
func (s *Service) Get(ctx context.Context, userID, campaignID uuid.UUID) (*model.Campaign, error) {
	return s.campaigns.Get(ctx, userID, campaignID)
}

// Progress serves the cached snapshot, falling back to a snapshot derived
// from the campaign row on a cache miss.
func (s *Service) Progress(ctx context.Context, userID, campaignID uuid.UUID) (model.ProgressSnapshot, error) {
	campaign, err := s.campaigns.Get(ctx, userID, campaignID)
	if err != nil {
		return model.ProgressSnapshot{}, err
	}

	if snap, ok := s.progress.Get(ctx, campaignID.String()); ok {
		return snap, nil
	}

	snap := model.BuildProgress(campaign)
	s.progress.Put(ctx, snap)
	return snap, nil
}

// Logs lists delivery log rows for one campaign, newest first.
func (s *Service) Logs(ctx context.Context, userID, campaignID uuid.UUID, page model.Pagination, status *model.LogStatus) ([]*model.LogEntry, error) {
	if _, err := s.campaigns.Get(ctx, userID, campaignID); err != nil {
		return nil, err
	}
	return s.campaigns.ListLogs(ctx, campaignID, page, status)
}

// History lists the user's campaigns joined with their audience names.
func (s *Service) History(ctx context.Context, userID uuid.UUID, page model.Pagination, status *model.CampaignStatus) ([]*model.HistoryEntry, error) {
	return s.campaigns.ListHistory(ctx, userID, page, status)
}
