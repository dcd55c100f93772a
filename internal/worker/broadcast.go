package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/internal/service/broadcast"
	"github.com/televine/broadcast-api/internal/service/usage"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/metrics"
	"github.com/televine/broadcast-api/pkg/telegram"
)

// floodRetries bounds how many flood waits the worker honors for one
// recipient before counting the attempt as failed.
const floodRetries = 2

const (
	// adaptiveFailureThreshold is the failure rate above which pacing widens
	// beyond the campaign's configured window.
	adaptiveFailureThreshold = 0.05

	// senderAccountAgeDays treats the gateway's sending account as mature;
	// the age-based pacing penalty applies to fresh accounts only.
	senderAccountAgeDays = 365
)

// Notifier queues a user notification for asynchronous delivery.
type Notifier interface {
	Queue(ctx context.Context, userID uuid.UUID, template string, metadata map[string]interface{}) error
}

// BroadcastWorker executes one campaign delivery run: resolve the recipient
// list, send sequentially with randomized pacing, log every attempt and
// finalize the campaign row. Failures before the first send are returned to
// the queue while retry budget remains. Once sending begins the handler
// always finalizes and never asks the queue for a retry, because sends are
// not idempotent; re-running a campaign is a user action.
type BroadcastWorker struct {
	campaigns  repository.CampaignRepository
	resolver   *broadcast.Resolver
	usage      *usage.Service
	progress   *broadcast.ProgressCache
	notifier   Notifier
	sender     telegram.Sender
	metrics    *metrics.Metrics
	logger     *logger.Logger
	flushEvery int
}

func NewBroadcastWorker(campaigns repository.CampaignRepository, resolver *broadcast.Resolver, usageSvc *usage.Service, progress *broadcast.ProgressCache, notifier Notifier, sender telegram.Sender, m *metrics.Metrics, log *logger.Logger, flushEvery int) *BroadcastWorker {
	if flushEvery <= 0 {
		flushEvery = 10
	}
	return &BroadcastWorker{
		campaigns:  campaigns,
		resolver:   resolver,
		usage:      usageSvc,
		progress:   progress,
		notifier:   notifier,
		sender:     sender,
		metrics:    m,
		logger:     log,
		flushEvery: flushEvery,
	}
}

// Handle runs one queued delivery job.
func (w *BroadcastWorker) Handle(ctx context.Context, job *model.QueueJob) error {
	var payload model.BroadcastJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.Error(err, "malformed broadcast payload, dropping job", "job_id", job.ID)
		return nil
	}

	campaign, err := w.campaigns.GetByID(ctx, payload.CampaignID)
	if err != nil {
		w.logger.Error(err, "campaign not found for delivery job", "campaign_id", payload.CampaignID)
		return nil
	}

	// A start/retry race can leave a job whose campaign belongs to another
	// run. The job id stamped at BeginRun decides ownership.
	if campaign.Status != model.CampaignStatusInProgress ||
		campaign.JobID == nil || *campaign.JobID != job.ID.String() {
		w.logger.Warn("skipping stale delivery job",
			"campaign_id", campaign.ID, "job_id", job.ID, "status", campaign.Status)
		return nil
	}

	recipients, err := w.recipients(ctx, campaign, payload.RetryOnlyFailed)
	if err != nil {
		// Nothing was sent yet, so redelivery is safe. Transient resolution
		// failures go back to the queue until the attempt budget runs out;
		// input problems no retry can cure finalize right away.
		if !apperrors.IsValidation(err) && job.Attempts < job.MaxAttempts {
			return fmt.Errorf("failed to resolve recipients: %w", err)
		}
		w.finalize(ctx, campaign, 0, 0, 0, err)
		return nil
	}

	sent, failed, blocked, runErr := w.deliver(ctx, campaign, recipients)
	w.finalize(ctx, campaign, sent, failed, blocked, runErr)
	return nil
}

func (w *BroadcastWorker) recipients(ctx context.Context, campaign *model.Campaign, onlyFailed bool) ([]string, error) {
	if onlyFailed {
		recipients, err := w.campaigns.FailedRecipients(ctx, campaign.ID)
		if err != nil {
			return nil, err
		}
		if len(recipients) == 0 {
			return nil, apperrors.NewValidation("no failed recipients to retry")
		}
		return recipients, nil
	}
	return w.resolver.Resolve(ctx, campaign)
}

// deliver is the sequential send loop. It returns early only on context
// cancellation; per-recipient errors are tallied, not propagated.
func (w *BroadcastWorker) deliver(ctx context.Context, campaign *model.Campaign, recipients []string) (sent, failed, blocked int, runErr error) {
	message := telegram.Message{Text: campaign.Message.Text, Image: campaign.Message.Image}

	for i, recipient := range recipients {
		if ctx.Err() != nil {
			return sent, failed, blocked, fmt.Errorf("delivery interrupted: %w", ctx.Err())
		}

		sendErr := w.sendWithFloodWait(ctx, recipient, message)

		entry := &model.LogEntry{
			CampaignID:        campaign.ID,
			RecipientUsername: recipient,
			SentAt:            time.Now().UTC(),
		}
		switch {
		case sendErr == nil:
			sent++
			entry.Status = model.LogStatusSent
			w.metrics.BroadcastSent.Inc()
		case telegram.IsBlocked(sendErr):
			blocked++
			entry.Status = model.LogStatusBlocked
			msg := sendErr.Error()
			entry.ErrorMessage = &msg
			w.metrics.BroadcastBlocked.Inc()
		default:
			failed++
			entry.Status = model.LogStatusFailed
			msg := sendErr.Error()
			entry.ErrorMessage = &msg
			w.metrics.BroadcastFailed.Inc()
		}

		if err := w.campaigns.AppendLog(ctx, entry); err != nil {
			w.logger.Error(err, "failed to append delivery log",
				"campaign_id", campaign.ID, "recipient", recipient)
		}

		if (i+1)%w.flushEvery == 0 {
			w.flush(ctx, campaign, sent, failed, blocked)
		}

		if i < len(recipients)-1 {
			failureRate := float64(failed+blocked) / float64(i+1)
			if err := w.pace(ctx, campaign.Delay, failureRate); err != nil {
				return sent, failed, blocked, fmt.Errorf("delivery interrupted: %w", err)
			}
		}
	}
	return sent, failed, blocked, nil
}

func (w *BroadcastWorker) sendWithFloodWait(ctx context.Context, recipient string, message telegram.Message) error {
	var err error
	for attempt := 0; attempt <= floodRetries; attempt++ {
		err = w.sender.Send(ctx, recipient, message)
		seconds, isFlood := telegram.FloodWaitSeconds(err)
		if !isFlood {
			return err
		}

		w.metrics.FloodWaitSeconds.Add(float64(seconds))
		w.logger.Warn("honoring flood wait", "recipient", recipient, "seconds", seconds)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(seconds) * time.Second):
		}
	}
	return err
}

// paceDelay draws the next inter-send wait: a randomized interval from the
// campaign's delay window with jitter so the cadence never looks
// machine-regular, widened when the run is accumulating failures, which
// attract platform throttling.
func paceDelay(delay model.DelayConfig, failureRate float64) time.Duration {
	base := delay.MinMs
	if delay.MaxMs > delay.MinMs {
		base += rand.Intn(delay.MaxMs - delay.MinMs + 1)
	}
	wait := telegram.RandomizeDelay(time.Duration(base) * time.Millisecond)

	if failureRate > adaptiveFailureThreshold {
		if adaptive := telegram.AdaptiveDelay(failureRate, senderAccountAgeDays); adaptive > wait {
			wait = adaptive
		}
	}
	return wait
}

func (w *BroadcastWorker) pace(ctx context.Context, delay model.DelayConfig, failureRate float64) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(paceDelay(delay, failureRate)):
		return nil
	}
}

func (w *BroadcastWorker) flush(ctx context.Context, campaign *model.Campaign, sent, failed, blocked int) {
	if err := w.campaigns.UpdateCounts(ctx, campaign.ID, sent, failed, blocked); err != nil {
		w.logger.Error(err, "failed to flush campaign counters", "campaign_id", campaign.ID)
	}

	snapshot := *campaign
	snapshot.SentCount = sent
	snapshot.FailedCount = failed
	snapshot.BlockedCount = blocked
	w.progress.Put(ctx, model.BuildProgress(&snapshot))
}

// finalize writes the terminal status, charges quota for every attempt made
// and publishes the closing snapshot. Uses a fresh context so a cancelled run
// still lands in a terminal state.
func (w *BroadcastWorker) finalize(ctx context.Context, campaign *model.Campaign, sent, failed, blocked int, runErr error) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}

	status := model.CampaignStatusCompleted
	var lastError *string
	if runErr != nil {
		status = model.CampaignStatusFailed
		msg := runErr.Error()
		lastError = &msg
	}

	if err := w.campaigns.Finalize(ctx, campaign.ID, status, sent, failed, blocked, lastError); err != nil {
		w.logger.Error(err, "failed to finalize campaign", "campaign_id", campaign.ID)
		return
	}

	w.usage.Charge(ctx, campaign.UserID, model.ResourceBroadcastMessages, int64(sent+failed+blocked))

	final := *campaign
	final.Status = status
	final.SentCount = sent
	final.FailedCount = failed
	final.BlockedCount = blocked
	final.LastError = lastError
	w.progress.Put(ctx, model.BuildProgress(&final))

	if w.notifier != nil {
		metadata := map[string]interface{}{
			"campaign_id":    campaign.ID.String(),
			"campaign_title": campaign.Title,
			"status":         string(status),
			"sent":           sent,
			"failed":         failed,
			"blocked":        blocked,
		}
		if err := w.notifier.Queue(ctx, campaign.UserID, model.TemplateBroadcastCompleted, metadata); err != nil {
			w.logger.Error(err, "failed to queue completion notification", "campaign_id", campaign.ID)
		}
	}

	w.logger.Info("campaign run finished",
		"campaign_id", campaign.ID, "status", status,
		"sent", sent, "failed", failed, "blocked", blocked)
}
