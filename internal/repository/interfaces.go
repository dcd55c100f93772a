package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
)

// All repository interfaces in one file
type (
	// CampaignRepository owns the broadcast_campaigns and broadcast_logs
	// tables.
	CampaignRepository interface {
		Create(ctx context.Context, campaign *model.Campaign) error
		// Get is owner-scoped: a campaign belonging to another user is
		// reported as not found, never as forbidden.
		Get(ctx context.Context, userID, id uuid.UUID) (*model.Campaign, error)
		GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
		// BeginRun transitions a campaign into a fresh delivery run: stamps
		// the job id and started_at, resets counters, clears the last error
		// and updates total_recipients. Guarded by the expected current
		// statuses so two concurrent starts cannot both win.
		BeginRun(ctx context.Context, id uuid.UUID, jobID string, total int, fromStatuses []model.CampaignStatus) (bool, error)
		// Finalize writes the terminal status, final counts, completed_at
		// and the last error, if any.
		Finalize(ctx context.Context, id uuid.UUID, status model.CampaignStatus, sent, failed, blocked int, lastError *string) error
		UpdateCounts(ctx context.Context, id uuid.UUID, sent, failed, blocked int) error
		AppendLog(ctx context.Context, entry *model.LogEntry) error
		ListLogs(ctx context.Context, campaignID uuid.UUID, page model.Pagination, status *model.LogStatus) ([]*model.LogEntry, error)
		ListHistory(ctx context.Context, userID uuid.UUID, page model.Pagination, status *model.CampaignStatus) ([]*model.HistoryEntry, error)
		// FailedRecipients returns the handles of failed and blocked log
		// rows in delivery order; feeds retry-only-failed.
		FailedRecipients(ctx context.Context, campaignID uuid.UUID) ([]string, error)
	}

	// SegmentRepository reads audience segments and resolves their
	// recipients from parsed data at send time.
	SegmentRepository interface {
		Get(ctx context.Context, userID, id uuid.UUID) (*model.AudienceSegment, error)
		Recipients(ctx context.Context, userID, sourceParsingID uuid.UUID, filters *model.SegmentFilters, limit int) ([]model.SegmentRecipient, error)
		UpdateTotal(ctx context.Context, id uuid.UUID, total int) error
	}

	// UsageRepository is the quota ledger. Increment must be atomic at the
	// row level (capped in SQL, not read-modify-write in memory).
	UsageRepository interface {
		Find(ctx context.Context, userID uuid.UUID, limitKey string) (*model.UsageLimit, error)
		Increment(ctx context.Context, id uuid.UUID, amount int64) error
	}

	// JobRepository owns the durable job rows backing the queue.
	JobRepository interface {
		Enqueue(ctx context.Context, job *model.QueueJob) error
		// Claim atomically moves up to limit due jobs of one type from
		// pending/retry to active and returns them. Uses row locking with
		// SKIP LOCKED so concurrent workers never claim the same row.
		Claim(ctx context.Context, jobType model.JobType, limit int) ([]*model.QueueJob, error)
		MarkCompleted(ctx context.Context, id uuid.UUID) error
		MarkRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
		MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
		// RequeueStuck returns active jobs older than the cutoff to pending;
		// this is the redelivery path after a worker crash.
		RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error)
		Depth(ctx context.Context, jobType model.JobType) (int64, error)

		ListRepeatable(ctx context.Context) ([]*model.RepeatableJob, error)
		UpsertRepeatable(ctx context.Context, job *model.RepeatableJob) error
		DeleteRepeatable(ctx context.Context, key string) error
		// ClaimDueRepeatable advances next_run_at for due schedules and
		// returns them, exactly once per tick across all schedulers.
		ClaimDueRepeatable(ctx context.Context, now time.Time, advance func(*model.RepeatableJob) time.Time) ([]*model.RepeatableJob, error)
	}

	// NotificationRepository persists user notifications and resolves
	// delivery addresses.
	NotificationRepository interface {
		Create(ctx context.Context, n *model.Notification) error
		MarkDelivered(ctx context.Context, id uuid.UUID, channel model.NotificationChannel) error
		UserEmail(ctx context.Context, userID uuid.UUID) (string, error)
	}

	// MaintenanceRepository backs the cron sweeps over subscription,
	// payment and error-log data this subsystem reads but does not own.
	MaintenanceRepository interface {
		ExpiredSubscriptionUsers(ctx context.Context, expiredForDays int) ([]uuid.UUID, error)
		PurgeUserData(ctx context.Context, userID uuid.UUID) (model.CleanupResult, error)
		ExpiringSubscriptions(ctx context.Context, windowStartHours, windowEndHours int) ([]*model.ExpiringSubscription, error)
		FailOverduePayments(ctx context.Context, olderThanHours int) (int64, error)
		PaymentsNeedingReminder(ctx context.Context, afterMinutes, beforeHours int) ([]*model.PendingPayment, error)
		MarkPaymentReminderSent(ctx context.Context, paymentID uuid.UUID, at time.Time) error
		CleanupErrorLogs(ctx context.Context, retentionDays int) (int64, error)
		RecordErrorEvent(ctx context.Context, service, message string, details map[string]interface{}) error
	}
)
