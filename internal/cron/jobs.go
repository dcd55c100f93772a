package cron

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/pkg/logger"
)

// Job keys and schedules. Keys are persisted in repeatable_jobs rows, so
// renaming one orphans its schedule state.
const (
	JobSubscriptionCleanup    = "subscription-cleanup"
	JobSubscriptionExpiration = "subscription-expiration"
	JobPaymentCheck           = "payment-check"
	JobErrorLogCleanup        = "error-log-cleanup"
)

const (
	// Expired accounts keep their data for a short grace period before the
	// sweep queues them for removal.
	cleanupGraceDays = 2

	// Expiry warnings go out once, for subscriptions ending in the next day.
	// The window is one hour wide so the daily run catches each subscription
	// exactly once.
	expiryWindowStartHours = 24
	expiryWindowEndHours   = 25

	// Pending payments are failed after a day; reminders go out after half
	// an hour of inactivity.
	paymentOverdueHours    = 24
	paymentReminderMinutes = 30

	errorLogRetentionDays = 2
)

// Notifier queues a user notification for asynchronous delivery.
type Notifier interface {
	Queue(ctx context.Context, userID uuid.UUID, template string, metadata map[string]interface{}) error
}

// Jobs holds the scheduled job handlers and their dependencies.
type Jobs struct {
	maintenance repository.MaintenanceRepository
	notifier    Notifier
	manager     *queue.Manager
	logger      *logger.Logger
}

func NewJobs(maintenance repository.MaintenanceRepository, notifier Notifier, manager *queue.Manager, log *logger.Logger) *Jobs {
	return &Jobs{
		maintenance: maintenance,
		notifier:    notifier,
		manager:     manager,
		logger:      log,
	}
}

// RegisterAll wires every scheduled job into the registry.
func (j *Jobs) RegisterAll(r *Registry) {
	r.Add(Definition{Key: JobSubscriptionExpiration, Schedule: "0 1 * * *", Handler: j.SubscriptionExpiration})
	r.Add(Definition{Key: JobSubscriptionCleanup, Schedule: "0 2 * * *", Handler: j.SubscriptionCleanup})
	r.Add(Definition{Key: JobErrorLogCleanup, Schedule: "0 3 * * *", Handler: j.ErrorLogCleanup})
	r.Add(Definition{Key: JobPaymentCheck, Schedule: "*/5 * * * *", Handler: j.PaymentCheck})
}

// SubscriptionCleanup queues a data purge for every account whose
// subscription expired past the grace period. The purge itself runs as a
// regular queue job so a large sweep cannot starve the scheduler.
func (j *Jobs) SubscriptionCleanup(ctx context.Context) error {
	userIDs, err := j.maintenance.ExpiredSubscriptionUsers(ctx, cleanupGraceDays)
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		payload := model.CleanupJobPayload{UserID: userID, Reason: "subscription_expired"}
		if _, err := j.manager.Enqueue(ctx, model.JobTypeCleanupData, payload); err != nil {
			j.logger.Error(err, "failed to enqueue cleanup job", "user_id", userID)
			continue
		}
	}

	if len(userIDs) > 0 {
		j.logger.Info("queued expired account cleanups", "count", len(userIDs))
	}
	return nil
}

// SubscriptionExpiration warns users whose subscription ends within the
// notice window.
func (j *Jobs) SubscriptionExpiration(ctx context.Context) error {
	subs, err := j.maintenance.ExpiringSubscriptions(ctx, expiryWindowStartHours, expiryWindowEndHours)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		metadata := map[string]interface{}{
			"subscription_id": sub.ID.String(),
			"expires_at":      sub.ExpiresAt.Format(time.RFC3339),
		}
		if err := j.notifier.Queue(ctx, sub.UserID, model.TemplateSubscriptionExpiring, metadata); err != nil {
			j.logger.Error(err, "failed to queue expiry notification", "user_id", sub.UserID)
		}
	}

	if len(subs) > 0 {
		j.logger.Info("queued subscription expiry notices", "count", len(subs))
	}
	return nil
}

// PaymentCheck fails payments stuck pending for too long and reminds users
// about recent ones still awaiting confirmation.
func (j *Jobs) PaymentCheck(ctx context.Context) error {
	failed, err := j.maintenance.FailOverduePayments(ctx, paymentOverdueHours)
	if err != nil {
		return err
	}
	if failed > 0 {
		j.logger.Info("failed overdue payments", "count", failed)
	}

	pending, err := j.maintenance.PaymentsNeedingReminder(ctx, paymentReminderMinutes, paymentOverdueHours)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, payment := range pending {
		metadata := map[string]interface{}{
			"payment_id":     payment.ID.String(),
			"transaction_id": payment.TransactionID,
		}
		if err := j.notifier.Queue(ctx, payment.UserID, model.TemplatePaymentPendingReminder, metadata); err != nil {
			j.logger.Error(err, "failed to queue payment reminder", "payment_id", payment.ID)
			continue
		}
		if err := j.maintenance.MarkPaymentReminderSent(ctx, payment.ID, now); err != nil {
			j.logger.Error(err, "failed to mark payment reminder sent", "payment_id", payment.ID)
		}
	}
	return nil
}

// ErrorLogCleanup trims the error event table to its retention window.
func (j *Jobs) ErrorLogCleanup(ctx context.Context) error {
	removed, err := j.maintenance.CleanupErrorLogs(ctx, errorLogRetentionDays)
	if err != nil {
		return err
	}
	if removed > 0 {
		j.logger.Info("removed old error events", "count", removed)
	}
	return nil
}
