package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
)

type maintenanceRepository struct {
	BaseRepository
}

func NewMaintenanceRepository(base BaseRepository) repository.MaintenanceRepository {
	return &maintenanceRepository{base}
}

func (r *maintenanceRepository) ExpiredSubscriptionUsers(ctx context.Context, expiredForDays int) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT user_id
		FROM subscriptions
		WHERE status = 'expired'
		AND expires_at < NOW() - ($1 * INTERVAL '1 day')
		AND NOT EXISTS (
			SELECT 1 FROM subscriptions s2
			WHERE s2.user_id = subscriptions.user_id
			AND s2.status = 'active'
		)
	`
	var userIDs []uuid.UUID
	if err := r.db.SelectContext(ctx, &userIDs, query, expiredForDays); err != nil {
		return nil, fmt.Errorf("failed to list expired subscription users: %w", err)
	}
	return userIDs, nil
}

// PurgeUserData removes one expired user's parsed data, segments, campaigns
// and logs inside a single transaction so a failed sweep leaves the account
// untouched.
func (r *maintenanceRepository) PurgeUserData(ctx context.Context, userID uuid.UUID) (model.CleanupResult, error) {
	var result model.CleanupResult

	err := r.WithTx(ctx, func(tx *sqlx.Tx) error {
		steps := []struct {
			count *int64
			query string
		}{
			{&result.BroadcastLogs, `
				DELETE FROM broadcast_logs
				WHERE campaign_id IN (SELECT id FROM broadcast_campaigns WHERE user_id = $1)`},
			{&result.BroadcastCampaigns, `DELETE FROM broadcast_campaigns WHERE user_id = $1`},
			{&result.AudienceSegments, `DELETE FROM audience_segments WHERE user_id = $1`},
			{&result.ParsedChannels, `
				DELETE FROM parsed_channels
				WHERE parsing_history_id IN (SELECT id FROM parsing_history WHERE user_id = $1)`},
			{&result.ParsingHistory, `DELETE FROM parsing_history WHERE user_id = $1`},
		}
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query, userID)
			if err != nil {
				return fmt.Errorf("failed to purge user data: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			*step.count = n
		}
		return nil
	})
	if err != nil {
		return model.CleanupResult{}, err
	}
	return result, nil
}

func (r *maintenanceRepository) ExpiringSubscriptions(ctx context.Context, windowStartHours, windowEndHours int) ([]*model.ExpiringSubscription, error) {
	query := `
		SELECT id, user_id, expires_at
		FROM subscriptions
		WHERE status = 'active'
		AND expires_at > NOW() + ($1 * INTERVAL '1 hour')
		AND expires_at <= NOW() + ($2 * INTERVAL '1 hour')
		ORDER BY expires_at ASC
	`
	var subs []*model.ExpiringSubscription
	if err := r.db.SelectContext(ctx, &subs, query, windowStartHours, windowEndHours); err != nil {
		return nil, fmt.Errorf("failed to list expiring subscriptions: %w", err)
	}
	return subs, nil
}

func (r *maintenanceRepository) FailOverduePayments(ctx context.Context, olderThanHours int) (int64, error) {
	query := `
		UPDATE payments
		SET status = 'failed', updated_at = NOW()
		WHERE status = 'pending'
		AND created_at < NOW() - ($1 * INTERVAL '1 hour')
	`
	result, err := r.db.ExecContext(ctx, query, olderThanHours)
	if err != nil {
		return 0, fmt.Errorf("failed to fail overdue payments: %w", err)
	}
	return result.RowsAffected()
}

func (r *maintenanceRepository) PaymentsNeedingReminder(ctx context.Context, afterMinutes, beforeHours int) ([]*model.PendingPayment, error) {
	query := `
		SELECT id, user_id, COALESCE(transaction_id, '') AS transaction_id, created_at
		FROM payments
		WHERE status = 'pending'
		AND reminder_sent_at IS NULL
		AND created_at < NOW() - ($1 * INTERVAL '1 minute')
		AND created_at > NOW() - ($2 * INTERVAL '1 hour')
		ORDER BY created_at ASC
	`
	var payments []*model.PendingPayment
	if err := r.db.SelectContext(ctx, &payments, query, afterMinutes, beforeHours); err != nil {
		return nil, fmt.Errorf("failed to list payments needing reminder: %w", err)
	}
	return payments, nil
}

func (r *maintenanceRepository) MarkPaymentReminderSent(ctx context.Context, paymentID uuid.UUID, at time.Time) error {
	query := `UPDATE payments SET reminder_sent_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, paymentID, at); err != nil {
		return fmt.Errorf("failed to mark payment reminder sent: %w", err)
	}
	return nil
}

func (r *maintenanceRepository) CleanupErrorLogs(ctx context.Context, retentionDays int) (int64, error) {
	query := `
		DELETE FROM error_events
		WHERE created_at < NOW() - ($1 * INTERVAL '1 day')
	`
	result, err := r.db.ExecContext(ctx, query, retentionDays)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up error logs: %w", err)
	}
	return result.RowsAffected()
}

func (r *maintenanceRepository) RecordErrorEvent(ctx context.Context, service, message string, details map[string]interface{}) error {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = []byte("{}")
	}
	query := `
		INSERT INTO error_events (id, service, message, details, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := r.db.ExecContext(ctx, query, uuid.New(), service, message, payload); err != nil {
		return fmt.Errorf("failed to record error event: %w", err)
	}
	return nil
}
