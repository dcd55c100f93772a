package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
)

type campaignRepository struct {
	BaseRepository
}

func NewCampaignRepository(base BaseRepository) repository.CampaignRepository {
	return &campaignRepository{base}
}

// campaignRow mirrors the broadcast_campaigns table; the jsonb columns are
// decoded tolerantly so legacy or malformed rows degrade to defaults instead
// of failing the read.
type campaignRow struct {
	ID               uuid.UUID      `db:"id"`
	UserID           uuid.UUID      `db:"user_id"`
	SegmentID        *uuid.UUID     `db:"segment_id"`
	TargetType       string         `db:"target_type"`
	ManualRecipients []byte         `db:"manual_recipients"`
	Message          []byte         `db:"message"`
	DelayConfig      []byte         `db:"delay_config"`
	TotalRecipients  sql.NullInt64  `db:"total_recipients"`
	SentCount        sql.NullInt64  `db:"sent_count"`
	FailedCount      sql.NullInt64  `db:"failed_count"`
	BlockedCount     sql.NullInt64  `db:"blocked_count"`
	Status           sql.NullString `db:"status"`
	JobID            *string        `db:"job_id"`
	Title            sql.NullString `db:"title"`
	LastError        *string        `db:"last_error"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	StartedAt        *time.Time     `db:"started_at"`
	CompletedAt      *time.Time     `db:"completed_at"`
}

func (row *campaignRow) toModel() *model.Campaign {
	status := model.CampaignStatusDraft
	if row.Status.Valid && row.Status.String != "" {
		status = model.CampaignStatus(row.Status.String)
	}

	targetType := model.TargetManual
	if row.TargetType == string(model.TargetSegment) {
		targetType = model.TargetSegment
	}

	return &model.Campaign{
		ID:               row.ID,
		UserID:           row.UserID,
		SegmentID:        row.SegmentID,
		TargetType:       targetType,
		ManualRecipients: model.DecodeManualRecipients(row.ManualRecipients),
		Message:          model.DecodeMessage(row.Message),
		Delay:            model.DecodeDelay(row.DelayConfig),
		TotalRecipients:  int(row.TotalRecipients.Int64),
		SentCount:        int(row.SentCount.Int64),
		FailedCount:      int(row.FailedCount.Int64),
		BlockedCount:     int(row.BlockedCount.Int64),
		Status:           status,
		JobID:            row.JobID,
		Title:            row.Title.String,
		LastError:        row.LastError,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		StartedAt:        row.StartedAt,
		CompletedAt:      row.CompletedAt,
	}
}

const campaignColumns = `
	id, user_id, segment_id, target_type, manual_recipients, message,
	delay_config, total_recipients, sent_count, failed_count, blocked_count,
	status, job_id, title, last_error, created_at, updated_at, started_at,
	completed_at`

func (r *campaignRepository) Create(ctx context.Context, campaign *model.Campaign) error {
	manual, err := json.Marshal(campaign.ManualRecipients)
	if err != nil {
		return fmt.Errorf("failed to marshal manual recipients: %w", err)
	}
	message, err := json.Marshal(campaign.Message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	delay, err := json.Marshal(campaign.Delay)
	if err != nil {
		return fmt.Errorf("failed to marshal delay config: %w", err)
	}

	campaign.ID = uuid.New()
	campaign.Status = model.CampaignStatusDraft
	campaign.CreatedAt = time.Now().UTC()
	campaign.UpdatedAt = campaign.CreatedAt

	query := `
		INSERT INTO broadcast_campaigns (
			id, user_id, segment_id, target_type, manual_recipients, message,
			delay_config, total_recipients, sent_count, failed_count,
			blocked_count, status, title, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8, 0, 0, 0, $9,
			$10, $11, $11
		)
	`
	_, err = r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.UserID,
		campaign.SegmentID,
		campaign.TargetType,
		manual,
		message,
		delay,
		campaign.TotalRecipients,
		campaign.Status,
		campaign.Title,
		campaign.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) Get(ctx context.Context, userID, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM broadcast_campaigns
		WHERE id = $1 AND user_id = $2
		LIMIT 1`

	var row campaignRow
	if err := r.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("broadcast campaign", err)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return row.toModel(), nil
}

func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM broadcast_campaigns
		WHERE id = $1
		LIMIT 1`

	var row campaignRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("broadcast campaign", err)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return row.toModel(), nil
}

// BeginRun claims the campaign for a new delivery run. The status predicate
// makes the claim race-safe: of two concurrent starts only one UPDATE
// matches, the other observes zero rows.
func (r *campaignRepository) BeginRun(ctx context.Context, id uuid.UUID, jobID string, total int, fromStatuses []model.CampaignStatus) (bool, error) {
	statuses := make([]string, len(fromStatuses))
	for i, s := range fromStatuses {
		statuses[i] = string(s)
	}

	query := `
		UPDATE broadcast_campaigns
		SET status = $2,
			job_id = $3,
			total_recipients = $4,
			sent_count = 0,
			failed_count = 0,
			blocked_count = 0,
			started_at = NOW(),
			completed_at = NULL,
			last_error = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($5)
	`
	result, err := r.db.ExecContext(ctx, query, id, model.CampaignStatusInProgress, jobID, total, pq.Array(statuses))
	if err != nil {
		return false, fmt.Errorf("failed to begin campaign run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *campaignRepository) Finalize(ctx context.Context, id uuid.UUID, status model.CampaignStatus, sent, failed, blocked int, lastError *string) error {
	query := `
		UPDATE broadcast_campaigns
		SET status = $2,
			sent_count = $3,
			failed_count = $4,
			blocked_count = $5,
			last_error = $6,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, status, sent, failed, blocked, lastError)
	if err != nil {
		return fmt.Errorf("failed to finalize campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) UpdateCounts(ctx context.Context, id uuid.UUID, sent, failed, blocked int) error {
	query := `
		UPDATE broadcast_campaigns
		SET sent_count = $2, failed_count = $3, blocked_count = $4, updated_at = NOW()
		WHERE id = $1
	`
	_, err := r.db.ExecContext(ctx, query, id, sent, failed, blocked)
	if err != nil {
		return fmt.Errorf("failed to update campaign counts: %w", err)
	}
	return nil
}

func (r *campaignRepository) AppendLog(ctx context.Context, entry *model.LogEntry) error {
	entry.ID = uuid.New()
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}

	query := `
		INSERT INTO broadcast_logs (
			id, campaign_id, recipient_username, recipient_id, status,
			error_code, error_message, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.CampaignID,
		entry.RecipientUsername,
		entry.RecipientID,
		entry.Status,
		entry.ErrorCode,
		entry.ErrorMessage,
		entry.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append broadcast log: %w", err)
	}
	return nil
}

func (r *campaignRepository) ListLogs(ctx context.Context, campaignID uuid.UUID, page model.Pagination, status *model.LogStatus) ([]*model.LogEntry, error) {
	args := []interface{}{campaignID}
	query := `
		SELECT id, campaign_id, recipient_username, recipient_id, status,
			error_code, error_message, sent_at
		FROM broadcast_logs
		WHERE campaign_id = $1`

	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	args = append(args, page.Limit, page.Offset())
	query += fmt.Sprintf(" ORDER BY sent_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var entries []*model.LogEntry
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list broadcast logs: %w", err)
	}
	return entries, nil
}

func (r *campaignRepository) ListHistory(ctx context.Context, userID uuid.UUID, page model.Pagination, status *model.CampaignStatus) ([]*model.HistoryEntry, error) {
	args := []interface{}{userID}
	query := `
		SELECT bc.id, bc.target_type, bc.total_recipients, bc.sent_count,
			bc.failed_count, bc.blocked_count, bc.status, bc.created_at,
			asg.name AS audience_name
		FROM broadcast_campaigns bc
		LEFT JOIN audience_segments asg ON asg.id = bc.segment_id
		WHERE bc.user_id = $1`

	if status != nil {
		args = append(args, *status)
		query += fmt.Sprintf(" AND bc.status = $%d", len(args))
	}

	args = append(args, page.Limit, page.Offset())
	query += fmt.Sprintf(" ORDER BY bc.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	type historyRow struct {
		ID              uuid.UUID      `db:"id"`
		TargetType      string         `db:"target_type"`
		TotalRecipients sql.NullInt64  `db:"total_recipients"`
		SentCount       sql.NullInt64  `db:"sent_count"`
		FailedCount     sql.NullInt64  `db:"failed_count"`
		BlockedCount    sql.NullInt64  `db:"blocked_count"`
		Status          sql.NullString `db:"status"`
		CreatedAt       time.Time      `db:"created_at"`
		AudienceName    sql.NullString `db:"audience_name"`
	}

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list campaign history: %w", err)
	}

	entries := make([]*model.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		name := row.AudienceName.String
		if name == "" {
			if row.TargetType == string(model.TargetSegment) {
				name = "Audience segment"
			} else {
				name = fmt.Sprintf("Manual list (%d)", row.TotalRecipients.Int64)
			}
		}

		entries = append(entries, &model.HistoryEntry{
			ID:              row.ID,
			AudienceName:    name,
			TotalRecipients: int(row.TotalRecipients.Int64),
			SentCount:       int(row.SentCount.Int64),
			FailedCount:     int(row.FailedCount.Int64),
			BlockedCount:    int(row.BlockedCount.Int64),
			Status:          model.CampaignStatus(row.Status.String),
			CreatedAt:       row.CreatedAt,
		})
	}
	return entries, nil
}

func (r *campaignRepository) FailedRecipients(ctx context.Context, campaignID uuid.UUID) ([]string, error) {
	query := `
		SELECT recipient_username
		FROM broadcast_logs
		WHERE campaign_id = $1 AND status IN ('failed', 'blocked')
		ORDER BY sent_at ASC
	`
	var handles []string
	if err := r.db.SelectContext(ctx, &handles, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to load failed recipients: %w", err)
	}
	return model.ParseManualRecipients(handles), nil
}
