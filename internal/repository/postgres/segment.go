package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
)

type segmentRepository struct {
	BaseRepository
}

func NewSegmentRepository(base BaseRepository) repository.SegmentRepository {
	return &segmentRepository{base}
}

func (r *segmentRepository) Get(ctx context.Context, userID, id uuid.UUID) (*model.AudienceSegment, error) {
	query := `
		SELECT id, user_id, COALESCE(name, '') AS name, filters,
			COALESCE(total_recipients, 0) AS total_recipients,
			source_parsing_id, created_at, updated_at
		FROM audience_segments
		WHERE id = $1 AND user_id = $2
		LIMIT 1
	`

	type segmentRow struct {
		ID              uuid.UUID  `db:"id"`
		UserID          uuid.UUID  `db:"user_id"`
		Name            string     `db:"name"`
		Filters         []byte     `db:"filters"`
		TotalRecipients int        `db:"total_recipients"`
		SourceParsingID *uuid.UUID `db:"source_parsing_id"`
		CreatedAt       time.Time  `db:"created_at"`
		UpdatedAt       time.Time  `db:"updated_at"`
	}

	var row segmentRow
	if err := r.db.GetContext(ctx, &row, query, id, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewNotFound("audience segment", err)
		}
		return nil, fmt.Errorf("failed to get audience segment: %w", err)
	}

	return &model.AudienceSegment{
		ID:              row.ID,
		UserID:          row.UserID,
		Name:            row.Name,
		Filters:         model.DecodeSegmentFilters(row.Filters),
		TotalRecipients: row.TotalRecipients,
		SourceParsingID: row.SourceParsingID,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}, nil
}

// Recipients resolves a segment against the current parsed data, largest
// audiences first. Filters translate into predicate clauses over the parsed
// channel rows and their metadata.
func (r *segmentRepository) Recipients(ctx context.Context, userID, sourceParsingID uuid.UUID, filters *model.SegmentFilters, limit int) ([]model.SegmentRecipient, error) {
	args := []interface{}{sourceParsingID, userID}
	clauses := filterClauses(filters, &args)

	query := `
		SELECT pc.username, pc.channel_id
		FROM parsing_history ph
		JOIN parsed_channels pc ON pc.parsing_history_id = ph.id
		WHERE ph.id = $1 AND ph.user_id = $2`
	if len(clauses) > 0 {
		query += " AND " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY pc.member_count DESC LIMIT $%d", len(args))

	type recipientRow struct {
		Username  sql.NullString `db:"username"`
		ChannelID *string        `db:"channel_id"`
	}

	var rows []recipientRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to resolve segment recipients: %w", err)
	}

	recipients := make([]model.SegmentRecipient, 0, len(rows))
	for _, row := range rows {
		switch {
		case row.Username.Valid && row.Username.String != "":
			username := row.Username.String
			if !strings.HasPrefix(username, "@") {
				username = "@" + username
			}
			recipients = append(recipients, model.SegmentRecipient{Username: username, ChannelID: row.ChannelID})
		case row.ChannelID != nil && *row.ChannelID != "":
			recipients = append(recipients, model.SegmentRecipient{Username: *row.ChannelID, ChannelID: row.ChannelID})
		}
	}
	return recipients, nil
}

func filterClauses(filters *model.SegmentFilters, args *[]interface{}) []string {
	if filters == nil {
		return nil
	}

	var clauses []string

	if filters.EngagementMin != nil {
		*args = append(*args, *filters.EngagementMin)
		clauses = append(clauses, fmt.Sprintf("COALESCE((pc.metadata->>'activityScore')::numeric, 0) >= $%d", len(*args)))
	}
	if filters.EngagementMax != nil {
		*args = append(*args, *filters.EngagementMax)
		clauses = append(clauses, fmt.Sprintf("COALESCE((pc.metadata->>'activityScore')::numeric, 0) <= $%d", len(*args)))
	}
	if filters.MinSubscribers != nil {
		*args = append(*args, *filters.MinSubscribers)
		clauses = append(clauses, fmt.Sprintf("pc.member_count >= $%d", len(*args)))
	}
	if filters.MaxSubscribers != nil {
		*args = append(*args, *filters.MaxSubscribers)
		clauses = append(clauses, fmt.Sprintf("pc.member_count <= $%d", len(*args)))
	}
	if filters.Language != "" {
		*args = append(*args, filters.Language)
		clauses = append(clauses, fmt.Sprintf("LOWER(COALESCE(pc.metadata->>'language', '')) = LOWER($%d)", len(*args)))
	}
	if filters.ActivityLevel != "" {
		*args = append(*args, filters.ActivityLevel)
		clauses = append(clauses, fmt.Sprintf("LOWER(COALESCE(pc.metadata->>'activityLevel', '')) = LOWER($%d)", len(*args)))
	}

	return clauses
}

func (r *segmentRepository) UpdateTotal(ctx context.Context, id uuid.UUID, total int) error {
	query := `
		UPDATE audience_segments
		SET total_recipients = $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, total); err != nil {
		return fmt.Errorf("failed to update segment total: %w", err)
	}
	return nil
}
