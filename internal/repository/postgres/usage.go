package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
)

type usageRepository struct {
	BaseRepository
}

func NewUsageRepository(base BaseRepository) repository.UsageRepository {
	return &usageRepository{base}
}

func (r *usageRepository) Find(ctx context.Context, userID uuid.UUID, limitKey string) (*model.UsageLimit, error) {
	query := `
		SELECT id, user_id, limit_key, COALESCE(limit_value, 0) AS limit_value,
			COALESCE(consumed_value, 0) AS consumed_value, resets_at, updated_at
		FROM usage_limits
		WHERE user_id = $1 AND limit_key = $2
		LIMIT 1
	`
	var limit model.UsageLimit
	if err := r.db.GetContext(ctx, &limit, query, userID, limitKey); err != nil {
		if err == sql.ErrNoRows {
			// No row means the plan does not meter this resource.
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find usage limit: %w", err)
	}
	return &limit, nil
}

// Increment caps the counter in SQL so concurrent increments can never push
// consumed_value past limit_value, regardless of interleaving.
func (r *usageRepository) Increment(ctx context.Context, id uuid.UUID, amount int64) error {
	if amount <= 0 {
		return nil
	}

	query := `
		UPDATE usage_limits
		SET consumed_value = LEAST(limit_value, COALESCE(consumed_value, 0) + $2),
			updated_at = NOW()
		WHERE id = $1 AND limit_value > 0
	`
	if _, err := r.db.ExecContext(ctx, query, id, amount); err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}
