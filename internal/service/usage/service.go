package usage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
	"github.com/televine/broadcast-api/pkg/logger"
)

// Service gates resource consumption against the per-user usage ledger.
// A user with no ledger row for a resource is unmetered for it.
type Service struct {
	repo   repository.UsageRepository
	logger *logger.Logger
}

func NewService(repo repository.UsageRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// Check verifies that `required` more units of the resource fit under the
// user's cap. It returns the ledger row so callers can consume against it
// later, or nil when the resource is unmetered for this user.
func (s *Service) Check(ctx context.Context, userID uuid.UUID, resource string, required int64) (*model.UsageLimit, error) {
	limit, err := s.repo.Find(ctx, userID, resource)
	if err != nil {
		return nil, fmt.Errorf("failed to check %s quota: %w", resource, err)
	}
	if limit == nil {
		return nil, nil
	}

	if !limit.Available(required) {
		return nil, apperrors.NewRateLimit(
			fmt.Sprintf("%s quota exceeded", resource),
			apperrors.QuotaDetails{
				Limit:    limit.LimitValue,
				Used:     limit.ConsumedValue,
				Required: required,
			},
		)
	}
	return limit, nil
}

// Consume records usage against a previously checked ledger row. The check
// and the consume are deliberately not one transaction: a concurrent run may
// slip through the gap, and the SQL cap absorbs any overshoot.
func (s *Service) Consume(ctx context.Context, limit *model.UsageLimit, amount int64) {
	if limit == nil || amount <= 0 {
		return
	}
	if err := s.repo.Increment(ctx, limit.ID, amount); err != nil {
		s.logger.Error(err, "failed to record usage",
			"limit_key", limit.LimitKey, "user_id", limit.UserID, "amount", amount)
	}
}

// Charge records usage without a prior check. Used at run finalize, where
// the work already happened and the SQL cap bounds the counter.
func (s *Service) Charge(ctx context.Context, userID uuid.UUID, resource string, amount int64) {
	if amount <= 0 {
		return
	}
	limit, err := s.repo.Find(ctx, userID, resource)
	if err != nil {
		s.logger.Error(err, "failed to load usage row for charge", "limit_key", resource, "user_id", userID)
		return
	}
	s.Consume(ctx, limit, amount)
}
