package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
)

type notificationRepository struct {
	BaseRepository
}

func NewNotificationRepository(base BaseRepository) repository.NotificationRepository {
	return &notificationRepository{base}
}

func (r *notificationRepository) Create(ctx context.Context, n *model.Notification) error {
	n.ID = uuid.New()
	n.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO notifications (id, user_id, template, channel, body, delivered, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)
	`
	if _, err := r.db.ExecContext(ctx, query, n.ID, n.UserID, n.Template, n.Channel, n.Body, n.CreatedAt); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) MarkDelivered(ctx context.Context, id uuid.UUID, channel model.NotificationChannel) error {
	query := `
		UPDATE notifications
		SET delivered = true, channel = $2
		WHERE id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, id, channel); err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	return nil
}

func (r *notificationRepository) UserEmail(ctx context.Context, userID uuid.UUID) (string, error) {
	var email sql.NullString
	query := `SELECT email FROM users WHERE id = $1`
	if err := r.db.GetContext(ctx, &email, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return "", apperrors.NewNotFound("user", err)
		}
		return "", fmt.Errorf("failed to look up user email: %w", err)
	}
	return email.String, nil
}
