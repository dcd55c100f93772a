package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/email"
	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/metrics"
	"github.com/televine/broadcast-api/pkg/telegram"
)

// templateBodies maps template keys to plain-text bodies. Metadata is
// appended by render; there is no templating engine behind these.
var templateBodies = map[string]string{
	model.TemplateSubscriptionExpiring:   "Your subscription is about to expire. Renew to keep your campaigns running.",
	model.TemplatePaymentPendingReminder: "Your payment is still awaiting confirmation. Complete it to activate your plan.",
	model.TemplateDataRemoval:            "Your account data was removed after the post-expiry retention period.",
	model.TemplateBroadcastCompleted:     "Your broadcast campaign has finished.",
}

// Service queues notifications for asynchronous delivery and delivers them
// through the first channel that accepts: telegram, then email, then in-app.
type Service struct {
	repo    repository.NotificationRepository
	manager *queue.Manager
	email   email.Service
	sender  telegram.Sender
	metrics *metrics.Metrics
	logger  *logger.Logger
}

func NewService(repo repository.NotificationRepository, manager *queue.Manager, emailSvc email.Service, sender telegram.Sender, m *metrics.Metrics, log *logger.Logger) *Service {
	return &Service{
		repo:    repo,
		manager: manager,
		email:   emailSvc,
		sender:  sender,
		metrics: m,
		logger:  log,
	}
}

// Queue persists the notification and enqueues its delivery job.
func (s *Service) Queue(ctx context.Context, userID uuid.UUID, template string, metadata map[string]interface{}) error {
	n := &model.Notification{
		UserID:   userID,
		Template: template,
		Body:     render(template, metadata),
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}

	payload := model.NotificationJobPayload{
		NotificationID: n.ID,
		UserID:         userID,
		Template:       template,
		Metadata:       metadata,
	}
	if _, err := s.manager.Enqueue(ctx, model.JobTypeNotification, payload); err != nil {
		return fmt.Errorf("failed to enqueue notification delivery: %w", err)
	}
	return nil
}

// Deliver attempts the channels in priority order and marks the notification
// with whichever one succeeded. In-app always succeeds, so a notification is
// only ever undeliverable if the store itself is down.
func (s *Service) Deliver(ctx context.Context, payload model.NotificationJobPayload) error {
	body := render(payload.Template, payload.Metadata)

	channels := model.ChannelPriority
	if payload.PreferredChannel != "" {
		channels = append([]model.NotificationChannel{model.NotificationChannel(payload.PreferredChannel)}, channels...)
	}

	var lastErr error
	for _, channel := range channels {
		err := s.deliverVia(ctx, channel, payload.UserID, payload.Template, body)
		if err != nil {
			s.metrics.NotificationsSent.WithLabelValues(string(channel), "error").Inc()
			s.logger.Warn("notification channel failed, trying next",
				"channel", channel, "user_id", payload.UserID, "error", err.Error())
			lastErr = err
			continue
		}

		s.metrics.NotificationsSent.WithLabelValues(string(channel), "success").Inc()
		if err := s.repo.MarkDelivered(ctx, payload.NotificationID, channel); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("all notification channels failed: %w", lastErr)
}

func (s *Service) deliverVia(ctx context.Context, channel model.NotificationChannel, userID uuid.UUID, template, body string) error {
	switch channel {
	case model.ChannelTelegram:
		if s.sender == nil {
			return fmt.Errorf("telegram sender not configured")
		}
		return s.sender.Send(ctx, userID.String(), telegram.Message{Text: body})
	case model.ChannelEmail:
		address, err := s.repo.UserEmail(ctx, userID)
		if err != nil {
			return err
		}
		if address == "" {
			return fmt.Errorf("user has no email address")
		}
		return s.email.Send(ctx, address, subject(template), body)
	case model.ChannelInApp:
		// The persisted row is the in-app notification.
		return nil
	default:
		return fmt.Errorf("unknown notification channel %q", channel)
	}
}

func subject(template string) string {
	switch template {
	case model.TemplateSubscriptionExpiring:
		return "Your subscription is expiring soon"
	case model.TemplatePaymentPendingReminder:
		return "Payment pending confirmation"
	case model.TemplateDataRemoval:
		return "Account data removed"
	case model.TemplateBroadcastCompleted:
		return "Broadcast campaign finished"
	default:
		return "Notification"
	}
}

func render(template string, metadata map[string]interface{}) string {
	body, ok := templateBodies[template]
	if !ok {
		body = template
	}
	if expires, ok := metadata["expires_at"].(string); ok {
		body += " Expires at: " + expires + "."
	}
	if txn, ok := metadata["transaction_id"].(string); ok && txn != "" {
		body += " Transaction: " + txn + "."
	}
	if title, ok := metadata["campaign_title"].(string); ok && title != "" {
		body = fmt.Sprintf("Your broadcast campaign %q has finished.", title)
	}
	return body
}
