package model

import (
	"time"

	"github.com/google/uuid"
)

// NotificationChannel is a delivery route for user notifications, tried in
// priority order: telegram, then email, then in-app.
type NotificationChannel string

const (
	ChannelTelegram NotificationChannel = "telegram"
	ChannelEmail    NotificationChannel = "email"
	ChannelInApp    NotificationChannel = "in_app"
)

// ChannelPriority is the fallback order when no preference is given.
var ChannelPriority = []NotificationChannel{ChannelTelegram, ChannelEmail, ChannelInApp}

// Notification templates used by the maintenance sweeps.
const (
	TemplateSubscriptionExpiring    = "SUBSCRIPTION_EXPIRING"
	TemplatePaymentPendingReminder  = "PAYMENT_PENDING_REMINDER"
	TemplateDataRemoval             = "DATA_REMOVAL"
	TemplateBroadcastCompleted      = "BROADCAST_COMPLETED"
)

// Notification is one queued user notification.
type Notification struct {
	ID        uuid.UUID            `db:"id" json:"id"`
	UserID    uuid.UUID            `db:"user_id" json:"user_id"`
	Template  string               `db:"template" json:"template"`
	Channel   *NotificationChannel `db:"channel" json:"channel,omitempty"`
	Body      string               `db:"body" json:"body"`
	Delivered bool                 `db:"delivered" json:"delivered"`
	CreatedAt time.Time            `db:"created_at" json:"created_at"`
}
