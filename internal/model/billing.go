package model

import (
	"time"

	"github.com/google/uuid"
)

// Rows read by the maintenance cron sweeps. This subsystem reads, but does
// not own, the subscription and payment tables.

// ExpiringSubscription is an active subscription approaching its expiry.
type ExpiringSubscription struct {
	ID        uuid.UUID `db:"id"`
	UserID    uuid.UUID `db:"user_id"`
	ExpiresAt time.Time `db:"expires_at"`
}

// PendingPayment is a payment awaiting gateway confirmation.
type PendingPayment struct {
	ID            uuid.UUID `db:"id"`
	UserID        uuid.UUID `db:"user_id"`
	TransactionID string    `db:"transaction_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// CleanupResult summarizes one expired user's data purge.
type CleanupResult struct {
	ParsingHistory     int64 `json:"parsing_history"`
	ParsedChannels     int64 `json:"parsed_channels"`
	AudienceSegments   int64 `json:"audience_segments"`
	BroadcastCampaigns int64 `json:"broadcast_campaigns"`
	BroadcastLogs      int64 `json:"broadcast_logs"`
}

// Total is the number of rows removed across all tables.
func (r CleanupResult) Total() int64 {
	return r.ParsingHistory + r.ParsedChannels + r.AudienceSegments +
		r.BroadcastCampaigns + r.BroadcastLogs
}
