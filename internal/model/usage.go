package model

import (
	"time"

	"github.com/google/uuid"
)

// Resource keys gated by the usage ledger.
const (
	ResourceBroadcastCampaigns = "broadcast_campaigns"
	ResourceBroadcastMessages  = "broadcast_messages"
	ResourceParsingRequests    = "parsing_requests"
	ResourceAudienceSegments   = "audience_segments"
)

// UsageLimit is one per-user per-resource quota counter. LimitValue <= 0
// means unlimited; ConsumedValue never exceeds a positive LimitValue.
type UsageLimit struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	UserID        uuid.UUID  `db:"user_id" json:"user_id"`
	LimitKey      string     `db:"limit_key" json:"limit_key"`
	LimitValue    int64      `db:"limit_value" json:"limit_value"`
	ConsumedValue int64      `db:"consumed_value" json:"consumed_value"`
	ResetsAt      *time.Time `db:"resets_at" json:"resets_at,omitempty"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// Unlimited reports whether the row imposes no cap.
func (u *UsageLimit) Unlimited() bool {
	return u.LimitValue <= 0
}

// Available reports whether `required` more units fit under the cap.
func (u *UsageLimit) Available(required int64) bool {
	if u.Unlimited() {
		return true
	}
	return u.ConsumedValue+required <= u.LimitValue
}
