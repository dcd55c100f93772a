package model

import (
	"time"

	"github.com/google/uuid"
)

// SegmentFilters narrows a segment's source parsing results at resolution
// time. Zero-valued bounds are ignored.
type SegmentFilters struct {
	Language       string   `json:"language,omitempty"`
	MinSubscribers *int     `json:"min_subscribers,omitempty"`
	MaxSubscribers *int     `json:"max_subscribers,omitempty"`
	EngagementMin  *float64 `json:"engagement_min,omitempty"`
	EngagementMax  *float64 `json:"engagement_max,omitempty"`
	ActivityLevel  string   `json:"activity_level,omitempty"`
}

// IsEmpty reports whether no filter is set.
func (f SegmentFilters) IsEmpty() bool {
	return f.Language == "" &&
		f.MinSubscribers == nil && f.MaxSubscribers == nil &&
		f.EngagementMin == nil && f.EngagementMax == nil &&
		f.ActivityLevel == ""
}

// AudienceSegment is a saved, filterable audience definition derived from a
// completed parsing run.
type AudienceSegment struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Name            string          `db:"name" json:"name"`
	Filters         *SegmentFilters `db:"-" json:"filters,omitempty"`
	TotalRecipients int             `db:"total_recipients" json:"total_recipients"`
	SourceParsingID *uuid.UUID      `db:"source_parsing_id" json:"source_parsing_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// SegmentRecipient is one resolved delivery target from parsed data.
type SegmentRecipient struct {
	Username  string  `db:"username"`
	ChannelID *string `db:"channel_id"`
}
