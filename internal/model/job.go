package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType names a queue. One handler is registered per type.
type JobType string

const (
	JobTypeParseSearch  JobType = "parse-search"
	JobTypeBroadcast    JobType = "broadcast"
	JobTypeNotification JobType = "notification"
	JobTypeCleanupData  JobType = "cleanup-data"
	JobTypeAudience     JobType = "audience-segment"
	JobTypeCron         JobType = "cron"
)

// AllJobTypes is the fixed queue set; used for registration and depth sampling.
var AllJobTypes = []JobType{
	JobTypeParseSearch,
	JobTypeBroadcast,
	JobTypeNotification,
	JobTypeCleanupData,
	JobTypeAudience,
	JobTypeCron,
}

// JobStatus is the queue-level lifecycle of a durable job row.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusActive    JobStatus = "active"
	JobStatusRetry     JobStatus = "retry"
	JobStatusCompleted JobStatus = "completed"
	// Failed rows are retained for operator inspection, never auto-deleted.
	JobStatusFailed JobStatus = "failed"
)

// QueueJob is a durable unit of work.
type QueueJob struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	JobType     JobType         `db:"job_type" json:"job_type"`
	Payload     json.RawMessage `db:"payload" json:"payload"`
	Status      JobStatus       `db:"status" json:"status"`
	Priority    int             `db:"priority" json:"priority"`
	Attempts    int             `db:"attempts" json:"attempts"`
	MaxAttempts int             `db:"max_attempts" json:"max_attempts"`
	RunAt       time.Time       `db:"run_at" json:"run_at"`
	LastError   *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
	StartedAt   *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// RepeatableJob is the persisted schedule state for one cron definition.
// The definition itself (handler, retry policy) lives in the static registry;
// this row only tracks what was registered and when it fires next.
type RepeatableJob struct {
	Key       string    `db:"key" json:"key"`
	Schedule  string    `db:"schedule" json:"schedule"`
	Timezone  string    `db:"timezone" json:"timezone"`
	NextRunAt time.Time `db:"next_run_at" json:"next_run_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// BroadcastJobPayload starts one delivery run for a campaign.
type BroadcastJobPayload struct {
	CampaignID      uuid.UUID `json:"campaign_id"`
	UserID          uuid.UUID `json:"user_id"`
	RetryOnlyFailed bool      `json:"retry_only_failed"`
}

// CronJobPayload carries only the registry key; the dispatch handler looks
// the definition up at execution time.
type CronJobPayload struct {
	JobKey string `json:"job_key"`
}

// NotificationJobPayload delivers one user notification.
type NotificationJobPayload struct {
	NotificationID   uuid.UUID              `json:"notification_id"`
	UserID           uuid.UUID              `json:"user_id"`
	Template         string                 `json:"template"`
	PreferredChannel string                 `json:"preferred_channel,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// CleanupJobPayload removes one user's expired data set.
type CleanupJobPayload struct {
	UserID uuid.UUID `json:"user_id"`
	Reason string    `json:"reason"`
}

// AudienceJobPayload recomputes one segment's recipient count.
type AudienceJobPayload struct {
	SegmentID uuid.UUID `json:"segment_id"`
	UserID    uuid.UUID `json:"user_id"`
}
