package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus is the campaign state machine value.
type CampaignStatus string

const (
	CampaignStatusDraft      CampaignStatus = "draft"
	CampaignStatusInProgress CampaignStatus = "in_progress"
	CampaignStatusCompleted  CampaignStatus = "completed"
	CampaignStatusFailed     CampaignStatus = "failed"
)

// IsTerminal reports whether a run has finished in this status.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignStatusCompleted || s == CampaignStatusFailed
}

// CampaignAction is an attempted state-machine transition.
type CampaignAction string

const (
	ActionStart    CampaignAction = "start"
	ActionRetry    CampaignAction = "retry"
	ActionComplete CampaignAction = "complete"
	ActionFail     CampaignAction = "fail"
)

// campaignTransitions declares the full legal transition set in one place.
// Retry is only reachable from a terminal status; a running campaign cannot
// be started or retried again.
var campaignTransitions = map[CampaignStatus]map[CampaignAction]CampaignStatus{
	CampaignStatusDraft: {
		ActionStart: CampaignStatusInProgress,
	},
	CampaignStatusInProgress: {
		ActionComplete: CampaignStatusCompleted,
		ActionFail:     CampaignStatusFailed,
	},
	CampaignStatusCompleted: {
		ActionRetry: CampaignStatusInProgress,
	},
	CampaignStatusFailed: {
		ActionRetry: CampaignStatusInProgress,
	},
}

// Transition resolves (current, action) against the transition table.
func Transition(current CampaignStatus, action CampaignAction) (CampaignStatus, error) {
	next, ok := campaignTransitions[current][action]
	if !ok {
		return current, fmt.Errorf("cannot %s campaign in %q state", action, current)
	}
	return next, nil
}

// TargetType selects how a campaign's recipients are determined.
type TargetType string

const (
	TargetManual  TargetType = "manual"
	TargetSegment TargetType = "segment"
)

// Message is the broadcast content: mandatory text, optional image reference.
type Message struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

// DelayConfig bounds the randomized pause between consecutive sends.
type DelayConfig struct {
	MinMs int `json:"min_ms"`
	MaxMs int `json:"max_ms"`
}

// AvgMs returns the midpoint used for ETA estimates.
func (d DelayConfig) AvgMs() float64 {
	return float64(d.MinMs+d.MaxMs) / 2
}

// Campaign is one broadcast send operation.
type Campaign struct {
	ID               uuid.UUID      `db:"id" json:"id"`
	UserID           uuid.UUID      `db:"user_id" json:"user_id"`
	SegmentID        *uuid.UUID     `db:"segment_id" json:"segment_id,omitempty"`
	TargetType       TargetType     `db:"target_type" json:"target_type"`
	ManualRecipients []string       `db:"-" json:"manual_recipients,omitempty"`
	Message          Message        `db:"-" json:"message"`
	Delay            DelayConfig    `db:"-" json:"delay"`
	TotalRecipients  int            `db:"total_recipients" json:"total_recipients"`
	SentCount        int            `db:"sent_count" json:"sent_count"`
	FailedCount      int            `db:"failed_count" json:"failed_count"`
	BlockedCount     int            `db:"blocked_count" json:"blocked_count"`
	Status           CampaignStatus `db:"status" json:"status"`
	JobID            *string        `db:"job_id" json:"job_id,omitempty"`
	Title            string         `db:"title" json:"title"`
	LastError        *string        `db:"last_error" json:"last_error,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
	StartedAt        *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt      *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// Processed is the number of delivery attempts made in the current run.
func (c *Campaign) Processed() int {
	return c.SentCount + c.FailedCount + c.BlockedCount
}

// LogStatus is the per-recipient delivery outcome.
type LogStatus string

const (
	LogStatusSent    LogStatus = "sent"
	LogStatusFailed  LogStatus = "failed"
	LogStatusBlocked LogStatus = "blocked"
)

// LogEntry is one append-only row per delivery attempt.
type LogEntry struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	CampaignID        uuid.UUID  `db:"campaign_id" json:"campaign_id"`
	RecipientUsername string     `db:"recipient_username" json:"recipient_username"`
	RecipientID       *string    `db:"recipient_id" json:"recipient_id,omitempty"`
	Status            LogStatus  `db:"status" json:"status"`
	ErrorCode         *string    `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage      *string    `db:"error_message" json:"error_message,omitempty"`
	SentAt            time.Time  `db:"sent_at" json:"sent_at"`
}

// ProgressSnapshot is the cached, eventually-consistent view of a run.
type ProgressSnapshot struct {
	CampaignID uuid.UUID      `json:"campaign_id"`
	Status     CampaignStatus `json:"status"`
	Sent       int            `json:"sent"`
	Failed     int            `json:"failed"`
	Blocked    int            `json:"blocked"`
	Total      int            `json:"total"`
	Progress   int            `json:"progress"`
	ETASeconds int            `json:"eta_seconds"`
	LastError  *string        `json:"last_error,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// HistoryEntry is the list view of a campaign joined with its audience name.
type HistoryEntry struct {
	ID              uuid.UUID      `json:"id"`
	AudienceName    string         `json:"audience_name"`
	TotalRecipients int            `json:"total_recipients"`
	SentCount       int            `json:"sent_count"`
	FailedCount     int            `json:"failed_count"`
	BlockedCount    int            `json:"blocked_count"`
	Status          CampaignStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
}

// BuildProgress derives a snapshot from the authoritative campaign record.
// Used when the cache has no entry; total is widened to the processed count so
// progress never exceeds 100 even if a stale total is stored.
func BuildProgress(c *Campaign) ProgressSnapshot {
	processed := c.Processed()
	total := c.TotalRecipients
	if processed > total {
		total = processed
	}

	progress := 0
	if total > 0 {
		progress = int(float64(processed)/float64(total)*100 + 0.5)
	}

	eta := 0
	if total > processed {
		eta = int(float64(total-processed)*c.Delay.AvgMs()/1000 + 0.5)
	}

	return ProgressSnapshot{
		CampaignID: c.ID,
		Status:     c.Status,
		Sent:       c.SentCount,
		Failed:     c.FailedCount,
		Blocked:    c.BlockedCount,
		Total:      total,
		Progress:   progress,
		ETASeconds: eta,
		LastError:  c.LastError,
		UpdatedAt:  time.Now().UTC(),
	}
}
