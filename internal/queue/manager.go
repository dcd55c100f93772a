package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/messaging"
)

// Handler processes one claimed job. A returned error sends the job through
// the retry path; nil completes it.
type Handler func(ctx context.Context, job *model.QueueJob) error

// wakeChannel is the broker channel pollers listen on for a given queue.
func wakeChannel(jobType model.JobType) string {
	return "queue:wake:" + string(jobType)
}

// Manager is the enqueue side of the queue plus the handler registry the
// worker pool dispatches from. Handlers are registered explicitly at startup;
// there is no global registry.
type Manager struct {
	jobs   repository.JobRepository
	broker messaging.Broker
	logger *logger.Logger

	mu       sync.RWMutex
	handlers map[model.JobType]Handler

	defaultMaxAttempts int
}

func NewManager(jobs repository.JobRepository, broker messaging.Broker, log *logger.Logger, defaultMaxAttempts int) *Manager {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = 5
	}
	return &Manager{
		jobs:               jobs,
		broker:             broker,
		logger:             log,
		handlers:           make(map[model.JobType]Handler),
		defaultMaxAttempts: defaultMaxAttempts,
	}
}

// Register binds a handler to a job type. Re-registering a type replaces the
// previous handler.
func (m *Manager) Register(jobType model.JobType, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[jobType] = h
}

func (m *Manager) handler(jobType model.JobType) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[jobType]
	return h, ok
}

// EnqueueOption tweaks a single enqueue call.
type EnqueueOption func(*model.QueueJob)

func WithPriority(p int) EnqueueOption {
	return func(j *model.QueueJob) { j.Priority = p }
}

func WithRunAt(t time.Time) EnqueueOption {
	return func(j *model.QueueJob) { j.RunAt = t }
}

func WithMaxAttempts(n int) EnqueueOption {
	return func(j *model.QueueJob) { j.MaxAttempts = n }
}

// Enqueue persists a job row and nudges any poller waiting on that queue.
// The wakeup is best effort; the poll loop picks the job up regardless.
func (m *Manager) Enqueue(ctx context.Context, jobType model.JobType, payload interface{}, opts ...EnqueueOption) (*model.QueueJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &model.QueueJob{
		JobType:     jobType,
		Payload:     data,
		MaxAttempts: m.defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(job)
	}

	if err := m.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	if err := m.broker.Publish(ctx, wakeChannel(jobType), job.ID.String()); err != nil {
		m.logger.Warn("queue wakeup publish failed", "job_type", jobType, "error", err.Error())
	}

	return job, nil
}
