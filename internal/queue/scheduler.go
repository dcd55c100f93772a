package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/pkg/logger"
)

// cronMaxAttempts bounds retries for fired schedules. A failing sweep gets a
// couple of chances but must not pile up behind the next firing.
const cronMaxAttempts = 3

// Schedule is one repeatable job definition: a stable key and a five-field
// cron expression.
type Schedule struct {
	Key  string
	Spec string
}

// Scheduler reconciles the static schedule set against the repeatable_jobs
// table and enqueues a cron dispatch job whenever a schedule comes due. Any
// number of scheduler instances may run; the due-claim is row locked so each
// firing happens once.
type Scheduler struct {
	jobs      repository.JobRepository
	manager   *Manager
	logger    *logger.Logger
	schedules []Schedule
	location  *time.Location
	parser    cron.Parser

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(jobs repository.JobRepository, manager *Manager, log *logger.Logger, schedules []Schedule, timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid cron timezone %q: %w", timezone, err)
	}
	return &Scheduler{
		jobs:      jobs,
		manager:   manager,
		logger:    log,
		schedules: schedules,
		location:  loc,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		done:      make(chan struct{}),
	}, nil
}

// Reconcile makes the repeatable_jobs table mirror the static schedule set.
// New schedules get a row with their next fire time, changed expressions are
// rescheduled from now, and rows for removed keys are deleted. Idempotent;
// run at every startup.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	existing, err := s.jobs.ListRepeatable(ctx)
	if err != nil {
		return err
	}
	byKey := make(map[string]*model.RepeatableJob, len(existing))
	for _, job := range existing {
		byKey[job.Key] = job
	}

	now := time.Now()
	wanted := make(map[string]bool, len(s.schedules))
	for _, sched := range s.schedules {
		wanted[sched.Key] = true

		spec, err := s.parser.Parse(sched.Spec)
		if err != nil {
			return fmt.Errorf("invalid cron expression for %s: %w", sched.Key, err)
		}

		current, ok := byKey[sched.Key]
		if ok && current.Schedule == sched.Spec && current.Timezone == s.location.String() {
			continue
		}

		if err := s.jobs.UpsertRepeatable(ctx, &model.RepeatableJob{
			Key:       sched.Key,
			Schedule:  sched.Spec,
			Timezone:  s.location.String(),
			NextRunAt: spec.Next(now.In(s.location)),
		}); err != nil {
			return err
		}
		s.logger.Info("registered repeatable job", "key", sched.Key, "schedule", sched.Spec)
	}

	for _, job := range existing {
		if wanted[job.Key] {
			continue
		}
		if err := s.jobs.DeleteRepeatable(ctx, job.Key); err != nil {
			return err
		}
		s.logger.Info("removed stale repeatable job", "key", job.Key)
	}

	return nil
}

// Start runs the due-claim loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fireDue(ctx)
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Scheduler) fireDue(ctx context.Context) {
	due, err := s.jobs.ClaimDueRepeatable(ctx, time.Now(), s.advance)
	if err != nil {
		s.logger.Error(err, "failed to claim due repeatable jobs")
		return
	}

	for _, job := range due {
		if _, err := s.manager.Enqueue(ctx, model.JobTypeCron, model.CronJobPayload{JobKey: job.Key}, WithMaxAttempts(cronMaxAttempts)); err != nil {
			s.logger.Error(err, "failed to enqueue cron dispatch", "key", job.Key)
			continue
		}
		s.logger.Info("cron schedule fired", "key", job.Key)
	}
}

// advance computes the next fire time after now. An unparseable expression
// pushes the row an hour out so a bad record cannot hot-loop the scheduler.
func (s *Scheduler) advance(job *model.RepeatableJob) time.Time {
	now := time.Now()
	spec, err := s.parser.Parse(job.Schedule)
	if err != nil {
		s.logger.Error(err, "unparseable schedule on repeatable job", "key", job.Key)
		return now.Add(time.Hour)
	}

	loc := s.location
	if job.Timezone != "" {
		if parsed, err := time.LoadLocation(job.Timezone); err == nil {
			loc = parsed
		}
	}
	return spec.Next(now.In(loc))
}
