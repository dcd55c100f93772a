package queue

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/televine/broadcast-api/internal/config"
	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/repository"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/messaging"
	"github.com/televine/broadcast-api/pkg/metrics"
)

// stuckAfter is how long a job may sit active before the sweeper assumes its
// worker died and returns it to the pool.
const stuckAfter = 10 * time.Minute

// ErrorRecorder persists operational failures for later review. The queue
// records permanently failed jobs through it.
type ErrorRecorder interface {
	RecordErrorEvent(ctx context.Context, service, message string, details map[string]interface{}) error
}

// WorkerPool runs one poll loop per registered job type, each claiming
// batches and fanning them out to a bounded set of goroutines. Delivery is
// at least once; handlers must tolerate redelivery after a crash.
type WorkerPool struct {
	manager  *Manager
	jobs     repository.JobRepository
	broker   messaging.Broker
	metrics  *metrics.Metrics
	logger   *logger.Logger
	cfg      config.QueueConfig
	recorder ErrorRecorder

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorkerPool(manager *Manager, jobs repository.JobRepository, broker messaging.Broker, m *metrics.Metrics, log *logger.Logger, cfg config.QueueConfig) *WorkerPool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	return &WorkerPool{
		manager: manager,
		jobs:    jobs,
		broker:  broker,
		metrics: m,
		logger:  log,
		cfg:     cfg,
	}
}

// RecordFailuresTo routes permanent job failures into the error event table.
// Optional; without a recorder failures are only logged and counted.
func (p *WorkerPool) RecordFailuresTo(recorder ErrorRecorder) {
	p.recorder = recorder
}

// Start launches the poll loops for every job type with a registered handler,
// plus the depth sampler and the stuck-job sweeper. It returns immediately.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for _, jobType := range model.AllJobTypes {
		if _, ok := p.manager.handler(jobType); !ok {
			continue
		}
		jobType := jobType
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.pollLoop(ctx, jobType)
		}()
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		p.depthSampler(ctx)
	}()
	go func() {
		defer p.wg.Done()
		p.stuckSweeper(ctx)
	}()
}

// Stop cancels all loops and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *WorkerPool) pollLoop(ctx context.Context, jobType model.JobType) {
	wake, err := p.broker.Subscribe(ctx, wakeChannel(jobType))
	if err != nil {
		p.logger.Warn("queue wakeup subscribe failed, falling back to polling only",
			"job_type", jobType, "error", err.Error())
		wake = nil
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, p.cfg.Concurrency)

	for {
		p.drain(ctx, jobType, sem)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}
	}
}

// drain claims and processes batches until the queue has no more due work.
func (p *WorkerPool) drain(ctx context.Context, jobType model.JobType, sem chan struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := p.jobs.Claim(ctx, jobType, p.cfg.BatchSize)
		if err != nil {
			p.logger.Error(err, "failed to claim jobs", "job_type", jobType)
			return
		}
		if len(claimed) == 0 {
			return
		}

		var batch sync.WaitGroup
		for _, job := range claimed {
			job := job
			batch.Add(1)
			sem <- struct{}{}
			go func() {
				defer batch.Done()
				defer func() { <-sem }()
				p.process(ctx, job)
			}()
		}
		batch.Wait()

		if len(claimed) < p.cfg.BatchSize {
			return
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, job *model.QueueJob) {
	handler, ok := p.manager.handler(job.JobType)
	if !ok {
		p.markFailed(ctx, job, fmt.Sprintf("no handler registered for %s", job.JobType))
		return
	}

	start := time.Now()
	err := p.runHandler(ctx, handler, job)
	elapsed := time.Since(start).Seconds()

	if err == nil {
		p.metrics.JobEvents.WithLabelValues(string(job.JobType), "completed").Inc()
		p.metrics.JobDuration.WithLabelValues(string(job.JobType), "completed").Observe(elapsed)
		if markErr := p.jobs.MarkCompleted(ctx, job.ID); markErr != nil {
			p.logger.Error(markErr, "failed to mark job completed", "job_id", job.ID)
		}
		return
	}

	p.metrics.JobDuration.WithLabelValues(string(job.JobType), "failed").Observe(elapsed)

	if job.Attempts >= job.MaxAttempts {
		p.markFailed(ctx, job, err.Error())
		return
	}

	delay := p.backoff(job.Attempts)
	p.metrics.JobEvents.WithLabelValues(string(job.JobType), "retry").Inc()
	p.logger.Warn("job failed, scheduling retry",
		"job_id", job.ID, "job_type", job.JobType,
		"attempt", job.Attempts, "retry_in", delay.String(), "error", err.Error())
	if markErr := p.jobs.MarkRetry(ctx, job.ID, time.Now().Add(delay), err.Error()); markErr != nil {
		p.logger.Error(markErr, "failed to mark job for retry", "job_id", job.ID)
	}
}

// runHandler isolates handler panics so one bad job cannot take the loop down.
func (p *WorkerPool) runHandler(ctx context.Context, handler Handler, job *model.QueueJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *WorkerPool) markFailed(ctx context.Context, job *model.QueueJob, reason string) {
	p.metrics.JobEvents.WithLabelValues(string(job.JobType), "failed").Inc()
	p.logger.Error(fmt.Errorf("%s", reason), "job failed permanently",
		"job_id", job.ID, "job_type", job.JobType, "attempts", job.Attempts)
	if err := p.jobs.MarkFailed(ctx, job.ID, reason); err != nil {
		p.logger.Error(err, "failed to mark job failed", "job_id", job.ID)
	}
	if p.recorder != nil {
		details := map[string]interface{}{
			"job_id":   job.ID.String(),
			"job_type": string(job.JobType),
			"attempts": job.Attempts,
		}
		if err := p.recorder.RecordErrorEvent(ctx, "queue", reason, details); err != nil {
			p.logger.Error(err, "failed to record error event", "job_id", job.ID)
		}
	}
}

// backoff is exponential in the attempt count: base, 2x, 4x, ...
func (p *WorkerPool) backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(float64(p.cfg.BackoffBase) * math.Pow(2, float64(attempts-1)))
}

func (p *WorkerPool) depthSampler(ctx context.Context) {
	rate := p.cfg.DepthSampleRate
	if rate <= 0 {
		rate = 15 * time.Second
	}
	ticker := time.NewTicker(rate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, jobType := range model.AllJobTypes {
				depth, err := p.jobs.Depth(ctx, jobType)
				if err != nil {
					continue
				}
				p.metrics.JobQueueSize.WithLabelValues(string(jobType)).Set(float64(depth))
			}
		}
	}
}

func (p *WorkerPool) stuckSweeper(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.jobs.RequeueStuck(ctx, stuckAfter)
			if err != nil {
				p.logger.Error(err, "failed to requeue stuck jobs")
				continue
			}
			if n > 0 {
				p.logger.Warn("requeued stuck jobs", "count", n)
			}
		}
	}
}
