package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/televine/broadcast-api/internal/config"
	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/service/broadcast"
	"github.com/televine/broadcast-api/internal/service/usage"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/metrics"
	"github.com/televine/broadcast-api/pkg/telegram"
)

var testMetrics = metrics.NewMetrics("worker_test")

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*model.Campaign
	logs      []*model.LogEntry
	failedFor map[uuid.UUID][]string
	charged   bool
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns: make(map[uuid.UUID]*model.Campaign),
		failedFor: make(map[uuid.UUID][]string),
	}
}

func (f *fakeCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeCampaignRepo) Get(_ context.Context, userID, id uuid.UUID) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, apperrors.NewNotFound("campaign", nil)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCampaignRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return nil, apperrors.NewNotFound("campaign", nil)
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCampaignRepo) BeginRun(_ context.Context, id uuid.UUID, jobID string, total int, _ []model.CampaignStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	c.Status = model.CampaignStatusInProgress
	c.JobID = &jobID
	c.TotalRecipients = total
	return true, nil
}

func (f *fakeCampaignRepo) Finalize(_ context.Context, id uuid.UUID, status model.CampaignStatus, sent, failed, blocked int, lastError *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	c.Status = status
	c.SentCount = sent
	c.FailedCount = failed
	c.BlockedCount = blocked
	c.LastError = lastError
	return nil
}

func (f *fakeCampaignRepo) UpdateCounts(_ context.Context, id uuid.UUID, sent, failed, blocked int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.campaigns[id]
	c.SentCount = sent
	c.FailedCount = failed
	c.BlockedCount = blocked
	return nil
}

func (f *fakeCampaignRepo) AppendLog(_ context.Context, entry *model.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeCampaignRepo) ListLogs(context.Context, uuid.UUID, model.Pagination, *model.LogStatus) ([]*model.LogEntry, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) ListHistory(context.Context, uuid.UUID, model.Pagination, *model.CampaignStatus) ([]*model.HistoryEntry, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) FailedRecipients(_ context.Context, campaignID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failedFor[campaignID], nil
}

type fakeSegmentRepo struct {
	getErr error
}

func (f *fakeSegmentRepo) Get(context.Context, uuid.UUID, uuid.UUID) (*model.AudienceSegment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return nil, apperrors.NewNotFound("audience segment", nil)
}

func (f *fakeSegmentRepo) Recipients(context.Context, uuid.UUID, uuid.UUID, *model.SegmentFilters, int) ([]model.SegmentRecipient, error) {
	return nil, nil
}

func (f *fakeSegmentRepo) UpdateTotal(context.Context, uuid.UUID, int) error { return nil }

type fakeUsageRepo struct {
	mu         sync.Mutex
	limit      *model.UsageLimit
	increments []int64
}

func (f *fakeUsageRepo) Find(context.Context, uuid.UUID, string) (*model.UsageLimit, error) {
	return f.limit, nil
}

func (f *fakeUsageRepo) Increment(_ context.Context, _ uuid.UUID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments = append(f.increments, amount)
	return nil
}

type fakeBroker struct{}

func (fakeBroker) Publish(context.Context, string, interface{}) error { return nil }
func (fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (fakeBroker) Close() error { return nil }

// scriptedSender fails recipients by marker in their handle: "blocked" yields
// a blocked-peer error, "broken" a generic one, "flood" one flood wait then
// success.
type scriptedSender struct {
	mu      sync.Mutex
	sent    []string
	flooded map[string]bool
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{flooded: make(map[string]bool)}
}

func (s *scriptedSender) Send(_ context.Context, recipient string, _ telegram.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.Contains(recipient, "blocked"):
		return errors.New("USER_IS_BLOCKED")
	case strings.Contains(recipient, "broken"):
		return errors.New("connection reset")
	case strings.Contains(recipient, "flood") && !s.flooded[recipient]:
		s.flooded[recipient] = true
		return errors.New("FLOOD_WAIT_1")
	}
	s.sent = append(s.sent, recipient)
	return nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	templates []string
	metadata  []map[string]interface{}
}

func (f *fakeNotifier) Queue(_ context.Context, _ uuid.UUID, template string, metadata map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templates = append(f.templates, template)
	f.metadata = append(f.metadata, metadata)
	return nil
}

type fixture struct {
	repo     *fakeCampaignRepo
	segments *fakeSegmentRepo
	usage    *fakeUsageRepo
	sender   *scriptedSender
	notifier *fakeNotifier
	worker   *BroadcastWorker
}

func newFixture() *fixture {
	repo := newFakeCampaignRepo()
	segments := &fakeSegmentRepo{}
	usageRepo := &fakeUsageRepo{limit: &model.UsageLimit{ID: uuid.New(), LimitValue: 1000}}
	sender := newScriptedSender()
	notifier := &fakeNotifier{}
	log := logger.NewLogger(nil)

	// Intentionally unreachable; the cache must degrade, not block delivery.
	client := redis.NewClient(&redis.Options{
		Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1,
	})
	progress := broadcast.NewProgressCache(client, fakeBroker{}, config.BroadcastConfig{}, log)

	return &fixture{
		repo:     repo,
		segments: segments,
		usage:    usageRepo,
		sender:   sender,
		notifier: notifier,
		worker: NewBroadcastWorker(repo, broadcast.NewResolver(segments), usage.NewService(usageRepo, log),
			progress, notifier, sender, testMetrics, log, 2),
	}
}

func (f *fixture) addCampaign(recipients []string, jobID uuid.UUID) *model.Campaign {
	campaign := &model.Campaign{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		TargetType:       model.TargetManual,
		ManualRecipients: recipients,
		Message:          model.Message{Text: "launch day"},
		Delay:            model.DelayConfig{MinMs: 1, MaxMs: 2},
		Status:           model.CampaignStatusInProgress,
		Title:            "launch",
	}
	id := jobID.String()
	campaign.JobID = &id
	f.repo.campaigns[campaign.ID] = campaign
	return campaign
}

func deliveryJob(campaign *model.Campaign, jobID uuid.UUID, onlyFailed bool) *model.QueueJob {
	payload, _ := json.Marshal(model.BroadcastJobPayload{
		CampaignID:      campaign.ID,
		UserID:          campaign.UserID,
		RetryOnlyFailed: onlyFailed,
	})
	return &model.QueueJob{ID: jobID, JobType: model.JobTypeBroadcast, Payload: payload}
}

func TestHandleDeliversAndFinalizes(t *testing.T) {
	f := newFixture()
	jobID := uuid.New()
	campaign := f.addCampaign([]string{"@alice_dev", "@blocked_user", "@broken_user"}, jobID)

	err := f.worker.Handle(context.Background(), deliveryJob(campaign, jobID, false))
	require.NoError(t, err)

	final := f.repo.campaigns[campaign.ID]
	assert.Equal(t, model.CampaignStatusCompleted, final.Status)
	assert.Equal(t, 1, final.SentCount)
	assert.Equal(t, 1, final.FailedCount)
	assert.Equal(t, 1, final.BlockedCount)
	assert.Nil(t, final.LastError)

	require.Len(t, f.repo.logs, 3)
	byStatus := make(map[model.LogStatus]int)
	for _, entry := range f.repo.logs {
		byStatus[entry.Status]++
		if entry.Status != model.LogStatusSent {
			assert.NotNil(t, entry.ErrorMessage)
		}
	}
	assert.Equal(t, 1, byStatus[model.LogStatusSent])
	assert.Equal(t, 1, byStatus[model.LogStatusFailed])
	assert.Equal(t, 1, byStatus[model.LogStatusBlocked])

	assert.Equal(t, []int64{3}, f.usage.increments, "every attempt is charged, not only successes")
	assert.Equal(t, []string{model.TemplateBroadcastCompleted}, f.notifier.templates)
}

func TestHandleHonorsFloodWait(t *testing.T) {
	f := newFixture()
	jobID := uuid.New()
	campaign := f.addCampaign([]string{"@flood_user"}, jobID)

	start := time.Now()
	err := f.worker.Handle(context.Background(), deliveryJob(campaign, jobID, false))
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), time.Second, "flood wait is slept through")
	assert.Equal(t, model.CampaignStatusCompleted, f.repo.campaigns[campaign.ID].Status)
	assert.Equal(t, 1, f.repo.campaigns[campaign.ID].SentCount, "send succeeds after the wait")
}

func TestHandleSkipsStaleJob(t *testing.T) {
	f := newFixture()
	campaign := f.addCampaign([]string{"@alice_dev"}, uuid.New())

	// A different run owns the campaign now.
	err := f.worker.Handle(context.Background(), deliveryJob(campaign, uuid.New(), false))
	require.NoError(t, err)

	assert.Empty(t, f.sender.sent, "stale jobs must not send")
	assert.Empty(t, f.repo.logs)
	assert.Equal(t, model.CampaignStatusInProgress, f.repo.campaigns[campaign.ID].Status,
		"the owning run's campaign is left untouched")
}

func TestHandleSkipsNonRunningCampaign(t *testing.T) {
	f := newFixture()
	jobID := uuid.New()
	campaign := f.addCampaign([]string{"@alice_dev"}, jobID)
	campaign.Status = model.CampaignStatusCompleted

	err := f.worker.Handle(context.Background(), deliveryJob(campaign, jobID, false))
	require.NoError(t, err)
	assert.Empty(t, f.sender.sent)
}

func TestHandleRetryOnlyFailed(t *testing.T) {
	f := newFixture()
	jobID := uuid.New()
	campaign := f.addCampaign([]string{"@alice_dev", "@bob_dev"}, jobID)
	f.repo.failedFor[campaign.ID] = []string{"@bob_dev"}

	err := f.worker.Handle(context.Background(), deliveryJob(campaign, jobID, true))
	require.NoError(t, err)

	assert.Equal(t, []string{"@bob_dev"}, f.sender.sent, "only prior failures are retried")
	assert.Equal(t, 1, f.repo.campaigns[campaign.ID].SentCount)
}

func (f *fixture) addSegmentCampaign(jobID uuid.UUID) *model.Campaign {
	segmentID := uuid.New()
	campaign := &model.Campaign{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		TargetType: model.TargetSegment,
		SegmentID:  &segmentID,
		Message:    model.Message{Text: "launch day"},
		Delay:      model.DelayConfig{MinMs: 1, MaxMs: 2},
		Status:     model.CampaignStatusInProgress,
		Title:      "launch",
	}
	id := jobID.String()
	campaign.JobID = &id
	f.repo.campaigns[campaign.ID] = campaign
	return campaign
}

func TestHandleRetriesTransientResolutionFailure(t *testing.T) {
	f := newFixture()
	f.segments.getErr = errors.New("connection refused")
	jobID := uuid.New()
	campaign := f.addSegmentCampaign(jobID)

	job := deliveryJob(campaign, jobID, false)
	job.Attempts = 1
	job.MaxAttempts = 5

	err := f.worker.Handle(context.Background(), job)
	require.Error(t, err, "a pre-send failure with budget left goes back to the queue")

	current := f.repo.campaigns[campaign.ID]
	assert.Equal(t, model.CampaignStatusInProgress, current.Status,
		"campaign stays owned by the run until the attempt budget is spent")
	assert.Empty(t, f.repo.logs)
	assert.Empty(t, f.usage.increments)
}

func TestHandleFinalizesResolutionFailureOnLastAttempt(t *testing.T) {
	f := newFixture()
	f.segments.getErr = errors.New("connection refused")
	jobID := uuid.New()
	campaign := f.addSegmentCampaign(jobID)

	job := deliveryJob(campaign, jobID, false)
	job.Attempts = 5
	job.MaxAttempts = 5

	err := f.worker.Handle(context.Background(), job)
	require.NoError(t, err)

	final := f.repo.campaigns[campaign.ID]
	assert.Equal(t, model.CampaignStatusFailed, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "connection refused")
}

func TestHandleFinalizesFailedOnResolutionError(t *testing.T) {
	f := newFixture()
	jobID := uuid.New()
	campaign := f.addCampaign(nil, jobID)

	err := f.worker.Handle(context.Background(), deliveryJob(campaign, jobID, false))
	require.NoError(t, err, "delivery jobs never go back to the queue")

	final := f.repo.campaigns[campaign.ID]
	assert.Equal(t, model.CampaignStatusFailed, final.Status)
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "no valid recipients")
}

func TestHandleFinalizesOnCancelledContext(t *testing.T) {
	f := newFixture()
	jobID := uuid.New()
	campaign := f.addCampaign([]string{"@alice_dev", "@bob_dev"}, jobID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.worker.Handle(ctx, deliveryJob(campaign, jobID, false))
	require.NoError(t, err)

	final := f.repo.campaigns[campaign.ID]
	assert.Equal(t, model.CampaignStatusFailed, final.Status, "an interrupted run still lands terminal")
	require.NotNil(t, final.LastError)
	assert.Contains(t, *final.LastError, "interrupted")
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	f := newFixture()
	err := f.worker.Handle(context.Background(), &model.QueueJob{ID: uuid.New(), Payload: []byte("{broken")})
	assert.NoError(t, err)
}

func TestPaceDelayWidensOnFailures(t *testing.T) {
	window := model.DelayConfig{MinMs: 1, MaxMs: 2}

	for i := 0; i < 20; i++ {
		assert.Equal(t, 500*time.Millisecond, paceDelay(window, 0),
			"healthy runs keep the configured cadence")
	}

	// Half the attempts failing overrides the tiny window: 1500ms base plus
	// 0.5 * 4s failure widening.
	assert.Equal(t, 3500*time.Millisecond, paceDelay(window, 0.5))
	assert.Equal(t, 5500*time.Millisecond, paceDelay(window, 1))

	// A wide healthy window is not shrunk by the adaptive floor.
	slow := model.DelayConfig{MinMs: 20000, MaxMs: 20000}
	assert.GreaterOrEqual(t, paceDelay(slow, 0.5), 16*time.Second)
}
