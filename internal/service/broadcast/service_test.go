package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/televine/broadcast-api/internal/config"
	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/internal/queue"
	"github.com/televine/broadcast-api/internal/service/usage"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
	"github.com/televine/broadcast-api/pkg/logger"
)

// In-memory fakes. The progress cache runs against an unreachable Redis on
// purpose: cache failures must degrade, not break, the service paths.

type fakeCampaignRepo struct {
	campaigns map[uuid.UUID]*model.Campaign
	logs      []*model.LogEntry
	failed    []string
	createErr error
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[uuid.UUID]*model.Campaign)}
}

func (f *fakeCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	if f.createErr != nil {
		return f.createErr
	}
	c.ID = uuid.New()
	c.Status = model.CampaignStatusDraft
	c.CreatedAt = time.Now()
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeCampaignRepo) Get(_ context.Context, userID, id uuid.UUID) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok || c.UserID != userID {
		return nil, apperrors.NewNotFound("campaign", nil)
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCampaignRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, apperrors.NewNotFound("campaign", nil)
	}
	clone := *c
	return &clone, nil
}

func (f *fakeCampaignRepo) BeginRun(_ context.Context, id uuid.UUID, jobID string, total int, fromStatuses []model.CampaignStatus) (bool, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return false, nil
	}
	eligible := false
	for _, s := range fromStatuses {
		if c.Status == s {
			eligible = true
		}
	}
	if !eligible {
		return false, nil
	}
	c.Status = model.CampaignStatusInProgress
	c.JobID = &jobID
	c.TotalRecipients = total
	c.SentCount, c.FailedCount, c.BlockedCount = 0, 0, 0
	c.LastError = nil
	now := time.Now()
	c.StartedAt = &now
	return true, nil
}

func (f *fakeCampaignRepo) Finalize(_ context.Context, id uuid.UUID, status model.CampaignStatus, sent, failed, blocked int, lastError *string) error {
	c := f.campaigns[id]
	c.Status = status
	c.SentCount, c.FailedCount, c.BlockedCount = sent, failed, blocked
	c.LastError = lastError
	return nil
}

func (f *fakeCampaignRepo) UpdateCounts(_ context.Context, id uuid.UUID, sent, failed, blocked int) error {
	c := f.campaigns[id]
	c.SentCount, c.FailedCount, c.BlockedCount = sent, failed, blocked
	return nil
}

func (f *fakeCampaignRepo) AppendLog(_ context.Context, entry *model.LogEntry) error {
	f.logs = append(f.logs, entry)
	return nil
}

func (f *fakeCampaignRepo) ListLogs(_ context.Context, campaignID uuid.UUID, _ model.Pagination, _ *model.LogStatus) ([]*model.LogEntry, error) {
	var out []*model.LogEntry
	for _, l := range f.logs {
		if l.CampaignID == campaignID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) ListHistory(_ context.Context, userID uuid.UUID, _ model.Pagination, _ *model.CampaignStatus) ([]*model.HistoryEntry, error) {
	var out []*model.HistoryEntry
	for _, c := range f.campaigns {
		if c.UserID == userID {
			out = append(out, &model.HistoryEntry{ID: c.ID, Status: c.Status})
		}
	}
	return out, nil
}

func (f *fakeCampaignRepo) FailedRecipients(_ context.Context, _ uuid.UUID) ([]string, error) {
	return f.failed, nil
}

type fakeSegmentRepo struct {
	segments   map[uuid.UUID]*model.AudienceSegment
	recipients []model.SegmentRecipient
}

func (f *fakeSegmentRepo) Get(_ context.Context, userID, id uuid.UUID) (*model.AudienceSegment, error) {
	s, ok := f.segments[id]
	if !ok || s.UserID != userID {
		return nil, apperrors.NewNotFound("audience segment", nil)
	}
	return s, nil
}

func (f *fakeSegmentRepo) Recipients(_ context.Context, _, _ uuid.UUID, _ *model.SegmentFilters, limit int) ([]model.SegmentRecipient, error) {
	if len(f.recipients) > limit {
		return f.recipients[:limit], nil
	}
	return f.recipients, nil
}

func (f *fakeSegmentRepo) UpdateTotal(_ context.Context, id uuid.UUID, total int) error {
	if s, ok := f.segments[id]; ok {
		s.TotalRecipients = total
	}
	return nil
}

type fakeUsageRepo struct {
	limits map[string]*model.UsageLimit
}

func (f *fakeUsageRepo) Find(_ context.Context, _ uuid.UUID, limitKey string) (*model.UsageLimit, error) {
	l, ok := f.limits[limitKey]
	if !ok {
		return nil, nil
	}
	return l, nil
}

func (f *fakeUsageRepo) Increment(_ context.Context, id uuid.UUID, amount int64) error {
	for _, l := range f.limits {
		if l.ID == id {
			l.ConsumedValue += amount
			if l.LimitValue > 0 && l.ConsumedValue > l.LimitValue {
				l.ConsumedValue = l.LimitValue
			}
		}
	}
	return nil
}

type fakeJobRepo struct {
	enqueued []*model.QueueJob
}

func (f *fakeJobRepo) Enqueue(_ context.Context, job *model.QueueJob) error {
	job.ID = uuid.New()
	f.enqueued = append(f.enqueued, job)
	return nil
}

func (f *fakeJobRepo) Claim(context.Context, model.JobType, int) ([]*model.QueueJob, error) {
	return nil, nil
}
func (f *fakeJobRepo) MarkCompleted(context.Context, uuid.UUID) error { return nil }
func (f *fakeJobRepo) MarkRetry(context.Context, uuid.UUID, time.Time, string) error {
	return nil
}
func (f *fakeJobRepo) MarkFailed(context.Context, uuid.UUID, string) error        { return nil }
func (f *fakeJobRepo) RequeueStuck(context.Context, time.Duration) (int64, error) { return 0, nil }
func (f *fakeJobRepo) Depth(context.Context, model.JobType) (int64, error)        { return 0, nil }
func (f *fakeJobRepo) ListRepeatable(context.Context) ([]*model.RepeatableJob, error) {
	return nil, nil
}
func (f *fakeJobRepo) UpsertRepeatable(context.Context, *model.RepeatableJob) error { return nil }
func (f *fakeJobRepo) DeleteRepeatable(context.Context, string) error               { return nil }
func (f *fakeJobRepo) ClaimDueRepeatable(context.Context, time.Time, func(*model.RepeatableJob) time.Time) ([]*model.RepeatableJob, error) {
	return nil, nil
}

type fakeBroker struct{}

func (fakeBroker) Publish(context.Context, string, interface{}) error { return nil }
func (fakeBroker) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}
func (fakeBroker) Close() error { return nil }

type fixture struct {
	svc       *Service
	campaigns *fakeCampaignRepo
	segments  *fakeSegmentRepo
	usage     *fakeUsageRepo
	jobs      *fakeJobRepo
	userID    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewLogger(nil)

	campaigns := newFakeCampaignRepo()
	segments := &fakeSegmentRepo{segments: make(map[uuid.UUID]*model.AudienceSegment)}
	usageRepo := &fakeUsageRepo{limits: map[string]*model.UsageLimit{
		model.ResourceBroadcastCampaigns: {ID: uuid.New(), LimitKey: model.ResourceBroadcastCampaigns, LimitValue: 10},
		model.ResourceBroadcastMessages:  {ID: uuid.New(), LimitKey: model.ResourceBroadcastMessages, LimitValue: 1000},
	}}
	jobs := &fakeJobRepo{}

	unreachable := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	progress := NewProgressCache(unreachable, fakeBroker{}, config.BroadcastConfig{}, log)

	manager := queue.NewManager(jobs, fakeBroker{}, log, 5)
	usageSvc := usage.NewService(usageRepo, log)

	return &fixture{
		svc:       NewService(campaigns, NewResolver(segments), usageSvc, manager, progress, log),
		campaigns: campaigns,
		segments:  segments,
		usage:     usageRepo,
		jobs:      jobs,
		userID:    uuid.New(),
	}
}

func manualInput(recipients ...string) CreateInput {
	return CreateInput{
		Title:            "launch",
		TargetType:       model.TargetManual,
		ManualRecipients: recipients,
		Message:          model.Message{Text: "hello"},
	}
}

func TestCreateManualCampaign(t *testing.T) {
	f := newFixture(t)

	campaign, err := f.svc.Create(context.Background(), f.userID, manualInput("alice_dev", "@alice_dev", "bob_123"))
	require.NoError(t, err)

	assert.Equal(t, model.CampaignStatusDraft, campaign.Status)
	assert.Equal(t, []string{"@alice_dev", "@bob_123"}, campaign.ManualRecipients)
	assert.Equal(t, 2, campaign.TotalRecipients)
	assert.Equal(t, model.DelayConfig{MinMs: model.DefaultDelayMinMs, MaxMs: model.DefaultDelayMaxMs}, campaign.Delay)

	assert.Equal(t, int64(1), f.usage.limits[model.ResourceBroadcastCampaigns].ConsumedValue)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.userID, CreateInput{TargetType: model.TargetManual, Message: model.Message{Text: "   "}, ManualRecipients: []string{"alice_dev"}})
	assert.True(t, apperrors.IsValidation(err), "blank message must be rejected")

	_, err = f.svc.Create(ctx, f.userID, manualInput("!!", ""))
	assert.True(t, apperrors.IsValidation(err), "no valid recipients must be rejected")

	_, err = f.svc.Create(ctx, f.userID, CreateInput{TargetType: model.TargetSegment, Message: model.Message{Text: "hi"}})
	assert.True(t, apperrors.IsValidation(err), "segment target without segment id must be rejected")
}

func TestCreateQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.usage.limits[model.ResourceBroadcastCampaigns].ConsumedValue = 10

	_, err := f.svc.Create(context.Background(), f.userID, manualInput("alice_dev"))
	assert.True(t, apperrors.IsRateLimit(err))
}

func TestCreateFailedInsertKeepsQuota(t *testing.T) {
	f := newFixture(t)
	f.campaigns.createErr = errors.New("connection refused")

	_, err := f.svc.Create(context.Background(), f.userID, manualInput("alice_dev"))
	require.Error(t, err)

	assert.Equal(t, int64(0), f.usage.limits[model.ResourceBroadcastCampaigns].ConsumedValue,
		"a failed insert must not burn a quota slot")
}

func TestStartCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.userID, manualInput("alice_dev", "bob_123"))
	require.NoError(t, err)

	started, err := f.svc.Start(ctx, f.userID, campaign.ID)
	require.NoError(t, err)

	assert.Equal(t, model.CampaignStatusInProgress, started.Status)
	require.NotNil(t, started.JobID)
	require.Len(t, f.jobs.enqueued, 1)
	assert.Equal(t, f.jobs.enqueued[0].ID.String(), *started.JobID)
	assert.Equal(t, model.JobTypeBroadcast, f.jobs.enqueued[0].JobType)

	_, err = f.svc.Start(ctx, f.userID, campaign.ID)
	assert.True(t, apperrors.IsValidation(err), "starting a running campaign must fail")
}

func TestStartMessageQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.usage.limits[model.ResourceBroadcastMessages].LimitValue = 1

	campaign, err := f.svc.Create(ctx, f.userID, manualInput("alice_dev", "bob_123"))
	require.NoError(t, err)

	_, err = f.svc.Start(ctx, f.userID, campaign.ID)
	assert.True(t, apperrors.IsRateLimit(err))
	assert.Empty(t, f.jobs.enqueued, "no job when quota rejects the run")
}

func TestRetryOnlyFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.userID, manualInput("alice_dev", "bob_123"))
	require.NoError(t, err)
	f.campaigns.campaigns[campaign.ID].Status = model.CampaignStatusFailed

	_, err = f.svc.Retry(ctx, f.userID, campaign.ID, true)
	assert.True(t, apperrors.IsValidation(err), "retry with nothing failed must be rejected")
	assert.Equal(t, model.CampaignStatusFailed, f.campaigns.campaigns[campaign.ID].Status,
		"rejected retry must not move the campaign")

	f.campaigns.failed = []string{"@bob_123"}
	retried, err := f.svc.Retry(ctx, f.userID, campaign.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusInProgress, retried.Status)
	assert.Equal(t, 1, retried.TotalRecipients)
}

func TestRetryRequiresTerminalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.userID, manualInput("alice_dev"))
	require.NoError(t, err)

	_, err = f.svc.Retry(ctx, f.userID, campaign.ID, false)
	assert.True(t, apperrors.IsValidation(err), "draft cannot be retried")
}

func TestOwnerScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.userID, manualInput("alice_dev"))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, uuid.New(), campaign.ID)
	assert.True(t, apperrors.IsNotFound(err), "other users see not found, never forbidden")

	_, err = f.svc.Progress(ctx, uuid.New(), campaign.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestProgressFallsBackToCampaignRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	campaign, err := f.svc.Create(ctx, f.userID, manualInput("alice_dev", "bob_123"))
	require.NoError(t, err)

	stored := f.campaigns.campaigns[campaign.ID]
	stored.TotalRecipients = 10
	stored.SentCount = 5
	stored.Status = model.CampaignStatusInProgress

	snap, err := f.svc.Progress(ctx, f.userID, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, snap.Progress)
	assert.Equal(t, model.CampaignStatusInProgress, snap.Status)
}

func TestStartSegmentCampaign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	parsingID := uuid.New()
	segmentID := uuid.New()
	f.segments.segments[segmentID] = &model.AudienceSegment{
		ID:              segmentID,
		UserID:          f.userID,
		SourceParsingID: &parsingID,
	}
	f.segments.recipients = []model.SegmentRecipient{
		{Username: "@chan_one"}, {Username: "@chan_two"}, {Username: "@chan_three"},
	}

	campaign, err := f.svc.Create(ctx, f.userID, CreateInput{
		Title:      "segment run",
		TargetType: model.TargetSegment,
		SegmentID:  &segmentID,
		Message:    model.Message{Text: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, campaign.TotalRecipients)

	started, err := f.svc.Start(ctx, f.userID, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, started.TotalRecipients)
	assert.Equal(t, 3, f.segments.segments[segmentID].TotalRecipients,
		"stored segment count follows resolution")
}
