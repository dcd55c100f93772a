package broadcast

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"

	"github.com/televine/broadcast-api/internal/config"
	"github.com/televine/broadcast-api/internal/model"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/messaging"
)

const progressKeyPrefix = "broadcast:progress:"

// ProgressChannel is the pub/sub channel carrying snapshot updates for one
// campaign; the API's stream endpoint subscribes to it.
func ProgressChannel(campaignID string) string {
	return progressKeyPrefix + campaignID
}

// ProgressCache is the two-tier snapshot cache: a short-lived in-process
// layer in front of Redis. Snapshots are advisory; the campaign row stays
// authoritative and readers fall back to it on a miss.
type ProgressCache struct {
	client *redis.Client
	broker messaging.Broker
	local  *gocache.Cache
	ttl    time.Duration
	logger *logger.Logger
}

func NewProgressCache(client *redis.Client, broker messaging.Broker, cfg config.BroadcastConfig, log *logger.Logger) *ProgressCache {
	ttl := cfg.ProgressTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	localTTL := cfg.LocalCacheTTL
	if localTTL <= 0 {
		localTTL = 2 * time.Second
	}
	return &ProgressCache{
		client: client,
		broker: broker,
		local:  gocache.New(localTTL, 2*localTTL),
		ttl:    ttl,
		logger: log,
	}
}

// Put stores the snapshot in both tiers and fans it out to stream
// subscribers. Cache failures are logged, never propagated; delivery must
// not stall on an unavailable cache.
func (c *ProgressCache) Put(ctx context.Context, snap model.ProgressSnapshot) {
	key := progressKeyPrefix + snap.CampaignID.String()
	c.local.Set(key, snap, gocache.DefaultExpiration)

	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Error(err, "failed to marshal progress snapshot", "campaign_id", snap.CampaignID)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("failed to cache progress snapshot", "campaign_id", snap.CampaignID, "error", err.Error())
	}
	if err := c.broker.Publish(ctx, ProgressChannel(snap.CampaignID.String()), snap); err != nil {
		c.logger.Warn("failed to publish progress update", "campaign_id", snap.CampaignID, "error", err.Error())
	}
}

// Get returns the freshest cached snapshot, or false on a miss.
func (c *ProgressCache) Get(ctx context.Context, campaignID string) (model.ProgressSnapshot, bool) {
	key := progressKeyPrefix + campaignID

	if cached, ok := c.local.Get(key); ok {
		if snap, ok := cached.(model.ProgressSnapshot); ok {
			return snap, true
		}
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("failed to read progress cache", "campaign_id", campaignID, "error", err.Error())
		}
		return model.ProgressSnapshot{}, false
	}

	var snap model.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.ProgressSnapshot{}, false
	}
	c.local.Set(key, snap, gocache.DefaultExpiration)
	return snap, true
}
