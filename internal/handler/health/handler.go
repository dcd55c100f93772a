package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/televine/broadcast-api/pkg/metrics"
)

// Handler serves the liveness and readiness endpoints. Liveness never touches
// a dependency; readiness pings both stores and reports per-dependency state.
type Handler struct {
	db      *sqlx.DB
	redis   *redis.Client
	metrics *metrics.Metrics
}

func NewHandler(db *sqlx.DB, redisClient *redis.Client, m *metrics.Metrics) *Handler {
	return &Handler{db: db, redis: redisClient, metrics: m}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Liveness)
	r.GET("/health/db", h.Database)
	r.GET("/health/redis", h.Redis)
	r.GET("/health/ready", h.Readiness)
}

func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "alive",
		"time":   time.Now().UTC(),
	})
}

func (h *Handler) Database(c *gin.Context) {
	if err := h.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}

	stats := h.db.Stats()
	h.metrics.DatabaseConnections.Set(float64(stats.OpenConnections))
	h.metrics.DatabaseConnectionsMax.Set(float64(stats.MaxOpenConnections))

	c.JSON(http.StatusOK, gin.H{
		"status":           "up",
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
	})
}

func (h *Handler) Redis(c *gin.Context) {
	if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
		return
	}

	pool := h.redis.PoolStats()
	h.metrics.RedisConnections.Set(float64(pool.TotalConns))

	c.JSON(http.StatusOK, gin.H{
		"status":      "up",
		"total_conns": pool.TotalConns,
		"idle_conns":  pool.IdleConns,
	})
}

// Readiness aggregates every dependency; any failure makes the whole check
// report unavailable so the instance drops out of rotation.
func (h *Handler) Readiness(c *gin.Context) {
	ctx := c.Request.Context()
	checks := gin.H{}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = gin.H{"status": "down", "error": err.Error()}
		healthy = false
	} else {
		checks["database"] = gin.H{"status": "up"}
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		checks["redis"] = gin.H{"status": "down", "error": err.Error()}
		healthy = false
	} else {
		checks["redis"] = gin.H{"status": "up"}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}

	c.JSON(status, gin.H{
		"status": state,
		"checks": checks,
		"time":   time.Now().UTC(),
	})
}
