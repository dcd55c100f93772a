package broadcast

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/televine/broadcast-api/internal/handler"
	"github.com/televine/broadcast-api/internal/model"
	broadcastsvc "github.com/televine/broadcast-api/internal/service/broadcast"
	apperrors "github.com/televine/broadcast-api/pkg/errors"
	"github.com/televine/broadcast-api/pkg/logger"
	"github.com/televine/broadcast-api/pkg/messaging"
)

const (
	maxLogsPageSize    = 200
	maxHistoryPageSize = 100

	streamHeartbeat = 15 * time.Second
)

type Handler struct {
	svc    *broadcastsvc.Service
	broker messaging.Broker
	logger *logger.Logger
}

func NewHandler(svc *broadcastsvc.Service, broker messaging.Broker, log *logger.Logger) *Handler {
	return &Handler{svc: svc, broker: broker, logger: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	group := r.Group("/broadcast")
	group.GET("/history", h.History)

	campaigns := group.Group("/campaigns")
	{
		campaigns.POST("", h.Create)
		campaigns.GET("/:id", h.Get)
		campaigns.POST("/:id/start", h.Start)
		campaigns.POST("/:id/retry", h.Retry)
		campaigns.GET("/:id/progress", h.Progress)
		campaigns.GET("/:id/progress/stream", h.ProgressStream)
		campaigns.GET("/:id/logs", h.Logs)
	}
}

type createRequest struct {
	Title      string             `json:"title"`
	TargetType string             `json:"target_type" binding:"required,oneof=manual segment"`
	SegmentID  *uuid.UUID         `json:"segment_id"`
	Recipients []string           `json:"recipients"`
	Message    model.Message      `json:"message" binding:"required"`
	Delay      *model.DelayConfig `json:"delay"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	campaign, err := h.svc.Create(c.Request.Context(), userID(c), broadcastsvc.CreateInput{
		Title:            req.Title,
		TargetType:       model.TargetType(req.TargetType),
		SegmentID:        req.SegmentID,
		ManualRecipients: req.Recipients,
		Message:          req.Message,
		Delay:            req.Delay,
	})
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(campaign))
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	campaign, err := h.svc.Get(c.Request.Context(), userID(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

func (h *Handler) Start(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	campaign, err := h.svc.Start(c.Request.Context(), userID(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

type retryRequest struct {
	OnlyFailed bool `json:"only_failed"`
}

func (h *Handler) Retry(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var req retryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
			return
		}
	}

	campaign, err := h.svc.Retry(c.Request.Context(), userID(c), id, req.OnlyFailed)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(campaign))
}

func (h *Handler) Progress(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}
	snap, err := h.svc.Progress(c.Request.Context(), userID(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(snap))
}

// ProgressStream pushes snapshot updates over server-sent events. The client
// gets the current snapshot immediately, then every update the worker
// publishes, and the stream closes once the run reaches a terminal status.
func (h *Handler) ProgressStream(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	snap, err := h.svc.Progress(c.Request.Context(), userID(c), id)
	if err != nil {
		handler.RespondError(c, err)
		return
	}

	updates, err := h.broker.Subscribe(c.Request.Context(), broadcastsvc.ProgressChannel(id.String()))
	if err != nil {
		handler.RespondError(c, apperrors.NewUnavailable("progress stream", err))
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	writeEvent(c.Writer, snap)
	if snap.Status.IsTerminal() {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			c.Writer.WriteString(": heartbeat\n\n")
			c.Writer.Flush()
		case raw, open := <-updates:
			if !open {
				return
			}
			var update model.ProgressSnapshot
			if err := json.Unmarshal(raw, &update); err != nil {
				continue
			}
			writeEvent(c.Writer, update)
			if update.Status.IsTerminal() {
				return
			}
		}
	}
}

func writeEvent(w gin.ResponseWriter, snap model.ProgressSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	io.WriteString(w, "event: progress\ndata: ")
	w.Write(data)
	io.WriteString(w, "\n\n")
	w.Flush()
}

func (h *Handler) Logs(c *gin.Context) {
	id, ok := campaignID(c)
	if !ok {
		return
	}

	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	var status *model.LogStatus
	if raw := c.Query("status"); raw != "" {
		s := model.LogStatus(raw)
		if s != model.LogStatusSent && s != model.LogStatusFailed && s != model.LogStatusBlocked {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("status must be sent, failed or blocked"))
			return
		}
		status = &s
	}

	logs, err := h.svc.Logs(c.Request.Context(), userID(c), id, page.Normalize(maxLogsPageSize), status)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(logs))
}

func (h *Handler) History(c *gin.Context) {
	var page model.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	var status *model.CampaignStatus
	if raw := c.Query("status"); raw != "" {
		s := model.CampaignStatus(raw)
		switch s {
		case model.CampaignStatusDraft, model.CampaignStatusInProgress,
			model.CampaignStatusCompleted, model.CampaignStatusFailed:
			status = &s
		default:
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("unknown campaign status filter"))
			return
		}
	}

	history, err := h.svc.History(c.Request.Context(), userID(c), page.Normalize(maxHistoryPageSize), status)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(history))
}

func userID(c *gin.Context) uuid.UUID {
	id, _ := c.Get("user_id")
	parsed, _ := id.(uuid.UUID)
	return parsed
}

func campaignID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid campaign id"))
		return uuid.Nil, false
	}
	return id, true
}
