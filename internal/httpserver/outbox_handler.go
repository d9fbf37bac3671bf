package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homework-reminder/pkg/outbox"
)

// Replayer resets failed outbox events so the dispatcher publishes them again.
type Replayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

// OutboxHandler is the operator surface for reminder.delivered / reminder.failed events
// that exhausted their publish retries.
type OutboxHandler struct {
	replayer Replayer
	logger   *zap.Logger
}

func NewOutboxHandler(replayer Replayer, logger *zap.Logger) *OutboxHandler {
	return &OutboxHandler{replayer: replayer, logger: logger}
}

func (h *OutboxHandler) Register(r gin.IRouter) {
	admin := r.Group("/admin/outbox")
	admin.POST("/replay-failed", h.ReplayFailed)
	admin.POST("/:id/replay", h.Replay)
}

func (h *OutboxHandler) Replay(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}
	if err := h.replayer.ReplayEvent(c, id); err != nil {
		if errors.Is(err, outbox.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logger.Error("Failed to replay outbox event", zap.Int64("event_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"replayed": 1})
}

func (h *OutboxHandler) ReplayFailed(c *gin.Context) {
	limit := limitQuery(c)
	if limit <= 0 {
		limit = 100
	}
	n, err := h.replayer.ReplayFailedEvents(c, limit)
	if err != nil {
		h.logger.Error("Failed to replay failed outbox events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"replayed": n})
}
