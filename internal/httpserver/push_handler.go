package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"homework-reminder/internal/model"
)

// SubscriptionStore registers and removes Web Push endpoints.
type SubscriptionStore interface {
	Save(ctx context.Context, sub *model.PushSubscription) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type PushHandler struct {
	subs   SubscriptionStore
	logger *zap.Logger
}

func NewPushHandler(subs SubscriptionStore, logger *zap.Logger) *PushHandler {
	return &PushHandler{subs: subs, logger: logger}
}

func (h *PushHandler) Register(r gin.IRouter) {
	r.PUT("/recipients/:id/push-subscriptions", h.Subscribe)
	r.DELETE("/push-subscriptions", h.Unsubscribe)
}

// browser PushSubscription.toJSON() shape
type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

// Subscribe handles PUT /recipients/:id/push-subscriptions
func (h *PushHandler) Subscribe(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	sub := &model.PushSubscription{
		RecipientID: id,
		Endpoint:    req.Endpoint,
		P256dh:      req.Keys.P256dh,
		Auth:        req.Keys.Auth,
	}
	if err := h.subs.Save(c, sub); err != nil {
		h.logger.Error("Failed to save push subscription", zap.Int64("recipient_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, sub)
}

// Unsubscribe handles DELETE /push-subscriptions?endpoint=
func (h *PushHandler) Unsubscribe(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}
	if err := h.subs.DeleteByEndpoint(c, endpoint); err != nil {
		h.logger.Error("Failed to delete push subscription", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}
