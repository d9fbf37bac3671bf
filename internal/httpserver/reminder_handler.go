package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"homework-reminder/internal/model"
	"homework-reminder/internal/service/reminder"
)

// CustomScheduler creates CUSTOM reminders.
type CustomScheduler interface {
	ScheduleCustom(ctx context.Context, a model.Assignment, recipientID int64, triggerAt time.Time, title, message string) (*model.Reminder, bool, error)
}

// ReminderHandler serves the recipient-facing reminder and notification views.
type ReminderHandler struct {
	tracker   *reminder.ReadTracker
	scheduler CustomScheduler
	logger    *zap.Logger
}

// NewReminderHandler builds the handler; scheduler may be nil to disable custom reminders.
func NewReminderHandler(tracker *reminder.ReadTracker, scheduler CustomScheduler, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{tracker: tracker, scheduler: scheduler, logger: logger}
}

func (h *ReminderHandler) Register(r gin.IRouter) {
	r.GET("/recipients/:id/reminders", h.ListReminders)
	r.GET("/recipients/:id/reminders/unread", h.ListUnreadReminders)
	r.GET("/recipients/:id/reminders/unread/count", h.CountUnreadReminders)
	r.POST("/recipients/:id/reminders/read-all", h.MarkAllRemindersRead)
	r.POST("/reminders/:id/read", h.MarkReminderRead)
	r.GET("/reminders/failed", h.ListFailed)

	r.GET("/recipients/:id/notifications", h.ListNotifications)
	r.GET("/recipients/:id/notifications/unread/count", h.CountUnreadNotifications)
	r.POST("/recipients/:id/notifications/read-all", h.MarkAllNotificationsRead)
	r.POST("/notifications/:id/read", h.MarkNotificationRead)

	if h.scheduler != nil {
		r.POST("/recipients/:id/reminders/custom", h.ScheduleCustom)
	}
}

func recipientID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient id"})
		return 0, false
	}
	return id, true
}

func uuidParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func limitQuery(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	return limit
}

func (h *ReminderHandler) fail(c *gin.Context, op string, err error) {
	var planErr *reminder.PlanningError
	switch {
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &planErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": planErr.Error()})
	default:
		h.logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *ReminderHandler) ListReminders(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	reminders, err := h.tracker.Reminders(c, id)
	if err != nil {
		h.fail(c, "list_reminders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

func (h *ReminderHandler) ListUnreadReminders(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	reminders, err := h.tracker.UnreadReminders(c, id)
	if err != nil {
		h.fail(c, "list_unread_reminders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

func (h *ReminderHandler) CountUnreadReminders(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	n, err := h.tracker.UnreadReminderCount(c, id)
	if err != nil {
		h.fail(c, "count_unread_reminders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *ReminderHandler) MarkReminderRead(c *gin.Context) {
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	if err := h.tracker.MarkRead(c, id); err != nil {
		h.fail(c, "mark_reminder_read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ReminderHandler) MarkAllRemindersRead(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	n, err := h.tracker.MarkAllRead(c, id)
	if err != nil {
		h.fail(c, "mark_all_reminders_read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *ReminderHandler) ListFailed(c *gin.Context) {
	reminders, err := h.tracker.FailedReminders(c, limitQuery(c))
	if err != nil {
		h.fail(c, "list_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

func (h *ReminderHandler) ListNotifications(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	notifications, err := h.tracker.Notifications(c, id, limitQuery(c))
	if err != nil {
		h.fail(c, "list_notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

func (h *ReminderHandler) CountUnreadNotifications(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	n, err := h.tracker.UnreadNotificationCount(c, id)
	if err != nil {
		h.fail(c, "count_unread_notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *ReminderHandler) MarkNotificationRead(c *gin.Context) {
	id, ok := uuidParam(c)
	if !ok {
		return
	}
	if err := h.tracker.MarkNotificationRead(c, id); err != nil {
		h.fail(c, "mark_notification_read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ReminderHandler) MarkAllNotificationsRead(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	n, err := h.tracker.MarkAllNotificationsRead(c, id)
	if err != nil {
		h.fail(c, "mark_all_notifications_read", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

type customReminderRequest struct {
	AssignmentID int64     `json:"assignment_id" binding:"required,gt=0"`
	DueDate      time.Time `json:"due_date" binding:"required"`
	Subject      string    `json:"subject"`
	Assignment   string    `json:"assignment_title"`
	TriggerAt    time.Time `json:"trigger_at" binding:"required"`
	Title        string    `json:"title"`
	Message      string    `json:"message"`
}

// ScheduleCustom handles POST /recipients/:id/reminders/custom
func (h *ReminderHandler) ScheduleCustom(c *gin.Context) {
	id, ok := recipientID(c)
	if !ok {
		return
	}
	var req customReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	a := model.Assignment{ID: req.AssignmentID, DueDate: req.DueDate, Title: req.Assignment, Subject: req.Subject}
	r, created, err := h.scheduler.ScheduleCustom(c, a, id, req.TriggerAt, req.Title, req.Message)
	if err != nil {
		h.fail(c, "schedule_custom", err)
		return
	}
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "reminder already scheduled"})
		return
	}
	c.JSON(http.StatusCreated, r)
}
