package reminder

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"homework-reminder/internal/clock"
	"homework-reminder/internal/model"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ReadTracker owns the read flag of reminders and notifications and the
// recipient-facing views over them. It never touches delivery status.
type ReadTracker struct {
	reminders     ReminderStore
	notifications NotificationStore
	clock         clock.Clock
}

func NewReadTracker(reminders ReminderStore, notifications NotificationStore, clk clock.Clock) *ReadTracker {
	return &ReadTracker{reminders: reminders, notifications: notifications, clock: clk}
}

// MarkRead marks one reminder read whatever its status. Unknown ids return model.ErrNotFound.
func (t *ReadTracker) MarkRead(ctx context.Context, reminderID uuid.UUID) error {
	if err := t.reminders.MarkRead(ctx, reminderID, t.clock.Now()); err != nil {
		return fmt.Errorf("mark reminder %s read: %w", reminderID, err)
	}
	return nil
}

func (t *ReadTracker) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	n, err := t.reminders.MarkAllRead(ctx, recipientID, t.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark reminders of recipient %d read: %w", recipientID, err)
	}
	return n, nil
}

func (t *ReadTracker) Reminders(ctx context.Context, recipientID int64) ([]*model.Reminder, error) {
	return t.reminders.FindByRecipient(ctx, recipientID)
}

// UnreadReminders lists unread reminders that are pending or delivered. FAILED and CANCELLED are hidden.
func (t *ReadTracker) UnreadReminders(ctx context.Context, recipientID int64) ([]*model.Reminder, error) {
	return t.reminders.FindUnreadByRecipient(ctx, recipientID)
}

func (t *ReadTracker) UnreadReminderCount(ctx context.Context, recipientID int64) (int64, error) {
	return t.reminders.CountUnread(ctx, recipientID)
}

// FailedReminders is the audit view of reminders that exhausted their attempts.
func (t *ReadTracker) FailedReminders(ctx context.Context, limit int) ([]*model.Reminder, error) {
	return t.reminders.ListFailed(ctx, clampLimit(limit))
}

func (t *ReadTracker) Notifications(ctx context.Context, recipientID int64, limit int) ([]*model.Notification, error) {
	return t.notifications.FindByRecipient(ctx, recipientID, clampLimit(limit))
}

func (t *ReadTracker) UnreadNotificationCount(ctx context.Context, recipientID int64) (int64, error) {
	return t.notifications.CountUnread(ctx, recipientID)
}

func (t *ReadTracker) MarkNotificationRead(ctx context.Context, id uuid.UUID) error {
	if err := t.notifications.MarkRead(ctx, id, t.clock.Now()); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

func (t *ReadTracker) MarkAllNotificationsRead(ctx context.Context, recipientID int64) (int64, error) {
	n, err := t.notifications.MarkAllRead(ctx, recipientID, t.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("mark notifications of recipient %d read: %w", recipientID, err)
	}
	return n, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	}
	return limit
}
