// Package notifier holds the delivery sinks handed to the DeliveryWorker and
// the emitters that publish delivery events.
package notifier

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"homework-reminder/internal/clock"
	"homework-reminder/internal/model"
)

// NotificationWriter stores in-app notifications, at most one per reminder.
type NotificationWriter interface {
	Insert(ctx context.Context, n *model.Notification) (bool, error)
}

// InApp writes the reminder into the recipient's notification feed.
type InApp struct {
	store  NotificationWriter
	clock  clock.Clock
	logger *zap.Logger
}

func NewInApp(store NotificationWriter, clk clock.Clock, logger *zap.Logger) *InApp {
	return &InApp{store: store, clock: clk, logger: logger}
}

func (n *InApp) Deliver(ctx context.Context, d model.Delivery) error {
	reminderID := d.ReminderID
	assignmentID := d.AssignmentID
	notification := &model.Notification{
		ID:           uuid.New(),
		RecipientID:  d.RecipientID,
		ReminderID:   &reminderID,
		AssignmentID: &assignmentID,
		Kind:         d.Kind,
		Title:        d.Title,
		Message:      d.Message,
		Priority:     d.Priority,
		CreatedAt:    n.clock.Now(),
	}

	inserted, err := n.store.Insert(ctx, notification)
	if err != nil {
		return fmt.Errorf("in-app notification for reminder %s: %w", d.ReminderID, err)
	}
	if !inserted {
		// 上次投递已写入但 Finalize 未落库，重复投递视为成功
		n.logger.Debug("in-app notification already exists",
			zap.String("reminder_id", d.ReminderID.String()),
		)
	}
	return nil
}
