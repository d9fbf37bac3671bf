package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "homework-reminder/contracts/mq"
	"homework-reminder/internal/model"
	"homework-reminder/pkg/logger"
	"homework-reminder/pkg/mq"
)

// Lifecycle is the part of reminder.Gateway driven by assignment events.
type Lifecycle interface {
	OnAssignmentCreated(ctx context.Context, a model.Assignment, recipients []int64) (int, error)
	OnAssignmentDueDateChanged(ctx context.Context, a model.Assignment, recipients []int64) (cancelled, created int, err error)
	OnAssignmentDeleted(ctx context.Context, assignmentID int64) (int, error)
}

// AssignmentHandler turns assignment lifecycle events into reminder changes.
// Every handler is idempotent: the store's uniqueness rules absorb redelivered messages.
type AssignmentHandler struct {
	lifecycle Lifecycle
	logger    *zap.Logger
}

func NewAssignmentHandler(lifecycle Lifecycle, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{lifecycle: lifecycle, logger: logger}
}

// Handlers maps each consumed routing key to its handler.
func (h *AssignmentHandler) Handlers() map[string]mq.MessageHandler {
	return map[string]mq.MessageHandler{
		mqcontracts.RoutingKeyAssignmentCreated:        h.HandleCreated,
		mqcontracts.RoutingKeyAssignmentDueDateChanged: h.HandleDueDateChanged,
		mqcontracts.RoutingKeyAssignmentDeleted:        h.HandleDeleted,
	}
}

func (h *AssignmentHandler) HandleCreated(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.AssignmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode assignment.created: %w", err)
	}
	log := logger.WithTrace(ctx, h.logger)

	created, err := h.lifecycle.OnAssignmentCreated(ctx, toAssignment(p), p.RecipientIDs)
	if err != nil {
		log.Error("Failed to plan reminders",
			zap.Int64("assignment_id", p.AssignmentID),
			zap.Error(err),
		)
		return err
	}

	log.Info("Reminders planned",
		zap.Int64("assignment_id", p.AssignmentID),
		zap.Int("recipients", len(p.RecipientIDs)),
		zap.Int("created", created),
	)
	return nil
}

func (h *AssignmentHandler) HandleDueDateChanged(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.AssignmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode assignment.due_date_changed: %w", err)
	}
	log := logger.WithTrace(ctx, h.logger)

	cancelled, created, err := h.lifecycle.OnAssignmentDueDateChanged(ctx, toAssignment(p), p.RecipientIDs)
	if err != nil {
		log.Error("Failed to replan reminders",
			zap.Int64("assignment_id", p.AssignmentID),
			zap.Error(err),
		)
		return err
	}

	log.Info("Reminders replanned",
		zap.Int64("assignment_id", p.AssignmentID),
		zap.Time("due_date", p.DueDate),
		zap.Int("cancelled", cancelled),
		zap.Int("created", created),
	)
	return nil
}

func (h *AssignmentHandler) HandleDeleted(ctx context.Context, raw json.RawMessage) error {
	var p mqcontracts.AssignmentDeletedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode assignment.deleted: %w", err)
	}
	log := logger.WithTrace(ctx, h.logger)

	cancelled, err := h.lifecycle.OnAssignmentDeleted(ctx, p.AssignmentID)
	if err != nil {
		log.Error("Failed to cancel reminders",
			zap.Int64("assignment_id", p.AssignmentID),
			zap.Error(err),
		)
		return err
	}

	log.Info("Reminders cancelled",
		zap.Int64("assignment_id", p.AssignmentID),
		zap.Int("cancelled", cancelled),
	)
	return nil
}

func toAssignment(p mqcontracts.AssignmentPayload) model.Assignment {
	return model.Assignment{
		ID:                p.AssignmentID,
		DueDate:           p.DueDate,
		RecipientGroupKey: p.RecipientGroupKey,
		Title:             p.Title,
		Subject:           p.Subject,
	}
}
