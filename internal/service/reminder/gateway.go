package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homework-reminder/internal/clock"
	"homework-reminder/internal/model"
	"homework-reminder/pkg/logger"
	"homework-reminder/pkg/metrics"
)

// Gateway turns assignment lifecycle events into reminder sets.
type Gateway struct {
	planner   *Planner
	presenter Presenter
	store     ReminderStore
	clock     clock.Clock
	logger    *zap.Logger
}

func NewGateway(planner *Planner, store ReminderStore, clk clock.Clock, logger *zap.Logger) *Gateway {
	return &Gateway{
		planner:   planner,
		presenter: planner.presenter,
		store:     store,
		clock:     clk,
		logger:    logger,
	}
}

// OnAssignmentCreated plans and stores the reminder set. Replaying the same event is a no-op.
func (g *Gateway) OnAssignmentCreated(ctx context.Context, a model.Assignment, recipients []int64) (int, error) {
	now := g.clock.Now()
	specs, err := g.planner.Plan(a, recipients, now)
	if err != nil {
		return 0, err
	}
	return g.create(ctx, a.ID, specs, now)
}

// OnAssignmentDueDateChanged cancels the pending set and plans a new one from the new due date.
// Existing rows are never edited.
func (g *Gateway) OnAssignmentDueDateChanged(ctx context.Context, a model.Assignment, recipients []int64) (cancelled, created int, err error) {
	now := g.clock.Now()
	specs, err := g.planner.Plan(a, recipients, now)
	if err != nil {
		return 0, 0, err
	}

	cancelled, err = g.cancel(ctx, a.ID, now)
	if err != nil {
		return 0, 0, err
	}
	created, err = g.create(ctx, a.ID, specs, now)
	return cancelled, created, err
}

// OnAssignmentDeleted cancels the pending set; SENT and FAILED rows stay for history.
func (g *Gateway) OnAssignmentDeleted(ctx context.Context, assignmentID int64) (int, error) {
	return g.cancel(ctx, assignmentID, g.clock.Now())
}

// ScheduleCustom creates a CUSTOM reminder. Empty title or message fall back to the presenter.
func (g *Gateway) ScheduleCustom(ctx context.Context, a model.Assignment, recipientID int64, triggerAt time.Time, title, message string) (*model.Reminder, bool, error) {
	if a.DueDate.IsZero() {
		return nil, false, &PlanningError{AssignmentID: a.ID, Reason: "missing due date"}
	}
	if err := validate.Struct(a); err != nil {
		return nil, false, &PlanningError{AssignmentID: a.ID, Reason: err.Error()}
	}
	if recipientID <= 0 {
		return nil, false, &PlanningError{AssignmentID: a.ID, Reason: "invalid recipient id"}
	}
	if triggerAt.IsZero() {
		return nil, false, &PlanningError{AssignmentID: a.ID, Reason: "missing trigger time"}
	}

	defTitle, defMessage := g.presenter.Render(model.KindCustom, a)
	if title == "" {
		title = defTitle
	}
	if message == "" {
		message = defMessage
	}

	now := g.clock.Now()
	r := model.NewReminder(model.ReminderSpec{
		AssignmentID:    a.ID,
		RecipientID:     recipientID,
		Kind:            model.KindCustom,
		TriggerAt:       triggerAt,
		DueAtSnapshot:   a.DueDate,
		TitleSnapshot:   title,
		MessageSnapshot: message,
	}, now)

	created, err := g.store.CreateIfAbsent(ctx, r)
	if err != nil {
		return nil, false, fmt.Errorf("create custom reminder: %w", err)
	}
	if created {
		metrics.AddReminderLifecycle("created", 1)
	} else {
		metrics.AddReminderLifecycle("duplicate", 1)
	}
	return r, created, nil
}

func (g *Gateway) create(ctx context.Context, assignmentID int64, specs []model.ReminderSpec, now time.Time) (int, error) {
	log := logger.WithTrace(ctx, g.logger)

	created, duplicates := 0, 0
	for _, spec := range specs {
		ok, err := g.store.CreateIfAbsent(ctx, model.NewReminder(spec, now))
		if err != nil {
			metrics.AddReminderLifecycle("created", created)
			return created, fmt.Errorf("create reminder %s for recipient %d: %w", spec.Kind, spec.RecipientID, err)
		}
		if ok {
			created++
		} else {
			duplicates++
		}
	}

	metrics.AddReminderLifecycle("created", created)
	metrics.AddReminderLifecycle("duplicate", duplicates)
	log.Info("Reminders planned",
		zap.Int64("assignment_id", assignmentID),
		zap.Int("planned", len(specs)),
		zap.Int("created", created),
		zap.Int("duplicates", duplicates),
	)
	return created, nil
}

func (g *Gateway) cancel(ctx context.Context, assignmentID int64, now time.Time) (int, error) {
	n, err := g.store.CancelAllPending(ctx, assignmentID, now)
	if err != nil {
		return 0, fmt.Errorf("cancel reminders of assignment %d: %w", assignmentID, err)
	}
	metrics.AddReminderLifecycle("cancelled", n)
	logger.WithTrace(ctx, g.logger).Info("Pending reminders cancelled",
		zap.Int64("assignment_id", assignmentID),
		zap.Int("cancelled", n),
	)
	return n, nil
}
