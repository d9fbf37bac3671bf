package notifier

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	mqcontracts "homework-reminder/contracts/mq"
	"homework-reminder/internal/model"
	"homework-reminder/internal/service/reminder"
	"homework-reminder/pkg/outbox"
	"homework-reminder/pkg/trace"
)

const aggregateReminder = "reminder"

func deliveredPayload(ctx context.Context, r *model.Reminder, priority model.Priority, at time.Time) mqcontracts.ReminderDeliveredPayload {
	return mqcontracts.ReminderDeliveredPayload{
		ReminderID:   r.ID.String(),
		AssignmentID: r.AssignmentID,
		RecipientID:  r.RecipientID,
		Kind:         string(r.Kind),
		Priority:     string(priority),
		DeliveredAt:  at,
		TraceID:      trace.FromContext(ctx),
	}
}

func failedPayload(ctx context.Context, r *model.Reminder, attempts int, reason string, at time.Time) mqcontracts.ReminderFailedPayload {
	return mqcontracts.ReminderFailedPayload{
		ReminderID:   r.ID.String(),
		AssignmentID: r.AssignmentID,
		RecipientID:  r.RecipientID,
		Kind:         string(r.Kind),
		Attempts:     attempts,
		Error:        reason,
		FailedAt:     at,
		TraceID:      trace.FromContext(ctx),
	}
}

// OutboxEmitter writes delivery events to the outbox table inside the reminder
// finalize transaction; the dispatcher publishes them afterwards.
type OutboxEmitter struct {
	repo *outbox.Repository
}

func NewOutboxEmitter(repo *outbox.Repository) *OutboxEmitter {
	return &OutboxEmitter{repo: repo}
}

// WriteFinalizeEvent records reminder.delivered for SENT and reminder.failed for FAILED.
// Retries and cancellations produce no event.
func (e *OutboxEmitter) WriteFinalizeEvent(ctx context.Context, tx pgx.Tx, o model.Outcome, res model.FinalizeResult) error {
	r := o.Reminder
	switch res.Status {
	case model.StatusSent:
		return outbox.InsertEventInTx(ctx, tx, e.repo, aggregateReminder, r.ID.String(),
			mqcontracts.RoutingKeyReminderDelivered, deliveredPayload(ctx, r, reminder.PriorityFor(r.Kind), o.At))
	case model.StatusFailed:
		return outbox.InsertEventInTx(ctx, tx, e.repo, aggregateReminder, r.ID.String(),
			mqcontracts.RoutingKeyReminderFailed, failedPayload(ctx, r, res.Attempts, o.Error, o.At))
	}
	return nil
}

// Publisher is the subset of mq.Publisher used for direct publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// PublisherEmitter publishes straight to the broker after finalize. Used with the
// in-memory store, where there is no table for an outbox; a failed publish loses the event.
type PublisherEmitter struct {
	pub Publisher
}

func NewPublisherEmitter(pub Publisher) *PublisherEmitter {
	return &PublisherEmitter{pub: pub}
}

func (e *PublisherEmitter) ReminderDelivered(ctx context.Context, r *model.Reminder, priority model.Priority, at time.Time) error {
	return e.pub.PublishWithContext(ctx, mqcontracts.RoutingKeyReminderDelivered, deliveredPayload(ctx, r, priority, at))
}

func (e *PublisherEmitter) ReminderFailed(ctx context.Context, r *model.Reminder, attempts int, reason string, at time.Time) error {
	return e.pub.PublishWithContext(ctx, mqcontracts.RoutingKeyReminderFailed, failedPayload(ctx, r, attempts, reason, at))
}
