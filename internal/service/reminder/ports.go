package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"

	"homework-reminder/internal/model"
)

// ReminderStore persists reminders. Every state change goes through its atomic primitives.
type ReminderStore interface {
	// CreateIfAbsent inserts r unless a live reminder already holds its
	// (assignment, recipient, kind) slot. Returns false on a duplicate.
	CreateIfAbsent(ctx context.Context, r *model.Reminder) (bool, error)
	// CancelAllPending cancels PENDING reminders of an assignment and flags in-flight claims.
	CancelAllPending(ctx context.Context, assignmentID int64, now time.Time) (int, error)
	// ClaimDue moves up to limit due reminders to CLAIMED, including claims older than claimTTL.
	ClaimDue(ctx context.Context, now time.Time, limit int, claimTTL time.Duration) ([]*model.Reminder, error)
	// Finalize applies the outcomes atomically; outcomes whose claim was lost are not applied.
	Finalize(ctx context.Context, outcomes ...model.Outcome) ([]model.FinalizeResult, error)
	FindByRecipient(ctx context.Context, recipientID int64) ([]*model.Reminder, error)
	// FindUnreadByRecipient excludes FAILED and CANCELLED reminders.
	FindUnreadByRecipient(ctx context.Context, recipientID int64) ([]*model.Reminder, error)
	DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	MarkRead(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkAllRead(ctx context.Context, recipientID int64, now time.Time) (int64, error)
	CountUnread(ctx context.Context, recipientID int64) (int64, error)
	ListFailed(ctx context.Context, limit int) ([]*model.Reminder, error)
}

// NotificationStore is the query side of delivered notifications.
type NotificationStore interface {
	FindByRecipient(ctx context.Context, recipientID int64, limit int) ([]*model.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, now time.Time) error
	MarkAllRead(ctx context.Context, recipientID int64, now time.Time) (int64, error)
	CountUnread(ctx context.Context, recipientID int64) (int64, error)
}

//go:generate mockgen -destination=mock_notifier_test.go -package=reminder homework-reminder/internal/service/reminder Notifier

// Notifier delivers one reminder to its recipient. A returned error, including a
// context deadline, counts as a failed attempt.
type Notifier interface {
	Deliver(ctx context.Context, d model.Delivery) error
}

// EventEmitter publishes delivery events for downstream consumers. Failures are logged only.
type EventEmitter interface {
	ReminderDelivered(ctx context.Context, r *model.Reminder, priority model.Priority, at time.Time) error
	ReminderFailed(ctx context.Context, r *model.Reminder, attempts int, reason string, at time.Time) error
}

// Lease is a non-blocking distributed lock around one delivery tick.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Presenter renders the frozen title and message of a reminder.
type Presenter interface {
	Render(kind model.ReminderKind, a model.Assignment) (title, message string)
}

type nopEmitter struct{}

func (nopEmitter) ReminderDelivered(context.Context, *model.Reminder, model.Priority, time.Time) error {
	return nil
}

func (nopEmitter) ReminderFailed(context.Context, *model.Reminder, int, string, time.Time) error {
	return nil
}

// NopEmitter discards delivery events.
func NopEmitter() EventEmitter { return nopEmitter{} }
