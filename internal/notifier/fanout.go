package notifier

import (
	"context"

	"go.uber.org/zap"

	"homework-reminder/internal/model"
	"homework-reminder/internal/service/reminder"
)

// Fanout delivers to a primary sink and then to best-effort sinks.
// Only the primary sink decides whether the attempt failed.
type Fanout struct {
	primary    reminder.Notifier
	bestEffort []reminder.Notifier
	logger     *zap.Logger
}

func NewFanout(logger *zap.Logger, primary reminder.Notifier, bestEffort ...reminder.Notifier) *Fanout {
	return &Fanout{primary: primary, bestEffort: bestEffort, logger: logger}
}

func (f *Fanout) Deliver(ctx context.Context, d model.Delivery) error {
	if err := f.primary.Deliver(ctx, d); err != nil {
		return err
	}
	for _, sink := range f.bestEffort {
		if err := sink.Deliver(ctx, d); err != nil {
			f.logger.Warn("best-effort delivery failed",
				zap.String("reminder_id", d.ReminderID.String()),
				zap.Int64("recipient_id", d.RecipientID),
				zap.Error(err),
			)
		}
	}
	return nil
}
