package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"homework-reminder/internal/clock"
	"homework-reminder/pkg/metrics"
)

// OutboxPurger removes published outbox events.
type OutboxPurger interface {
	DeleteSentOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor deletes terminal reminders (and published outbox rows) past the retention window.
type Janitor struct {
	store     ReminderStore
	outbox    OutboxPurger
	clock     clock.Clock
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewJanitor builds a janitor; outbox may be nil.
func NewJanitor(store ReminderStore, outbox OutboxPurger, clk clock.Clock, retention, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		store:     store,
		outbox:    outbox,
		clock:     clk,
		retention: retention,
		interval:  interval,
		logger:    logger,
	}
}

func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.PurgeOnce(ctx); err != nil {
				j.logger.Error("Retention cleanup failed", zap.Error(err))
			}
		}
	}
}

// PurgeOnce deletes terminal reminders last updated before now - retention.
func (j *Janitor) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := j.clock.Now().Add(-j.retention)

	n, err := j.store.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal reminders: %w", err)
	}
	metrics.AddRemindersPurged(n)

	var events int64
	if j.outbox != nil {
		events, err = j.outbox.DeleteSentOlderThan(ctx, cutoff)
		if err != nil {
			return n, fmt.Errorf("delete sent outbox events: %w", err)
		}
	}

	j.logger.Info("Retention cleanup completed",
		zap.Time("cutoff", cutoff),
		zap.Int64("reminders_deleted", n),
		zap.Int64("outbox_events_deleted", events),
	)
	return n, nil
}
