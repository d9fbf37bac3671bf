package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"homework-reminder/internal/clock"
	"homework-reminder/internal/model"
	"homework-reminder/pkg/logger"
	"homework-reminder/pkg/metrics"
	"homework-reminder/pkg/otel"
	"homework-reminder/pkg/trace"
)

// WorkerConfig tunes the delivery loop.
type WorkerConfig struct {
	TickInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	DeliveryTimeout time.Duration
	Concurrency     int
	ClaimTTL        time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		TickInterval:    60 * time.Second,
		BatchSize:       200,
		MaxAttempts:     3,
		DeliveryTimeout: 10 * time.Second,
		Concurrency:     8,
		ClaimTTL:        5 * time.Minute,
	}
}

// TickResult summarizes one tick.
type TickResult struct {
	Skipped   bool
	Claimed   int
	Sent      int
	Retried   int
	Failed    int
	Cancelled int
	// Lost counts outcomes whose claim expired and was taken over before finalization.
	Lost int
}

// DeliveryWorker claims due reminders and hands them to the Notifier.
type DeliveryWorker struct {
	store    ReminderStore
	notifier Notifier
	events   EventEmitter
	lease    Lease
	clock    clock.Clock
	cfg      WorkerConfig
	logger   *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewDeliveryWorker builds a worker. events and lease may be nil.
func NewDeliveryWorker(
	store ReminderStore,
	notifier Notifier,
	events EventEmitter,
	lease Lease,
	clk clock.Clock,
	cfg WorkerConfig,
	logger *zap.Logger,
) *DeliveryWorker {
	if events == nil {
		events = NopEmitter()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &DeliveryWorker{
		store:    store,
		notifier: notifier,
		events:   events,
		lease:    lease,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run ticks once at startup and then every TickInterval until ctx is done.
// A tick that would overlap a running one is skipped, not queued.
func (w *DeliveryWorker) Run(ctx context.Context) {
	w.logger.Info("Delivery worker started",
		zap.Duration("tick_interval", w.cfg.TickInterval),
		zap.Int("batch_size", w.cfg.BatchSize),
		zap.Int("max_attempts", w.cfg.MaxAttempts),
	)

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	w.spawnTick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			w.logger.Info("Delivery worker stopped")
			return
		case <-ticker.C:
			w.spawnTick(ctx)
		}
	}
}

func (w *DeliveryWorker) spawnTick(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if _, err := w.Tick(ctx); err != nil {
			w.logger.Error("Delivery tick aborted", zap.Error(err))
		}
	}()
}

// Tick runs one delivery pass. It returns ErrStoreUnavailable (wrapped) when the
// store fails; nothing from that tick is committed in that case.
func (w *DeliveryWorker) Tick(ctx context.Context) (TickResult, error) {
	if !w.running.CompareAndSwap(false, true) {
		w.skip("previous tick still running")
		return TickResult{Skipped: true}, nil
	}
	defer w.running.Store(false)

	ctx = trace.Ensure(ctx)
	log := logger.WithTrace(ctx, w.logger)

	if w.lease != nil {
		ok, err := w.lease.TryAcquire(ctx)
		if err != nil {
			metrics.IncrementDeliveryTick("aborted")
			return TickResult{}, fmt.Errorf("acquire delivery lease: %w", err)
		}
		if !ok {
			w.skip("lease held by another instance")
			return TickResult{Skipped: true}, nil
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := w.lease.Release(releaseCtx); err != nil {
				log.Warn("Failed to release delivery lease", zap.Error(err))
			}
		}()
	}

	ctx, span := otel.TickSpan(ctx, "reminder.delivery_tick")
	res, err := w.tick(ctx, log)
	otel.End(span, err)
	return res, err
}

func (w *DeliveryWorker) skip(reason string) {
	metrics.IncrementDeliveryTick("skipped")
	w.logger.Info("Delivery tick skipped", zap.String("reason", reason))
}

func (w *DeliveryWorker) tick(ctx context.Context, log *zap.Logger) (TickResult, error) {
	start := time.Now()
	now := w.clock.Now()

	batch, err := w.store.ClaimDue(ctx, now, w.cfg.BatchSize, w.cfg.ClaimTTL)
	if err != nil {
		metrics.IncrementDeliveryTick("aborted")
		return TickResult{}, fmt.Errorf("%w: claim due: %w", ErrStoreUnavailable, err)
	}
	res := TickResult{Claimed: len(batch)}
	if len(batch) == 0 {
		metrics.IncrementDeliveryTick("completed")
		metrics.RecordDeliveryTick(time.Since(start), 0)
		return res, nil
	}

	errs := w.deliverAll(ctx, batch)

	outcomes := make([]model.Outcome, 0, len(batch))
	byID := make(map[uuid.UUID]*model.Reminder, len(batch))
	errByID := make(map[uuid.UUID]string, len(batch))
	at := w.clock.Now()
	for i, r := range batch {
		// deliveries interrupted by shutdown stay CLAIMED and are reclaimed after the claim TTL
		if errs[i] != nil && ctx.Err() != nil && errors.Is(errs[i], context.Canceled) {
			continue
		}
		o := model.Outcome{
			ReminderID:  r.ID,
			ClaimToken:  r.ClaimToken,
			Delivered:   errs[i] == nil,
			MaxAttempts: w.cfg.MaxAttempts,
			At:          at,
			Reminder:    r,
		}
		if errs[i] != nil {
			o.Error = errs[i].Error()
			errByID[r.ID] = o.Error
		}
		outcomes = append(outcomes, o)
		byID[r.ID] = r
	}

	results, err := w.store.Finalize(context.WithoutCancel(ctx), outcomes...)
	if err != nil {
		metrics.IncrementDeliveryTick("aborted")
		return res, fmt.Errorf("%w: finalize: %w", ErrStoreUnavailable, err)
	}

	for _, fr := range results {
		r := byID[fr.ReminderID]
		if !fr.Applied {
			res.Lost++
			log.Warn("Reminder claim lost before finalize", zap.String("reminder_id", fr.ReminderID.String()))
			continue
		}
		w.account(ctx, log, r, fr, errByID[r.ID], at, &res)
	}

	metrics.IncrementDeliveryTick("completed")
	metrics.RecordDeliveryTick(time.Since(start), len(batch))
	log.Info("Delivery tick completed",
		zap.Int("claimed", res.Claimed),
		zap.Int("sent", res.Sent),
		zap.Int("retried", res.Retried),
		zap.Int("failed", res.Failed),
		zap.Int("cancelled", res.Cancelled),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

// deliverAll fans out with bounded concurrency; errs[i] is the outcome of batch[i].
func (w *DeliveryWorker) deliverAll(ctx context.Context, batch []*model.Reminder) []error {
	errs := make([]error, len(batch))
	var g errgroup.Group
	g.SetLimit(w.cfg.Concurrency)
	for i, r := range batch {
		g.Go(func() error {
			errs[i] = w.deliver(ctx, r)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (w *DeliveryWorker) deliver(ctx context.Context, r *model.Reminder) (err error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.DeliveryTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("notifier panic: %v", p)
		}
	}()

	return w.notifier.Deliver(ctx, model.Delivery{
		ReminderID:   r.ID,
		RecipientID:  r.RecipientID,
		AssignmentID: r.AssignmentID,
		Kind:         r.Kind,
		Title:        r.TitleSnapshot,
		Message:      r.MessageSnapshot,
		Priority:     PriorityFor(r.Kind),
	})
}

func (w *DeliveryWorker) account(ctx context.Context, log *zap.Logger, r *model.Reminder, fr model.FinalizeResult, deliveryErr string, at time.Time, res *TickResult) {
	kind := string(r.Kind)
	fields := []zap.Field{
		zap.String("reminder_id", r.ID.String()),
		zap.Int64("recipient_id", r.RecipientID),
		zap.String("kind", kind),
		zap.Int("attempts", fr.Attempts),
	}

	switch fr.Status {
	case model.StatusSent:
		res.Sent++
		metrics.IncrementDeliveryOutcome("sent", kind)
		if err := w.events.ReminderDelivered(ctx, r, PriorityFor(r.Kind), at); err != nil {
			log.Warn("Failed to emit reminder delivered event", append(fields, zap.Error(err))...)
		}
	case model.StatusPending:
		res.Retried++
		metrics.IncrementDeliveryOutcome("retry", kind)
		log.Warn("Reminder delivery failed, will retry", append(fields, zap.String("error", deliveryErr))...)
	case model.StatusFailed:
		res.Failed++
		metrics.IncrementDeliveryOutcome("failed", kind)
		log.Error("Reminder delivery failed permanently", append(fields, zap.String("error", deliveryErr))...)
		if err := w.events.ReminderFailed(ctx, r, fr.Attempts, deliveryErr, at); err != nil {
			log.Warn("Failed to emit reminder failed event", append(fields, zap.Error(err))...)
		}
	case model.StatusCancelled:
		res.Cancelled++
		metrics.IncrementDeliveryOutcome("cancelled", kind)
		log.Info("Reminder cancelled during delivery", fields...)
	case model.StatusClaimed:
		log.Error("Finalize left reminder claimed", fields...)
	}
}
