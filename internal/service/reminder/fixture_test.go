package reminder

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"homework-reminder/internal/clock"
	"homework-reminder/internal/model"
	"homework-reminder/internal/repository/memory"
)

var errStoreDown = errors.New("connection refused")

type recordingEmitter struct {
	mu        sync.Mutex
	delivered []model.Priority
	failed    []string
}

func (e *recordingEmitter) ReminderDelivered(_ context.Context, _ *model.Reminder, p model.Priority, _ time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delivered = append(e.delivered, p)
	return nil
}

func (e *recordingEmitter) ReminderFailed(_ context.Context, r *model.Reminder, _ int, reason string, _ time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed = append(e.failed, reason)
	return nil
}

type fakeLease struct {
	free     bool
	released int
}

func (l *fakeLease) TryAcquire(context.Context) (bool, error) { return l.free, nil }
func (l *fakeLease) Release(context.Context) error {
	l.released++
	return nil
}

// flakyStore fails selected operations.
type flakyStore struct {
	*memory.ReminderStore
	failClaim    bool
	failFinalize bool
	failCreate   bool
}

func (s *flakyStore) ClaimDue(ctx context.Context, now time.Time, limit int, ttl time.Duration) ([]*model.Reminder, error) {
	if s.failClaim {
		return nil, errStoreDown
	}
	return s.ReminderStore.ClaimDue(ctx, now, limit, ttl)
}

func (s *flakyStore) Finalize(ctx context.Context, outcomes ...model.Outcome) ([]model.FinalizeResult, error) {
	if s.failFinalize {
		return nil, errStoreDown
	}
	return s.ReminderStore.Finalize(ctx, outcomes...)
}

func (s *flakyStore) CreateIfAbsent(ctx context.Context, r *model.Reminder) (bool, error) {
	if s.failCreate {
		return false, errStoreDown
	}
	return s.ReminderStore.CreateIfAbsent(ctx, r)
}

// outcomeStore records the outcomes handed to Finalize.
type outcomeStore struct {
	*memory.ReminderStore
	outcomes []model.Outcome
}

func (s *outcomeStore) Finalize(ctx context.Context, outcomes ...model.Outcome) ([]model.FinalizeResult, error) {
	s.outcomes = append(s.outcomes, outcomes...)
	return s.ReminderStore.Finalize(ctx, outcomes...)
}

type fixture struct {
	store  *memory.ReminderStore
	clock  *clock.Fake
	events *recordingEmitter
	gw     *Gateway
}

func newFixture() *fixture {
	store := memory.NewReminderStore()
	clk := clock.NewFake(baseNow)
	return &fixture{
		store:  store,
		clock:  clk,
		events: &recordingEmitter{},
		gw:     NewGateway(NewPlanner(nil, DefaultStaleGrace), store, clk, zap.NewNop()),
	}
}

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		TickInterval:    time.Hour,
		BatchSize:       100,
		MaxAttempts:     3,
		DeliveryTimeout: time.Second,
		Concurrency:     4,
		ClaimTTL:        5 * time.Minute,
	}
}

func (f *fixture) worker(n Notifier, store ReminderStore, lease Lease) *DeliveryWorker {
	if store == nil {
		store = f.store
	}
	return NewDeliveryWorker(store, n, f.events, lease, f.clock, testWorkerConfig(), zap.NewNop())
}
