package reminder

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homework-reminder/internal/model"
)

type notifierFunc func(ctx context.Context, d model.Delivery) error

func (f notifierFunc) Deliver(ctx context.Context, d model.Delivery) error { return f(ctx, d) }

func TestTick_DeliversDueRemindersWithPriority(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	f := newFixture()
	_, err := f.gw.OnAssignmentCreated(ctx, assignment(1, baseNow.Add(48*time.Hour)), []int64{7})
	require.NoError(t, err)

	var mu sync.Mutex
	priorities := map[model.ReminderKind]model.Priority{}
	notifier := NewMockNotifier(ctrl)
	notifier.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, d model.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		priorities[d.Kind] = d.Priority
		assert.Equal(t, int64(7), d.RecipientID)
		assert.Equal(t, int64(1), d.AssignmentID)
		return nil
	}).Times(5)

	w := f.worker(notifier, nil, nil)

	// nothing is due yet
	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	f.clock.Advance(50 * time.Hour)
	res, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickResult{Claimed: 5, Sent: 5}, res)

	assert.Equal(t, map[model.ReminderKind]model.Priority{
		model.KindDue24h:  model.PriorityNormal,
		model.KindDue12h:  model.PriorityNormal,
		model.KindDue6h:   model.PriorityNormal,
		model.KindDue1h:   model.PriorityHigh,
		model.KindOverdue: model.PriorityUrgent,
	}, priorities)
	assert.Len(t, f.events.delivered, 5)

	rows, _ := f.store.FindByRecipient(ctx, 7)
	for _, r := range rows {
		assert.Equal(t, model.StatusSent, r.Status)
	}
}

func TestTick_OutcomesCarryClaimedReminder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.gw.OnAssignmentCreated(ctx, assignment(1, baseNow.Add(30*time.Minute)), []int64{7})
	require.NoError(t, err)

	store := &outcomeStore{ReminderStore: f.store}
	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error { return nil }), store, nil)

	f.clock.Advance(2 * time.Hour)
	_, err = w.Tick(ctx)
	require.NoError(t, err)

	require.NotEmpty(t, store.outcomes)
	for _, o := range store.outcomes {
		require.NotNil(t, o.Reminder, "event writers build payloads from the claimed row")
		assert.Equal(t, o.ReminderID, o.Reminder.ID)
		assert.Equal(t, int64(1), o.Reminder.AssignmentID)
	}
}

func TestTick_ScenarioDeliversInTriggerOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.gw.OnAssignmentCreated(ctx, assignment(1, baseNow.Add(48*time.Hour)), []int64{7})
	require.NoError(t, err)

	var delivered []model.ReminderKind
	w := f.worker(notifierFunc(func(_ context.Context, d model.Delivery) error {
		delivered = append(delivered, d.Kind)
		return nil
	}), nil, nil)

	for _, hours := range []time.Duration{24, 12, 6, 5, 2} {
		f.clock.Advance(hours * time.Hour)
		res, err := w.Tick(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, res.Sent)
	}
	assert.Equal(t, model.PlannedKinds, delivered)
}

func TestTick_FailureRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	f := newFixture()
	_, _, err := f.gw.ScheduleCustom(ctx, assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")
	require.NoError(t, err)

	notifier := NewMockNotifier(ctrl)
	notifier.EXPECT().Deliver(gomock.Any(), gomock.Any()).Return(errors.New("smtp 451")).Times(3)
	w := f.worker(notifier, nil, nil)

	want := []TickResult{
		{Claimed: 1, Retried: 1},
		{Claimed: 1, Retried: 1},
		{Claimed: 1, Failed: 1},
		{},
	}
	for i, exp := range want {
		f.clock.Advance(time.Minute)
		res, err := w.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, exp, res, "tick %d", i)
	}

	failed, err := f.store.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	assert.Equal(t, []string{"smtp 451"}, f.events.failed)

	unread, _ := f.store.FindUnreadByRecipient(ctx, 7)
	assert.Empty(t, unread, "failed reminders are hidden from the unread view")
}

func TestTick_DeliveryTimeoutCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, _, err := f.gw.ScheduleCustom(ctx, assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")
	require.NoError(t, err)

	cfg := testWorkerConfig()
	cfg.DeliveryTimeout = 20 * time.Millisecond
	w := NewDeliveryWorker(f.store, notifierFunc(func(ctx context.Context, _ model.Delivery) error {
		<-ctx.Done()
		return ctx.Err()
	}), f.events, nil, f.clock, cfg, zap.NewNop())

	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)

	rows, _ := f.store.FindByRecipient(ctx, 7)
	require.Len(t, rows, 1)
	assert.Equal(t, model.StatusPending, rows[0].Status)
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Contains(t, rows[0].LastError, "deadline exceeded")
}

func TestTick_NotifierPanicIsAFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, _, _ = f.gw.ScheduleCustom(ctx, assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")

	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error { panic("nil sink") }), nil, nil)
	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retried)
}

func TestTick_SingleFlight(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	f := newFixture()
	_, _, _ = f.gw.ScheduleCustom(ctx, assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")

	started := make(chan struct{})
	release := make(chan struct{})
	notifier := NewMockNotifier(ctrl)
	notifier.EXPECT().Deliver(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, model.Delivery) error {
		close(started)
		<-release
		return nil
	}).Times(1)

	w := f.worker(notifier, nil, nil)

	done := make(chan TickResult)
	go func() {
		res, _ := w.Tick(ctx)
		done <- res
	}()
	<-started

	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Sent)
}

func TestTick_LeaseHeldElsewhereSkips(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	f := newFixture()
	_, _, _ = f.gw.ScheduleCustom(ctx, assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")

	lease := &fakeLease{free: false}
	w := f.worker(NewMockNotifier(ctrl), nil, lease)

	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, lease.released)

	rows, _ := f.store.FindByRecipient(ctx, 7)
	assert.Equal(t, model.StatusPending, rows[0].Status)
}

func TestTick_LeaseReleasedAfterTick(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	lease := &fakeLease{free: true}
	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error { return nil }), nil, lease)

	_, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, lease.released)
}

func TestTick_StoreUnavailableAbortsTick(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	f := newFixture()
	_, _, _ = f.gw.ScheduleCustom(ctx, assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")

	store := &flakyStore{ReminderStore: f.store, failClaim: true}
	w := f.worker(NewMockNotifier(ctrl), store, nil)

	_, err := w.Tick(ctx)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.ErrorIs(t, err, errStoreDown)

	// the next tick runs normally once the store is back
	store.failClaim = false
	w = f.worker(notifierFunc(func(context.Context, model.Delivery) error { return nil }), store, nil)
	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
}

func TestTick_FinalizeFailureLeavesClaimForRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, _, _ = f.gw.ScheduleCustom(ctx, assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")

	store := &flakyStore{ReminderStore: f.store, failFinalize: true}
	deliveries := 0
	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error {
		deliveries++
		return nil
	}), store, nil)

	_, err := w.Tick(ctx)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Empty(t, f.events.delivered)

	rows, _ := f.store.FindByRecipient(ctx, 7)
	assert.Equal(t, model.StatusClaimed, rows[0].Status)

	// within the claim TTL nobody can take it
	store.failFinalize = false
	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	f.clock.Advance(6 * time.Minute)
	res, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 2, deliveries)
}

func TestCancellationRace(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := assignment(1, baseNow.Add(30*time.Minute))
	_, err := f.gw.OnAssignmentCreated(ctx, a, []int64{7, 8})
	require.NoError(t, err)

	t.Run("cancel after claim still ends sent", func(t *testing.T) {
		inFlight := make(chan struct{})
		proceed := make(chan struct{})
		var once sync.Once
		w := f.worker(notifierFunc(func(context.Context, model.Delivery) error {
			once.Do(func() { close(inFlight) })
			<-proceed
			return nil
		}), nil, nil)

		done := make(chan TickResult)
		go func() {
			res, _ := w.Tick(ctx)
			done <- res
		}()
		<-inFlight

		n, err := f.gw.OnAssignmentDeleted(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n, "only the not yet due OVERDUE reminders are cancelled")

		close(proceed)
		res := <-done
		assert.Equal(t, 2, res.Sent)
	})

	t.Run("cancel before claim removes from the batch", func(t *testing.T) {
		f.clock.Advance(3 * time.Hour)
		w := f.worker(notifierFunc(func(context.Context, model.Delivery) error {
			t.Error("cancelled reminder delivered")
			return nil
		}), nil, nil)
		res, err := w.Tick(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Claimed)
	})
}

func TestCancelledWhileClaimed_FailureEndsCancelled(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := assignment(1, baseNow.Add(30*time.Minute))
	_, err := f.gw.OnAssignmentCreated(ctx, a, []int64{7})
	require.NoError(t, err)

	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error {
		_, _ = f.gw.OnAssignmentDeleted(ctx, a.ID)
		return errors.New("push gateway down")
	}), nil, nil)

	res, err := w.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cancelled)

	f.clock.Advance(3 * time.Hour)
	res, err = w.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)
}

// Status transitions observed across ticks must follow the state machine.
func TestMonotoneStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	rng := rand.New(rand.NewSource(42))
	var rngMu sync.Mutex

	for i := int64(1); i <= 20; i++ {
		_, err := f.gw.OnAssignmentCreated(ctx, assignment(i, baseNow.Add(time.Duration(i)*time.Hour)), []int64{7, 8, 9})
		require.NoError(t, err)
	}

	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error {
		rngMu.Lock()
		defer rngMu.Unlock()
		if rng.Intn(3) == 0 {
			return errors.New("flaky")
		}
		return nil
	}), nil, nil)

	allowed := map[model.ReminderStatus][]model.ReminderStatus{
		model.StatusPending: {model.StatusPending, model.StatusSent, model.StatusFailed, model.StatusCancelled},
	}
	last := map[string]*model.Reminder{}
	for step := 0; step < 60; step++ {
		f.clock.Advance(30 * time.Minute)
		if step == 20 {
			_, _ = f.gw.OnAssignmentDeleted(ctx, 20)
		}
		_, err := w.Tick(ctx)
		require.NoError(t, err)

		for _, recipient := range []int64{7, 8, 9} {
			rows, _ := f.store.FindByRecipient(ctx, recipient)
			for _, r := range rows {
				prev, seen := last[r.ID.String()]
				if seen && prev.Status != r.Status {
					assert.Contains(t, allowed[prev.Status], r.Status, "%s -> %s", prev.Status, r.Status)
				}
				if r.Status == model.StatusPending && seen {
					assert.Less(t, r.Attempts, 3)
				}
				last[r.ID.String()] = r
			}
		}
	}

	for _, r := range last {
		assert.True(t, r.Status.Terminal(), "reminder %s left %s", r.ID, r.Status)
	}
}

func TestRun_TicksAtStartupAndStops(t *testing.T) {
	f := newFixture()
	_, _, _ = f.gw.ScheduleCustom(context.Background(), assignment(1, baseNow.Add(48*time.Hour)), 7, baseNow, "", "")

	delivered := make(chan struct{}, 1)
	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error {
		delivered <- struct{}{}
		return nil
	}), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(stopped)
	}()

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick at startup")
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
