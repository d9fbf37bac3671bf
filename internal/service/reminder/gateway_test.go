package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"homework-reminder/internal/model"
)

func TestGateway_OnAssignmentCreated_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := assignment(1, baseNow.Add(48*time.Hour))

	n, err := f.gw.OnAssignmentCreated(ctx, a, []int64{7})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = f.gw.OnAssignmentCreated(ctx, a, []int64{7})
	require.NoError(t, err)
	assert.Zero(t, n)

	rows, err := f.store.FindByRecipient(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	wantTriggers := []time.Duration{24, 36, 42, 47, 49}
	for i, r := range rows {
		assert.Equal(t, model.StatusPending, r.Status)
		assert.Equal(t, baseNow.Add(wantTriggers[i]*time.Hour), r.TriggerAt)
	}
}

func TestGateway_PlanningErrorCreatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.gw.OnAssignmentCreated(ctx, assignment(1, baseNow.Add(48*time.Hour)), []int64{7, -1})
	var perr *PlanningError
	require.ErrorAs(t, err, &perr)

	rows, _ := f.store.FindByRecipient(ctx, 7)
	assert.Empty(t, rows)
}

func TestGateway_OnAssignmentDueDateChanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := assignment(1, baseNow.Add(48*time.Hour))
	_, err := f.gw.OnAssignmentCreated(ctx, a, []int64{7})
	require.NoError(t, err)
	before, _ := f.store.FindByRecipient(ctx, 7)

	a.DueDate = baseNow.Add(72 * time.Hour)
	a.Title = "Essay v2"
	cancelled, created, err := f.gw.OnAssignmentDueDateChanged(ctx, a, []int64{7})
	require.NoError(t, err)
	assert.Equal(t, 5, cancelled)
	assert.Equal(t, 5, created)

	for _, old := range before {
		got, ok := f.store.Get(old.ID)
		require.True(t, ok)
		assert.Equal(t, model.StatusCancelled, got.Status)
		assert.Equal(t, old.TriggerAt, got.TriggerAt)
		assert.Equal(t, old.MessageSnapshot, got.MessageSnapshot, "snapshots never change")
	}

	unread, _ := f.store.FindUnreadByRecipient(ctx, 7)
	require.Len(t, unread, 5)
	for _, r := range unread {
		assert.Equal(t, a.DueDate, r.DueAtSnapshot)
		assert.Contains(t, r.MessageSnapshot, "Essay v2")
	}
}

func TestGateway_DueDateChangeWithInvalidInputKeepsOldSet(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := assignment(1, baseNow.Add(48*time.Hour))
	_, _ = f.gw.OnAssignmentCreated(ctx, a, []int64{7})

	a.DueDate = time.Time{}
	_, _, err := f.gw.OnAssignmentDueDateChanged(ctx, a, []int64{7})
	require.Error(t, err)

	unread, _ := f.store.FindUnreadByRecipient(ctx, 7)
	assert.Len(t, unread, 5)
}

func TestGateway_OnAssignmentDeleted_KeepsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, _ = f.gw.OnAssignmentCreated(ctx, assignment(1, baseNow.Add(48*time.Hour)), []int64{7})

	// deliver DUE_24H first
	f.clock.Advance(24 * time.Hour)
	w := f.worker(notifierFunc(func(context.Context, model.Delivery) error { return nil }), nil, nil)
	res, err := w.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	n, err := f.gw.OnAssignmentDeleted(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	rows, _ := f.store.FindByRecipient(ctx, 7)
	counts := map[model.ReminderStatus]int{}
	for _, r := range rows {
		counts[r.Status]++
	}
	assert.Equal(t, map[model.ReminderStatus]int{model.StatusSent: 1, model.StatusCancelled: 4}, counts)
}

func TestGateway_ScheduleCustom(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	a := assignment(1, baseNow.Add(48*time.Hour))

	r, created, err := f.gw.ScheduleCustom(ctx, a, 7, baseNow.Add(2*time.Hour), "", "Bring your draft")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.KindCustom, r.Kind)
	assert.Equal(t, "Reminder", r.TitleSnapshot)
	assert.Equal(t, "Bring your draft", r.MessageSnapshot)

	_, created, err = f.gw.ScheduleCustom(ctx, a, 7, baseNow.Add(3*time.Hour), "x", "y")
	require.NoError(t, err)
	assert.False(t, created, "one pending custom reminder per slot")

	_, _, err = f.gw.ScheduleCustom(ctx, a, 7, time.Time{}, "", "")
	var perr *PlanningError
	require.ErrorAs(t, err, &perr)
}

func TestGateway_StoreErrorIsReturned(t *testing.T) {
	f := newFixture()
	store := &flakyStore{ReminderStore: f.store, failCreate: true}
	gw := NewGateway(NewPlanner(nil, DefaultStaleGrace), store, f.clock, zap.NewNop())

	_, err := gw.OnAssignmentCreated(context.Background(), assignment(1, baseNow.Add(48*time.Hour)), []int64{7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errStoreDown))
}
