package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	tracepkg "homework-reminder/pkg/trace"
)

func TestRepository_InsertEvent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	payload := json.RawMessage(`{"reminder_id":"r1"}`)
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs("reminder", "r1", "reminder.delivered", payload, StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))

	repo := NewRepository(mock)
	event := &Event{AggregateType: "reminder", AggregateID: "r1", RoutingKey: "reminder.delivered", Payload: payload}
	require.NoError(t, repo.InsertEvent(context.Background(), nil, event))

	assert.Equal(t, int64(7), event.ID)
	assert.Equal(t, StatusPending, event.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_MarkAsFailed_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("UPDATE outbox_events").
		WithArgs(int64(9), 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewRepository(mock).MarkAsFailed(context.Background(), 9, 5)
	require.ErrorIs(t, err, ErrEventNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_GetEventByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM outbox_events").
		WithArgs(int64(3)).
		WillReturnError(pgx.ErrNoRows)

	_, err = NewRepository(mock).GetEventByID(context.Background(), 3)
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestRepository_ClaimPendingEvents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	older := time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)
	newer := older.Add(time.Second)
	payload := json.RawMessage(`{}`)
	cols := []string{"id", "aggregate_type", "aggregate_id", "routing_key", "payload", "status",
		"retry_count", "next_retry_at", "created_at", "updated_at"}

	mock.ExpectQuery(`UPDATE outbox_events SET next_retry_at = NOW\(\) \+ make_interval\(secs => \$2\).*FOR UPDATE SKIP LOCKED`).
		WithArgs(100, float64(30)).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(2), "reminder", "r2", "reminder.failed", payload, StatusPending, 0, nil, newer, newer).
			AddRow(int64(1), "reminder", "r1", "reminder.delivered", payload, StatusPending, 0, nil, older, older))

	events, err := NewRepository(mock).ClaimPendingEvents(context.Background(), 100, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].ID, "claimed events are published oldest first")
	assert.Equal(t, int64(2), events[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

type fakeStore struct {
	events []*Event
	sent   []int64
	failed []int64
	lease  time.Duration
}

func (s *fakeStore) ClaimPendingEvents(_ context.Context, _ int, lease time.Duration) ([]*Event, error) {
	s.lease = lease
	return s.events, nil
}
func (s *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	return nil
}
func (s *fakeStore) MarkAsFailed(_ context.Context, id int64, _ int) error {
	s.failed = append(s.failed, id)
	return nil
}

type fakePublisher struct {
	traceIDs []string
	fail     map[string]bool
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, _ any) error {
	if p.fail[routingKey] {
		return errors.New("channel closed")
	}
	p.traceIDs = append(p.traceIDs, traceIDFrom(ctx))
	return nil
}

func TestDispatcher_ProcessPendingEvents(t *testing.T) {
	store := &fakeStore{events: []*Event{
		{ID: 1, RoutingKey: "reminder.delivered", Payload: json.RawMessage(`{"trace_id":"t-1"}`)},
		{ID: 2, RoutingKey: "reminder.failed", Payload: json.RawMessage(`{}`)},
	}}
	pub := &fakePublisher{fail: map[string]bool{"reminder.failed": true}}

	published := NewDispatcher(store, pub, zap.NewNop()).
		WithClaimLease(time.Minute).
		ProcessPendingEvents(context.Background())

	assert.Equal(t, 1, published)
	assert.Equal(t, time.Minute, store.lease)
	assert.Equal(t, []int64{1}, store.sent)
	assert.Equal(t, []int64{2}, store.failed)
	assert.Equal(t, []string{"t-1"}, pub.traceIDs)
}

func traceIDFrom(ctx context.Context) string {
	return tracepkg.FromContext(ctx)
}
