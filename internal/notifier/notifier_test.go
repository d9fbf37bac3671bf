package notifier

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "homework-reminder/contracts/mq"
	"homework-reminder/internal/clock"
	"homework-reminder/internal/model"
	"homework-reminder/internal/repository/memory"
	"homework-reminder/pkg/config"
	"homework-reminder/pkg/outbox"
)

var now = time.Date(2024, 9, 2, 12, 0, 0, 0, time.UTC)

func delivery() model.Delivery {
	return model.Delivery{
		ReminderID:   uuid.New(),
		RecipientID:  7,
		AssignmentID: 42,
		Kind:         model.KindDue1h,
		Title:        "Essay",
		Message:      "Essay is due in 1 hour.",
		Priority:     model.PriorityHigh,
	}
}

func TestInApp_DeliverIsIdempotentPerReminder(t *testing.T) {
	store := memory.NewNotificationStore()
	sink := NewInApp(store, clock.NewFake(now), zap.NewNop())
	d := delivery()

	require.NoError(t, sink.Deliver(context.Background(), d))
	require.NoError(t, sink.Deliver(context.Background(), d), "redelivery after a lost finalize succeeds")

	feed, err := store.FindByRecipient(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, feed, 1)
	assert.Equal(t, model.PriorityHigh, feed[0].Priority)
	assert.Equal(t, "Essay", feed[0].Title)
	assert.Equal(t, d.ReminderID, *feed[0].ReminderID)
	assert.True(t, feed[0].CreatedAt.Equal(now))
	assert.False(t, feed[0].Read)
}

type sinkFunc func(context.Context, model.Delivery) error

func (f sinkFunc) Deliver(ctx context.Context, d model.Delivery) error { return f(ctx, d) }

func TestFanout(t *testing.T) {
	var pushed int
	push := sinkFunc(func(context.Context, model.Delivery) error {
		pushed++
		return errors.New("push service down")
	})

	ok := NewFanout(zap.NewNop(), sinkFunc(func(context.Context, model.Delivery) error { return nil }), push)
	require.NoError(t, ok.Deliver(context.Background(), delivery()), "best-effort failures are swallowed")
	assert.Equal(t, 1, pushed)

	failing := NewFanout(zap.NewNop(), sinkFunc(func(context.Context, model.Delivery) error {
		return errors.New("db down")
	}), push)
	require.Error(t, failing.Deliver(context.Background(), delivery()))
	assert.Equal(t, 1, pushed, "best-effort sinks are skipped when the primary fails")
}

type fakePushClient struct {
	mu       sync.Mutex
	statuses map[string]int
	calls    []string
}

func (c *fakePushClient) Do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req.URL.String())
	status, ok := c.statuses[req.URL.String()]
	if !ok {
		status = http.StatusCreated
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func subscription(t *testing.T, recipient int64, endpoint string) *model.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return &model.PushSubscription{
		RecipientID: recipient,
		Endpoint:    endpoint,
		P256dh:      base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
		Auth:        base64.RawURLEncoding.EncodeToString(auth),
	}
}

func newWebPush(t *testing.T, subs SubscriptionStore, client webpush.HTTPClient) *WebPush {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	return NewWebPush(config.WebPushConfig{
		Enabled:         true,
		Subscriber:      "reminders@example.com",
		VAPIDPublicKey:  pub,
		VAPIDPrivateKey: priv,
	}, subs, client, zap.NewNop())
}

func TestWebPush_PrunesGoneSubscriptions(t *testing.T) {
	ctx := context.Background()
	subs := memory.NewPushSubscriptionStore()
	require.NoError(t, subs.Save(ctx, subscription(t, 7, "https://push.example/live")))
	require.NoError(t, subs.Save(ctx, subscription(t, 7, "https://push.example/gone")))

	client := &fakePushClient{statuses: map[string]int{"https://push.example/gone": http.StatusGone}}
	sink := newWebPush(t, subs, client)

	require.NoError(t, sink.Deliver(ctx, delivery()))
	assert.Len(t, client.calls, 2)

	left, err := subs.ListByRecipient(ctx, 7)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "https://push.example/live", left[0].Endpoint)
}

func TestWebPush_FailsWhenNoSubscriptionAccepted(t *testing.T) {
	ctx := context.Background()
	subs := memory.NewPushSubscriptionStore()
	require.NoError(t, subs.Save(ctx, subscription(t, 7, "https://push.example/a")))

	client := &fakePushClient{statuses: map[string]int{"https://push.example/a": http.StatusServiceUnavailable}}
	require.Error(t, newWebPush(t, subs, client).Deliver(ctx, delivery()))
}

func TestWebPush_NoSubscriptionsIsNoop(t *testing.T) {
	client := &fakePushClient{}
	sink := newWebPush(t, memory.NewPushSubscriptionStore(), client)
	require.NoError(t, sink.Deliver(context.Background(), delivery()))
	assert.Empty(t, client.calls)
}

func TestUrgencyFor(t *testing.T) {
	assert.Equal(t, webpush.UrgencyHigh, urgencyFor(model.PriorityUrgent))
	assert.Equal(t, webpush.UrgencyHigh, urgencyFor(model.PriorityHigh))
	assert.Equal(t, webpush.UrgencyNormal, urgencyFor(model.PriorityNormal))
	assert.Equal(t, webpush.UrgencyLow, urgencyFor(model.PriorityLow))
}

func reminderRow() *model.Reminder {
	r := model.NewReminder(model.ReminderSpec{
		AssignmentID: 42,
		RecipientID:  7,
		Kind:         model.KindOverdue,
		TriggerAt:    now,
	}, now)
	r.Status = model.StatusSent
	return r
}

func TestOutboxEmitter_WritesEventsInsideTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	ctx := context.Background()
	r := reminderRow()
	var delivered mqcontracts.ReminderDeliveredPayload
	var failed mqcontracts.ReminderFailedPayload

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs("reminder", r.ID.String(), mqcontracts.RoutingKeyReminderDelivered, payloadInto(&delivered), outbox.StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), now, now))
	mock.ExpectQuery("INSERT INTO outbox_events").
		WithArgs("reminder", r.ID.String(), mqcontracts.RoutingKeyReminderFailed, payloadInto(&failed), outbox.StatusPending).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(2), now, now))
	mock.ExpectCommit()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	emitter := NewOutboxEmitter(outbox.NewRepository(mock))
	o := model.Outcome{ReminderID: r.ID, Delivered: true, At: now, Reminder: r}
	require.NoError(t, emitter.WriteFinalizeEvent(ctx, tx, o, model.FinalizeResult{ReminderID: r.ID, Status: model.StatusSent, Applied: true}))

	o = model.Outcome{ReminderID: r.ID, Error: "timeout", At: now, Reminder: r}
	require.NoError(t, emitter.WriteFinalizeEvent(ctx, tx, o, model.FinalizeResult{ReminderID: r.ID, Status: model.StatusPending, Attempts: 1, Applied: true}),
		"a retry records no event")
	require.NoError(t, emitter.WriteFinalizeEvent(ctx, tx, o, model.FinalizeResult{ReminderID: r.ID, Status: model.StatusFailed, Attempts: 3, Applied: true}))

	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, r.ID.String(), delivered.ReminderID)
	assert.Equal(t, string(model.PriorityUrgent), delivered.Priority)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, "timeout", failed.Error)
}

// payloadMatcher decodes the JSON payload argument into dst.
type payloadMatcher struct {
	dst any
}

func payloadInto(dst any) payloadMatcher { return payloadMatcher{dst: dst} }

func (m payloadMatcher) Match(v any) bool {
	raw, ok := v.(json.RawMessage)
	if !ok {
		return false
	}
	return json.Unmarshal(raw, m.dst) == nil
}

type recordingPublisher struct {
	keys     []string
	payloads []any
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, rk string, payload any) error {
	p.keys = append(p.keys, rk)
	p.payloads = append(p.payloads, payload)
	return nil
}

func TestPublisherEmitter(t *testing.T) {
	pub := &recordingPublisher{}
	emitter := NewPublisherEmitter(pub)
	r := reminderRow()

	require.NoError(t, emitter.ReminderFailed(context.Background(), r, 3, "timeout", now))
	require.Equal(t, []string{mqcontracts.RoutingKeyReminderFailed}, pub.keys)

	raw, err := json.Marshal(pub.payloads[0])
	require.NoError(t, err)
	var got mqcontracts.ReminderFailedPayload
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, r.ID.String(), got.ReminderID)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "timeout", got.Error)
}
