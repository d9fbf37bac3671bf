package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"homework-reminder/internal/model"
	"homework-reminder/pkg/circuitbreaker"
	"homework-reminder/pkg/config"
)

// ErrSubscriptionGone is returned by the push service for an unsubscribed browser (404/410).
var ErrSubscriptionGone = errors.New("push subscription gone")

// SubscriptionStore lists and prunes a recipient's push endpoints.
type SubscriptionStore interface {
	ListByRecipient(ctx context.Context, recipientID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

type pushMessage struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
	Kind     string `json:"kind"`
	Reminder string `json:"reminder_id"`
}

// WebPush sends a browser notification to every subscription of the recipient.
type WebPush struct {
	subs    SubscriptionStore
	options webpush.Options
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewWebPush builds the sink. client may be nil to use http.DefaultClient.
func NewWebPush(cfg config.WebPushConfig, subs SubscriptionStore, client webpush.HTTPClient, logger *zap.Logger) *WebPush {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 3600
	}
	cbCfg := circuitbreaker.DefaultConfig()
	// 订阅失效是调用方问题，不代表推送服务故障
	cbCfg.IsFailure = func(err error) bool { return !errors.Is(err, ErrSubscriptionGone) }
	cbCfg.OnStateChange = func(from, to circuitbreaker.State) {
		logger.Warn("web push circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &WebPush{
		subs: subs,
		options: webpush.Options{
			HTTPClient:      client,
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             ttl,
			Urgency:         webpush.UrgencyNormal,
		},
		breaker: circuitbreaker.NewCircuitBreaker(cbCfg),
		logger:  logger,
	}
}

// Deliver fails only if the recipient has subscriptions and none of them accepted the message.
func (w *WebPush) Deliver(ctx context.Context, d model.Delivery) error {
	subs, err := w.subs.ListByRecipient(ctx, d.RecipientID)
	if err != nil {
		return fmt.Errorf("list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(pushMessage{
		Title:    d.Title,
		Message:  d.Message,
		Priority: string(d.Priority),
		Kind:     string(d.Kind),
		Reminder: d.ReminderID.String(),
	})
	if err != nil {
		return err
	}

	opts := w.options
	opts.Urgency = urgencyFor(d.Priority)

	var errs []error
	delivered := 0
	for _, sub := range subs {
		err := w.breaker.Execute(func() error { return w.send(ctx, body, sub, &opts) })
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrSubscriptionGone):
			if delErr := w.subs.DeleteByEndpoint(ctx, sub.Endpoint); delErr != nil {
				w.logger.Warn("failed to prune push subscription", zap.Error(delErr))
			}
		default:
			errs = append(errs, err)
		}
	}

	if delivered == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (w *WebPush) send(ctx context.Context, body []byte, sub model.PushSubscription, opts *webpush.Options) error {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{Auth: sub.Auth, P256dh: sub.P256dh},
	}, opts)
	if err != nil {
		return fmt.Errorf("web push: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("web push: push service returned %d", resp.StatusCode)
	}
	return nil
}

func urgencyFor(p model.Priority) webpush.Urgency {
	switch p {
	case model.PriorityUrgent, model.PriorityHigh:
		return webpush.UrgencyHigh
	case model.PriorityLow:
		return webpush.UrgencyLow
	}
	return webpush.UrgencyNormal
}
