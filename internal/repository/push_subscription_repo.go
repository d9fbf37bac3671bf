package repository

import (
	"context"
	"fmt"

	"homework-reminder/internal/model"
)

type PushSubscriptionRepository struct {
	db DBTX
}

func NewPushSubscriptionRepository(db DBTX) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{db: db}
}

// Save upserts by endpoint; a browser re-subscribing may rotate its keys.
func (r *PushSubscriptionRepository) Save(ctx context.Context, sub *model.PushSubscription) (err error) {
	ctx, done := observe(ctx, "upsert", "push_subscriptions")
	defer func() { done(err) }()

	query := `
		INSERT INTO push_subscriptions (recipient_id, endpoint, p256dh, auth, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (endpoint) DO UPDATE
		SET recipient_id = EXCLUDED.recipient_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		RETURNING id, created_at
	`
	err = r.db.QueryRow(ctx, query, sub.RecipientID, sub.Endpoint, sub.P256dh, sub.Auth).
		Scan(&sub.ID, &sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}
	return nil
}

func (r *PushSubscriptionRepository) ListByRecipient(ctx context.Context, recipientID int64) (subs []model.PushSubscription, err error) {
	ctx, done := observe(ctx, "select", "push_subscriptions")
	defer func() { done(err) }()

	query := `
		SELECT id, recipient_id, endpoint, p256dh, auth, created_at
		FROM push_subscriptions
		WHERE recipient_id = $1
	`
	rows, err := r.db.Query(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query push subscriptions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s model.PushSubscription
		if err := rows.Scan(&s.ID, &s.RecipientID, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *PushSubscriptionRepository) DeleteByEndpoint(ctx context.Context, endpoint string) (err error) {
	ctx, done := observe(ctx, "delete", "push_subscriptions")
	defer func() { done(err) }()

	_, err = r.db.Exec(ctx, `DELETE FROM push_subscriptions WHERE endpoint = $1`, endpoint)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}
