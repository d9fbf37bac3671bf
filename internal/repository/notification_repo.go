package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"homework-reminder/internal/model"
)

type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert is idempotent per reminder: redelivering the same reminder after a lost
// finalize does not create a second notification.
func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) (inserted bool, err error) {
	ctx, done := observe(ctx, "insert", "notifications")
	defer func() { done(err) }()

	query := `
		INSERT INTO notifications (id, recipient_id, reminder_id, assignment_id, kind, title, message,
		                           priority, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (reminder_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		n.ID,
		n.RecipientID,
		n.ReminderID,
		n.AssignmentID,
		n.Kind,
		n.Title,
		n.Message,
		n.Priority,
		n.Read,
		n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FindByRecipient returns the newest notifications first.
func (r *NotificationRepository) FindByRecipient(ctx context.Context, recipientID int64, limit int) (out []*model.Notification, err error) {
	ctx, done := observe(ctx, "select", "notifications")
	defer func() { done(err) }()

	query := `
		SELECT id, recipient_id, reminder_id, assignment_id, kind, title, message,
		       priority, read, created_at, read_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out = make([]*model.Notification, 0)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&n.ReminderID,
			&n.AssignmentID,
			&n.Kind,
			&n.Title,
			&n.Message,
			&n.Priority,
			&n.Read,
			&n.CreatedAt,
			&n.ReadAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id uuid.UUID, now time.Time) (err error) {
	ctx, done := observe(ctx, "update", "notifications")
	defer func() { done(err) }()

	query := `
		UPDATE notifications
		SET read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipientID int64, now time.Time) (n int64, err error) {
	ctx, done := observe(ctx, "update", "notifications")
	defer func() { done(err) }()

	query := `
		UPDATE notifications
		SET read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT read
	`
	tag, err := r.db.Exec(ctx, query, recipientID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications of recipient %d read: %w", recipientID, err)
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, recipientID int64) (n int64, err error) {
	ctx, done := observe(ctx, "count", "notifications")
	defer func() { done(err) }()

	query := `SELECT count(*) FROM notifications WHERE recipient_id = $1 AND NOT read`
	err = r.db.QueryRow(ctx, query, recipientID).Scan(&n)
	return n, err
}
