package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"homework-reminder/internal/model"
)

// FinalizeEventWriter records the delivery event of an applied outcome
// inside the finalize transaction.
type FinalizeEventWriter interface {
	WriteFinalizeEvent(ctx context.Context, tx pgx.Tx, o model.Outcome, res model.FinalizeResult) error
}

type ReminderRepository struct {
	db     DB
	events FinalizeEventWriter
}

func NewReminderRepository(db DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// WithEvents makes Finalize write delivery events in the same transaction as the status change.
func (r *ReminderRepository) WithEvents(w FinalizeEventWriter) *ReminderRepository {
	r.events = w
	return r
}

const reminderColumns = `id, assignment_id, recipient_id, kind, trigger_at, due_at_snapshot,
		title_snapshot, message_snapshot, status, attempts, read, read_at, last_error,
		claimed_at, cancel_requested, created_at, updated_at`

func scanReminder(row pgx.Row) (*model.Reminder, error) {
	var r model.Reminder
	err := row.Scan(
		&r.ID,
		&r.AssignmentID,
		&r.RecipientID,
		&r.Kind,
		&r.TriggerAt,
		&r.DueAtSnapshot,
		&r.TitleSnapshot,
		&r.MessageSnapshot,
		&r.Status,
		&r.Attempts,
		&r.Read,
		&r.ReadAt,
		&r.LastError,
		&r.ClaimedAt,
		&r.CancelRequested,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *ReminderRepository) queryReminders(ctx context.Context, query string, args ...any) ([]*model.Reminder, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.Reminder, 0)
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// CreateIfAbsent relies on the two partial unique indexes; a conflict on either is a duplicate.
func (r *ReminderRepository) CreateIfAbsent(ctx context.Context, rem *model.Reminder) (created bool, err error) {
	ctx, done := observe(ctx, "insert", "reminders")
	defer func() { done(err) }()

	query := `
		INSERT INTO reminders (id, assignment_id, recipient_id, kind, trigger_at, due_at_snapshot,
		                       title_snapshot, message_snapshot, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		rem.ID,
		rem.AssignmentID,
		rem.RecipientID,
		rem.Kind,
		rem.TriggerAt,
		rem.DueAtSnapshot,
		rem.TitleSnapshot,
		rem.MessageSnapshot,
		rem.Status,
		rem.Attempts,
		rem.CreatedAt,
		rem.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ReminderRepository) CancelAllPending(ctx context.Context, assignmentID int64, now time.Time) (n int, err error) {
	ctx, done := observe(ctx, "update", "reminders")
	defer func() { done(err) }()

	// 必须是单条 UPDATE：行被 ClaimDue 锁住时，等锁释放后按最新版本重新判断 WHERE 与 CASE，
	// 刚被认领的行会被打上 cancel_requested，而不是两边都漏掉
	query := `
		WITH touched AS (
			UPDATE reminders
			SET status = CASE WHEN status = 'PENDING' THEN 'CANCELLED' ELSE status END,
			    cancel_requested = cancel_requested OR status = 'CLAIMED',
			    updated_at = $2
			WHERE assignment_id = $1 AND status IN ('PENDING', 'CLAIMED')
			RETURNING status
		)
		SELECT count(*) FILTER (WHERE status = 'CANCELLED'),
		       count(*) FILTER (WHERE status = 'CLAIMED')
		FROM touched
	`
	var cancelled, flagged int64
	if err := r.db.QueryRow(ctx, query, assignmentID, now).Scan(&cancelled, &flagged); err != nil {
		return 0, fmt.Errorf("failed to cancel reminders of assignment %d: %w", assignmentID, err)
	}
	return int(cancelled), nil
}

// ClaimDue claims due PENDING rows and expired claims in one statement.
// SKIP LOCKED makes concurrent workers split the batch instead of blocking.
func (r *ReminderRepository) ClaimDue(ctx context.Context, now time.Time, limit int, claimTTL time.Duration) (claimed []*model.Reminder, err error) {
	ctx, done := observe(ctx, "claim", "reminders")
	defer func() { done(err) }()

	token := uuid.New()
	query := `
		UPDATE reminders
		SET status = 'CLAIMED', claim_token = $3, claimed_at = $1, updated_at = $1
		FROM (
			SELECT id AS due_id
			FROM reminders
			WHERE (status = 'PENDING' AND trigger_at <= $1)
			   OR (status = 'CLAIMED' AND claimed_at < $4)
			ORDER BY trigger_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		) due
		WHERE reminders.id = due.due_id
		RETURNING ` + reminderColumns

	claimed, err = r.queryReminders(ctx, query, now, limit, token, now.Add(-claimTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to claim due reminders: %w", err)
	}
	for _, rem := range claimed {
		rem.ClaimToken = token
	}
	return claimed, nil
}

const finalizeSent = `
	UPDATE reminders
	SET status = 'SENT', claim_token = NULL, claimed_at = NULL, cancel_requested = FALSE, updated_at = $3
	WHERE id = $1 AND status = 'CLAIMED' AND claim_token = $2
	RETURNING status, attempts
`

// SET 中引用的都是更新前的值
const finalizeFailed = `
	UPDATE reminders
	SET attempts = attempts + 1,
	    last_error = $3,
	    status = CASE
	        WHEN cancel_requested THEN 'CANCELLED'
	        WHEN attempts + 1 < $4 THEN 'PENDING'
	        ELSE 'FAILED'
	    END,
	    claim_token = NULL, claimed_at = NULL, cancel_requested = FALSE, updated_at = $5
	WHERE id = $1 AND status = 'CLAIMED' AND claim_token = $2
	RETURNING status, attempts
`

// Finalize applies all outcomes in one transaction. Outcomes whose claim token no
// longer matches are reported with Applied=false and an empty status. With an event
// writer set, the events of applied outcomes commit or roll back together with them.
func (r *ReminderRepository) Finalize(ctx context.Context, outcomes ...model.Outcome) (results []model.FinalizeResult, err error) {
	if len(outcomes) == 0 {
		return nil, nil
	}
	ctx, done := observe(ctx, "finalize", "reminders")
	defer func() { done(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	results = make([]model.FinalizeResult, 0, len(outcomes))
	for _, o := range outcomes {
		var row pgx.Row
		if o.Delivered {
			row = tx.QueryRow(ctx, finalizeSent, o.ReminderID, o.ClaimToken, o.At)
		} else {
			row = tx.QueryRow(ctx, finalizeFailed, o.ReminderID, o.ClaimToken, o.Error, o.MaxAttempts, o.At)
		}

		res := model.FinalizeResult{ReminderID: o.ReminderID}
		err := row.Scan(&res.Status, &res.Attempts)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// claim lost
		case err != nil:
			return nil, fmt.Errorf("failed to finalize reminder %s: %w", o.ReminderID, err)
		default:
			res.Applied = true
		}
		if res.Applied && r.events != nil && o.Reminder != nil {
			if err := r.events.WriteFinalizeEvent(ctx, tx, o, res); err != nil {
				return nil, fmt.Errorf("failed to record event of reminder %s: %w", o.ReminderID, err)
			}
		}
		results = append(results, res)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit finalize: %w", err)
	}
	return results, nil
}

func (r *ReminderRepository) FindByRecipient(ctx context.Context, recipientID int64) (out []*model.Reminder, err error) {
	ctx, done := observe(ctx, "select", "reminders")
	defer func() { done(err) }()

	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE recipient_id = $1
		ORDER BY trigger_at ASC
	`
	return r.queryReminders(ctx, query, recipientID)
}

// FindUnreadByRecipient hides FAILED and CANCELLED reminders, which were never shown to the recipient.
func (r *ReminderRepository) FindUnreadByRecipient(ctx context.Context, recipientID int64) (out []*model.Reminder, err error) {
	ctx, done := observe(ctx, "select", "reminders")
	defer func() { done(err) }()

	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE recipient_id = $1 AND NOT read AND status NOT IN ('FAILED', 'CANCELLED')
		ORDER BY trigger_at ASC
	`
	return r.queryReminders(ctx, query, recipientID)
}

func (r *ReminderRepository) CountUnread(ctx context.Context, recipientID int64) (n int64, err error) {
	ctx, done := observe(ctx, "count", "reminders")
	defer func() { done(err) }()

	query := `
		SELECT count(*)
		FROM reminders
		WHERE recipient_id = $1 AND NOT read AND status NOT IN ('FAILED', 'CANCELLED')
	`
	err = r.db.QueryRow(ctx, query, recipientID).Scan(&n)
	return n, err
}

func (r *ReminderRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (n int64, err error) {
	ctx, done := observe(ctx, "delete", "reminders")
	defer func() { done(err) }()

	query := `
		DELETE FROM reminders
		WHERE status IN ('SENT', 'FAILED', 'CANCELLED') AND updated_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal reminders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkRead only flips the read flag; status and updated_at are left alone.
func (r *ReminderRepository) MarkRead(ctx context.Context, id uuid.UUID, now time.Time) (err error) {
	ctx, done := observe(ctx, "update", "reminders")
	defer func() { done(err) }()

	query := `
		UPDATE reminders
		SET read = TRUE, read_at = COALESCE(read_at, $2)
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark reminder %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *ReminderRepository) MarkAllRead(ctx context.Context, recipientID int64, now time.Time) (n int64, err error) {
	ctx, done := observe(ctx, "update", "reminders")
	defer func() { done(err) }()

	query := `
		UPDATE reminders
		SET read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND NOT read
	`
	tag, err := r.db.Exec(ctx, query, recipientID, now)
	if err != nil {
		return 0, fmt.Errorf("failed to mark reminders of recipient %d read: %w", recipientID, err)
	}
	return tag.RowsAffected(), nil
}

func (r *ReminderRepository) ListFailed(ctx context.Context, limit int) (out []*model.Reminder, err error) {
	ctx, done := observe(ctx, "select", "reminders")
	defer func() { done(err) }()

	query := `
		SELECT ` + reminderColumns + `
		FROM reminders
		WHERE status = 'FAILED'
		ORDER BY updated_at DESC
		LIMIT $1
	`
	return r.queryReminders(ctx, query, limit)
}
