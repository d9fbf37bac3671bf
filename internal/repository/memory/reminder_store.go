package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"homework-reminder/internal/model"
)

// ReminderStore keeps reminders in process memory. A single mutex makes every
// operation atomic, which gives the same claim and cancel guarantees as the
// Postgres store for a single worker process.
type ReminderStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*model.Reminder
}

func NewReminderStore() *ReminderStore {
	return &ReminderStore{rows: make(map[uuid.UUID]*model.Reminder)}
}

func (s *ReminderStore) CreateIfAbsent(_ context.Context, r *model.Reminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.rows {
		if conflicts(row, r) {
			return false, nil
		}
	}
	cp := *r
	s.rows[r.ID] = &cp
	return true, nil
}

// conflicts mirrors the two partial unique indexes of the reminders table.
func conflicts(existing, r *model.Reminder) bool {
	if existing.AssignmentID != r.AssignmentID || existing.RecipientID != r.RecipientID || existing.Kind != r.Kind {
		return false
	}
	live := existing.Status == model.StatusPending ||
		(existing.Status == model.StatusClaimed && !existing.CancelRequested)
	if live {
		return true
	}
	return existing.Status != model.StatusCancelled && existing.TriggerAt.Equal(r.TriggerAt)
}

func (s *ReminderStore) CancelAllPending(_ context.Context, assignmentID int64, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, row := range s.rows {
		if row.AssignmentID != assignmentID {
			continue
		}
		switch row.Status {
		case model.StatusPending:
			row.Status = model.StatusCancelled
			row.UpdatedAt = now
			n++
		case model.StatusClaimed:
			row.CancelRequested = true
		}
	}
	return n, nil
}

func (s *ReminderStore) ClaimDue(_ context.Context, now time.Time, limit int, claimTTL time.Duration) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := now.Add(-claimTTL)
	var due []*model.Reminder
	for _, row := range s.rows {
		switch row.Status {
		case model.StatusPending:
			if !row.TriggerAt.After(now) {
				due = append(due, row)
			}
		case model.StatusClaimed:
			if row.ClaimedAt != nil && row.ClaimedAt.Before(expired) {
				due = append(due, row)
			}
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].TriggerAt.Before(due[j].TriggerAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	token := uuid.New()
	claimedAt := now
	out := make([]*model.Reminder, 0, len(due))
	for _, row := range due {
		row.Status = model.StatusClaimed
		row.ClaimToken = token
		row.ClaimedAt = &claimedAt
		row.UpdatedAt = now
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

func (s *ReminderStore) Finalize(_ context.Context, outcomes ...model.Outcome) ([]model.FinalizeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]model.FinalizeResult, 0, len(outcomes))
	for _, o := range outcomes {
		row, ok := s.rows[o.ReminderID]
		if !ok || row.Status != model.StatusClaimed || row.ClaimToken != o.ClaimToken {
			res := model.FinalizeResult{ReminderID: o.ReminderID}
			if ok {
				res.Status = row.Status
				res.Attempts = row.Attempts
			}
			results = append(results, res)
			continue
		}

		row.Status = nextStatus(row, o)
		row.ClaimToken = uuid.Nil
		row.ClaimedAt = nil
		row.CancelRequested = false
		row.UpdatedAt = o.At
		results = append(results, model.FinalizeResult{
			ReminderID: row.ID,
			Status:     row.Status,
			Attempts:   row.Attempts,
			Applied:    true,
		})
	}
	return results, nil
}

// nextStatus records the attempt on row and returns the status it moves to.
func nextStatus(row *model.Reminder, o model.Outcome) model.ReminderStatus {
	if o.Delivered {
		return model.StatusSent
	}
	row.Attempts++
	row.LastError = o.Error
	switch {
	case row.CancelRequested:
		return model.StatusCancelled
	case row.Attempts < o.MaxAttempts:
		return model.StatusPending
	default:
		return model.StatusFailed
	}
}

func (s *ReminderStore) FindByRecipient(_ context.Context, recipientID int64) ([]*model.Reminder, error) {
	return s.filter(func(r *model.Reminder) bool { return r.RecipientID == recipientID }), nil
}

func (s *ReminderStore) FindUnreadByRecipient(_ context.Context, recipientID int64) ([]*model.Reminder, error) {
	return s.filter(func(r *model.Reminder) bool { return r.RecipientID == recipientID && unreadVisible(r) }), nil
}

func (s *ReminderStore) CountUnread(_ context.Context, recipientID int64) (int64, error) {
	return int64(len(s.filter(func(r *model.Reminder) bool {
		return r.RecipientID == recipientID && unreadVisible(r)
	}))), nil
}

func unreadVisible(r *model.Reminder) bool {
	return !r.Read && r.Status != model.StatusFailed && r.Status != model.StatusCancelled
}

func (s *ReminderStore) DeleteTerminalOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, row := range s.rows {
		if row.Status.Terminal() && row.UpdatedAt.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *ReminderStore) MarkRead(_ context.Context, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[id]
	if !ok {
		return model.ErrNotFound
	}
	if !row.Read {
		row.Read = true
		row.ReadAt = &now
	}
	return nil
}

func (s *ReminderStore) MarkAllRead(_ context.Context, recipientID int64, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.rows {
		if row.RecipientID == recipientID && !row.Read {
			row.Read = true
			row.ReadAt = &now
			n++
		}
	}
	return n, nil
}

func (s *ReminderStore) ListFailed(_ context.Context, limit int) ([]*model.Reminder, error) {
	failed := s.filter(func(r *model.Reminder) bool { return r.Status == model.StatusFailed })
	sort.SliceStable(failed, func(i, j int) bool { return failed[i].UpdatedAt.After(failed[j].UpdatedAt) })
	if limit > 0 && len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

// Get returns a copy of one reminder.
func (s *ReminderStore) Get(id uuid.UUID) (*model.Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, false
	}
	cp := *row
	return &cp, true
}

// filter returns copies ordered by trigger time.
func (s *ReminderStore) filter(keep func(*model.Reminder) bool) []*model.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Reminder, 0)
	for _, row := range s.rows {
		if keep(row) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TriggerAt.Equal(out[j].TriggerAt) {
			return out[i].RecipientID < out[j].RecipientID
		}
		return out[i].TriggerAt.Before(out[j].TriggerAt)
	})
	return out
}
