package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"homework-reminder/internal/model"
)

type NotificationStore struct {
	mu         sync.Mutex
	rows       map[uuid.UUID]*model.Notification
	byReminder map[uuid.UUID]uuid.UUID
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{
		rows:       make(map[uuid.UUID]*model.Notification),
		byReminder: make(map[uuid.UUID]uuid.UUID),
	}
}

// Insert stores n unless a notification for the same reminder already exists.
func (s *NotificationStore) Insert(_ context.Context, n *model.Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ReminderID != nil {
		if _, ok := s.byReminder[*n.ReminderID]; ok {
			return false, nil
		}
		s.byReminder[*n.ReminderID] = n.ID
	}
	cp := *n
	s.rows[n.ID] = &cp
	return true, nil
}

func (s *NotificationStore) FindByRecipient(_ context.Context, recipientID int64, limit int) ([]*model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Notification, 0)
	for _, row := range s.rows {
		if row.RecipientID == recipientID {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *NotificationStore) MarkRead(_ context.Context, id uuid.UUID, now time.Time) error {
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

func (s *NotificationStore) MarkAllRead(_ context.Context, recipientID int64, now time.Time) (int64, error) {
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

func (s *NotificationStore) CountUnread(_ context.Context, recipientID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, row := range s.rows {
		if row.RecipientID == recipientID && !row.Read {
			n++
		}
	}
	return n, nil
}
