package memory

import (
	"context"
	"sync"
	"time"

	"homework-reminder/internal/model"
)

// PushSubscriptionStore keys subscriptions by endpoint.
type PushSubscriptionStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[string]*model.PushSubscription
}

func NewPushSubscriptionStore() *PushSubscriptionStore {
	return &PushSubscriptionStore{rows: make(map[string]*model.PushSubscription)}
}

func (s *PushSubscriptionStore) Save(_ context.Context, sub *model.PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.rows[sub.Endpoint]; ok {
		sub.ID = existing.ID
		sub.CreatedAt = existing.CreatedAt
	} else {
		s.nextID++
		sub.ID = s.nextID
		sub.CreatedAt = time.Now().UTC()
	}
	cp := *sub
	s.rows[sub.Endpoint] = &cp
	return nil
}

func (s *PushSubscriptionStore) ListByRecipient(_ context.Context, recipientID int64) ([]model.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.PushSubscription
	for _, row := range s.rows {
		if row.RecipientID == recipientID {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (s *PushSubscriptionStore) DeleteByEndpoint(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, endpoint)
	return nil
}
