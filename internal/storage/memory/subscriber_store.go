package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trendfeed/pipeline/internal/trend"
)

// SubscriberStore is an in-memory trend.SubscriberStore keyed by email.
type SubscriberStore struct {
	mu   sync.RWMutex
	subs map[string]trend.Subscriber
}

// NewSubscriberStore creates an empty SubscriberStore.
func NewSubscriberStore() *SubscriberStore {
	return &SubscriberStore{subs: make(map[string]trend.Subscriber)}
}

// Upsert inserts or replaces the subscription for the email.
func (s *SubscriberStore) Upsert(_ context.Context, sub trend.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subs[sub.Email] = sub
	return nil
}

// FindByToken returns the subscription carrying the confirmation token.
func (s *SubscriberStore) FindByToken(_ context.Context, token string) (trend.Subscriber, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.Token == token {
			return sub, true, nil
		}
	}
	return trend.Subscriber{}, false, nil
}

// Confirm marks the subscription confirmed.
func (s *SubscriberStore) Confirm(_ context.Context, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[email]
	if !ok {
		return nil
	}
	sub.Status = trend.SubscriberConfirmed
	sub.ConfirmedAt = &at
	s.subs[email] = sub
	return nil
}

// ListConfirmed returns confirmed subscriptions ordered by email.
func (s *SubscriberStore) ListConfirmed(_ context.Context) ([]trend.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []trend.Subscriber
	for _, sub := range s.subs {
		if sub.Status == trend.SubscriberConfirmed {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}
