package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trendfeed/pipeline/internal/trend"
)

// SubscriberStore persists newsletter subscriptions in Postgres.
type SubscriberStore struct {
	pool pool
}

// NewSubscriberStore creates a Postgres-backed SubscriberStore.
func NewSubscriberStore(ctx context.Context, cfg Config) (*SubscriberStore, error) {
	p, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SubscriberStore{pool: p}, nil
}

// NewSubscriberStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewSubscriberStoreWithPool(p pool) (*SubscriberStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &SubscriberStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *SubscriberStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts or refreshes the subscription for the email. A
// re-subscription of a pending address rotates the token; a confirmed
// subscription is left untouched except for the token refresh.
func (s *SubscriberStore) Upsert(ctx context.Context, sub trend.Subscriber) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO subscribers (email, token, status, created_at, confirmed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (email) DO UPDATE SET
	token = EXCLUDED.token,
	status = EXCLUDED.status,
	confirmed_at = EXCLUDED.confirmed_at`,
		sub.Email, sub.Token, sub.Status, sub.CreatedAt, sub.ConfirmedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert subscriber %s: %w", sub.Email, err)
	}
	return nil
}

// FindByToken returns the subscription carrying the confirmation token.
func (s *SubscriberStore) FindByToken(ctx context.Context, token string) (trend.Subscriber, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT email, token, status, created_at, confirmed_at
FROM subscribers
WHERE token = $1`, token)

	var sub trend.Subscriber
	err := row.Scan(&sub.Email, &sub.Token, &sub.Status, &sub.CreatedAt, &sub.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return trend.Subscriber{}, false, nil
	}
	if err != nil {
		return trend.Subscriber{}, false, fmt.Errorf("find subscriber by token: %w", err)
	}
	return sub, true, nil
}

// Confirm marks the subscription confirmed.
func (s *SubscriberStore) Confirm(ctx context.Context, email string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE subscribers
SET status = $2, confirmed_at = $3
WHERE email = $1`,
		email, trend.SubscriberConfirmed, at,
	)
	if err != nil {
		return fmt.Errorf("confirm subscriber %s: %w", email, err)
	}
	return nil
}

// ListConfirmed returns confirmed subscriptions ordered by email.
func (s *SubscriberStore) ListConfirmed(ctx context.Context) ([]trend.Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
SELECT email, token, status, created_at, confirmed_at
FROM subscribers
WHERE status = $1
ORDER BY email ASC`, trend.SubscriberConfirmed)
	if err != nil {
		return nil, fmt.Errorf("list confirmed subscribers: %w", err)
	}
	defer rows.Close()

	var out []trend.Subscriber
	for rows.Next() {
		var sub trend.Subscriber
		if err := rows.Scan(&sub.Email, &sub.Token, &sub.Status, &sub.CreatedAt, &sub.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read subscribers: %w", err)
	}
	return out, nil
}
