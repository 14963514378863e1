package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trendfeed/pipeline/internal/trend"
)

// CandidateStore persists dispatch candidates in Postgres. The
// conditional writes rely on single-statement UPDATE ... WHERE guards,
// so concurrent pipeline runs race safely at the database.
type CandidateStore struct {
	pool pool
}

// NewCandidateStore creates a Postgres-backed CandidateStore.
func NewCandidateStore(ctx context.Context, cfg Config) (*CandidateStore, error) {
	p, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &CandidateStore{pool: p}, nil
}

// NewCandidateStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewCandidateStoreWithPool(p pool) (*CandidateStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CandidateStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *CandidateStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const candidateColumns = `
	repo_id, full_name, promoted_at, forced,
	dispatched, job_handle, dispatch_requested_at, dispatch_failed_at,
	notification_sent_at, notification_succeeded, notification_lock_at`

// CreateIfAbsent inserts the candidate unless one already exists.
func (s *CandidateStore) CreateIfAbsent(ctx context.Context, cand trend.Candidate) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO candidates (repo_id, full_name, promoted_at, forced)
VALUES ($1, $2, $3, $4)
ON CONFLICT (repo_id) DO NOTHING`,
		cand.RepoID, cand.FullName, cand.PromotedAt, cand.Forced,
	)
	if err != nil {
		return false, fmt.Errorf("create candidate %s: %w", cand.FullName, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert overwrites the candidate row.
func (s *CandidateStore) Upsert(ctx context.Context, cand trend.Candidate) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO candidates (
	repo_id, full_name, promoted_at, forced,
	dispatched, job_handle, dispatch_requested_at, dispatch_failed_at,
	notification_sent_at, notification_succeeded, notification_lock_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (repo_id) DO UPDATE SET
	full_name = EXCLUDED.full_name,
	promoted_at = EXCLUDED.promoted_at,
	forced = EXCLUDED.forced,
	dispatched = EXCLUDED.dispatched,
	job_handle = EXCLUDED.job_handle,
	dispatch_requested_at = EXCLUDED.dispatch_requested_at,
	dispatch_failed_at = EXCLUDED.dispatch_failed_at,
	notification_sent_at = EXCLUDED.notification_sent_at,
	notification_succeeded = EXCLUDED.notification_succeeded,
	notification_lock_at = EXCLUDED.notification_lock_at`,
		cand.RepoID, cand.FullName, cand.PromotedAt, cand.Forced,
		cand.Dispatched, cand.JobHandle, cand.DispatchRequestedAt, cand.DispatchFailedAt,
		cand.NotificationSentAt, cand.NotificationSucceeded, cand.NotificationLockAt,
	)
	if err != nil {
		return fmt.Errorf("upsert candidate %s: %w", cand.FullName, err)
	}
	return nil
}

// Get returns the candidate for the repo id.
func (s *CandidateStore) Get(ctx context.Context, repoID int64) (trend.Candidate, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+candidateColumns+` FROM candidates WHERE repo_id = $1`, repoID)
	cand, err := scanCandidate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return trend.Candidate{}, false, nil
	}
	if err != nil {
		return trend.Candidate{}, false, fmt.Errorf("get candidate %d: %w", repoID, err)
	}
	return cand, true, nil
}

// ListUndispatched returns up to limit undispatched candidates, oldest
// promotion first.
func (s *CandidateStore) ListUndispatched(ctx context.Context, limit int) ([]trend.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+candidateColumns+`
FROM candidates
WHERE dispatched = FALSE
ORDER BY promoted_at ASC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list undispatched candidates: %w", err)
	}
	defer rows.Close()
	return collectCandidates(rows)
}

// MarkDispatched claims the candidate only while it is undispatched.
func (s *CandidateStore) MarkDispatched(ctx context.Context, repoID int64, jobHandle string, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE candidates
SET dispatched = TRUE,
	job_handle = $2,
	dispatch_requested_at = $3,
	dispatch_failed_at = NULL
WHERE repo_id = $1 AND dispatched = FALSE`,
		repoID, jobHandle, at,
	)
	if err != nil {
		return false, fmt.Errorf("mark candidate %d dispatched: %w", repoID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordDispatchFailure stamps the failure time, leaving the candidate
// claimable by a later run.
func (s *CandidateStore) RecordDispatchFailure(ctx context.Context, repoID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE candidates SET dispatch_failed_at = $2 WHERE repo_id = $1`,
		repoID, at,
	)
	if err != nil {
		return fmt.Errorf("record dispatch failure %d: %w", repoID, err)
	}
	return nil
}

// ListAwaitingNotification returns dispatched candidates with a job
// handle, no notification sent, promoted at or after the cutoff.
func (s *CandidateStore) ListAwaitingNotification(ctx context.Context, promotedSince time.Time) ([]trend.Candidate, error) {
	rows, err := s.pool.Query(ctx, `
SELECT`+candidateColumns+`
FROM candidates
WHERE dispatched = TRUE
	AND job_handle <> ''
	AND notification_sent_at IS NULL
	AND promoted_at >= $1
ORDER BY promoted_at ASC`, promotedSince)
	if err != nil {
		return nil, fmt.Errorf("list candidates awaiting notification: %w", err)
	}
	defer rows.Close()
	return collectCandidates(rows)
}

// AcquireNotificationLock writes a fresh lock timestamp only when the
// notification is unsent and any existing lock has expired.
func (s *CandidateStore) AcquireNotificationLock(ctx context.Context, repoID int64, now time.Time, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE candidates
SET notification_lock_at = $2
WHERE repo_id = $1
	AND notification_sent_at IS NULL
	AND (notification_lock_at IS NULL OR notification_lock_at <= $3)`,
		repoID, now, now.Add(-lease),
	)
	if err != nil {
		return false, fmt.Errorf("acquire notification lock %d: %w", repoID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseNotificationLock clears the lock so a later run can retry.
func (s *CandidateStore) ReleaseNotificationLock(ctx context.Context, repoID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE candidates SET notification_lock_at = NULL WHERE repo_id = $1`,
		repoID,
	)
	if err != nil {
		return fmt.Errorf("release notification lock %d: %w", repoID, err)
	}
	return nil
}

// MarkNotified stamps the sent timestamp and clears the lock.
func (s *CandidateStore) MarkNotified(ctx context.Context, repoID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
UPDATE candidates
SET notification_sent_at = $2,
	notification_succeeded = TRUE,
	notification_lock_at = NULL
WHERE repo_id = $1`,
		repoID, at,
	)
	if err != nil {
		return fmt.Errorf("mark candidate %d notified: %w", repoID, err)
	}
	return nil
}

func collectCandidates(rows pgx.Rows) ([]trend.Candidate, error) {
	var out []trend.Candidate
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	return out, nil
}

func scanCandidate(row pgx.Row) (trend.Candidate, error) {
	var cand trend.Candidate
	err := row.Scan(
		&cand.RepoID, &cand.FullName, &cand.PromotedAt, &cand.Forced,
		&cand.Dispatched, &cand.JobHandle, &cand.DispatchRequestedAt, &cand.DispatchFailedAt,
		&cand.NotificationSentAt, &cand.NotificationSucceeded, &cand.NotificationLockAt,
	)
	return cand, err
}
