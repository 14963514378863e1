package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trendfeed/pipeline/internal/trend"
)

// CandidateStore is an in-memory trend.CandidateStore with the same
// compare-and-set semantics as the Postgres implementation.
type CandidateStore struct {
	mu         sync.Mutex
	candidates map[int64]trend.Candidate
}

// NewCandidateStore creates an empty CandidateStore.
func NewCandidateStore() *CandidateStore {
	return &CandidateStore{candidates: make(map[int64]trend.Candidate)}
}

// CreateIfAbsent inserts the candidate unless one already exists.
func (s *CandidateStore) CreateIfAbsent(_ context.Context, cand trend.Candidate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[cand.RepoID]; exists {
		return false, nil
	}
	s.candidates[cand.RepoID] = cand
	return true, nil
}

// Upsert overwrites the candidate row.
func (s *CandidateStore) Upsert(_ context.Context, cand trend.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates[cand.RepoID] = cand
	return nil
}

// Get returns the candidate for the repo id.
func (s *CandidateStore) Get(_ context.Context, repoID int64) (trend.Candidate, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[repoID]
	return cand, ok, nil
}

// ListUndispatched returns up to limit undispatched candidates, oldest
// promotion first.
func (s *CandidateStore) ListUndispatched(_ context.Context, limit int) ([]trend.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []trend.Candidate
	for _, cand := range s.candidates {
		if !cand.Dispatched {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromotedAt.Before(out[j].PromotedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkDispatched claims the candidate only while it is undispatched.
func (s *CandidateStore) MarkDispatched(_ context.Context, repoID int64, jobHandle string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[repoID]
	if !ok || cand.Dispatched {
		return false, nil
	}
	cand.Dispatched = true
	cand.JobHandle = jobHandle
	cand.DispatchRequestedAt = &at
	cand.DispatchFailedAt = nil
	s.candidates[repoID] = cand
	return true, nil
}

// RecordDispatchFailure stamps the failure time, leaving the candidate
// claimable by a later run.
func (s *CandidateStore) RecordDispatchFailure(_ context.Context, repoID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[repoID]
	if !ok {
		return nil
	}
	cand.DispatchFailedAt = &at
	s.candidates[repoID] = cand
	return nil
}

// ListAwaitingNotification returns dispatched candidates that carry a
// job handle, have not been notified, and were promoted at or after the
// cutoff.
func (s *CandidateStore) ListAwaitingNotification(_ context.Context, promotedSince time.Time) ([]trend.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []trend.Candidate
	for _, cand := range s.candidates {
		if !cand.Dispatched || cand.JobHandle == "" {
			continue
		}
		if cand.NotificationSentAt != nil {
			continue
		}
		if cand.PromotedAt.Before(promotedSince) {
			continue
		}
		out = append(out, cand)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PromotedAt.Before(out[j].PromotedAt) })
	return out, nil
}

// AcquireNotificationLock writes a fresh lock timestamp only when the
// notification is unsent and any existing lock has expired.
func (s *CandidateStore) AcquireNotificationLock(_ context.Context, repoID int64, now time.Time, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[repoID]
	if !ok || cand.NotificationSentAt != nil {
		return false, nil
	}
	if cand.NotificationLockAt != nil && cand.NotificationLockAt.After(now.Add(-lease)) {
		return false, nil
	}
	cand.NotificationLockAt = &now
	s.candidates[repoID] = cand
	return true, nil
}

// ReleaseNotificationLock clears the lock so a later run can retry.
func (s *CandidateStore) ReleaseNotificationLock(_ context.Context, repoID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[repoID]
	if !ok {
		return nil
	}
	cand.NotificationLockAt = nil
	s.candidates[repoID] = cand
	return nil
}

// MarkNotified stamps the sent timestamp and clears the lock.
func (s *CandidateStore) MarkNotified(_ context.Context, repoID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cand, ok := s.candidates[repoID]
	if !ok {
		return nil
	}
	cand.NotificationSentAt = &at
	cand.NotificationSucceeded = true
	cand.NotificationLockAt = nil
	s.candidates[repoID] = cand
	return nil
}
