// Package memory provides in-memory store implementations used in
// development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/trendfeed/pipeline/internal/trend"
)

// RepoStore is an in-memory trend.RepoStore.
type RepoStore struct {
	mu    sync.RWMutex
	repos map[int64]trend.Repo
}

// NewRepoStore creates an empty RepoStore.
func NewRepoStore() *RepoStore {
	return &RepoStore{repos: make(map[int64]trend.Repo)}
}

// Get returns the repo by id.
func (s *RepoStore) Get(_ context.Context, id int64) (trend.Repo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	repo, ok := s.repos[id]
	return repo, ok, nil
}

// Upsert inserts or replaces the repo row.
func (s *RepoStore) Upsert(_ context.Context, repo trend.Repo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repos[repo.ID] = repo
	return nil
}

// List returns all repos ordered by descending trend score. Used by the
// diagnostics API.
func (s *RepoStore) List(_ context.Context) ([]trend.Repo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]trend.Repo, 0, len(s.repos))
	for _, repo := range s.repos {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrendScore > out[j].TrendScore })
	return out, nil
}
