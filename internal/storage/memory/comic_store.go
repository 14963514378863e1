package memory

import (
	"context"
	"sync"

	"github.com/trendfeed/pipeline/internal/trend"
)

// ComicStore is an in-memory trend.ComicStore.
type ComicStore struct {
	mu     sync.RWMutex
	comics map[string]trend.Comic
}

// NewComicStore creates an empty ComicStore.
func NewComicStore() *ComicStore {
	return &ComicStore{comics: make(map[string]trend.Comic)}
}

// Insert stores the comic keyed by id.
func (s *ComicStore) Insert(_ context.Context, comic trend.Comic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.comics[comic.ID] = comic
	return nil
}

// FindByJobHandle returns the comic produced for the given job handle.
func (s *ComicStore) FindByJobHandle(_ context.Context, jobHandle string) (trend.Comic, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, comic := range s.comics {
		if comic.JobHandle == jobHandle {
			return comic, true, nil
		}
	}
	return trend.Comic{}, false, nil
}
