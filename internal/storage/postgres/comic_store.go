package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trendfeed/pipeline/internal/trend"
)

// ComicStore persists finished generation results in Postgres.
type ComicStore struct {
	pool pool
}

// NewComicStore creates a Postgres-backed ComicStore.
func NewComicStore(ctx context.Context, cfg Config) (*ComicStore, error) {
	p, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ComicStore{pool: p}, nil
}

// NewComicStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewComicStoreWithPool(p pool) (*ComicStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ComicStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *ComicStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Insert stores the comic.
func (s *ComicStore) Insert(ctx context.Context, comic trend.Comic) error {
	if comic.ID == "" {
		return fmt.Errorf("comic id is required")
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO comics (
	id, job_handle, repo_name, repo_url, stars, language,
	panels, title, key_insights, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		comic.ID, comic.JobHandle, comic.RepoName, comic.RepoURL,
		comic.Stars, comic.Language, comic.Panels, comic.Title,
		comic.KeyInsights, comic.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert comic %s: %w", comic.ID, err)
	}
	return nil
}

// FindByJobHandle returns the comic produced for the given job handle.
func (s *ComicStore) FindByJobHandle(ctx context.Context, jobHandle string) (trend.Comic, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, job_handle, repo_name, repo_url, stars, language,
	panels, title, key_insights, created_at
FROM comics
WHERE job_handle = $1
ORDER BY created_at DESC
LIMIT 1`, jobHandle)

	var comic trend.Comic
	err := row.Scan(
		&comic.ID, &comic.JobHandle, &comic.RepoName, &comic.RepoURL,
		&comic.Stars, &comic.Language, &comic.Panels, &comic.Title,
		&comic.KeyInsights, &comic.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return trend.Comic{}, false, nil
	}
	if err != nil {
		return trend.Comic{}, false, fmt.Errorf("find comic by handle %s: %w", jobHandle, err)
	}
	return comic, true, nil
}
