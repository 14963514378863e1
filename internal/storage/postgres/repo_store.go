package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/trendfeed/pipeline/internal/trend"
)

// RepoStore persists repository crawl state in Postgres.
type RepoStore struct {
	pool pool
}

// NewRepoStore creates a Postgres-backed RepoStore.
func NewRepoStore(ctx context.Context, cfg Config) (*RepoStore, error) {
	p, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &RepoStore{pool: p}, nil
}

// NewRepoStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewRepoStoreWithPool(p pool) (*RepoStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RepoStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RepoStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const repoColumns = `
	id, full_name, name, owner_login, html_url, description, language,
	star_count, created_at, pushed_at, updated_at,
	readme_text, readme_sha, readme_etag, readme_blob_uri,
	previous_star_count, growth_rate, trend_score, trend_stage,
	last_checked_at, last_crawled_at`

// Get returns the repo row by id.
func (s *RepoStore) Get(ctx context.Context, id int64) (trend.Repo, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+repoColumns+` FROM repos WHERE id = $1`, id)
	repo, err := scanRepo(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return trend.Repo{}, false, nil
	}
	if err != nil {
		return trend.Repo{}, false, fmt.Errorf("get repo %d: %w", id, err)
	}
	return repo, true, nil
}

// Upsert inserts or replaces the repo row.
func (s *RepoStore) Upsert(ctx context.Context, repo trend.Repo) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO repos (
	id, full_name, name, owner_login, html_url, description, language,
	star_count, created_at, pushed_at, updated_at,
	readme_text, readme_sha, readme_etag, readme_blob_uri,
	previous_star_count, growth_rate, trend_score, trend_stage,
	last_checked_at, last_crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)
ON CONFLICT (id) DO UPDATE SET
	full_name = EXCLUDED.full_name,
	name = EXCLUDED.name,
	owner_login = EXCLUDED.owner_login,
	html_url = EXCLUDED.html_url,
	description = EXCLUDED.description,
	language = EXCLUDED.language,
	star_count = EXCLUDED.star_count,
	created_at = EXCLUDED.created_at,
	pushed_at = EXCLUDED.pushed_at,
	updated_at = EXCLUDED.updated_at,
	readme_text = EXCLUDED.readme_text,
	readme_sha = EXCLUDED.readme_sha,
	readme_etag = EXCLUDED.readme_etag,
	readme_blob_uri = EXCLUDED.readme_blob_uri,
	previous_star_count = EXCLUDED.previous_star_count,
	growth_rate = EXCLUDED.growth_rate,
	trend_score = EXCLUDED.trend_score,
	trend_stage = EXCLUDED.trend_stage,
	last_checked_at = EXCLUDED.last_checked_at,
	last_crawled_at = EXCLUDED.last_crawled_at`,
		repo.ID, repo.FullName, repo.Name, repo.OwnerLogin, repo.HTMLURL,
		repo.Description, repo.Language, repo.StarCount, repo.CreatedAt,
		repo.PushedAt, repo.UpdatedAt,
		repo.ReadmeText, repo.ReadmeSHA, repo.ReadmeETag, repo.ReadmeBlobURI,
		repo.PreviousStarCount, repo.GrowthRate, repo.TrendScore, repo.TrendStage,
		repo.LastCheckedAt, repo.LastCrawledAt,
	)
	if err != nil {
		return fmt.Errorf("upsert repo %s: %w", repo.FullName, err)
	}
	return nil
}

// List returns all repos ordered by descending trend score.
func (s *RepoStore) List(ctx context.Context) ([]trend.Repo, error) {
	rows, err := s.pool.Query(ctx, `SELECT`+repoColumns+` FROM repos ORDER BY trend_score DESC`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	defer rows.Close()

	var out []trend.Repo
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repo: %w", err)
		}
		out = append(out, repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list repos: %w", err)
	}
	return out, nil
}

func scanRepo(row pgx.Row) (trend.Repo, error) {
	var repo trend.Repo
	err := row.Scan(
		&repo.ID, &repo.FullName, &repo.Name, &repo.OwnerLogin, &repo.HTMLURL,
		&repo.Description, &repo.Language, &repo.StarCount, &repo.CreatedAt,
		&repo.PushedAt, &repo.UpdatedAt,
		&repo.ReadmeText, &repo.ReadmeSHA, &repo.ReadmeETag, &repo.ReadmeBlobURI,
		&repo.PreviousStarCount, &repo.GrowthRate, &repo.TrendScore, &repo.TrendStage,
		&repo.LastCheckedAt, &repo.LastCrawledAt,
	)
	return repo, err
}
