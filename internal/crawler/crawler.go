// Package crawler discovers repositories through the search API and
// ingests their metadata, README artifacts, and trend evaluation.
package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/trend"
)

// Evaluator scores one repository in place and reports a promotion.
type Evaluator interface {
	Evaluate(ctx context.Context, repo *trend.Repo) (bool, error)
}

// Config captures the crawl search window and pacing.
type Config struct {
	MinStars      int
	LookbackYears int
	MaxPages      int
	PerPage       int
	RequestDelay  time.Duration
}

// Stats summarizes one crawl run.
type Stats struct {
	Pages     int
	Crawled   int
	Promoted  int
	Failures  []string
	StartedAt time.Time
	Duration  time.Duration
}

// Crawler runs the periodic discovery and ingest pass.
type Crawler struct {
	cfg       Config
	source    trend.MetadataSource
	repos     trend.RepoStore
	evaluator Evaluator
	blobs     trend.BlobStore
	clock     trend.Clock
	logger    *zap.Logger
}

// New creates a Crawler. The blob store is optional; without one,
// README artifacts are kept only on the repo row.
func New(
	cfg Config,
	source trend.MetadataSource,
	repos trend.RepoStore,
	evaluator Evaluator,
	blobs trend.BlobStore,
	clock trend.Clock,
	logger *zap.Logger,
) *Crawler {
	return &Crawler{
		cfg:       cfg,
		source:    source,
		repos:     repos,
		evaluator: evaluator,
		blobs:     blobs,
		clock:     clock,
		logger:    logger,
	}
}

// Run walks the search pages sequentially and ingests every result.
// Page-level errors and empty pages end pagination early; item-level
// failures are recorded and skipped so one bad repository cannot stall
// the crawl.
func (c *Crawler) Run(ctx context.Context) (Stats, error) {
	started := c.clock.Now()
	stats := Stats{StartedAt: started}

	query := trend.SearchQuery{
		MinStars:     c.cfg.MinStars,
		CreatedAfter: started.AddDate(-c.cfg.LookbackYears, 0, 0),
		PerPage:      c.cfg.PerPage,
	}

	for page := 1; page <= c.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		summaries, err := c.source.SearchRepositories(ctx, query, page)
		if err != nil {
			// A failed page ends pagination but does not void the run.
			c.logger.Warn("search page failed", zap.Int("page", page), zap.Error(err))
			stats.Failures = append(stats.Failures, fmt.Sprintf("page %d: %v", page, err))
			metrics.ObserveCrawlFailure("search")
			break
		}
		if len(summaries) == 0 {
			break
		}
		stats.Pages++

		for _, summary := range summaries {
			promoted, err := c.IngestOne(ctx, summary.FullName)
			if err != nil {
				if ctx.Err() != nil {
					stats.Duration = c.clock.Now().Sub(started)
					return stats, ctx.Err()
				}
				c.logger.Warn("ingest failed",
					zap.String("repo", summary.FullName),
					zap.Error(err),
				)
				stats.Failures = append(stats.Failures, fmt.Sprintf("%s: %v", summary.FullName, err))
				metrics.ObserveCrawlFailure("ingest")
				continue
			}
			stats.Crawled++
			if promoted {
				stats.Promoted++
			}

			if err := c.sleep(ctx); err != nil {
				stats.Duration = c.clock.Now().Sub(started)
				return stats, err
			}
		}
	}

	stats.Duration = c.clock.Now().Sub(started)
	c.logger.Info("crawl finished",
		zap.Int("pages", stats.Pages),
		zap.Int("crawled", stats.Crawled),
		zap.Int("promoted", stats.Promoted),
		zap.Int("failures", len(stats.Failures)),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// IngestOne fetches current metadata for one repository, merges it with
// stored crawl state, refreshes the README when it changed upstream,
// evaluates the trend score, and persists the result. It returns true
// when the evaluation promoted the repository to candidate.
func (c *Crawler) IngestOne(ctx context.Context, fullName string) (bool, error) {
	fetched, err := c.source.FetchRepository(ctx, fullName)
	if err != nil {
		return false, fmt.Errorf("fetch metadata: %w", err)
	}

	repo := fetched
	existing, found, err := c.repos.Get(ctx, fetched.ID)
	if err != nil {
		return false, fmt.Errorf("load stored state: %w", err)
	}
	if found {
		repo.ReadmeText = existing.ReadmeText
		repo.ReadmeSHA = existing.ReadmeSHA
		repo.ReadmeETag = existing.ReadmeETag
		repo.ReadmeBlobURI = existing.ReadmeBlobURI
		repo.PreviousStarCount = existing.PreviousStarCount
		repo.GrowthRate = existing.GrowthRate
		repo.TrendScore = existing.TrendScore
		repo.TrendStage = existing.TrendStage
		repo.LastCheckedAt = existing.LastCheckedAt
	} else {
		// First observation: no growth baseline yet.
		repo.PreviousStarCount = repo.StarCount
		repo.TrendStage = trend.StageNone
	}

	if err := c.refreshReadme(ctx, &repo); err != nil {
		return false, err
	}

	promoted, err := c.evaluator.Evaluate(ctx, &repo)
	if err != nil {
		return false, fmt.Errorf("evaluate: %w", err)
	}

	repo.LastCrawledAt = c.clock.Now()
	if err := c.repos.Upsert(ctx, repo); err != nil {
		return false, fmt.Errorf("persist: %w", err)
	}

	metrics.ObserveRepoCrawled()
	return promoted, nil
}

// refreshReadme performs the conditional fetch and, on fresh content,
// archives a copy to the blob store. Archive failures are logged but do
// not fail the ingest.
func (c *Crawler) refreshReadme(ctx context.Context, repo *trend.Repo) error {
	result, err := c.source.FetchReadme(ctx, repo.FullName, repo.ReadmeETag)
	if err != nil {
		return fmt.Errorf("fetch readme: %w", err)
	}
	if !result.Fresh {
		return nil
	}

	repo.ReadmeText = result.Text
	repo.ReadmeSHA = result.SHA
	repo.ReadmeETag = result.ETag

	if c.blobs == nil || result.Text == "" {
		return nil
	}
	path := fmt.Sprintf("readmes/%s.md", repo.FullName)
	uri, err := c.blobs.PutObject(ctx, path, "text/markdown", []byte(result.Text))
	if err != nil {
		c.logger.Warn("readme archive failed",
			zap.String("repo", repo.FullName),
			zap.Error(err),
		)
		return nil
	}
	repo.ReadmeBlobURI = uri
	return nil
}

func (c *Crawler) sleep(ctx context.Context) error {
	if c.cfg.RequestDelay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.RequestDelay):
		return nil
	}
}
