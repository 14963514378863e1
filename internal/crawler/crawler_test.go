package crawler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trendfeed/pipeline/internal/clock/system"
	"github.com/trendfeed/pipeline/internal/metrics"
	"github.com/trendfeed/pipeline/internal/storage/memory"
	"github.com/trendfeed/pipeline/internal/trend"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeSource struct {
	pages   [][]trend.RepoSummary
	repos   map[string]trend.Repo
	readmes map[string]trend.ReadmeResult

	searchErr    error
	searchErrOn  int
	fetchErrFor  string
	readmeErrFor string

	searchCalls int
	readmeETags map[string]string
}

func (f *fakeSource) SearchRepositories(_ context.Context, _ trend.SearchQuery, page int) ([]trend.RepoSummary, error) {
	f.searchCalls++
	if f.searchErr != nil && page == f.searchErrOn {
		return nil, f.searchErr
	}
	if page > len(f.pages) {
		return nil, nil
	}
	return f.pages[page-1], nil
}

func (f *fakeSource) FetchRepository(_ context.Context, fullName string) (trend.Repo, error) {
	if fullName == f.fetchErrFor {
		return trend.Repo{}, errors.New("metadata unavailable")
	}
	repo, ok := f.repos[fullName]
	if !ok {
		return trend.Repo{}, fmt.Errorf("unknown repo %s", fullName)
	}
	return repo, nil
}

func (f *fakeSource) FetchReadme(_ context.Context, fullName, etag string) (trend.ReadmeResult, error) {
	if fullName == f.readmeErrFor {
		return trend.ReadmeResult{}, errors.New("readme unavailable")
	}
	if f.readmeETags == nil {
		f.readmeETags = make(map[string]string)
	}
	f.readmeETags[fullName] = etag
	result, ok := f.readmes[fullName]
	if !ok {
		return trend.ReadmeResult{}, nil
	}
	if etag != "" && etag == result.ETag {
		return trend.ReadmeResult{}, nil
	}
	return result, nil
}

type stubEvaluator struct {
	promote map[string]bool
	failFor string
	calls   int
}

func (s *stubEvaluator) Evaluate(_ context.Context, repo *trend.Repo) (bool, error) {
	s.calls++
	if repo.FullName == s.failFor {
		return false, errors.New("evaluation failed")
	}
	repo.LastCheckedAt = time.Now().UTC()
	return s.promote[repo.FullName], nil
}

func newTestCrawler(source *fakeSource, eval Evaluator, repos trend.RepoStore, blobs trend.BlobStore) *Crawler {
	return New(
		Config{MinStars: 500, LookbackYears: 2, MaxPages: 3, PerPage: 50},
		source, repos, eval, blobs, system.New(), zap.NewNop(),
	)
}

func TestRunCrawlsAllPages(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: [][]trend.RepoSummary{
			{{ID: 1, FullName: "acme/widgets"}, {ID: 2, FullName: "acme/gears"}},
			{{ID: 3, FullName: "acme/cogs"}},
		},
		repos: map[string]trend.Repo{
			"acme/widgets": {ID: 1, FullName: "acme/widgets", StarCount: 1000},
			"acme/gears":   {ID: 2, FullName: "acme/gears", StarCount: 800},
			"acme/cogs":    {ID: 3, FullName: "acme/cogs", StarCount: 600},
		},
	}
	eval := &stubEvaluator{promote: map[string]bool{"acme/cogs": true}}
	repos := memory.NewRepoStore()

	crawler := newTestCrawler(source, eval, repos, nil)
	stats, err := crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Pages)
	assert.Equal(t, 3, stats.Crawled)
	assert.Equal(t, 1, stats.Promoted)
	assert.Empty(t, stats.Failures)
	assert.Equal(t, 3, eval.calls)

	// Empty third page ends pagination.
	assert.Equal(t, 3, source.searchCalls)

	_, found, err := repos.Get(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRunIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: [][]trend.RepoSummary{
			{{ID: 1, FullName: "acme/widgets"}, {ID: 2, FullName: "acme/broken"}, {ID: 3, FullName: "acme/cogs"}},
		},
		repos: map[string]trend.Repo{
			"acme/widgets": {ID: 1, FullName: "acme/widgets", StarCount: 1000},
			"acme/cogs":    {ID: 3, FullName: "acme/cogs", StarCount: 600},
		},
		fetchErrFor: "acme/broken",
	}
	eval := &stubEvaluator{}

	crawler := newTestCrawler(source, eval, memory.NewRepoStore(), nil)
	stats, err := crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Crawled)
	require.Len(t, stats.Failures, 1)
	assert.Contains(t, stats.Failures[0], "acme/broken")
}

func TestRunStopsPaginationOnSearchError(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: [][]trend.RepoSummary{
			{{ID: 1, FullName: "acme/widgets"}},
			{{ID: 2, FullName: "acme/gears"}},
		},
		repos: map[string]trend.Repo{
			"acme/widgets": {ID: 1, FullName: "acme/widgets", StarCount: 1000},
		},
		searchErr:   errors.New("rate limited"),
		searchErrOn: 2,
	}
	eval := &stubEvaluator{}

	crawler := newTestCrawler(source, eval, memory.NewRepoStore(), nil)
	stats, err := crawler.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Pages)
	assert.Equal(t, 1, stats.Crawled)
	require.Len(t, stats.Failures, 1)
	assert.Contains(t, stats.Failures[0], "page 2")
}

func TestRunHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	crawler := newTestCrawler(&fakeSource{}, &stubEvaluator{}, memory.NewRepoStore(), nil)
	_, err := crawler.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIngestOneFirstObservation(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		repos: map[string]trend.Repo{
			"acme/widgets": {ID: 1, FullName: "acme/widgets", StarCount: 1000},
		},
		readmes: map[string]trend.ReadmeResult{
			"acme/widgets": {Fresh: true, Text: "# Widgets", SHA: "sha1", ETag: `"v1"`},
		},
	}
	eval := &stubEvaluator{}
	repos := memory.NewRepoStore()
	blobs := memory.NewBlobStore()

	crawler := newTestCrawler(source, eval, repos, blobs)
	promoted, err := crawler.IngestOne(context.Background(), "acme/widgets")
	require.NoError(t, err)
	assert.False(t, promoted)

	stored, found, err := repos.Get(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)

	// First observation establishes the growth baseline.
	assert.Equal(t, 1000, stored.PreviousStarCount)
	assert.Equal(t, trend.StageNone, stored.TrendStage)
	assert.Equal(t, "# Widgets", stored.ReadmeText)
	assert.Equal(t, `"v1"`, stored.ReadmeETag)
	assert.Equal(t, "mem://readmes/acme/widgets.md", stored.ReadmeBlobURI)
	assert.False(t, stored.LastCrawledAt.IsZero())

	archived, ok := blobs.GetObject("readmes/acme/widgets.md")
	require.True(t, ok)
	assert.Equal(t, "# Widgets", string(archived))
}

func TestIngestOneMergesStoredState(t *testing.T) {
	t.Parallel()

	repos := memory.NewRepoStore()
	checked := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, repos.Upsert(context.Background(), trend.Repo{
		ID: 1, FullName: "acme/widgets", StarCount: 800,
		PreviousStarCount: 800,
		TrendStage:        trend.StageFirstPass,
		TrendScore:        65,
		ReadmeText:        "# Widgets", ReadmeSHA: "sha1", ReadmeETag: `"v1"`,
		LastCheckedAt: checked,
	}))

	source := &fakeSource{
		repos: map[string]trend.Repo{
			"acme/widgets": {ID: 1, FullName: "acme/widgets", StarCount: 1000},
		},
		readmes: map[string]trend.ReadmeResult{
			// Same ETag upstream: conditional fetch reports unchanged.
			"acme/widgets": {Fresh: true, Text: "new", SHA: "sha2", ETag: `"v1"`},
		},
	}
	eval := &stubEvaluator{}

	crawler := newTestCrawler(source, eval, repos, nil)
	_, err := crawler.IngestOne(context.Background(), "acme/widgets")
	require.NoError(t, err)

	// Cached ETag was sent with the conditional fetch.
	assert.Equal(t, `"v1"`, source.readmeETags["acme/widgets"])

	stored, _, err := repos.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1000, stored.StarCount)
	assert.Equal(t, "# Widgets", stored.ReadmeText)
	assert.Equal(t, trend.StageFirstPass, stored.TrendStage)
}

func TestIngestOneUnknownRepo(t *testing.T) {
	t.Parallel()

	crawler := newTestCrawler(&fakeSource{repos: map[string]trend.Repo{}}, &stubEvaluator{}, memory.NewRepoStore(), nil)
	_, err := crawler.IngestOne(context.Background(), "acme/missing")
	require.Error(t, err)
}

func TestIngestOneReadmeErrorFailsItem(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		repos: map[string]trend.Repo{
			"acme/widgets": {ID: 1, FullName: "acme/widgets", StarCount: 1000},
		},
		readmeErrFor: "acme/widgets",
	}

	crawler := newTestCrawler(source, &stubEvaluator{}, memory.NewRepoStore(), nil)
	_, err := crawler.IngestOne(context.Background(), "acme/widgets")
	require.Error(t, err)
}
