package github

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trendfeed/pipeline/internal/trend"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		Token:   "test-token",
		BaseURL: srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestSearchRepositoriesBuildsQuery(t *testing.T) {
	t.Parallel()

	var gotQuery, gotAuth, gotAccept string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("per_page"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "stars", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[
			{"id":101,"full_name":"acme/widgets"},
			{"id":102,"full_name":""},
			{"id":103,"full_name":"acme/gears"}
		]}`))
	})

	query := trend.SearchQuery{
		MinStars:     500,
		CreatedAfter: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PerPage:      25,
	}
	got, err := client.SearchRepositories(context.Background(), query, 2)
	require.NoError(t, err)

	assert.Equal(t, "stars:>=500 created:>=2024-03-01", gotQuery)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/vnd.github+json", gotAccept)

	// The unnamed item is filtered out.
	require.Len(t, got, 2)
	assert.Equal(t, trend.RepoSummary{ID: 101, FullName: "acme/widgets"}, got[0])
	assert.Equal(t, trend.RepoSummary{ID: 103, FullName: "acme/gears"}, got[1])
}

func TestFetchRepository(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": 42,
			"name": "widgets",
			"full_name": "acme/widgets",
			"html_url": "https://github.com/acme/widgets",
			"description": "widget factory",
			"language": "Go",
			"stargazers_count": 1234,
			"created_at": "2024-01-15T10:00:00Z",
			"pushed_at": "2025-06-01T08:30:00Z",
			"updated_at": "2025-06-02T09:00:00Z",
			"owner": {"login": "acme"}
		}`))
	})

	repo, err := client.FetchRepository(context.Background(), "acme/widgets")
	require.NoError(t, err)

	assert.Equal(t, int64(42), repo.ID)
	assert.Equal(t, "acme/widgets", repo.FullName)
	assert.Equal(t, "widgets", repo.Name)
	assert.Equal(t, "acme", repo.OwnerLogin)
	assert.Equal(t, "Go", repo.Language)
	assert.Equal(t, 1234, repo.StarCount)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), repo.CreatedAt)
}

func TestFetchRepositoryNotFound(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchRepository(context.Background(), "acme/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFetchRepositoryRejectsBadFullName(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	_, err := client.FetchRepository(context.Background(), "no-slash")
	require.Error(t, err)

	_, err = client.FetchRepository(context.Background(), "acme/")
	require.Error(t, err)
}

func TestFetchReadmeFresh(t *testing.T) {
	t.Parallel()

	content := base64.StdEncoding.EncodeToString([]byte("# Widgets\n\nA widget factory.\n"))
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widgets/readme", r.URL.Path)
		assert.Empty(t, r.Header.Get("If-None-Match"))

		w.Header().Set("ETag", `"etag-v1"`)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":"` + content + `","encoding":"base64","sha":"abc123"}`))
	})

	got, err := client.FetchReadme(context.Background(), "acme/widgets", "")
	require.NoError(t, err)

	assert.True(t, got.Fresh)
	assert.Equal(t, "# Widgets\n\nA widget factory.\n", got.Text)
	assert.Equal(t, "abc123", got.SHA)
	assert.Equal(t, `"etag-v1"`, got.ETag)
}

func TestFetchReadmeNotModified(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `"etag-v1"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	})

	got, err := client.FetchReadme(context.Background(), "acme/widgets", `"etag-v1"`)
	require.NoError(t, err)
	assert.False(t, got.Fresh)
	assert.Empty(t, got.Text)
}

func TestFetchReadmeMissing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	got, err := client.FetchReadme(context.Background(), "acme/widgets", "")
	require.NoError(t, err)
	assert.False(t, got.Fresh)
}

func TestFetchReadmeServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})

	_, err := client.FetchReadme(context.Background(), "acme/widgets", "")
	require.Error(t, err)
}
