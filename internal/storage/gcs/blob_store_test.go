package gcs_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	storage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/trendfeed/pipeline/internal/storage/gcs"
)

func newTestStore(t *testing.T, handler http.Handler, cfg gcs.Config) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestNewRequiresClientAndBucket(t *testing.T) {
	t.Parallel()

	_, err := gcs.New(nil, gcs.Config{Bucket: "artifacts"})
	require.Error(t, err)

	client := &storage.Client{}
	_, err = gcs.New(client, gcs.Config{})
	require.Error(t, err)
}

func TestPutObjectUploadsAndReturnsURI(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/artifacts/o")
		assert.Equal(t, "readmes/acme/widgets.md", r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "# Widgets")

		fmt.Fprintln(w, `{ "name": "readmes/acme/widgets.md" }`)
	})

	store := newTestStore(t, handler, gcs.Config{Bucket: "artifacts"})

	uri, err := store.PutObject(context.Background(), "readmes/acme/widgets.md", "text/markdown", []byte("# Widgets"))
	require.NoError(t, err)
	assert.Equal(t, "gs://artifacts/readmes/acme/widgets.md", uri)
}

func TestPutObjectAppliesPrefix(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "trendfeed/readmes/acme/widgets.md", r.URL.Query().Get("name"))
		fmt.Fprintln(w, `{ "name": "trendfeed/readmes/acme/widgets.md" }`)
	})

	store := newTestStore(t, handler, gcs.Config{Bucket: "artifacts", Prefix: "trendfeed/"})

	uri, err := store.PutObject(context.Background(), "readmes/acme/widgets.md", "text/markdown", []byte("# Widgets"))
	require.NoError(t, err)
	assert.Equal(t, "gs://artifacts/trendfeed/readmes/acme/widgets.md", uri)
}

func TestPutObjectRequiresPath(t *testing.T) {
	store := newTestStore(t, http.NotFoundHandler(), gcs.Config{Bucket: "artifacts"})

	_, err := store.PutObject(context.Background(), "  ", "text/markdown", []byte("x"))
	require.Error(t, err)
}
