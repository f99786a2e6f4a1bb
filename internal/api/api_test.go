package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/migrations"
	"github.com/jdholdren/eddy/internal/sqlite"
)

func newTestServer(t *testing.T) (*Server, sqlite.Repo, *bronze.Store) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "eddy_test.db")
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", path))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })
	require.NoError(t, migrations.Run(dbx))

	repo := sqlite.New(dbx)
	store := bronze.NewStore(t.TempDir())
	return NewServer(ServerConfig{Port: 0, CorsHeader: "*"}, repo, store), repo, store
}

func seedDiscussion(t *testing.T, repo sqlite.Repo, externalID, rawURL string) eddy.Discussion {
	t.Helper()

	title := "Kelvin wakes"
	_, err := repo.UpsertDiscussion(context.Background(), eddy.DiscussionUpsert{
		SourceType: "hackernews",
		ExternalID: externalID,
		Title:      &title,
		URL:        &rawURL,
	})
	require.NoError(t, err)

	d, err := repo.DiscussionByKey(context.Background(), "hackernews", externalID)
	require.NoError(t, err)
	return d
}

func TestGetDiscussions(t *testing.T) {
	srvr, repo, _ := newTestServer(t)
	seedDiscussion(t, repo, "1", "https://example.com/one")
	seedDiscussion(t, repo, "2", "https://example.com/two")

	req := httptest.NewRequest(http.MethodGet, "/api/discussions?limit=1", nil)
	rec := httptest.NewRecorder()
	srvr.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp DiscussionListResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Discussions, 1)
	assert.Equal(t, 2, resp.Pagination.Total)
	assert.Equal(t, 1, resp.Pagination.Limit)
}

func TestGetContent(t *testing.T) {
	srvr, repo, _ := newTestServer(t)
	d := seedDiscussion(t, repo, "10", "https://example.com/wake?utm_source=x")
	require.NotNil(t, d.ContentID)

	req := httptest.NewRequest(http.MethodGet, "/api/content/"+*d.ContentID, nil)
	rec := httptest.NewRecorder()
	srvr.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ContentResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://example.com/wake", resp.CanonicalURL)
	require.Len(t, resp.Discussions, 1)
	assert.Equal(t, "10", resp.Discussions[0].ExternalID)
}

func TestGetContent_NotFound(t *testing.T) {
	srvr, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/content/nope-ctnt", nil)
	rec := httptest.NewRecorder()
	srvr.Server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetReader(t *testing.T) {
	srvr, repo, store := newTestServer(t)
	d := seedDiscussion(t, repo, "20", "https://example.com/article")
	require.NotNil(t, d.ContentID)

	page := `<html><head><title>Wakes</title></head><body><article>
		<h1>Wakes</h1>
		<p>A ship's wake opens at nineteen and a half degrees no matter how
		fast the ship is going, a result Kelvin found surprising enough to
		publish twice.</p>
		<script>alert("nope")</script>
		</article></body></html>`
	require.NoError(t, store.Write(bronze.URLKey("web", "https://example.com/article", "page", "html"), []byte(page)))

	req := httptest.NewRequest(http.MethodGet, "/api/content/"+*d.ContentID+"/reader", nil)
	rec := httptest.NewRecorder()
	srvr.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReaderResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.ReaderContent, "nineteen and a half degrees")
	assert.NotContains(t, resp.ReaderContent, "<script", "scripts are sanitized out")

	// Second hit comes from the render cache.
	_, ok := srvr.readerCache.Get(*d.ContentID)
	assert.True(t, ok)
}

func TestGetReader_NoPage(t *testing.T) {
	srvr, repo, _ := newTestServer(t)
	d := seedDiscussion(t, repo, "30", "https://example.com/never-fetched")
	require.NotNil(t, d.ContentID)

	req := httptest.NewRequest(http.MethodGet, "/api/content/"+*d.ContentID+"/reader", nil)
	rec := httptest.NewRecorder()
	srvr.Server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSources(t *testing.T) {
	srvr, repo, _ := newTestServer(t)
	_, err := repo.EnsureSource(context.Background(), "rss", "Drift Notes", `{}`)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/sources", nil)
	rec := httptest.NewRecorder()
	srvr.Server.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp SourceListResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "Drift Notes", resp.Sources[0].Name)
	assert.True(t, resp.Sources[0].Enabled)
}
