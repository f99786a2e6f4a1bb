package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/eddy/internal/eddy"
)

func TestEnsureContent_Idempotent(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	first, err := repo.EnsureContent(ctx, "https://example.com/article")
	require.NoError(t, err)

	second, err := repo.EnsureContent(ctx, "https://example.com/article")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int
	require.NoError(t, repo.db.Get(&count, "SELECT COUNT(*) FROM content;"))
	assert.Equal(t, 1, count)
}

func TestEnsureContent_TrackingVariantsShareIdentity(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	a, err := repo.EnsureContent(ctx, "https://example.com/x?utm_source=a")
	require.NoError(t, err)
	b, err := repo.EnsureContent(ctx, "https://example.com/x?utm_source=b")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := repo.Content(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x", c.CanonicalURL)
	require.NotNil(t, c.Domain)
	assert.Equal(t, "example.com", *c.Domain)
	assert.Equal(t, eddy.FetchPending, c.FetchStatus)
	assert.Nil(t, c.TranscriptionState)
	assert.Nil(t, c.EnrichedAt)
}

func TestEnsureContent_Invalid(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	_, err := repo.EnsureContent(ctx, "not a url at all://")
	assert.ErrorIs(t, err, eddy.ErrInvalidURL)

	var count int
	require.NoError(t, repo.db.Get(&count, "SELECT COUNT(*) FROM content;"))
	assert.Equal(t, 0, count, "invalid input must not create rows")
}

func TestEnsureContent_ConcurrentCallersConverge(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	const callers = 16
	ids := make([]string, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		i := i
		go func() {
			defer wg.Done()
			ids[i], errs[i] = repo.EnsureContent(ctx, "https://example.com/raced?utm_campaign=x")
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int
	require.NoError(t, repo.db.Get(&count, "SELECT COUNT(*) FROM content;"))
	assert.Equal(t, 1, count)
}

// missingReadBackDB hides rows from the first n read-backs, standing in for
// the losing writer's visibility window after its insert conflicts.
type missingReadBackDB struct {
	*sqlx.DB
	misses int
}

func (d *missingReadBackDB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	if d.misses > 0 {
		d.misses--
		return sql.ErrNoRows
	}
	return d.DB.GetContext(ctx, dest, query, args...)
}

func TestEnsureContent_RetriesMissedReadBack(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
		db   = &missingReadBackDB{DB: repo.db, misses: 1}
	)

	id, err := ensureContent(ctx, db, "https://example.com/raced")
	require.NoError(t, err, "a single missed read-back must be retried away")
	assert.NotEmpty(t, id)
	assert.Equal(t, 0, db.misses)
}

func TestEnsureContent_DoubleMissSurfacesRace(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
		db   = &missingReadBackDB{DB: repo.db, misses: 2}
	)

	_, err := ensureContent(ctx, db, "https://example.com/raced")
	assert.ErrorIs(t, err, eddy.ErrResolveRace)
}

func TestFetchTransitions(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	id, err := repo.EnsureContent(ctx, "https://example.com/post")
	require.NoError(t, err)

	pending, err := repo.ContentInFetchStatus(ctx, eddy.FetchPending, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkContentDownloaded(ctx, id))
	downloaded, err := repo.ContentInFetchStatus(ctx, eddy.FetchDownloaded, 10)
	require.NoError(t, err)
	require.Len(t, downloaded, 1)

	title, body := "A Title", "Extracted body."
	require.NoError(t, repo.MarkContentFetched(ctx, id, &title, &body))

	c, err := repo.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, eddy.FetchFetched, c.FetchStatus)
	assert.Equal(t, "A Title", *c.Title)
	assert.Equal(t, "Extracted body.", *c.BodyText)
	assert.NotNil(t, c.FetchedAt)
}

func TestFetchFailureRecordsError(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	id, err := repo.EnsureContent(ctx, "https://example.com/broken")
	require.NoError(t, err)

	require.NoError(t, repo.MarkContentFetchFailed(ctx, id, "connection refused"))

	c, err := repo.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, eddy.FetchFailed, c.FetchStatus)
	assert.Equal(t, "connection refused", *c.FetchError)
}

func TestTranscriptionLifecycle(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	id, err := repo.EnsureContent(ctx, "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)

	// Link a youtube discussion so the join finds the video id.
	url := "https://youtube.com/watch?v=dQw4w9WgXcQ"
	_, err = repo.UpsertDiscussion(ctx, eddy.DiscussionUpsert{
		SourceType: "youtube",
		ExternalID: "dQw4w9WgXcQ",
		URL:        &url,
	})
	require.NoError(t, err)

	require.NoError(t, repo.MarkTranscriptionPending(ctx, id))

	items, err := repo.TranscribableContent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, id, items[0].ContentID)
	assert.Equal(t, "dQw4w9WgXcQ", items[0].VideoID)

	// Re-entering pending must not reset a row already in the lifecycle.
	require.NoError(t, repo.MarkTranscriptionDownloading(ctx, id))
	require.NoError(t, repo.MarkTranscriptionPending(ctx, id))
	c, err := repo.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, eddy.TranscriptionDownloading, *c.TranscriptionState)

	// Crash-left rows still come back for resumption.
	items, err = repo.TranscribableContent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, repo.MarkTranscriptionTranscribing(ctx, id))
	require.NoError(t, repo.MarkTranscriptionCompleted(ctx, id, "the transcript", "en"))

	c, err = repo.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, eddy.TranscriptionCompleted, *c.TranscriptionState)
	assert.Equal(t, "the transcript", *c.BodyText)
	assert.Equal(t, "en", *c.DetectedLanguage)

	items, err = repo.TranscribableContent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, items, "completed rows leave the transcription queue")
}

func TestEnrichmentMark(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	id, err := repo.EnsureContent(ctx, "https://example.com/enrich-me")
	require.NoError(t, err)

	unenriched, err := repo.UnenrichedContent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unenriched, 1)

	require.NoError(t, repo.MarkContentEnriched(ctx, id))

	unenriched, err = repo.UnenrichedContent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unenriched)
}

func TestSetContentBodyIfEmpty(t *testing.T) {
	var (
		ctx  = context.Background()
		repo = newTestRepo(t)
	)

	id, err := repo.EnsureContent(ctx, "https://example.com/feed-entry")
	require.NoError(t, err)

	require.NoError(t, repo.SetContentBodyIfEmpty(ctx, id, "feed summary"))
	c, err := repo.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "feed summary", *c.BodyText)

	// A second fill does not clobber.
	require.NoError(t, repo.SetContentBodyIfEmpty(ctx, id, "other summary"))
	c, err = repo.Content(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "feed summary", *c.BodyText)
}
