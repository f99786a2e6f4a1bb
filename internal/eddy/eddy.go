// Package eddy holds the domain types for the aggregation pipeline: the
// sources that get collected, the discussions they produce, and the single
// canonical content row that discussions from every source pivot around.
package eddy

import (
	"context"
	"errors"
	"time"
)

var (
	ErrConflict   = errors.New("resource already exists")
	ErrNotFound   = errors.New("resource not found")
	ErrInvalidURL = errors.New("url cannot be canonicalized")
	// ErrResolveRace is returned when the content resolver lost an insert
	// race and the winning row was still not visible after a retry.
	ErrResolveRace = errors.New("content resolution race not settled")
)

// FetchStatus is the article-fetch lifecycle of a content row.
type FetchStatus string

const (
	FetchPending    FetchStatus = "pending"
	FetchDownloaded FetchStatus = "downloaded"
	FetchFetched    FetchStatus = "fetched"
	FetchSkipped    FetchStatus = "skipped"
	FetchFailed     FetchStatus = "failed"
)

// TranscriptionStatus is the video-transcription lifecycle. It is nullable
// on the row: a content item that is not transcribable never enters it.
type TranscriptionStatus string

const (
	TranscriptionPending      TranscriptionStatus = "pending"
	TranscriptionDownloading  TranscriptionStatus = "downloading"
	TranscriptionTranscribing TranscriptionStatus = "transcribing"
	TranscriptionCompleted    TranscriptionStatus = "completed"
	TranscriptionFailed       TranscriptionStatus = "failed"
)

// CommentsStatus is the per-discussion comment collection lifecycle.
type CommentsStatus string

const (
	CommentsPending CommentsStatus = "pending"
	CommentsDone    CommentsStatus = "done"
)

type (
	// Source is a configured origin: one feed, one channel, one site.
	Source struct {
		ID            string     `db:"id"`
		Type          string     `db:"type"`
		Name          string     `db:"name"`
		Config        string     `db:"config"`
		Enabled       bool       `db:"enabled"`
		CreatedAt     time.Time  `db:"created_at"`
		LastFetchedAt *time.Time `db:"last_fetched_at"`
	}

	// Content is the canonical row for one real-world content item. Every
	// discussion that links to the same canonicalized URL points here, no
	// matter which source it came from.
	//
	// Column ownership: the fetch machine writes fetch_status, fetch_error,
	// fetched_at, title and body_text; the transcription machine writes the
	// transcription_* columns, detected_language and body_text; the
	// enrichment pass writes enriched_at. Nothing else touches those.
	Content struct {
		ID                 string               `db:"id"`
		CanonicalURL       string               `db:"canonical_url"`
		Domain             *string              `db:"domain"`
		Title              *string              `db:"title"`
		BodyText           *string              `db:"body_text"`
		FetchStatus        FetchStatus          `db:"fetch_status"`
		FetchError         *string              `db:"fetch_error"`
		FetchedAt          *time.Time           `db:"fetched_at"`
		TranscriptionState *TranscriptionStatus `db:"transcription_status"`
		TranscriptionError *string              `db:"transcription_error"`
		DetectedLanguage   *string              `db:"detected_language"`
		EnrichedAt         *time.Time           `db:"enriched_at"`
		CreatedAt          time.Time            `db:"created_at"`
	}

	// Discussion is one source's reference to a content item: a story, a
	// post, a video listing, a feed entry. Unique on (source_type,
	// external_id).
	Discussion struct {
		ID             string          `db:"id"`
		SourceID       *string         `db:"source_id"`
		ContentID      *string         `db:"content_id"`
		SourceType     string          `db:"source_type"`
		ExternalID     string          `db:"external_id"`
		Title          *string         `db:"title"`
		Author         *string         `db:"author"`
		URL            *string         `db:"url"`
		BodyText       *string         `db:"body_text"`
		PublishedAt    *time.Time      `db:"published_at"`
		CollectedAt    time.Time       `db:"collected_at"`
		Meta           *string         `db:"meta"`
		CommentsStatus *CommentsStatus `db:"comments_status"`
		CommentsJSON   *string         `db:"comments_json"`
		Score          *int            `db:"score"`
		CommentCount   *int            `db:"comment_count"`
	}

	// DiscussionUpsert carries the fields a collector hands to
	// UpsertDiscussion. On conflict only the mutable subset wins: title,
	// body text, score, comment count, comments status/blob and meta.
	// Author, url, published time and the source/content links are set on
	// first sight and never rewritten.
	DiscussionUpsert struct {
		SourceID       *string
		SourceType     string
		ExternalID     string
		Title          *string
		Author         *string
		URL            *string
		BodyText       *string
		PublishedAt    *time.Time
		Meta           *string
		CommentsStatus *CommentsStatus
		CommentsJSON   *string
		Score          *int
		CommentCount   *int
	}

	// ContentRepo is the identity and stage-state surface over content rows.
	ContentRepo interface {
		// EnsureContent canonicalizes rawURL and returns the id of the one
		// content row for it, inserting the row on first sight. Safe under
		// concurrent callers: both get the same id, one row exists after.
		EnsureContent(ctx context.Context, rawURL string) (string, error)
		Content(ctx context.Context, id string) (Content, error)
		ContentByURL(ctx context.Context, canonicalURL string) (Content, error)

		ContentInFetchStatus(ctx context.Context, status FetchStatus, limit int) ([]Content, error)
		MarkContentPending(ctx context.Context, id string) error
		MarkContentSkipped(ctx context.Context, id string) error
		MarkContentDownloaded(ctx context.Context, id string) error
		MarkContentFetched(ctx context.Context, id string, title, bodyText *string) error
		MarkContentFetchFailed(ctx context.Context, id string, errMsg string) error

		TranscribableContent(ctx context.Context, limit int) ([]TranscribableItem, error)
		MarkTranscriptionPending(ctx context.Context, id string) error
		MarkTranscriptionDownloading(ctx context.Context, id string) error
		MarkTranscriptionTranscribing(ctx context.Context, id string) error
		MarkTranscriptionCompleted(ctx context.Context, id string, transcript, language string) error
		MarkTranscriptionFailed(ctx context.Context, id string, errMsg string) error

		UnenrichedContent(ctx context.Context, limit int) ([]Content, error)
		MarkContentEnriched(ctx context.Context, id string) error

		// SetContentBodyIfEmpty fills body_text only when no stage has
		// populated it yet (feed entries carry their own summaries).
		SetContentBodyIfEmpty(ctx context.Context, id string, bodyText string) error
	}

	// TranscribableItem joins a pending-transcription content row with the
	// discussion that knows the external video id.
	TranscribableItem struct {
		ContentID    string               `db:"content_id"`
		CanonicalURL string               `db:"canonical_url"`
		Status       *TranscriptionStatus `db:"transcription_status"`
		VideoID      string               `db:"external_id"`
		Title        *string              `db:"title"`
	}

	// DiscussionRepo is the per-source discussion surface.
	DiscussionRepo interface {
		UpsertDiscussion(ctx context.Context, up DiscussionUpsert) (string, error)
		Discussion(ctx context.Context, id string) (Discussion, error)
		DiscussionByKey(ctx context.Context, sourceType, externalID string) (Discussion, error)
		DiscussionsForContent(ctx context.Context, contentID string) ([]Discussion, error)
		RecentDiscussions(ctx context.Context, limit, offset int) ([]Discussion, error)
		CountDiscussions(ctx context.Context) (int, error)
		DiscussionsNeedingComments(ctx context.Context, sourceType string, limit int) ([]Discussion, error)
		SetDiscussionComments(ctx context.Context, id string, commentsJSON string) error
	}

	SourceRepo interface {
		EnsureSource(ctx context.Context, sourceType, name, config string) (Source, error)
		Sources(ctx context.Context) ([]Source, error)
		TouchSource(ctx context.Context, id string) error
	}

	// Repository is everything the pipeline needs from storage.
	Repository interface {
		ContentRepo
		DiscussionRepo
		SourceRepo
	}
)

// Collector pulls new items from one external origin and upserts them as
// discussions. Collectors never write content stage columns.
type Collector interface {
	SourceType() string
	Collect(ctx context.Context) (int, error)
}

// Searcher is the optional collector capability of finding discussions for
// a URL we already know about. Used by the enrichment pass.
type Searcher interface {
	Name() string
	SearchByURL(ctx context.Context, url string) (int, error)
}

// CommentCollector is the optional collector capability of pulling comment
// threads for discussions whose comments are still pending.
type CommentCollector interface {
	CollectComments(ctx context.Context, limit int) (int, error)
}

// Extractor turns a raw HTML payload into a title and body text. Pure and
// deterministic, so it sits outside the bronze cache discipline.
type Extractor interface {
	Extract(pageURL string, html []byte) (title, bodyText string, err error)
}

// AudioDownloader fetches the audio track for a video id into dir, which the
// caller owns, and returns the path of the downloaded file. Tracks can run to
// hundreds of megabytes, so they move as files, never as byte slices.
type AudioDownloader interface {
	Download(ctx context.Context, videoID, dir string) (string, error)
}

// Transcript is the output of one speech model run.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// SpeechModel is a loaded transcription model. The id and params feed the
// bronze cache key, so bumping the model re-keys old transcripts instead of
// overwriting them. Callers create one handle and pass it through a batch.
type SpeechModel interface {
	ID() string
	Params() string
	Transcribe(ctx context.Context, audioPath string) (Transcript, error)
}
