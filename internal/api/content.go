package api

import (
	"bytes"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
	"github.com/gorilla/mux"
	"github.com/sym01/htmlsanitizer"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
	eddyerrs "github.com/jdholdren/eddy/internal/errors"
	"github.com/jdholdren/eddy/internal/serverutil"
)

type SourceResp struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Name          string     `json:"name"`
	Enabled       bool       `json:"enabled"`
	LastFetchedAt *time.Time `json:"last_fetched_at"`
}

type SourceListResp struct {
	Sources []SourceResp `json:"sources"`
}

func (s Server) getSources(w http.ResponseWriter, r *http.Request) error {
	sources, err := s.repo.Sources(r.Context())
	if err != nil {
		return err
	}

	resp := SourceListResp{Sources: []SourceResp{}}
	for _, src := range sources {
		resp.Sources = append(resp.Sources, SourceResp{
			ID:            src.ID,
			Type:          src.Type,
			Name:          src.Name,
			Enabled:       src.Enabled,
			LastFetchedAt: src.LastFetchedAt,
		})
	}
	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

type DiscussionResp struct {
	ID           string     `json:"id"`
	ContentID    *string    `json:"content_id"`
	SourceType   string     `json:"source_type"`
	ExternalID   string     `json:"external_id"`
	Title        string     `json:"title"`
	Author       string     `json:"author"`
	URL          string     `json:"url"`
	PublishedAt  *time.Time `json:"published_at"`
	CollectedAt  time.Time  `json:"collected_at"`
	Score        *int       `json:"score"`
	CommentCount *int       `json:"comment_count"`
}

type DiscussionListResp struct {
	Discussions []DiscussionResp `json:"discussions"`
	Pagination  paginationMeta   `json:"pagination"`
}

func apiDiscussion(d eddy.Discussion) DiscussionResp {
	resp := DiscussionResp{
		ID:           d.ID,
		ContentID:    d.ContentID,
		SourceType:   d.SourceType,
		ExternalID:   d.ExternalID,
		PublishedAt:  d.PublishedAt,
		CollectedAt:  d.CollectedAt,
		Score:        d.Score,
		CommentCount: d.CommentCount,
	}
	if d.Title != nil {
		resp.Title = *d.Title
	}
	if d.Author != nil {
		resp.Author = *d.Author
	}
	if d.URL != nil {
		resp.URL = *d.URL
	}
	return resp
}

func (s Server) getDiscussions(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	limit, offset := parsePaginationParams(r, 20, 100)

	total, err := s.repo.CountDiscussions(ctx)
	if err != nil {
		return err
	}

	ds, err := s.repo.RecentDiscussions(ctx, limit, offset)
	if err != nil {
		return err
	}

	resp := DiscussionListResp{
		Discussions: []DiscussionResp{},
		Pagination:  paginationMeta{Limit: limit, Offset: offset, Total: total},
	}
	for _, d := range ds {
		resp.Discussions = append(resp.Discussions, apiDiscussion(d))
	}
	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

type ContentResp struct {
	ID                  string           `json:"id"`
	CanonicalURL        string           `json:"canonical_url"`
	Domain              *string          `json:"domain"`
	Title               *string          `json:"title"`
	BodyText            *string          `json:"body_text"`
	FetchStatus         string           `json:"fetch_status"`
	FetchError          *string          `json:"fetch_error"`
	TranscriptionStatus *string          `json:"transcription_status"`
	DetectedLanguage    *string          `json:"detected_language"`
	EnrichedAt          *time.Time       `json:"enriched_at"`
	CreatedAt           time.Time        `json:"created_at"`
	Discussions         []DiscussionResp `json:"discussions"`
}

// getContent returns one content row with every discussion pointing at it,
// which is the whole point of canonicalizing: the same article seen on HN,
// Lobsters and a feed comes back as one item with three discussions.
func (s Server) getContent(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx       = r.Context()
		contentID = mux.Vars(r)["contentID"]
	)

	c, err := s.repo.Content(ctx, contentID)
	if err != nil {
		return err
	}

	ds, err := s.repo.DiscussionsForContent(ctx, c.ID)
	if err != nil {
		return err
	}

	var transcription *string
	if c.TranscriptionState != nil {
		st := string(*c.TranscriptionState)
		transcription = &st
	}

	resp := ContentResp{
		ID:                  c.ID,
		CanonicalURL:        c.CanonicalURL,
		Domain:              c.Domain,
		Title:               c.Title,
		BodyText:            c.BodyText,
		FetchStatus:         string(c.FetchStatus),
		FetchError:          c.FetchError,
		TranscriptionStatus: transcription,
		DetectedLanguage:    c.DetectedLanguage,
		EnrichedAt:          c.EnrichedAt,
		CreatedAt:           c.CreatedAt,
		Discussions:         []DiscussionResp{},
	}
	for _, d := range ds {
		resp.Discussions = append(resp.Discussions, apiDiscussion(d))
	}
	return serverutil.WriteJSON(w, http.StatusOK, resp)
}

type ReaderResp struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Title         string `json:"title"`
	ReaderContent string `json:"reader_content"`
}

// getReader renders the cached page as sanitized reader HTML. The raw page
// never leaves the bronze store; only the readability extraction does, run
// through the sanitizer. Renders are cached since they are pure over an
// immutable artifact.
func (s Server) getReader(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx       = r.Context()
		contentID = mux.Vars(r)["contentID"]
	)

	c, err := s.repo.Content(ctx, contentID)
	if err != nil {
		return err
	}

	if resp, ok := s.readerCache.Get(c.ID); ok {
		return serverutil.WriteJSON(w, http.StatusOK, resp)
	}

	raw, err := s.store.Read(bronze.URLKey("web", c.CanonicalURL, "page", "html"))
	if err != nil {
		return eddyerrs.E(http.StatusNotFound, "no fetched page for this content")
	}

	u, err := url.Parse(c.CanonicalURL)
	if err != nil {
		return err
	}
	article, err := readability.FromReader(bytes.NewReader(raw), u)
	if err != nil {
		return err
	}

	sanitizer := htmlsanitizer.NewHTMLSanitizer()
	contents, err := sanitizer.SanitizeString(article.Content)
	if err != nil {
		return err
	}

	resp := ReaderResp{
		ID:            c.ID,
		URL:           c.CanonicalURL,
		Title:         article.Title,
		ReaderContent: contents,
	}
	s.readerCache.Add(c.ID, resp)

	return serverutil.WriteJSON(w, http.StatusOK, resp)
}
