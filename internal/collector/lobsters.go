package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
)

const lobstersBase = "https://lobste.rs"

type lobstersConfig struct {
	Tags []string `json:"tags"`
}

type lobstersStory struct {
	ShortID      string          `json:"short_id"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	CommentsURL  string          `json:"comments_url"`
	CreatedAt    string          `json:"created_at"`
	Score        int             `json:"score"`
	CommentCount int             `json:"comment_count"`
	Description  string          `json:"description"`
	Tags         []string        `json:"tags"`
	Submitter    json.RawMessage `json:"submitter_user"`
}

// submitterName handles both shapes the API has used for submitter_user: a
// plain username string and an object with a username field.
func (s lobstersStory) submitterName() string {
	var name string
	if err := json.Unmarshal(s.Submitter, &name); err == nil {
		return name
	}
	var obj struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(s.Submitter, &obj); err == nil {
		return obj.Username
	}
	return ""
}

// Lobsters collects stories through the site's JSON API: per-tag listings
// when tags are configured, hottest plus newest otherwise. It doubles as the
// enrichment searcher, using the per-domain listing with an exact URL match,
// and pulls comment threads for pending stories.
type Lobsters struct {
	src     eddy.Source
	repo    eddy.Repository
	store   *bronze.Store
	client  *http.Client
	baseURL string
	tags    []string

	mu          sync.Mutex
	domainCache map[string][]lobstersStory
}

func NewLobsters(src eddy.Source, repo eddy.Repository, store *bronze.Store) (*Lobsters, error) {
	var cfg lobstersConfig
	if err := json.Unmarshal([]byte(src.Config), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing lobsters config for %q: %w", src.Name, err)
	}
	return &Lobsters{
		src:         src,
		repo:        repo,
		store:       store,
		client:      collectorClient,
		baseURL:     lobstersBase,
		tags:        cfg.Tags,
		domainCache: map[string][]lobstersStory{},
	}, nil
}

func (c *Lobsters) SourceType() string { return "lobsters" }
func (c *Lobsters) Name() string       { return "lobsters" }

func (c *Lobsters) Collect(ctx context.Context) (int, error) {
	var listings []string
	if len(c.tags) > 0 {
		for _, tag := range c.tags {
			listings = append(listings, fmt.Sprintf("%s/t/%s.json", c.baseURL, tag))
		}
	} else {
		listings = []string{c.baseURL + "/hottest.json", c.baseURL + "/newest.json"}
	}

	// Tag listings overlap; collapse on short id before writing.
	seen := map[string]lobstersStory{}
	for _, u := range listings {
		var stories []lobstersStory
		if err := c.getJSON(ctx, u, &stories); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			continue
		}
		for _, story := range stories {
			if story.ShortID != "" {
				if _, ok := seen[story.ShortID]; !ok {
					seen[story.ShortID] = story
				}
			}
		}
	}

	count := 0
	for _, story := range seen {
		if err := c.storeStory(ctx, story); err != nil {
			return count, err
		}
		count++
	}

	if err := c.repo.TouchSource(ctx, c.src.ID); err != nil {
		return count, fmt.Errorf("error touching source: %w", err)
	}
	return count, nil
}

// SearchByURL lists every story for the URL's domain and keeps the exact
// matches. The domain listing is cached per process run, so enriching many
// URLs on one domain costs one request.
func (c *Lobsters) SearchByURL(ctx context.Context, target string) (int, error) {
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" {
		return 0, nil
	}

	stories, err := c.domainStories(ctx, parsed.Host)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, story := range stories {
		if story.URL != target || story.ShortID == "" {
			continue
		}
		if err := c.storeStory(ctx, story); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (c *Lobsters) domainStories(ctx context.Context, domain string) ([]lobstersStory, error) {
	c.mu.Lock()
	cached, ok := c.domainCache[domain]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var stories []lobstersStory
	err := c.getJSON(ctx, fmt.Sprintf("%s/domains/%s.json", c.baseURL, domain), &stories)
	if err != nil {
		// Unknown domains 404; being throttled is also an empty answer
		// rather than a failed enrichment pass.
		var statusErr *bronze.HTTPStatusError
		if errors.As(err, &statusErr) &&
			(statusErr.Status == http.StatusNotFound || statusErr.Status == http.StatusTooManyRequests) {
			stories = nil
		} else {
			return nil, err
		}
	}

	c.mu.Lock()
	c.domainCache[domain] = stories
	c.mu.Unlock()
	return stories, nil
}

// CollectComments pulls comment threads for stories still marked pending.
func (c *Lobsters) CollectComments(ctx context.Context, limit int) (int, error) {
	pending, err := c.repo.DiscussionsNeedingComments(ctx, "lobsters", limit)
	if err != nil {
		return 0, fmt.Errorf("error listing pending comments: %w", err)
	}

	fetched := 0
	for _, d := range pending {
		k := bronze.Key{SourceType: "lobsters", ExternalID: d.ExternalID, Artifact: "comments", Ext: "json"}
		raw, err := bronze.FetchURL(ctx, c.store, c.client, k, fmt.Sprintf("%s/s/%s.json", c.baseURL, d.ExternalID))
		if err != nil {
			if ctx.Err() != nil {
				return fetched, ctx.Err()
			}
			continue
		}

		var story struct {
			Comments json.RawMessage `json:"comments"`
		}
		if err := json.Unmarshal(raw, &story); err != nil {
			continue
		}
		comments := story.Comments
		if len(comments) == 0 {
			comments = json.RawMessage("[]")
		}

		if err := c.repo.SetDiscussionComments(ctx, d.ID, string(comments)); err != nil {
			return fetched, fmt.Errorf("error storing comments: %w", err)
		}
		fetched++
	}
	return fetched, nil
}

func (c *Lobsters) storeStory(ctx context.Context, story lobstersStory) error {
	storyURL := story.URL
	if storyURL == "" {
		storyURL = story.CommentsURL
	}

	var published *time.Time
	if ts, err := time.Parse(time.RFC3339, story.CreatedAt); err == nil {
		published = &ts
	}

	meta, _ := json.Marshal(map[string]any{
		"tags":         story.Tags,
		"lobsters_url": story.CommentsURL,
	})
	metaStr := string(meta)
	pending := eddy.CommentsPending

	_, err := c.repo.UpsertDiscussion(ctx, eddy.DiscussionUpsert{
		SourceID:       &c.src.ID,
		SourceType:     "lobsters",
		ExternalID:     story.ShortID,
		Title:          strOrNil(story.Title),
		Author:         strOrNil(story.submitterName()),
		URL:            strOrNil(storyURL),
		BodyText:       strOrNil(sanitize(story.Description)),
		PublishedAt:    published,
		Meta:           &metaStr,
		CommentsStatus: &pending,
		Score:          &story.Score,
		CommentCount:   &story.CommentCount,
	})
	if err != nil {
		return fmt.Errorf("error upserting story %s: %w", story.ShortID, err)
	}
	return nil
}

func (c *Lobsters) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error getting %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &bronze.HTTPStatusError{URL: u, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
