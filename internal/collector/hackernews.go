package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
)

const hnAlgoliaBase = "https://hn.algolia.com/api/v1"

const hnFetchLimit = 100

type hnHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Author      string `json:"author"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	CreatedAt   string `json:"created_at"`
	StoryText   string `json:"story_text"`
}

type hnSearchResp struct {
	Hits []hnHit `json:"hits"`
}

// HackerNews collects front-page stories through the Algolia search API. It
// also serves as the enrichment searcher for HN and pulls comment threads
// for stories whose comments are pending.
type HackerNews struct {
	src     eddy.Source
	repo    eddy.Repository
	store   *bronze.Store
	client  *http.Client
	baseURL string
}

func NewHackerNews(src eddy.Source, repo eddy.Repository, store *bronze.Store) *HackerNews {
	return &HackerNews{
		src:     src,
		repo:    repo,
		store:   store,
		client:  collectorClient,
		baseURL: hnAlgoliaBase,
	}
}

func (c *HackerNews) SourceType() string { return "hackernews" }
func (c *HackerNews) Name() string       { return "hackernews" }

func (c *HackerNews) Collect(ctx context.Context) (int, error) {
	u := fmt.Sprintf("%s/search_by_date?tags=story,front_page&hitsPerPage=%d", c.baseURL, hnFetchLimit)

	var resp hnSearchResp
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return 0, err
	}

	count := 0
	for _, hit := range resp.Hits {
		if err := c.storeHit(ctx, hit); err != nil {
			return count, err
		}
		count++
	}

	if err := c.repo.TouchSource(ctx, c.src.ID); err != nil {
		return count, fmt.Errorf("error touching source: %w", err)
	}
	return count, nil
}

// SearchByURL finds stories whose submitted URL matches exactly. A 404 from
// the API is an empty result, not a failure.
func (c *HackerNews) SearchByURL(ctx context.Context, target string) (int, error) {
	u := fmt.Sprintf("%s/search?query=%s&tags=story&restrictSearchableAttributes=url",
		c.baseURL, url.QueryEscape(target))

	var resp hnSearchResp
	if err := c.getJSON(ctx, u, &resp); err != nil {
		var statusErr *bronze.HTTPStatusError
		if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for _, hit := range resp.Hits {
		if err := c.storeHit(ctx, hit); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// CollectComments pulls the comment tree for up to limit stories still
// marked pending. The raw tree goes to the bronze store before the row is
// marked done; a fetch failure on one story leaves it pending for the next
// pass.
func (c *HackerNews) CollectComments(ctx context.Context, limit int) (int, error) {
	pending, err := c.repo.DiscussionsNeedingComments(ctx, "hackernews", limit)
	if err != nil {
		return 0, fmt.Errorf("error listing pending comments: %w", err)
	}

	fetched := 0
	for _, d := range pending {
		k := bronze.Key{SourceType: "hackernews", ExternalID: d.ExternalID, Artifact: "comments", Ext: "json"}
		raw, err := bronze.FetchURL(ctx, c.store, c.client, k, fmt.Sprintf("%s/items/%s", c.baseURL, d.ExternalID))
		if err != nil {
			if ctx.Err() != nil {
				return fetched, ctx.Err()
			}
			continue
		}

		var item struct {
			Children json.RawMessage `json:"children"`
		}
		if err := json.Unmarshal(raw, &item); err != nil {
			continue
		}
		children := item.Children
		if len(children) == 0 {
			children = json.RawMessage("[]")
		}

		if err := c.repo.SetDiscussionComments(ctx, d.ID, string(children)); err != nil {
			return fetched, fmt.Errorf("error storing comments: %w", err)
		}
		fetched++
	}
	return fetched, nil
}

func (c *HackerNews) storeHit(ctx context.Context, hit hnHit) error {
	if hit.ObjectID == "" {
		return nil
	}

	hnURL := "https://news.ycombinator.com/item?id=" + hit.ObjectID
	storyURL := hit.URL
	if storyURL == "" {
		storyURL = hnURL
	}

	var published *time.Time
	if ts, err := time.Parse(time.RFC3339, hit.CreatedAt); err == nil {
		published = &ts
	}

	meta, _ := json.Marshal(map[string]string{"hn_url": hnURL})
	metaStr := string(meta)
	pending := eddy.CommentsPending

	_, err := c.repo.UpsertDiscussion(ctx, eddy.DiscussionUpsert{
		SourceID:       &c.src.ID,
		SourceType:     "hackernews",
		ExternalID:     hit.ObjectID,
		Title:          strOrNil(hit.Title),
		Author:         strOrNil(hit.Author),
		URL:            &storyURL,
		BodyText:       strOrNil(sanitize(hit.StoryText)),
		PublishedAt:    published,
		Meta:           &metaStr,
		CommentsStatus: &pending,
		Score:          &hit.Points,
		CommentCount:   &hit.NumComments,
	})
	if err != nil {
		return fmt.Errorf("error upserting story %s: %w", hit.ObjectID, err)
	}
	return nil
}

func (c *HackerNews) getJSON(ctx context.Context, u string, out any) error {
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
