package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"

	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/urlx"
)

type rssConfig struct {
	FeedURL string `json:"feed_url"`
}

// RSS collects entries from one RSS or Atom feed. Entries that carry their
// own summary seed the content body, which lets short-form feeds skip the
// page fetch entirely.
type RSS struct {
	src     eddy.Source
	repo    eddy.Repository
	client  *http.Client
	parser  *gofeed.Parser
	feedURL string
}

func NewRSS(src eddy.Source, repo eddy.Repository) (*RSS, error) {
	var cfg rssConfig
	if err := json.Unmarshal([]byte(src.Config), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing rss config for %q: %w", src.Name, err)
	}
	if cfg.FeedURL == "" {
		return nil, fmt.Errorf("rss source %q has no feed_url", src.Name)
	}
	return &RSS{
		src:     src,
		repo:    repo,
		client:  collectorClient,
		parser:  gofeed.NewParser(),
		feedURL: cfg.FeedURL,
	}, nil
}

func (c *RSS) SourceType() string { return "rss" }

func (c *RSS) Collect(ctx context.Context) (int, error) {
	feed, err := fetchFeed(ctx, c.client, c.parser, c.feedURL)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range feed.Items {
		externalID := item.GUID
		if externalID == "" {
			externalID = item.Link
		}
		if externalID == "" {
			continue
		}

		body := sanitize(item.Description)
		if body == "" {
			body = sanitize(item.Content)
		}

		var author *string
		if item.Author != nil {
			author = strOrNil(item.Author.Name)
		}

		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}

		meta, _ := json.Marshal(map[string]string{"feed_title": feed.Title})
		metaStr := string(meta)

		if _, err := c.repo.UpsertDiscussion(ctx, eddy.DiscussionUpsert{
			SourceID:    &c.src.ID,
			SourceType:  "rss",
			ExternalID:  externalID,
			Title:       strOrNil(sanitize(item.Title)),
			Author:      author,
			URL:         strOrNil(item.Link),
			BodyText:    strOrNil(body),
			PublishedAt: published,
			Meta:        &metaStr,
		}); err != nil {
			return count, fmt.Errorf("error upserting feed entry %q: %w", externalID, err)
		}
		count++

		if item.Link != "" && body != "" {
			c.seedContentBody(ctx, item.Link, body)
		}
	}

	if err := c.repo.TouchSource(ctx, c.src.ID); err != nil {
		return count, fmt.Errorf("error touching source: %w", err)
	}
	return count, nil
}

// seedContentBody copies the entry summary onto the content row when no
// stage has written a body yet. Best effort.
func (c *RSS) seedContentBody(ctx context.Context, link, body string) {
	canonical, err := urlx.Normalize(link)
	if err != nil {
		return
	}
	content, err := c.repo.ContentByURL(ctx, canonical)
	if err != nil {
		return
	}
	_ = c.repo.SetContentBodyIfEmpty(ctx, content.ID, body)
}
