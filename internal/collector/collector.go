// Package collector holds one collector per source type. A collector pulls
// the current listing from its origin and upserts each item as a discussion;
// content rows get created as a side effect of linking URLs, and the stage
// pipelines take it from there.
package collector

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/microcosm-cc/bluemonday"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
)

var collectorClient = &http.Client{
	Timeout: time.Second * 30,
}

// builders is the registry of collector constructors by source type.
var builders = map[string]func(eddy.Source, eddy.Repository, *bronze.Store) (eddy.Collector, error){
	"rss": func(src eddy.Source, repo eddy.Repository, _ *bronze.Store) (eddy.Collector, error) {
		return NewRSS(src, repo)
	},
	"youtube": func(src eddy.Source, repo eddy.Repository, _ *bronze.Store) (eddy.Collector, error) {
		return NewYouTube(src, repo)
	},
	"hackernews": func(src eddy.Source, repo eddy.Repository, store *bronze.Store) (eddy.Collector, error) {
		return NewHackerNews(src, repo, store), nil
	},
	"lobsters": func(src eddy.Source, repo eddy.Repository, store *bronze.Store) (eddy.Collector, error) {
		return NewLobsters(src, repo, store)
	},
}

// For builds the collector for a configured source. The source's config
// column carries the per-type settings as JSON.
func For(src eddy.Source, repo eddy.Repository, store *bronze.Store) (eddy.Collector, error) {
	build, ok := builders[src.Type]
	if !ok {
		return nil, fmt.Errorf("no collector for source type %q", src.Type)
	}
	return build(src, repo, store)
}

var stripPolicy = bluemonday.StrictPolicy()

// sanitize strips markup from feed-supplied text and bounds its length.
func sanitize(s string) string {
	s = strings.TrimSpace(stripPolicy.Sanitize(s))
	if len(s) > 8192 {
		s = s[:8192]
	}
	return s
}

func strOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// fetchFeed downloads and parses one RSS or Atom feed.
func fetchFeed(ctx context.Context, client *http.Client, parser *gofeed.Parser, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("error building feed request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error getting feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from feed %s", resp.StatusCode, url)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading feed body: %w", err)
	}

	feed, err := parser.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("error parsing feed: %w", err)
	}
	return feed, nil
}
