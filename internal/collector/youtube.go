package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/urlx"
)

type youtubeConfig struct {
	ChannelID string `json:"channel_id"`
}

// YouTube collects a channel's uploads from its public Atom feed. Besides
// upserting the listing, it queues each video's content row for
// transcription. The queue mark is guarded: a row already somewhere in the
// transcription lifecycle is never reset by re-seeing the video.
type YouTube struct {
	src     eddy.Source
	repo    eddy.Repository
	client  *http.Client
	parser  *gofeed.Parser
	feedURL string
}

func NewYouTube(src eddy.Source, repo eddy.Repository) (*YouTube, error) {
	var cfg youtubeConfig
	if err := json.Unmarshal([]byte(src.Config), &cfg); err != nil {
		return nil, fmt.Errorf("error parsing youtube config for %q: %w", src.Name, err)
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("youtube source %q has no channel_id", src.Name)
	}
	return &YouTube{
		src:     src,
		repo:    repo,
		client:  collectorClient,
		parser:  gofeed.NewParser(),
		feedURL: fmt.Sprintf("https://www.youtube.com/feeds/videos.xml?channel_id=%s", cfg.ChannelID),
	}, nil
}

func (c *YouTube) SourceType() string { return "youtube" }

func (c *YouTube) Collect(ctx context.Context) (int, error) {
	feed, err := fetchFeed(ctx, c.client, c.parser, c.feedURL)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range feed.Items {
		// Feed entry ids look like yt:video:VIDEOID.
		videoID := strings.TrimPrefix(item.GUID, "yt:video:")
		if videoID == "" {
			continue
		}

		watchURL := item.Link
		if watchURL == "" {
			watchURL = fmt.Sprintf("https://www.youtube.com/watch?v=%s", videoID)
		}

		meta, _ := json.Marshal(map[string]string{"channel": feed.Title})
		metaStr := string(meta)

		if _, err := c.repo.UpsertDiscussion(ctx, eddy.DiscussionUpsert{
			SourceID:    &c.src.ID,
			SourceType:  "youtube",
			ExternalID:  videoID,
			Title:       strOrNil(sanitize(item.Title)),
			URL:         &watchURL,
			PublishedAt: item.PublishedParsed,
			Meta:        &metaStr,
		}); err != nil {
			return count, fmt.Errorf("error upserting video %q: %w", videoID, err)
		}
		count++

		c.queueTranscription(ctx, watchURL)
	}

	if err := c.repo.TouchSource(ctx, c.src.ID); err != nil {
		return count, fmt.Errorf("error touching source: %w", err)
	}
	return count, nil
}

func (c *YouTube) queueTranscription(ctx context.Context, watchURL string) {
	canonical, err := urlx.Normalize(watchURL)
	if err != nil {
		return
	}
	content, err := c.repo.ContentByURL(ctx, canonical)
	if err != nil {
		return
	}
	_ = c.repo.MarkTranscriptionPending(ctx, content.ID)
}
