// Package pipeline runs the per-stage batch passes over content rows: page
// fetch and extraction, video transcription, and discussion enrichment. Each
// pass claims a bounded batch, works it item by item, and records the
// terminal state of every item on its row, so one bad item never stalls the
// rest of the batch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
)

// Hosts whose pages never get the article treatment. YouTube URLs go through
// the transcription stage instead, and PDFs have no HTML to extract.
var skipFetchHosts = map[string]bool{
	"youtube.com":   true,
	"m.youtube.com": true,
	"youtu.be":      true,
}

const (
	defaultBatchSize    = 50
	downloadParallelism = 8
)

var fetchClient = &http.Client{
	Timeout: time.Second * 30,
}

// Fetcher runs the page-fetch stage.
type Fetcher struct {
	repo      eddy.ContentRepo
	store     *bronze.Store
	extractor eddy.Extractor
	client    *http.Client
}

func NewFetcher(repo eddy.ContentRepo, store *bronze.Store, extractor eddy.Extractor) *Fetcher {
	return &Fetcher{
		repo:      repo,
		store:     store,
		extractor: extractor,
		client:    fetchClient,
	}
}

// BatchResult counts what happened to a batch.
type BatchResult struct {
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
}

// RunDownloadBatch moves up to limit pending rows forward: unfetchable URLs
// are marked skipped, the rest get their page downloaded into the bronze
// store and move to downloaded. Downloads run in parallel since they are
// network-bound; row updates happen per item as results land.
func (f *Fetcher) RunDownloadBatch(ctx context.Context, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}
	batch, err := f.repo.ContentInFetchStatus(ctx, eddy.FetchPending, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("error listing pending content: %w", err)
	}

	var (
		res BatchResult
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, downloadParallelism)
	)
	for _, c := range batch {
		res.Processed++

		if shouldSkipFetch(c.CanonicalURL) {
			if err := f.repo.MarkContentSkipped(ctx, c.ID); err != nil {
				wg.Wait()
				return res, fmt.Errorf("error marking content skipped: %w", err)
			}
			res.Skipped++
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(c eddy.Content) {
			defer wg.Done()
			defer func() { <-sem }()

			err := f.download(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("page download failed", "content_id", c.ID, "url", c.CanonicalURL, "err", err)
				res.Failed++
				return
			}
			res.Succeeded++
		}(c)
	}
	wg.Wait()

	return res, nil
}

func (f *Fetcher) download(ctx context.Context, c eddy.Content) error {
	k := bronze.URLKey("web", c.CanonicalURL, "page", "html")
	if _, err := bronze.FetchURL(ctx, f.store, f.client, k, c.CanonicalURL); err != nil {
		if markErr := f.repo.MarkContentFetchFailed(ctx, c.ID, err.Error()); markErr != nil {
			return fmt.Errorf("error marking fetch failed: %w", markErr)
		}
		return err
	}
	return f.repo.MarkContentDownloaded(ctx, c.ID)
}

// RunExtractBatch pulls article text out of downloaded pages. The pages are
// already on disk, so this stage is CPU-bound and runs serially. Extraction
// failure is terminal for the row: the raw page stays cached, so a fixed
// extractor can be re-run after resetting the status by hand.
func (f *Fetcher) RunExtractBatch(ctx context.Context, limit int) (BatchResult, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}
	batch, err := f.repo.ContentInFetchStatus(ctx, eddy.FetchDownloaded, limit)
	if err != nil {
		return BatchResult{}, fmt.Errorf("error listing downloaded content: %w", err)
	}

	var res BatchResult
	for _, c := range batch {
		res.Processed++

		k := bronze.URLKey("web", c.CanonicalURL, "page", "html")
		html, err := f.store.Read(k)
		if err != nil {
			// Downloaded status with no artifact means the store was pruned
			// out from under us. Send the row back through the downloader.
			slog.Warn("downloaded page missing from store", "content_id", c.ID, "key", k.String())
			if err := f.repo.MarkContentPending(ctx, c.ID); err != nil {
				return res, fmt.Errorf("error marking content pending: %w", err)
			}
			res.Failed++
			continue
		}

		title, body, err := f.extractor.Extract(c.CanonicalURL, html)
		if err != nil {
			if err := f.repo.MarkContentFetchFailed(ctx, c.ID, err.Error()); err != nil {
				return res, fmt.Errorf("error marking fetch failed: %w", err)
			}
			res.Failed++
			continue
		}

		var titlePtr *string
		if title != "" {
			titlePtr = &title
		}
		if err := f.repo.MarkContentFetched(ctx, c.ID, titlePtr, &body); err != nil {
			return res, fmt.Errorf("error marking fetched: %w", err)
		}
		res.Succeeded++
	}

	return res, nil
}

// RunFetchBatch is download then extract, the shape a scheduled run takes.
func (f *Fetcher) RunFetchBatch(ctx context.Context, limit int) (BatchResult, error) {
	dl, err := f.RunDownloadBatch(ctx, limit)
	if err != nil {
		return dl, err
	}
	ex, err := f.RunExtractBatch(ctx, limit)
	if err != nil {
		return ex, err
	}
	return BatchResult{
		Processed: dl.Processed + ex.Processed,
		Succeeded: ex.Succeeded,
		Skipped:   dl.Skipped,
		Failed:    dl.Failed + ex.Failed,
	}, nil
}

func shouldSkipFetch(canonicalURL string) bool {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return true
	}
	if skipFetchHosts[u.Host] {
		return true
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".pdf")
}
