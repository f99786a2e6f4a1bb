package worker

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/jdholdren/eddy/internal/collector"
	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/pipeline"
)

type activities struct {
	deps Deps
}

// Instance to make the workflows a bit more readable
var acts = activities{}

// EnabledSources lists the sources collection should visit.
func (a activities) EnabledSources(ctx context.Context) ([]eddy.Source, error) {
	sources, err := a.deps.Repo.Sources(ctx)
	if err != nil {
		return nil, err
	}

	enabled := make([]eddy.Source, 0, len(sources))
	for _, src := range sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled, nil
}

// CollectSource runs one source's collector and returns how many items it
// saw.
func (a activities) CollectSource(ctx context.Context, sourceID string) (int, error) {
	src, err := a.findSource(ctx, sourceID)
	if err != nil {
		return 0, err
	}

	col, err := collector.For(src, a.deps.Repo, a.deps.Store)
	if err != nil {
		return 0, err
	}

	l := activity.GetLogger(ctx)
	n, err := col.Collect(ctx)
	if err != nil {
		return n, fmt.Errorf("error collecting %s/%s: %w", src.Type, src.Name, err)
	}
	l.Info("collected source", "source", src.Name, "items", n)

	return n, nil
}

// CommentsBatch pulls pending comment threads for every collector that
// knows how.
func (a activities) CommentsBatch(ctx context.Context, limit int) (int, error) {
	sources, err := a.EnabledSources(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, src := range sources {
		col, err := collector.For(src, a.deps.Repo, a.deps.Store)
		if err != nil {
			continue
		}
		cc, ok := col.(eddy.CommentCollector)
		if !ok {
			continue
		}

		n, err := cc.CollectComments(ctx, limit)
		total += n
		if err != nil {
			return total, fmt.Errorf("error collecting comments for %s: %w", src.Name, err)
		}
	}
	return total, nil
}

func (a activities) FetchBatch(ctx context.Context, limit int) (pipeline.BatchResult, error) {
	return a.deps.Fetcher.RunFetchBatch(ctx, limit)
}

func (a activities) TranscribeBatch(ctx context.Context, limit int) (pipeline.BatchResult, error) {
	return a.deps.Transcriber.RunBatch(ctx, a.deps.Model, limit)
}

func (a activities) EnrichBatch(ctx context.Context, limit int) (map[string]int, error) {
	return a.deps.Enricher.RunBatch(ctx, limit)
}

func (a activities) findSource(ctx context.Context, sourceID string) (eddy.Source, error) {
	sources, err := a.deps.Repo.Sources(ctx)
	if err != nil {
		return eddy.Source{}, err
	}
	for _, src := range sources {
		if src.ID == sourceID {
			return src, nil
		}
	}
	return eddy.Source{}, fmt.Errorf("source %s: %w", sourceID, eddy.ErrNotFound)
}
