package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/urlx"
)

// Domains that never accumulate cross-source discussions worth searching
// for. Rows on these domains are marked enriched without a lookup so they
// leave the queue.
var skipEnrichDomains = map[string]bool{
	"youtube.com":  true,
	"youtu.be":     true,
	"i.redd.it":    true,
	"v.redd.it":    true,
	"linkedin.com": true,
}

// Enricher runs the cross-source discussion search over content rows that
// have not been enriched yet.
type Enricher struct {
	repo      eddy.ContentRepo
	searchers []eddy.Searcher
}

func NewEnricher(repo eddy.ContentRepo, searchers []eddy.Searcher) *Enricher {
	return &Enricher{
		repo:      repo,
		searchers: searchers,
	}
}

// RunBatch asks every searcher about each unenriched row and returns, per
// searcher name, how many discussions were found across the batch. A row is
// marked enriched only when every searcher answered for it: a partial pass
// leaves the row in the queue, at the cost of re-asking the searchers that
// did answer on the next run.
func (e *Enricher) RunBatch(ctx context.Context, limit int) (map[string]int, error) {
	if limit <= 0 {
		limit = defaultBatchSize
	}
	batch, err := e.repo.UnenrichedContent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing unenriched content: %w", err)
	}

	found := make(map[string]int, len(e.searchers))
	for _, s := range e.searchers {
		found[s.Name()] = 0
	}

	for _, c := range batch {
		if skipEnrichDomains[urlx.ExtractDomain(c.CanonicalURL)] {
			if err := e.repo.MarkContentEnriched(ctx, c.ID); err != nil {
				return found, fmt.Errorf("error marking enriched: %w", err)
			}
			continue
		}

		allOK := true
		for _, s := range e.searchers {
			n, err := s.SearchByURL(ctx, c.CanonicalURL)
			if err != nil {
				if ctx.Err() != nil {
					return found, ctx.Err()
				}
				slog.Warn("enrichment search failed", "searcher", s.Name(), "content_id", c.ID, "err", err)
				allOK = false
				continue
			}
			found[s.Name()] += n
		}

		if allOK {
			if err := e.repo.MarkContentEnriched(ctx, c.ID); err != nil {
				return found, fmt.Errorf("error marking enriched: %w", err)
			}
		}
	}

	return found, nil
}
