package worker

import (
	"log/slog"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jdholdren/eddy/internal/eddy"
)

type workflows struct{}

const stageBatchSize = 50

func defaultActivityOptions(timeout time.Duration) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3, // 0 is unlimited retries
		},
	}
}

// CollectAll fans one collection activity out per enabled source. A source
// that fails just gets logged; the rest still run.
func (workflows) CollectAll(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions(2*time.Minute))

	var sources []eddy.Source
	if err := workflow.ExecuteActivity(ctx, acts.EnabledSources).Get(ctx, &sources); err != nil {
		slog.Error("failed to list sources", "error", err)
		return err
	}

	wg := workflow.NewWaitGroup(ctx)
	wg.Add(len(sources))
	for _, src := range sources {
		workflow.Go(ctx, func(ctx workflow.Context) {
			defer wg.Done()

			var collected int
			if err := workflow.ExecuteActivity(ctx, acts.CollectSource, src.ID).Get(ctx, &collected); err != nil {
				slog.Error("failed to collect source", "source_id", src.ID, "error", err)
			}
		})
	}

	wg.Wait(ctx)

	return nil
}

func (workflows) CollectComments(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions(5*time.Minute))

	var fetched int
	return workflow.ExecuteActivity(ctx, acts.CommentsBatch, stageBatchSize).Get(ctx, &fetched)
}

func (workflows) FetchContent(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions(10*time.Minute))

	return workflow.ExecuteActivity(ctx, acts.FetchBatch, stageBatchSize).Get(ctx, nil)
}

// TranscribeContent gets a long leash and no activity retries: one batch
// can hold multiple model runs, and the batch itself isolates and records
// per-item failures. The next scheduled run resumes from the bronze cache.
func (workflows) TranscribeContent(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	return workflow.ExecuteActivity(ctx, acts.TranscribeBatch, stageBatchSize).Get(ctx, nil)
}

func (workflows) EnrichContent(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, defaultActivityOptions(10*time.Minute))

	var found map[string]int
	if err := workflow.ExecuteActivity(ctx, acts.EnrichBatch, stageBatchSize).Get(ctx, &found); err != nil {
		return err
	}
	slog.Info("enrichment pass finished", "found", found)
	return nil
}
