// Package worker runs the scheduled side of the system on Temporal: source
// collection fans out on a cadence, and each content stage (fetch,
// transcription, enrichment) gets a periodic batch workflow. State lives on
// the rows and in the bronze store, so every workflow is safe to rerun.
package worker

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/jdholdren/eddy/internal/bronze"
	"github.com/jdholdren/eddy/internal/eddy"
	"github.com/jdholdren/eddy/internal/pipeline"
)

const TaskQueue = "shared"

// Deps is everything the activities need to do real work.
type Deps struct {
	Repo        eddy.Repository
	Store       *bronze.Store
	Fetcher     *pipeline.Fetcher
	Transcriber *pipeline.Transcriber
	Enricher    *pipeline.Enricher
	Model       eddy.SpeechModel
}

// NewWorker sets up the worker with registration of workflows, activities,
// and schedules.
func NewWorker(ctx context.Context, cli client.Client, deps Deps) (worker.Worker, error) {
	a := activities{deps: deps}

	w := worker.New(cli, TaskQueue, worker.Options{})

	if err := registerEverything(ctx, w, a, cli); err != nil {
		return nil, fmt.Errorf("error registering workflows and activities: %T, %v", err, err)
	}

	return w, nil
}

func registerEverything(ctx context.Context, w worker.Worker, a activities, cli client.Client) error {
	// Workflows
	wfs := workflows{}
	w.RegisterWorkflow(wfs.CollectAll)
	w.RegisterWorkflow(wfs.CollectComments)
	w.RegisterWorkflow(wfs.FetchContent)
	w.RegisterWorkflow(wfs.TranscribeContent)
	w.RegisterWorkflow(wfs.EnrichContent)

	// Activities
	w.RegisterActivity(&a)

	// One schedule per cadence. Collection leads, the stages trail it so a
	// fresh batch usually has something to chew on.
	schedules := []scheduleSpec{
		{id: "collect_all", every: 15 * time.Minute, workflow: wfs.CollectAll, triggerImmediately: true},
		{id: "collect_comments", every: 20 * time.Minute, workflow: wfs.CollectComments},
		{id: "fetch_content", every: 10 * time.Minute, workflow: wfs.FetchContent},
		{id: "transcribe_content", every: 30 * time.Minute, workflow: wfs.TranscribeContent},
		{id: "enrich_content", every: time.Hour, workflow: wfs.EnrichContent},
	}
	for _, spec := range schedules {
		if err := ensureSchedule(ctx, cli, spec); err != nil {
			return err
		}
	}

	return nil
}

type scheduleSpec struct {
	id                 string
	every              time.Duration
	workflow           any
	triggerImmediately bool
}

// ensureSchedule creates the schedule when missing and refreshes it in
// place when it already exists.
func ensureSchedule(ctx context.Context, cli client.Client, spec scheduleSpec) error {
	handle := cli.ScheduleClient().GetHandle(ctx, spec.id)
	if _, err := handle.Describe(ctx); err != nil {
		handle, err = cli.ScheduleClient().Create(ctx, client.ScheduleOptions{
			ID: spec.id,
			Spec: client.ScheduleSpec{
				Intervals: []client.ScheduleIntervalSpec{{Every: spec.every}},
			},
			Action: &client.ScheduleWorkflowAction{
				ID:        spec.id,
				Workflow:  spec.workflow,
				TaskQueue: TaskQueue,
			},
			TriggerImmediately: spec.triggerImmediately,
		})
		if err != nil {
			return fmt.Errorf("error creating schedule %s: %w", spec.id, err)
		}
	}
	handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	return nil
}
