package jobs

import (
	"context"
	"errors"
	"time"

	"manifold/internal/ragstore"
)

// Logger is the minimal logging surface the worker needs; satisfied by the
// same Logger interface the rest of internal/rag/service uses.
type Logger interface {
	Info(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)
}

type noopLogger struct{}

func (noopLogger) Info(string, map[string]any)  {}
func (noopLogger) Error(string, map[string]any) {}

// Worker polls for PENDING jobs and dispatches them by job_type. It sleeps
// briefly when idle and longer after an exception so a persistently broken
// job doesn't spin the poll loop.
type Worker struct {
	Store        *ragstore.Store
	Orchestrator *Orchestrator
	Log          Logger

	IdlePoll  time.Duration
	ErrorPoll time.Duration
}

func NewWorker(store *ragstore.Store, orch *Orchestrator) *Worker {
	return &Worker{
		Store: store, Orchestrator: orch, Log: noopLogger{},
		IdlePoll: 2 * time.Second, ErrorPoll: 5 * time.Second,
	}
}

// Run loops until ctx is canceled, claiming and processing one job per
// iteration.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		job, err := w.Store.ClaimNextPending(ctx)
		if err != nil {
			w.Log.Error("jobs: claim failed", map[string]any{"error": err.Error()})
			if !sleepCtx(ctx, w.ErrorPoll) {
				return ctx.Err()
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, w.IdlePoll) {
				return ctx.Err()
			}
			continue
		}

		w.process(ctx, *job)
	}
}

func (w *Worker) process(ctx context.Context, job ragstore.Job) {
	result, err := w.dispatch(ctx, job)
	if err != nil {
		w.Log.Error("jobs: job failed", map[string]any{"job_id": job.JobID, "job_type": job.JobType, "error": err.Error()})
		_ = w.Store.FinishJob(ctx, job.JobID, ragstore.JobError, result, err.Error())
		_ = w.Orchestrator.Events.Publish(ctx, JobEvent{JobID: job.JobID, JobType: job.JobType, Status: string(ragstore.JobError), Error: err.Error()})
		return
	}
	w.Log.Info("jobs: job done", map[string]any{"job_id": job.JobID, "job_type": job.JobType})
	_ = w.Store.FinishJob(ctx, job.JobID, ragstore.JobDone, result, "")
	_ = w.Orchestrator.Events.Publish(ctx, JobEvent{JobID: job.JobID, JobType: job.JobType, Status: string(ragstore.JobDone), Result: result})
}

func (w *Worker) dispatch(ctx context.Context, job ragstore.Job) (map[string]any, error) {
	switch job.JobType {
	case JobTypeFullPipeline:
		return w.Orchestrator.RunFullPipeline(ctx, job)
	case JobTypeReembed:
		return w.Orchestrator.RunReembed(ctx, job)
	default:
		return nil, errors.New("jobs: unknown job_type " + job.JobType)
	}
}

// sleepCtx sleeps for d or returns false early if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
