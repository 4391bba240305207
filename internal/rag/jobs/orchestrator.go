// Package jobs implements the Job Orchestrator (C16): an in-process
// pipeline runner plus a polling worker that claims PENDING jobs and
// dispatches them by job_type.
package jobs

import (
	"context"
	"fmt"
	"time"

	"manifold/internal/persistence/databases"
	"manifold/internal/rag/chunker"
	"manifold/internal/rag/embedder"
	"manifold/internal/rag/extract"
	"manifold/internal/rag/graph"
	"manifold/internal/rag/normalize"
	"manifold/internal/rag/structured"
	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

// JobType values dispatched by the worker.
const (
	JobTypeFullPipeline = "full_pipeline"
	JobTypeReembed      = "reembed"
)

// Pipeline bundles the per-document services the full pipeline job runs in
// order: Normalize, Extract, Chunk, Graph, Embed, and the structured
// extraction side-track.
type Pipeline struct {
	Store      *ragstore.Store
	Normalize  *normalize.Service
	Extract    *extract.Service
	Chunk      *chunker.BlockChunker
	Graph      *graph.Service
	Embedder   embedder.Embedder
	Vector     databases.VectorStore
	Structured *structured.Service
}

// StageResult records one stage's outcome for a single document.
type StageResult struct {
	Stage string
	MS    int64
	Err   error
}

// RunDocument runs Normalize -> Extract -> Chunk -> Graph -> Embed -> Structured
// for one document, stopping at (and returning) the first stage failure so
// the caller can record it without aborting the rest of the batch.
func (p *Pipeline) RunDocument(ctx context.Context, docID string) []StageResult {
	stages := []struct {
		name string
		run  func() error
	}{
		{"normalize", func() error { _, err := p.Normalize.Normalize(ctx, docID); return err }},
		{"extract", func() error { _, err := p.Extract.Extract(ctx, docID); return err }},
		{"chunk", func() error { _, _, _, err := p.Chunk.Chunk(ctx, docID); return err }},
		{"graph", func() error { _, _, err := p.Graph.Build(ctx, docID); return err }},
		{"embed", func() error {
			plan, err := p.Store.LatestPlan(ctx, docID)
			if err != nil {
				return err
			}
			_, err = embedder.RunDelta(ctx, p.Store, p.Vector, p.Embedder, docID, plan.PlanID)
			return err
		}},
		{"structured", func() error { _, err := p.Structured.Extract(ctx, docID); return err }},
	}

	var results []StageResult
	for _, st := range stages {
		start := time.Now()
		err := st.run()
		results = append(results, StageResult{Stage: st.name, MS: time.Since(start).Milliseconds(), Err: err})
		if err != nil {
			_ = p.Store.SetDocumentError(ctx, docID, fmt.Sprintf("%s: %v", st.name, err))
			break
		}
	}
	return results
}

// Orchestrator drives full-pipeline jobs over a set of documents, reporting
// fractional progress and per-stage timings back onto the job row.
type Orchestrator struct {
	Store     *ragstore.Store
	Pipeline  *Pipeline
	Events    *EventPublisher
}

func New(store *ragstore.Store, pipeline *Pipeline) *Orchestrator {
	return &Orchestrator{Store: store, Pipeline: pipeline, Events: &EventPublisher{}}
}

// WithEvents attaches a Kafka event publisher for job lifecycle notifications.
func (o *Orchestrator) WithEvents(p *EventPublisher) *Orchestrator {
	o.Events = p
	return o
}

// RunFullPipeline processes every document ID in the job payload, updating
// progress after each one and recording per-document errors without
// aborting the batch. It returns the aggregated per-document stage timings
// and error list as the job result.
func (o *Orchestrator) RunFullPipeline(ctx context.Context, job ragstore.Job) (map[string]any, error) {
	docIDs := docIDsFromPayload(job.Payload)
	total := len(docIDs)
	if total == 0 {
		return map[string]any{"processed": 0}, nil
	}

	timings := map[string]any{}
	var docErrors []string
	for i, docID := range docIDs {
		stageResults := o.Pipeline.RunDocument(ctx, docID)
		stageMS := map[string]int64{}
		var failed string
		for _, r := range stageResults {
			stageMS[r.Stage] = r.MS
			if r.Err != nil {
				failed = fmt.Sprintf("%s: %s: %v", docID, r.Stage, r.Err)
			}
		}
		timings[docID] = stageMS
		if failed != "" {
			docErrors = append(docErrors, failed)
		}

		progress := round2(float64(i+1) / float64(total) * 100)
		payload := map[string]any{"timings": timings, "errors": docErrors}
		if err := o.Store.UpdateJobProgress(ctx, job.JobID, progress, payload); err != nil {
			return nil, ragerr.Wrap(ragerr.TransientExternal, "jobs.RunFullPipeline", err)
		}
	}

	result := map[string]any{"timings": timings, "errors": docErrors, "processed": total}
	return result, nil
}

// RunReembed processes every document ID in the job payload through only
// the embed stage, for callers that changed the embedding model or index
// without touching the underlying document content.
func (o *Orchestrator) RunReembed(ctx context.Context, job ragstore.Job) (map[string]any, error) {
	docIDs := docIDsFromPayload(job.Payload)
	total := len(docIDs)
	if total == 0 {
		return map[string]any{"processed": 0}, nil
	}

	var docErrors []string
	var upserted, deleted int
	for i, docID := range docIDs {
		plan, err := o.Pipeline.Store.LatestPlan(ctx, docID)
		if err != nil {
			docErrors = append(docErrors, fmt.Sprintf("%s: latest_plan: %v", docID, err))
		} else {
			delta, err := embedder.RunDelta(ctx, o.Pipeline.Store, o.Pipeline.Vector, o.Pipeline.Embedder, docID, plan.PlanID)
			if err != nil {
				docErrors = append(docErrors, fmt.Sprintf("%s: embed: %v", docID, err))
			} else {
				upserted += delta.Upserted
				deleted += delta.Deleted
			}
		}

		progress := round2(float64(i+1) / float64(total) * 100)
		payload := map[string]any{"errors": docErrors, "upserted": upserted, "deleted": deleted}
		if err := o.Store.UpdateJobProgress(ctx, job.JobID, progress, payload); err != nil {
			return nil, ragerr.Wrap(ragerr.TransientExternal, "jobs.RunReembed", err)
		}
	}
	return map[string]any{"processed": total, "upserted": upserted, "deleted": deleted, "errors": docErrors}, nil
}

func docIDsFromPayload(payload map[string]any) []string {
	raw, ok := payload["doc_ids"]
	if !ok {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		if ss, ok := raw.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
