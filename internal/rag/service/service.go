// Package service wires the per-component RAG services (ingestion through
// generation) into the two calls a caller actually needs: IngestDocument to
// get a document all the way to DONE or queued, and Ask to run the full
// retrieval-to-answer path.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"manifold/internal/rag/generate"
	"manifold/internal/rag/ingestion"
	"manifold/internal/rag/jobs"
	"manifold/internal/ragstore"
)

// Service is the orchestration facade: C5-C10 reachable through
// IngestDocument, C12-C15 reachable through Ask.
type Service struct {
	Store     *ragstore.Store
	Ingestion *ingestion.Service
	Pipeline  *jobs.Pipeline
	Generate  *generate.Service

	log     Logger
	metrics Metrics
	clock   Clock
}

// New constructs a Service from its already-wired dependencies.
func New(store *ragstore.Store, ing *ingestion.Service, pipeline *jobs.Pipeline, gen *generate.Service, opts ...Option) *Service {
	s := &Service{
		Store:     store,
		Ingestion: ing,
		Pipeline:  pipeline,
		Generate:  gen,
		log:       defaultLogger{},
		metrics:   NoopMetrics{},
		clock:     SystemClock{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Option configures the Service during construction.
type Option func(*Service)

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option { return func(s *Service) { s.log = l } }

// WithMetrics sets a custom metrics collector.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock sets a custom clock implementation.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// IngestInput describes one document to ingest, either by raw bytes or by a
// URL the ingestion service should fetch.
type IngestInput struct {
	TenantID string
	Filename string
	Mime     string
	Body     []byte
	URL      string

	// Async, when true, skips the inline pipeline run and instead enqueues a
	// full_pipeline job for the worker to pick up.
	Async bool
}

// IngestResult reports what happened to one document: whether it deduped
// against an existing one, and (for a synchronous run) the per-stage outcome
// of each pipeline step.
type IngestResult struct {
	DocID    string
	Deduped  bool
	JobID    string
	Stages   []jobs.StageResult
	Duration time.Duration
}

// IngestDocument stores the document (dedup-checked, policy-gated) and then
// either runs the full pipeline inline or enqueues it, depending on Async.
func (s *Service) IngestDocument(ctx context.Context, in IngestInput) (IngestResult, error) {
	start := s.clock.Now()
	s.metrics.IncCounter("ingestion_docs_total", map[string]string{"tenant": in.TenantID})

	var res ingestion.Result
	var err error
	if in.URL != "" {
		res, err = s.Ingestion.IngestURL(ctx, in.TenantID, in.URL)
	} else {
		res, err = s.Ingestion.IngestBytes(ctx, in.TenantID, in.Filename, in.Mime, in.Body)
	}
	if err != nil {
		return IngestResult{}, err
	}
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(s.clock.Now().Sub(start))), map[string]string{"stage": "store", "tenant": in.TenantID})

	if res.Deduped {
		return IngestResult{DocID: res.DocID, Deduped: true, Duration: s.clock.Now().Sub(start)}, nil
	}

	if in.Async {
		job := ragstore.Job{
			JobID:   uuid.NewString(),
			JobType: jobs.JobTypeFullPipeline,
			Status:  ragstore.JobPending,
			Payload: map[string]any{"doc_ids": []string{res.DocID}},
		}
		if err := s.Store.CreateJob(ctx, job); err != nil {
			return IngestResult{}, err
		}
		return IngestResult{DocID: res.DocID, JobID: job.JobID, Duration: s.clock.Now().Sub(start)}, nil
	}

	stages := s.Pipeline.RunDocument(ctx, res.DocID)
	for _, st := range stages {
		s.metrics.ObserveHistogram("ingestion_stage_ms", float64(st.MS), map[string]string{"stage": st.Stage, "tenant": in.TenantID})
		if st.Err != nil {
			s.log.Error("ingestion: stage failed", map[string]any{"doc_id": res.DocID, "stage": st.Stage, "error": st.Err.Error()})
		}
	}
	dur := s.clock.Now().Sub(start)
	s.metrics.ObserveHistogram("ingestion_stage_ms", float64(ms(dur)), map[string]string{"stage": "total", "tenant": in.TenantID})
	return IngestResult{DocID: res.DocID, Stages: stages, Duration: dur}, nil
}

// Ask runs the query-side pipeline: route, optionally fact-lookup, retrieve,
// pack, generate, and score groundedness.
func (s *Service) Ask(ctx context.Context, query string, docIDs []string) (generate.Response, error) {
	start := s.clock.Now()
	resp, err := s.Generate.Answer(ctx, query, docIDs)
	s.metrics.ObserveHistogram("ask_ms", float64(ms(s.clock.Now().Sub(start))), nil)
	return resp, err
}

// defaultLogger is a minimal internal logger that drops logs.
type defaultLogger struct{}

func (defaultLogger) Info(string, map[string]any)  {}
func (defaultLogger) Error(string, map[string]any) {}
func (defaultLogger) Debug(string, map[string]any) {}

func ms(d time.Duration) int64 { return int64(d / time.Millisecond) }
