package retrieve

import (
	"context"
	"time"

	"manifold/internal/persistence/databases"
	"manifold/internal/ragstore"
)

// Embedder is the minimal surface the retrieval service needs from the
// embedding backend to vectorize a query.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Service is the C12 Retrieval Service entry point: it composes query
// enrichment, the hybrid FTS+vector candidate fetch (vector leg behind a
// circuit breaker), RRF fusion, graph augmentation, optional rerank/MMR,
// per-doc capping, and window expansion into one call.
type Service struct {
	Search   databases.FullTextSearch
	Vector   databases.VectorStore
	Graph    GraphFacade
	Embedder Embedder
	Rerank   Reranker
	Store    *ragstore.Store

	breaker *VectorBreaker
}

func New(search databases.FullTextSearch, vector databases.VectorStore, graph GraphFacade, emb Embedder, rr Reranker, store *ragstore.Store) *Service {
	s := &Service{Search: search, Vector: vector, Graph: graph, Embedder: emb, Rerank: rr, Store: store}
	if vector != nil {
		s.breaker = NewVectorBreaker(vector)
	}
	return s
}

// Retrieve runs the full hybrid retrieval pipeline for one query.
func (s *Service) Retrieve(ctx context.Context, q string, opt RetrieveOptions) (RetrieveResponse, error) {
	plan := BuildQueryPlan(ctx, q, opt)
	hints := ExtractHints(q)
	plan = ApplyHints(plan, hints)

	var embVec []float32
	if plan.VecK > 0 && s.Embedder != nil {
		if vecs, err := s.Embedder.EmbedBatch(ctx, []string{plan.Query}); err == nil && len(vecs) > 0 {
			embVec = vecs[0]
		}
	}

	vectorLeg := s.vectorLeg()
	fts, vrs, diag, err := ParallelCandidates(ctx, s.Search, vectorLeg, plan, embVec)
	vectorDegraded := false
	if err != nil {
		// Safety-net fallback: retry keyword-only so a tripped breaker or a
		// transient vector failure never blocks retrieval entirely.
		vectorDegraded = true
		fts, _, diag, err = ParallelCandidates(ctx, s.Search, nil, plan, nil)
		if err != nil {
			return RetrieveResponse{}, err
		}
		vrs = nil
	}

	fused := FuseAndDiversify(fts, vrs, plan, opt)
	items, debug, err := AssembleResults(ctx, s.Graph, s.Rerank, plan, opt, fused)
	if err != nil {
		return RetrieveResponse{}, err
	}

	if opt.UseMMR {
		items = MMR(items, opt.K, opt.MMRLambda)
	}
	if opt.MaxPerDoc > 0 {
		items = CapPerDoc(items, opt.MaxPerDoc)
	}
	if opt.ExpandWindows && s.Store != nil {
		items = ExpandWindows(ctx, s.Store, items, opt.WindowMaxChars)
	}

	items = AttachDocMetadata(ctx, s.Search, items)
	if opt.IncludeSnippet {
		items = GenerateSnippets(ctx, s.Search, items, SnippetOptions{Lang: plan.Lang, Query: plan.Query})
	}
	if !opt.IncludeText {
		for i := range items {
			items[i].Text = ""
		}
	}

	debug["ft_latency_ms"] = diag.FtLatency.Milliseconds()
	debug["vec_latency_ms"] = diag.VecLatency.Milliseconds()
	debug["ft_count"] = diag.FtCount
	debug["vec_count"] = diag.VecCount
	debug["vector_degraded"] = vectorDegraded
	debug["hints"] = hintsDebug(hints)

	return RetrieveResponse{Query: plan.Query, Items: items, Debug: debug}, nil
}

func (s *Service) vectorLeg() databases.VectorStore {
	if s.breaker != nil {
		return s.breaker
	}
	return s.Vector
}

func hintsDebug(h QueryHints) map[string]any {
	out := map[string]any{"numeric": h.Numeric}
	if h.InvoiceNumber != "" {
		out["invoice_number"] = h.InvoiceNumber
	}
	if h.DateStart != nil {
		out["date_start"] = h.DateStart.Format(time.RFC3339)
	}
	if h.DateEnd != nil {
		out["date_end"] = h.DateEnd.Format(time.RFC3339)
	}
	return out
}
