package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"manifold/internal/llm"
	"manifold/internal/llm/anthropic"
	"manifold/internal/llm/google"
	"manifold/internal/llm/openai"
	"manifold/internal/objectstore"
	"manifold/internal/observability"
	"manifold/internal/persistence/databases"
	"manifold/internal/rag/chunker"
	"manifold/internal/rag/embedder"
	"manifold/internal/rag/extract"
	"manifold/internal/rag/factlookup"
	"manifold/internal/rag/generate"
	"manifold/internal/rag/graph"
	"manifold/internal/rag/ingestion"
	"manifold/internal/rag/jobs"
	"manifold/internal/rag/normalize"
	"manifold/internal/rag/parser"
	"manifold/internal/rag/retrieve"
	"manifold/internal/rag/router"
	"manifold/internal/rag/service"
	"manifold/internal/rag/structured"
	"manifold/internal/ragconfig"
	"manifold/internal/ragstore"
)

// tesseractOCR shells out to the system tesseract binary to recognize text
// in a rasterized page image. It satisfies parser.OCREngine.
type tesseractOCR struct {
	binPath string
}

func (t tesseractOCR) RecognizeImage(ctx context.Context, imgPath string) (string, error) {
	bin := t.binPath
	if bin == "" {
		bin = "tesseract"
	}
	cmd := exec.CommandContext(ctx, bin, imgPath, "stdout", "--psm", "6")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract ocr: %w", err)
	}
	return string(out), nil
}

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}
	observability.InitLogger("ragd.log", "info")

	cfg := ragconfig.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn(cfg.DB))
	if err != nil {
		log.Fatal().Err(err).Msg("ragd: failed to open database pool")
	}
	defer pool.Close()

	store := ragstore.NewWithPool(pool)

	rawStore, canonStore := newObjectStores(ctx, cfg.Object)

	ocr := parser.OCRAdapter{Engine: tesseractOCR{binPath: cfg.OCR.TesseractPath}}
	pm := parser.NewManager([]parser.Adapter{parser.HTMLAdapter{}, parser.PDFAdapter{}, parser.XLSXAdapter{}}, ocr, parser.SimpleFallbackAdapter{})

	ing := ingestion.New(store, rawStore, cfg.Ingest)
	norm := normalize.New(store, rawStore, canonStore, pm, "/tmp/ragd-normalize")
	ext := extract.New(store, canonStore)
	chunk := chunker.NewBlockChunker(store, cfg.Chunk.TargetTokens, cfg.Chunk.OverlapTokens, cfg.Chunk.MaxChunksPerDoc)
	graphSvc := graph.New(store)
	structuredSvc := structured.New(store)

	emb := newEmbedder(cfg)

	vector, err := newVectorStore(cfg.Vector)
	if err != nil {
		log.Fatal().Err(err).Msg("ragd: failed to init vector store")
	}
	search := databases.NewPostgresSearch(pool)
	graphFacade := databases.NewPostgresGraph(pool)

	pipeline := &jobs.Pipeline{
		Store:      store,
		Normalize:  norm,
		Extract:    ext,
		Chunk:      chunk,
		Graph:      graphSvc,
		Embedder:   emb,
		Vector:     vector,
		Structured: structuredSvc,
	}
	orch := jobs.New(store, pipeline).WithEvents(jobs.NewEventPublisher(strings.Join(cfg.JobsKafkaBrokers, ","), "ragd.jobs"))
	worker := jobs.NewWorker(store, orch)

	provider := newLLMProvider(cfg)

	retr := retrieve.New(search, vector, graphFacade, emb, retrieve.NoopReranker{}, store)
	rt := router.New(provider, cfg.Generation.Model)
	fact := factlookup.New(store)
	gen := generate.New(retr, fact, rt, store, provider, cfg.Generation, cfg.Retrieval.FactConfMin)

	svc := service.New(store, ing, pipeline, gen)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go func() {
		if err := worker.Run(workerCtx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("ragd: worker stopped")
		}
	}()

	health := newHealthCache(pool, time.Duration(cfg.HealthzTTLSeconds)*time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := health.Check(r.Context()); err != nil {
			http.Error(w, "db unreachable", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})

	mux.HandleFunc("/v1/ingest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TenantID string `json:"tenant_id"`
			Filename string `json:"filename"`
			Mime     string `json:"mime"`
			URL      string `json:"url"`
			Body     []byte `json:"body"`
			Async    bool   `json:"async"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.TenantID == "" {
			req.TenantID = cfg.TenantID
		}
		res, err := svc.IngestDocument(r.Context(), service.IngestInput{
			TenantID: req.TenantID, Filename: req.Filename, Mime: req.Mime,
			Body: req.Body, URL: req.URL, Async: req.Async,
		})
		if err != nil {
			log.Error().Err(err).Msg("ragd: ingest failed")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(res)
	})

	mux.HandleFunc("/v1/ask", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Query  string   `json:"query"`
			DocIDs []string `json:"doc_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp, err := svc.Ask(r.Context(), req.Query, req.DocIDs)
		if err != nil {
			log.Error().Err(err).Msg("ragd: ask failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Query   string                 `json:"query"`
			Options retrieve.RetrieveOptions `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Options.K == 0 {
			req.Options.K = cfg.Retrieval.VectorTopN
		}
		resp, err := retr.Retrieve(r.Context(), req.Query, req.Options)
		if err != nil {
			log.Error().Err(err).Msg("ragd: search failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/route", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		plan := rt.Route(r.Context(), req.Query)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(plan)
	})

	mux.HandleFunc("/answer", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Query  string   `json:"query"`
			DocIDs []string `json:"doc_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp, err := gen.Answer(r.Context(), req.Query, req.DocIDs)
		if err != nil {
			log.Error().Err(err).Msg("ragd: answer failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("GET /jobs/{job_id}", func(w http.ResponseWriter, r *http.Request) {
		jobID := r.PathValue("job_id")
		job, err := store.GetJob(r.Context(), jobID)
		if err != nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(job)
	})

	addr := ":8090"
	log.Info().Str("addr", addr).Msg("ragd listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal().Err(err).Msg("ragd: server failed")
	}
}

func dsn(db ragconfig.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable", db.User, db.Password, db.Host, db.Port, db.Name)
}

func newObjectStores(ctx context.Context, cfg ragconfig.ObjectStoreConfig) (raw, canon objectstore.ObjectStore) {
	if cfg.Endpoint == "" {
		return objectstore.NewMemoryStore(), objectstore.NewMemoryStore()
	}
	s3cfg := ragconfig.S3Config{
		Endpoint:     cfg.Endpoint,
		AccessKey:    cfg.RootUser,
		SecretKey:    cfg.RootPassword,
		UsePathStyle: true,
		Bucket:       cfg.Bucket,
	}
	rawOS, err := objectstore.NewS3Store(ctx, s3cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ragd: failed to init raw object store")
	}
	s3cfg.Bucket = cfg.CanonicalBucket
	canonOS, err := objectstore.NewS3Store(ctx, s3cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("ragd: failed to init canonical object store")
	}
	return rawOS, canonOS
}

func newVectorStore(cfg ragconfig.VectorConfig) (databases.VectorStore, error) {
	if cfg.URL == "" {
		return databases.NewMemoryVector(), nil
	}
	return databases.NewQdrantVector(cfg.URL, cfg.Collection, cfg.Dimension, cfg.Distance)
}

func newEmbedder(cfg *ragconfig.Config) embedder.Embedder {
	if cfg.Embed.Model == "" || cfg.Embed.Model == "deterministic" {
		return embedder.NewDeterministic(cfg.Vector.Dimension, true, 0)
	}
	return embedder.NewClient(ragconfig.EmbeddingConfig{Model: cfg.Embed.Model}, cfg.Vector.Dimension)
}

// healthCache caches the outcome of a DB ping for ttl so /healthz under
// steady-state load doesn't round-trip to postgres on every request.
type healthCache struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	mu       sync.Mutex
	lastErr  error
	checked  time.Time
}

func newHealthCache(pool *pgxpool.Pool, ttl time.Duration) *healthCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &healthCache{pool: pool, ttl: ttl}
}

func (h *healthCache) Check(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if time.Since(h.checked) < h.ttl {
		return h.lastErr
	}
	h.lastErr = h.pool.Ping(ctx)
	h.checked = time.Now()
	return h.lastErr
}

func newLLMProvider(cfg *ragconfig.Config) llm.Provider {
	switch {
	case cfg.APIKey != "" && cfg.Generation.Model == "gemini":
		c, err := google.New(ragconfig.GoogleConfig{APIKey: cfg.APIKey, Model: cfg.Generation.Model}, nil)
		if err != nil {
			log.Fatal().Err(err).Msg("ragd: failed to init google provider")
		}
		return c
	case cfg.Generation.Model == "anthropic":
		return anthropic.New(ragconfig.AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Generation.Model}, nil)
	default:
		return openai.New(ragconfig.OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Generation.Model}, nil)
	}
}

