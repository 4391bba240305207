// Package ragconfig loads the flat environment-variable configuration
// surface for the ingestion-to-retrieval pipeline and the answer engine.
package ragconfig

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

type ObjectStoreConfig struct {
	Endpoint       string
	PublicEndpoint string
	Bucket         string
	CanonicalBucket string
	RootUser       string
	RootPassword   string
}

type VectorConfig struct {
	URL            string
	Collection     string
	Dimension      int
	Distance       string
	HealthTimeoutS int
}

type IngestConfig struct {
	MaxFilesPerRequest int
	MaxFileMB          int
	AllowedMimePrefixes []string
	DisallowedExts     []string
	StrictMode         bool
	RateLimitPerMin    int
}

type ChunkConfig struct {
	TargetTokens   int
	OverlapTokens  int
	MaxChunksPerDoc int
	ContextualEnabled bool
}

type EmbedConfig struct {
	Model     string
	BatchSize int
}

type RetrievalConfig struct {
	VectorTopN      int
	KeywordTopN     int
	HybridAlpha     float64
	HybridMode      string // "rrf" | "norm"
	DocCapPerDoc    int
	MMRLambda       float64
	RerankEnabled   bool
	RerankModel     string
	RerankTopN      int
	HydeEnabled     bool
	FactConfMin     float64
	SafetyNetEnabled bool
}

type OCRConfig struct {
	TesseractPath string
}

type GenerationConfig struct {
	Model              string
	TokenBudget        int
	MaxStitchPerDoc    int
	GroundedMin        float64
	StreamTokens       int
	StreamChunkDelayMS int
	StreamChunkChars   int
}

type Config struct {
	AppEnv     string
	AppVersion string
	Region     string
	TenantID   string

	DB     DatabaseConfig
	Object ObjectStoreConfig
	Vector VectorConfig
	Ingest IngestConfig
	Chunk  ChunkConfig
	Embed  EmbedConfig
	OCR    OCRConfig
	Retrieval RetrievalConfig
	Generation GenerationConfig

	HealthzTTLSeconds int
	CORSAllowOrigins  []string
	APIKey            string

	JobsKafkaBrokers []string
}

// Load reads a .env file if present (ignored when absent) and then builds a
// Config from the process environment, applying the defaults named in the
// spec's environment key list.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("ragconfig: .env load failed, continuing with process env")
	}

	c := &Config{
		AppEnv:     getenv("APP_ENV", "development"),
		AppVersion: getenv("APP_VERSION", "dev"),
		Region:     getenv("REGION", ""),
		TenantID:   getenv("TENANT_ID", "default"),

		DB: DatabaseConfig{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getint("DB_PORT", 5432),
			Name:     getenv("DB_NAME", "ragdb"),
			User:     getenv("DB_USER", "rag"),
			Password: getenv("DB_PASSWORD", ""),
		},
		Object: ObjectStoreConfig{
			Endpoint:        getenv("S3_ENDPOINT", ""),
			PublicEndpoint:  getenv("S3_PUBLIC_ENDPOINT", ""),
			Bucket:          getenv("S3_BUCKET", "rag-raw"),
			CanonicalBucket: getenv("S3_CANONICAL_BUCKET", "rag-canonical"),
			RootUser:        getenv("OBJECT_ROOT_USER", ""),
			RootPassword:    getenv("OBJECT_ROOT_PASSWORD", ""),
		},
		Vector: VectorConfig{
			URL:            getenv("QDRANT_URL", ""),
			Collection:     getenv("QDRANT_COLLECTION", "chunks"),
			Dimension:      getint("EMBEDDING_DIM", 768),
			Distance:       getenv("QDRANT_DISTANCE", "cosine"),
			HealthTimeoutS: getint("QDRANT_HEALTH_TIMEOUT", 2),
		},
		Ingest: IngestConfig{
			MaxFilesPerRequest:  getint("MAX_FILES_PER_REQUEST", 20),
			MaxFileMB:           getint("MAX_FILE_MB", 50),
			AllowedMimePrefixes: getcsv("ALLOWED_MIME_PREFIXES", []string{"text/", "application/pdf", "application/vnd", "image/"}),
			DisallowedExts:      getcsv("INGEST_DISALLOWED_EXTS", []string{".js", ".exe", ".sh", ".bat", ".dll", ".msi", ".apk", ".bin"}),
			StrictMode:          getbool("INGEST_STRICT_MODE", true),
			RateLimitPerMin:     getint("INGEST_RATE_LIMIT_PER_MIN", 60),
		},
		Chunk: ChunkConfig{
			TargetTokens:      getint("CHUNK_TARGET_TOKENS", 400),
			OverlapTokens:     getint("CHUNK_OVERLAP_TOKENS", 40),
			MaxChunksPerDoc:   getint("MAX_CHUNKS_PER_DOC", 5000),
			ContextualEnabled: getbool("CONTEXTUAL_CHUNKING_ENABLED", false),
		},
		Embed: EmbedConfig{
			Model:     getenv("EMBED_MODEL", "deterministic"),
			BatchSize: getint("EMBED_BATCH_SIZE", 64),
		},
		OCR: OCRConfig{
			TesseractPath: getenv("OCR_TESSERACT_PATH", "tesseract"),
		},
		Retrieval: RetrievalConfig{
			VectorTopN:       getint("VECTOR_TOPN", 40),
			KeywordTopN:      getint("KEYWORD_TOPN", 40),
			HybridAlpha:      getfloat("HYBRID_ALPHA", 0.5),
			HybridMode:       getenv("HYBRID_MODE", "rrf"),
			DocCapPerDoc:     getint("DOC_CAP_PER_DOC", 3),
			MMRLambda:        getfloat("MMR_LAMBDA", 0.65),
			RerankEnabled:    getbool("RERANK_ENABLED", false),
			RerankModel:      getenv("RERANK_MODEL", ""),
			RerankTopN:       getint("RERANK_TOPN", 20),
			HydeEnabled:      getbool("HYDE_ENABLED", false),
			FactConfMin:      getfloat("FACT_CONF_MIN", 0.6),
			SafetyNetEnabled: getbool("RETR_SAFETY_NET", true),
		},
		Generation: GenerationConfig{
			Model:              getenv("GEN_MODEL", ""),
			TokenBudget:        getint("GEN_TOKEN_BUDGET", 3000),
			MaxStitchPerDoc:    getint("GEN_MAX_STITCH_PER_DOC", 3),
			GroundedMin:        getfloat("GEN_GROUNDED_MIN", 0.18),
			StreamTokens:       getint("GEN_STREAM_TOKENS", 1),
			StreamChunkDelayMS: getint("STREAM_CHUNK_DELAY_MS", 0),
			StreamChunkChars:   getint("STREAM_CHUNK_CHARS", 40),
		},

		HealthzTTLSeconds: getint("HEALTHZ_TTL_SECONDS", 10),
		CORSAllowOrigins:  getcsv("CORS_ALLOW_ORIGINS", []string{"*"}),
		APIKey:            getenv("IDP_API_KEY", ""),

		JobsKafkaBrokers: getcsv("JOBS_KAFKA_BROKERS", nil),
	}
	return c
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ragconfig: invalid int, using default")
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ragconfig: invalid float, using default")
	}
	return def
}

func getbool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", v).Msg("ragconfig: invalid bool, using default")
	}
	return def
}

func getcsv(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
