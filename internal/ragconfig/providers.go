package ragconfig

// EmbeddingConfig configures the HTTP client used by the embedder package to
// call an external embedding endpoint.
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIHeader string
	APIKey    string
	Timeout   int

	Headers map[string]string
}

// S3SSEConfig controls server-side encryption applied to objects written
// through an S3Config-backed store.
type S3SSEConfig struct {
	Mode     string // "sse-s3" | "sse-kms"
	KMSKeyID string
}

// S3Config configures an S3-compatible object store client.
type S3Config struct {
	Endpoint              string
	Region                string
	Bucket                string
	Prefix                string
	AccessKey             string
	SecretKey             string
	UsePathStyle          bool
	SSE                   S3SSEConfig
	TLSInsecureSkipVerify bool
}

// AnthropicPromptCacheConfig controls which parts of a request the Anthropic
// client marks for prompt caching.
type AnthropicPromptCacheConfig struct {
	Enabled       bool
	CacheSystem   bool
	CacheTools    bool
	CacheMessages bool
}

// AnthropicConfig configures the Anthropic chat provider.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	PromptCache AnthropicPromptCacheConfig
	ExtraParams map[string]any
}

// GoogleConfig configures the Gemini chat provider.
type GoogleConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout int
}

// OpenAIConfig configures the OpenAI-compatible chat provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	API         string // "completions" or "responses"
	LogPayloads bool
	ExtraParams map[string]any
}
