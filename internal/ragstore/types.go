// Package ragstore is the relational store (C2): documents, blobs,
// normalizations, blocks, chunk plans, chunks, graph nodes/edges, events,
// jobs, and structured (invoice/contract) entities, plus full-text search
// over chunks. Backed by Postgres via pgx, following the table/index idioms
// already used in internal/persistence/databases.
package ragstore

import "time"

type DocumentState string

const (
	DocStored     DocumentState = "STORED"
	DocNormalized DocumentState = "NORMALIZED"
	DocExtracted  DocumentState = "EXTRACTED"
	DocDeleted    DocumentState = "DELETED"
	DocError      DocumentState = "ERROR"
)

type Document struct {
	DocID             string
	TenantID          string
	Sha256            string
	URI               string
	Mime              string
	SizeBytes         int64
	State             DocumentState
	CollectedAt       time.Time
	NormalizedAt      *time.Time
	ExtractedAt       *time.Time
	PipelineVersions  map[string]string
	Meta              map[string]any
}

type Blob struct {
	Sha256   string
	Location string
	CRC32    uint32
}

type Normalization struct {
	DocID        string
	CanonicalURI string
	ManifestURI  string
	ToolName     string
	ToolVersion  string
	PageCount    int
	OCRPages     int
	Warnings     []string
}

type BlockType string

const (
	BlockHeader    BlockType = "header"
	BlockParagraph BlockType = "paragraph"
	BlockList      BlockType = "list"
	BlockTable     BlockType = "table"
	BlockCode      BlockType = "code"
	BlockImage     BlockType = "image"
)

type Block struct {
	BlockID    string
	DocID      string
	Page       int
	SpanStart  int
	SpanEnd    int
	Type       BlockType
	Text       string
	Meta       map[string]any // headers[], rows, cols, html, source
}

type ChunkStrategy string

const (
	StrategyTiny    ChunkStrategy = "tiny"
	StrategyLayout  ChunkStrategy = "layout"
	StrategySection ChunkStrategy = "section"
)

type ChunkPlan struct {
	PlanID     string
	DocID      string
	Strategy   ChunkStrategy
	Params     map[string]any
	PageSpan   [2]int
	BlockCount int
	CreatedAt  time.Time
}

type Chunk struct {
	ChunkID   string
	PlanID    string
	DocID     string
	SpanStart int
	SpanEnd   int
	PageStart int
	PageEnd   int
	Text      string
	Meta      map[string]any // types[], source_block_ids[], tokens, strategy, context_headers[]
	Checksum  string
}

type GraphNodeType string

const (
	NodeDocument GraphNodeType = "document"
)

type GraphNode struct {
	NodeID string
	DocID  string
	Type   string
	Label  string
	Meta   map[string]any
}

type GraphEdgeRel string

const (
	RelContains GraphEdgeRel = "contains"
	RelFollows  GraphEdgeRel = "follows"
)

type GraphEdge struct {
	EdgeID    string
	DocID     string
	SrcNodeID string
	DstNodeID string
	RelType   GraphEdgeRel
	Weight    float64
	Meta      map[string]any
}

type EventStage string

const (
	StageStored    EventStage = "STORED"
	StageNormalized EventStage = "NORMALIZED"
	StageExtracted EventStage = "EXTRACTED"
	StageChunked   EventStage = "CHUNKED"
	StageChunkPlan EventStage = "CHUNK_PLAN"
	StageGraph     EventStage = "GRAPH"
	StageEmbedded  EventStage = "EMBEDDED"
	StageRetrieve  EventStage = "RETRIEVE"
	StageGenerate  EventStage = "GENERATE"
	StageChecker   EventStage = "CHECKER"
	StagePipeline  EventStage = "PIPELINE"
	StageSystem    EventStage = "SYSTEM"
	StageFeedback  EventStage = "FEEDBACK"
)

type EventStatus string

const (
	StatusOK   EventStatus = "OK"
	StatusWarn EventStatus = "WARN"
	StatusFail EventStatus = "FAIL"
	StatusInfo EventStatus = "INFO"
)

type Event struct {
	EventID     string
	TenantID    string
	DocID       *string
	Stage       EventStage
	Status      EventStatus
	DetailsJSON map[string]any
	TS          time.Time
	TraceID     string
}

type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobError   JobStatus = "ERROR"
)

type Job struct {
	JobID     string
	JobType   string
	Status    JobStatus
	Payload   map[string]any
	Progress  float64
	Result    map[string]any
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type InvoiceLineItem struct {
	ID          int64
	InvoiceID   string
	Description string
	Qty         float64
	UnitPrice   float64
	Amount      float64
}

type Invoice struct {
	InvoiceID     string // = doc_id
	Vendor        string
	InvoiceNumber string
	InvoiceDate   *time.Time
	DueDate       *time.Time
	Total         float64
	Currency      string
	Meta          map[string]any
	LineItems     []InvoiceLineItem
}

type Contract struct {
	ContractID    string // = doc_id
	Parties       []string
	EffectiveDate *time.Time
	ExpiryDate    *time.Time
	GoverningLaw  string
	Meta          map[string]any
}
