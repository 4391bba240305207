package generate

import (
	"context"
	"strings"

	"manifold/internal/llm"
	"manifold/internal/rag/retrieve"
	"manifold/internal/rag/router"
)

// StreamEvent is one event in the meta -> chunk* -> meta -> done contract.
type StreamEvent struct {
	Type      string    `json:"type"` // "meta" | "chunk" | "done" | "error"
	Delta     string    `json:"delta,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	UsedChunks []string  `json:"used_chunks,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Final     bool      `json:"final,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// PrepareForStream runs everything up to the LLM call (retrieval, packing,
// mode selection, placeholder citations) so a streaming caller can emit an
// initial meta event before any tokens arrive.
type StreamPrep struct {
	Messages   []streamMessage
	Citations  []Citation
	UsedChunks []string
	Warnings   []string
	Mode       string
	packed     PackedContext
}

type streamMessage struct {
	Role    string
	Content string
}

func (s *Service) PrepareForStream(ctx context.Context, query string, docIDs []string) (StreamPrep, error) {
	plan := router.Plan{Intent: router.Hybrid, Query: query}
	if s.Router != nil {
		plan = s.Router.Route(ctx, query)
	}
	hints := retrieve.ExtractHints(query)
	numericQuery := hints.Numeric || plan.Filters["flavor"] == "numeric"

	resp, err := s.Retrieve.Retrieve(ctx, query, defaultRetrieveOptions())
	if err != nil {
		return StreamPrep{}, err
	}
	packed := Pack(resp.Items, numericQuery, s.Config.TokenBudget, s.Config.MaxStitchPerDoc)
	mode := selectMode(query, numericQuery)
	messages := buildMessages(query, packed, mode)

	msgs := make([]streamMessage, len(messages))
	for i, m := range messages {
		msgs[i] = streamMessage{Role: m.Role, Content: m.Content}
	}
	return StreamPrep{
		Messages:   msgs,
		Citations:  toResponseCitations(packed.Footnotes),
		UsedChunks: usedChunkIDs(packed.Footnotes),
		Mode:       string(mode),
		packed:     packed,
	}, nil
}

// StreamHandler receives events as the answer is produced. Implementations
// forward them over whatever transport the caller uses (SSE, websocket).
type StreamHandler func(StreamEvent)

// Stream runs the prepared plan through the LLM's streaming API, emitting a
// leading meta event with placeholder citations, chunk events as tokens
// arrive, and a closing meta+done pair once groundedness can be scored. Any
// failure mid-stream emits a single error event instead of done.
func (s *Service) Stream(ctx context.Context, prep StreamPrep, handler StreamHandler) error {
	handler(StreamEvent{Type: "meta", Citations: prep.Citations, UsedChunks: prep.UsedChunks, Mode: prep.Mode, Warnings: prep.Warnings})

	if s.LLM == nil {
		handler(StreamEvent{Type: "error", Error: "no language model configured"})
		return nil
	}

	var full strings.Builder
	h := &collectingHandler{onDelta: func(delta string) {
		full.WriteString(delta)
		handler(StreamEvent{Type: "chunk", Delta: delta})
	}}

	msgs := make([]llm.Message, len(prep.Messages))
	for i, m := range prep.Messages {
		msgs[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	if err := s.LLM.ChatStream(ctx, msgs, nil, s.Config.Model, h); err != nil {
		handler(StreamEvent{Type: "error", Error: err.Error()})
		return err
	}

	answer := full.String()
	parsed, perr := parseLLMAnswer(answer)
	if perr != nil {
		parsed = synthesizeLowConfidence(prep.packed)
	}
	citations := repairCitations(parsed.Citations, prep.packed.Footnotes, parsed.Answer)
	ground := groundedness(parsed.Answer, prep.packed.Text)

	var warnings []string
	if ground < s.Config.GroundedMin || len(citations) == 0 {
		warnings = append(warnings, "low_groundedness")
	}

	handler(StreamEvent{
		Type: "meta", Final: true,
		Citations: toResponseCitations(citations), UsedChunks: usedChunkIDs(citations),
		Mode: prep.Mode, Warnings: warnings,
	})
	handler(StreamEvent{Type: "done"})
	return nil
}

type collectingHandler struct {
	onDelta func(string)
}

func (h *collectingHandler) OnDelta(content string)        { h.onDelta(content) }
func (h *collectingHandler) OnToolCall(tc llm.ToolCall)     {}
func (h *collectingHandler) OnImage(img llm.GeneratedImage) {}
func (h *collectingHandler) OnThoughtSummary(summary string) {}
