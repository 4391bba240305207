package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"manifold/internal/llm"
	"manifold/internal/ragconfig"
	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
	"manifold/internal/rag/factlookup"
	"manifold/internal/rag/retrieve"
	"manifold/internal/rag/router"
)

// Citation is the client-facing citation attached to a generated answer.
type Citation struct {
	N         int    `json:"n"`
	DocID     string `json:"doc_id"`
	ChunkID   string `json:"chunk_id,omitempty"`
	PageStart int    `json:"page_start,omitempty"`
	PageEnd   int    `json:"page_end,omitempty"`
	URI       string `json:"uri"`
}

// Response is the final generation result returned to callers.
type Response struct {
	Answer       string     `json:"answer"`
	Citations    []Citation `json:"citations"`
	UsedChunks   []string   `json:"used_chunks"`
	Mode         string     `json:"mode"`
	Confidence   float64    `json:"confidence"`
	Groundedness float64    `json:"groundedness"`
	Warnings     []string   `json:"warnings,omitempty"`
}

// Service is the C15 Generation Service: it greets, prepends a computed
// total-spend source for date-ranged numeric queries, retrieves, packs
// context, prompts, validates, and scores groundedness.
type Service struct {
	Retrieve   *retrieve.Service
	FactLookup *factlookup.Service
	Router     *router.Service
	Store      *ragstore.Store
	LLM        llm.Provider
	Config     ragconfig.GenerationConfig
	FactConfMin float64
}

func New(retr *retrieve.Service, fact *factlookup.Service, rt *router.Service, store *ragstore.Store, provider llm.Provider, cfg ragconfig.GenerationConfig, factConfMin float64) *Service {
	return &Service{Retrieve: retr, FactLookup: fact, Router: rt, Store: store, LLM: provider, Config: cfg, FactConfMin: factConfMin}
}

var greetingRe = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|good (morning|afternoon|evening))[\s!.,]*$`)

const greetingAnswer = "Hello! Ask me anything about the documents you've uploaded and I'll do my best to answer with citations."

var telegramRe = regexp.MustCompile(`(?i)\btelegram\b`)

type promptMode string

const (
	modeNumericTotal promptMode = "NUMERIC_TOTAL"
	modeList         promptMode = "LIST"
	modeClause       promptMode = "CLAUSE"
	modeDefault      promptMode = "DEFAULT"
)

// Answer runs the full generation pipeline for one query.
func (s *Service) Answer(ctx context.Context, query string, docIDs []string) (Response, error) {
	const op = "generate.Answer"

	if greetingRe.MatchString(query) {
		return Response{Answer: greetingAnswer, Mode: string(modeDefault), Confidence: 1.0, Groundedness: 1.0}, nil
	}

	plan := router.Plan{Intent: router.Hybrid, Query: query}
	if s.Router != nil {
		plan = s.Router.Route(ctx, query)
	}

	if plan.Intent == router.FactLookup && s.FactLookup != nil {
		if fr, err := s.FactLookup.Lookup(ctx, query, docIDs); err == nil && fr.Confidence >= s.FactConfMin && fr.Answer != "" {
			return factResultToResponse(fr), nil
		}
	}

	hints := retrieve.ExtractHints(query)
	numericQuery := hints.Numeric || plan.Filters["flavor"] == "numeric"

	var metricNote string
	if numericQuery && hints.DateStart != nil && hints.DateEnd != nil && s.Store != nil {
		if total, err := s.Store.TotalSpend(ctx, hints.DateStart.Format("2006-01-02"), hints.DateEnd.Format("2006-01-02")); err == nil {
			metricNote = fmt.Sprintf("Computed total spend for the requested range: %.2f", total)
		}
	}

	resp, err := s.Retrieve.Retrieve(ctx, query, defaultRetrieveOptions())
	if err != nil {
		return Response{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}

	packed := Pack(resp.Items, numericQuery, s.Config.TokenBudget, s.Config.MaxStitchPerDoc)
	if metricNote != "" {
		packed.Text = "Source ID: [^0]\nDocument: computed\nContent:\n" + metricNote + "\n---\n" + packed.Text
		packed.Footnotes = append([]Footnote{{N: 0, DocID: "computed", URI: "computed", Score: 0.99}}, packed.Footnotes...)
	}

	mode := selectMode(query, numericQuery)
	messages := buildMessages(query, packed, mode)

	var parsed llmAnswer
	var raw string
	if s.LLM != nil {
		raw, err = s.callLLM(ctx, messages)
		if err == nil {
			parsed, err = parseLLMAnswer(raw)
		}
		if err != nil {
			raw, err = s.callLLM(ctx, append(messages, llm.Message{Role: "user", Content: "Your previous response was invalid. Respond with strict JSON only: {\"answer\":string,\"citations\":[{\"n\":int}],\"confidence\":number between 0 and 1}."}))
			if err == nil {
				parsed, err = parseLLMAnswer(raw)
			}
		}
	}
	var warnings []string
	if err != nil || s.LLM == nil {
		parsed = synthesizeLowConfidence(packed)
		warnings = append(warnings, "generation_fallback")
	}

	answer := parsed.Answer
	citations := repairCitations(parsed.Citations, packed.Footnotes, answer)

	if numericQuery && !hasNumber(answer) {
		if sum, ok := naiveContextSum(packed.Text); ok {
			answer = fmt.Sprintf("Total: %.2f\n%s", sum, answer)
			if len(citations) == 0 && len(packed.Footnotes) > 0 {
				citations = append(citations, packed.Footnotes[0])
			}
		}
	}

	ground := groundedness(answer, packed.Text)
	if ground < s.Config.GroundedMin || len(citations) == 0 {
		answer = "Note: the available context offers limited support for this answer.\n" + answer
		warnings = append(warnings, "low_groundedness")
	}

	return Response{
		Answer:       answer,
		Citations:    toResponseCitations(citations),
		UsedChunks:   usedChunkIDs(citations),
		Mode:         string(mode),
		Confidence:   0.5*parsed.Confidence + 0.5*ground,
		Groundedness: ground,
		Warnings:     warnings,
	}, nil
}

func defaultRetrieveOptions() retrieve.RetrieveOptions {
	return retrieve.RetrieveOptions{
		K: 12, FtK: 40, VecK: 40, UseRRF: true, IncludeText: true,
		Diversify: true, UseMMR: true, GraphAugment: true,
		ExpandWindows: true, WindowMaxChars: 1200,
	}
}

func factResultToResponse(fr factlookup.Result) Response {
	cites := make([]Citation, len(fr.Citations))
	for i, c := range fr.Citations {
		cites[i] = Citation{N: c.N, DocID: c.DocID, ChunkID: c.ChunkID, PageStart: c.PageStart, PageEnd: c.PageEnd, URI: c.URI}
	}
	return Response{
		Answer: fr.Answer, Citations: cites, UsedChunks: fr.UsedChunks,
		Mode: "FACT_LOOKUP", Confidence: fr.Confidence, Groundedness: fr.Confidence,
	}
}

var (
	numericModeRe = regexp.MustCompile(`(?i)\b(total|sum|how much|average|count)\b`)
	listModeRe    = regexp.MustCompile(`(?i)\b(list|enumerate|what are the)\b`)
	clauseModeRe  = regexp.MustCompile(`(?i)\b(clause|term|provision|section)\b`)
)

func selectMode(query string, numericQuery bool) promptMode {
	switch {
	case numericQuery || numericModeRe.MatchString(query):
		return modeNumericTotal
	case listModeRe.MatchString(query):
		return modeList
	case clauseModeRe.MatchString(query):
		return modeClause
	default:
		return modeDefault
	}
}

func buildMessages(query string, packed PackedContext, mode promptMode) []llm.Message {
	instruction := modeInstruction(mode)
	if telegramRe.MatchString(query) {
		instruction += " Respond in plain text only, no markdown."
	}
	system := "You are a grounded question-answering assistant. Use only the provided sources. " +
		"Cite every factual claim with the matching [^n] marker. " + instruction +
		" Respond with JSON only: {\"answer\":string,\"citations\":[{\"n\":int}],\"confidence\":number between 0 and 1}."
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Question: %s\n\nSources:\n%s", query, packed.Text)},
	}
}

func modeInstruction(mode promptMode) string {
	switch mode {
	case modeNumericTotal:
		return "The question asks for a number; state it plainly before any explanation."
	case modeList:
		return "Answer as a concise list."
	case modeClause:
		return "Quote the relevant clause or provision directly."
	default:
		return ""
	}
}

type llmAnswer struct {
	Answer     string          `json:"answer"`
	Citations  []citationRef   `json:"citations"`
	Confidence float64         `json:"confidence"`
}

type citationRef struct {
	N int `json:"n"`
}

func (s *Service) callLLM(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := s.LLM.Chat(ctx, messages, nil, s.Config.Model)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func parseLLMAnswer(raw string) (llmAnswer, error) {
	var a llmAnswer
	if err := json.Unmarshal([]byte(extractJSON(raw)), &a); err != nil {
		return llmAnswer{}, fmt.Errorf("generate: parsing answer: %w", err)
	}
	if strings.TrimSpace(a.Answer) == "" {
		return llmAnswer{}, fmt.Errorf("generate: empty answer")
	}
	return a, nil
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func synthesizeLowConfidence(packed PackedContext) llmAnswer {
	n := len(packed.Footnotes)
	if n > 2 {
		n = 2
	}
	refs := make([]citationRef, n)
	for i := 0; i < n; i++ {
		refs[i] = citationRef{N: packed.Footnotes[i].N}
	}
	return llmAnswer{
		Answer:     "I could not produce a confident answer from the available sources.",
		Citations:  refs,
		Confidence: 0.2,
	}
}

var footnoteMarkerRe = regexp.MustCompile(`\[\^(\d+)\]`)

// repairCitations falls back to extracting [^n] markers from the answer
// text when the model returned no parsed citations, and finally to the
// first two footnotes when even that yields nothing.
func repairCitations(refs []citationRef, footnotes []Footnote, answer string) []Footnote {
	byN := map[int]Footnote{}
	for _, f := range footnotes {
		byN[f.N] = f
	}
	var out []Footnote
	for _, r := range refs {
		if f, ok := byN[r.N]; ok {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		for _, m := range footnoteMarkerRe.FindAllStringSubmatch(answer, -1) {
			var n int
			fmt.Sscanf(m[1], "%d", &n)
			if f, ok := byN[n]; ok {
				out = append(out, f)
			}
		}
	}
	if len(out) == 0 && len(footnotes) > 0 {
		end := 2
		if end > len(footnotes) {
			end = len(footnotes)
		}
		out = append(out, footnotes[:end]...)
	}
	return out
}

func toResponseCitations(footnotes []Footnote) []Citation {
	out := make([]Citation, len(footnotes))
	for i, f := range footnotes {
		out[i] = Citation{N: f.N, DocID: f.DocID, ChunkID: f.ChunkID, PageStart: f.PageStart, PageEnd: f.PageEnd, URI: f.URI}
	}
	return out
}

func usedChunkIDs(footnotes []Footnote) []string {
	var out []string
	for _, f := range footnotes {
		if f.ChunkID != "" {
			out = append(out, f.ChunkID)
		}
	}
	return out
}

func hasNumber(s string) bool {
	return numberTokenRe.MatchString(s)
}

// naiveContextSum sums every number token in the packed context (including
// the numbers in source headers such as "[^1]" and "p1") when there are at
// least two, as a last-resort numeric anchor for answers
// the model left unstated.
func naiveContextSum(context string) (float64, bool) {
	matches := numberTokenRe.FindAllString(context, -1)
	if len(matches) < 2 {
		return 0, false
	}
	var sum float64
	var count int
	for _, m := range matches {
		var v float64
		if _, err := fmt.Sscanf(strings.ReplaceAll(m, ",", ""), "%f", &v); err == nil {
			sum += v
			count++
		}
	}
	if count < 2 {
		return 0, false
	}
	return sum, true
}
