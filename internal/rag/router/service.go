// Package router implements the Query Router (C13): an optional LLM-based
// planner with a regex fallback that classifies a query's intent and
// normalizes multi-query/filter hints before retrieval.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"manifold/internal/llm"
)

type Intent string

const (
	Hybrid        Intent = "HYBRID"
	FactLookup    Intent = "FACT_LOOKUP"
	Comparison    Intent = "COMPARISON"
	Summarization Intent = "SUMMARIZATION"
)

// Plan is the router's output: a classified intent, a single merged
// semantic query (multi-queries from the planner are concatenated), and
// filters to fold into the retrieval plan.
type Plan struct {
	Intent    Intent
	Query     string
	Filters   map[string]string
	Reasoning string
}

type Service struct {
	LLM   llm.Provider
	Model string
}

func New(provider llm.Provider, model string) *Service {
	return &Service{LLM: provider, Model: model}
}

// Route classifies the query, preferring the LLM planner and degrading to
// the regex fallback on any planner failure (unreachable model, malformed
// JSON, unknown intent).
func (s *Service) Route(ctx context.Context, query string) Plan {
	if s.LLM != nil {
		if plan, err := s.planWithLLM(ctx, query); err == nil {
			return plan
		}
	}
	return s.regexFallback(query)
}

type llmPlanResponse struct {
	Intent    string   `json:"intent"`
	Queries   []string `json:"queries"`
	Filters   map[string]string `json:"filters"`
	Reasoning string   `json:"reasoning"`
}

const plannerSystemPrompt = `You are a retrieval query planner. Given a user question, respond with
JSON only: {"intent": one of HYBRID|FACT_LOOKUP|COMPARISON|SUMMARIZATION,
"queries": [one or more rephrased search queries], "filters": {optional
string key/value constraints}, "reasoning": a short justification}. Use
FACT_LOOKUP only for a single discrete fact (an invoice total, a named
quantity). Use COMPARISON when two or more items are being contrasted.
Use SUMMARIZATION when the user wants an overview. Otherwise use HYBRID.`

func (s *Service) planWithLLM(ctx context.Context, query string) (Plan, error) {
	msgs := []llm.Message{
		{Role: "system", Content: plannerSystemPrompt},
		{Role: "user", Content: query},
	}
	resp, err := s.LLM.Chat(ctx, msgs, nil, s.Model)
	if err != nil {
		return Plan{}, fmt.Errorf("router: planner call: %w", err)
	}
	var parsed llmPlanResponse
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		return Plan{}, fmt.Errorf("router: parsing planner response: %w", err)
	}
	intent := Intent(strings.ToUpper(strings.TrimSpace(parsed.Intent)))
	if !validIntent(intent) {
		return Plan{}, fmt.Errorf("router: unknown intent %q", parsed.Intent)
	}
	if len(parsed.Queries) == 0 {
		return Plan{}, fmt.Errorf("router: planner returned no queries")
	}
	filters := parsed.Filters
	if filters == nil {
		filters = map[string]string{}
	}
	return Plan{
		Intent:    intent,
		Query:     strings.Join(parsed.Queries, " "),
		Filters:   filters,
		Reasoning: parsed.Reasoning,
	}, nil
}

func validIntent(i Intent) bool {
	switch i {
	case Hybrid, FactLookup, Comparison, Summarization:
		return true
	default:
		return false
	}
}

// extractJSON strips any leading/trailing prose or code fences a model may
// wrap its JSON response in.
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

var (
	invoiceNumberRe  = regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?|number)\s*[:#]?\s*[A-Za-z0-9\-_/]+`)
	studentFeesRe    = regexp.MustCompile(`(?i)student\s+name.*\b(fee|fees|balance|total)\b`)
	comparisonRe     = regexp.MustCompile(`(?i)\b(compare|versus|vs\.?|difference between)\b`)
	summarizationRe  = regexp.MustCompile(`(?i)\b(summarize|summary|overview|tl;?dr)\b`)
	numericFlavorRe  = regexp.MustCompile(`(?i)\b(total|sum|how much|count|average|amount)\b`)
	listFlavorRe     = regexp.MustCompile(`(?i)\b(list|enumerate|which (ones|items)|what are the)\b`)
	clauseFlavorRe   = regexp.MustCompile(`(?i)\b(clause|section|term|provision)\b`)
)

// regexFallback classifies by keyword pattern and tags a query "flavor"
// (numeric/list/clause) used downstream for context packing priority.
func (s *Service) regexFallback(query string) Plan {
	intent := Hybrid
	switch {
	case invoiceNumberRe.MatchString(query) || studentFeesRe.MatchString(query):
		intent = FactLookup
	case comparisonRe.MatchString(query):
		intent = Comparison
	case summarizationRe.MatchString(query):
		intent = Summarization
	}

	filters := map[string]string{}
	switch {
	case numericFlavorRe.MatchString(query):
		filters["flavor"] = "numeric"
	case listFlavorRe.MatchString(query):
		filters["flavor"] = "list"
	case clauseFlavorRe.MatchString(query):
		filters["flavor"] = "clause"
	}

	return Plan{Intent: intent, Query: query, Filters: filters, Reasoning: "regex_fallback"}
}
