// Package factlookup implements the Fact Lookup Service (C14): a direct
// structured-answer path for FACT_LOOKUP-intent queries, used by generation
// when its confidence clears fact_conf_min.
package factlookup

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"manifold/internal/objectstore"
	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

type Citation struct {
	N         int
	DocID     string
	ChunkID   string
	PageStart int
	PageEnd   int
	URI       string
}

type Result struct {
	Answer     string
	Citations  []Citation
	UsedChunks []string
	Confidence float64
}

type Service struct {
	Store *ragstore.Store
}

func New(store *ragstore.Store) *Service {
	return &Service{Store: store}
}

var (
	invoiceNumberQueryRe = regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?|number)\s*[:#]?\s*([A-Za-z0-9\-_/]+)`)
	studentNameQueryRe   = regexp.MustCompile(`(?i)student\s+name`)

	currencyLineRe      = regexp.MustCompile(`(?i)([A-Za-z ,]{0,30}?)[:\-]?\s*[$€£]\s?([\d,]+\.\d{2})`)
	labeledTotalWords    = regexp.MustCompile(`(?i)\b(total|balance|due|fees?|amount)\b`)
	studentNameLineRe   = regexp.MustCompile(`(?i)student\s*name\s*[:\-]?\s*(.+)`)
)

// Lookup attempts to answer a FACT_LOOKUP-intent query directly from
// structured invoice rows or, failing that, by scanning chunk text for
// currency-labeled lines. docIDs scopes the chunk scan when non-empty.
func (s *Service) Lookup(ctx context.Context, query string, docIDs []string) (Result, error) {
	const op = "factlookup.Lookup"

	if m := invoiceNumberQueryRe.FindStringSubmatch(query); m != nil {
		return s.invoiceTotalByNumber(ctx, op, strings.TrimSpace(m[1]), docIDs)
	}
	if studentNameQueryRe.MatchString(query) {
		return s.studentFees(ctx, op, docIDs)
	}
	return Result{}, nil
}

func (s *Service) invoiceTotalByNumber(ctx context.Context, op, number string, docIDs []string) (Result, error) {
	inv, found, err := s.Store.GetInvoiceByNumber(ctx, number)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}
	if found {
		citation := Citation{N: 1, DocID: inv.InvoiceID, URI: citationURI(inv.InvoiceID)}
		return Result{
			Answer:     fmt.Sprintf("%.2f %s", inv.Total, inv.Currency),
			Citations:  []Citation{citation},
			UsedChunks: nil,
			Confidence: 0.95,
		}, nil
	}

	hits, err := s.Store.SearchChunksFTS(ctx, docIDs, number, 20)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}
	return s.bestCurrencyLine(ctx, op, hits)
}

func (s *Service) studentFees(ctx context.Context, op string, docIDs []string) (Result, error) {
	hits, err := s.Store.SearchChunksFTS(ctx, docIDs, "student name fees total", 20)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}
	if len(hits) == 0 {
		return Result{}, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := s.Store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}

	var name string
	var best *ragstore.Chunk
	var bestAmount string
	for i, c := range chunks {
		if name == "" {
			if m := studentNameLineRe.FindStringSubmatch(c.Text); m != nil {
				name = strings.TrimSpace(firstLine(m[1]))
			}
		}
		if m := currencyLineRe.FindStringSubmatch(c.Text); m != nil && labeledTotalWords.MatchString(m[1]) {
			best = &chunks[i]
			bestAmount = m[2]
		}
	}
	if name == "" || best == nil {
		return Result{}, nil
	}

	answer := fmt.Sprintf("%s: %s", name, bestAmount)
	return Result{
		Answer:     answer,
		Citations:  []Citation{chunkCitation(1, *best)},
		UsedChunks: []string{best.ChunkID},
		Confidence: 0.7,
	}, nil
}

// bestCurrencyLine scores each hit's currency-labeled lines, preferring
// lines whose label contains a total/balance/due/fee word over bare
// currency mentions, and returns the highest-scoring match as the answer.
func (s *Service) bestCurrencyLine(ctx context.Context, op string, hits []ragstore.FTSHit) (Result, error) {
	if len(hits) == 0 {
		return Result{}, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	chunks, err := s.Store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}

	type scored struct {
		chunk  ragstore.Chunk
		amount string
		score  int
	}
	var candidates []scored
	for _, c := range chunks {
		for _, m := range currencyLineRe.FindAllStringSubmatch(c.Text, -1) {
			score := 1
			if labeledTotalWords.MatchString(m[1]) {
				score = 2
			}
			candidates = append(candidates, scored{chunk: c, amount: m[2], score: score})
		}
	}
	if len(candidates) == 0 {
		return Result{}, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	top := candidates[0]

	confidence := 0.5
	if top.score == 2 {
		confidence = 0.75
	}
	return Result{
		Answer:     top.amount,
		Citations:  []Citation{chunkCitation(1, top.chunk)},
		UsedChunks: []string{top.chunk.ChunkID},
		Confidence: confidence,
	}, nil
}

func chunkCitation(n int, c ragstore.Chunk) Citation {
	return Citation{
		N: n, DocID: c.DocID, ChunkID: c.ChunkID,
		PageStart: c.PageStart, PageEnd: c.PageEnd,
		URI: citationURI(c.DocID),
	}
}

func citationURI(docID string) string {
	return objectstore.CanonicalHTMLKey(docID)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if i := strings.IndexAny(s, ".,;"); i >= 0 {
		return s[:i]
	}
	return s
}
