// Package generate implements the Generation Service (C15): context
// packing, prompt construction, groundedness scoring, and the streaming
// answer contract.
package generate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"manifold/internal/rag/retrieve"
)

// Footnote is one emitted source block's citation record.
type Footnote struct {
	N         int
	DocID     string
	ChunkID   string
	PageStart int
	PageEnd   int
	URI       string
	BlockIDs  []string
	Score     float64
}

// PackedContext is the result of packing retrieved items into source blocks
// under a token budget.
type PackedContext struct {
	Text      string
	Footnotes []Footnote
}

const approxCharsPerToken = 4

// Pack sorts items (tables/lists first for numeric queries), round-robins
// across documents for source diversity, stitches consecutive chunks per
// document into blocks <= 2000 chars, and emits source blocks until the
// token budget is exhausted.
func Pack(items []retrieve.RetrievedItem, numericQuery bool, tokenBudget, maxStitchPerDoc int) PackedContext {
	ordered := sortForPacking(items, numericQuery)
	stitched := stitchByDoc(ordered, 2000)
	roundRobined := roundRobinByDoc(stitched, maxStitchPerDoc)

	budgetChars := (tokenBudget - 150) * approxCharsPerToken
	if budgetChars < 0 {
		budgetChars = 0
	}

	var sb strings.Builder
	var footnotes []Footnote
	n := 0
	for _, blk := range roundRobined {
		block := formatSourceBlock(n+1, blk)
		if sb.Len()+len(block) > budgetChars && n > 0 {
			break
		}
		n++
		sb.WriteString(block)
		footnotes = append(footnotes, Footnote{
			N: n, DocID: blk.docID, ChunkID: blk.chunkID,
			PageStart: blk.pageStart, PageEnd: blk.pageEnd,
			URI: blk.uri, BlockIDs: blk.blockIDs, Score: blk.score,
		})
	}
	return PackedContext{Text: sb.String(), Footnotes: footnotes}
}

type sourceBlock struct {
	docID     string
	chunkID   string
	pageStart int
	pageEnd   int
	uri       string
	blockIDs  []string
	score     float64
	text      string
}

func sortForPacking(items []retrieve.RetrievedItem, numericQuery bool) []retrieve.RetrievedItem {
	out := make([]retrieve.RetrievedItem, len(items))
	copy(out, items)
	if !numericQuery {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		ti := isTableOrList(out[i])
		tj := isTableOrList(out[j])
		if ti != tj {
			return ti
		}
		return out[i].Score > out[j].Score
	})
	return out
}

func isTableOrList(it retrieve.RetrievedItem) bool {
	types := it.Metadata["types"]
	return strings.Contains(types, "table") || strings.Contains(types, "list")
}

func stitchByDoc(items []retrieve.RetrievedItem, maxChars int) []sourceBlock {
	byDoc := map[string][]retrieve.RetrievedItem{}
	var order []string
	for _, it := range items {
		if _, ok := byDoc[it.DocID]; !ok {
			order = append(order, it.DocID)
		}
		byDoc[it.DocID] = append(byDoc[it.DocID], it)
	}

	var out []sourceBlock
	for _, docID := range order {
		group := byDoc[docID]
		var cur sourceBlock
		var curText []string
		flush := func() {
			if len(curText) == 0 {
				return
			}
			cur.text = strings.Join(curText, "\n")
			out = append(out, cur)
			curText = nil
		}
		for i, it := range group {
			pageStart, pageEnd := pageSpan(it)
			if i == 0 || len(strings.Join(curText, "\n"))+len(it.Text) > maxChars || !contiguous(cur.pageEnd, pageStart) {
				flush()
				cur = sourceBlock{docID: it.DocID, chunkID: it.ID, pageStart: pageStart, pageEnd: pageEnd, uri: docURI(it), score: it.Score}
			}
			curText = append(curText, it.Text)
			cur.pageEnd = pageEnd
			cur.blockIDs = append(cur.blockIDs, it.ID)
			if it.Score > cur.score {
				cur.score = it.Score
			}
		}
		flush()
	}
	return out
}

func contiguous(prevEnd, nextStart int) bool {
	return nextStart == prevEnd || nextStart == prevEnd+1
}

func pageSpan(it retrieve.RetrievedItem) (int, int) {
	start := atoiOr(it.Metadata["page_start"], 0)
	end := atoiOr(it.Metadata["page_end"], start)
	return start, end
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}

func docURI(it retrieve.RetrievedItem) string {
	if it.Doc.URL != "" {
		return it.Doc.URL
	}
	return it.Metadata["uri"]
}

// roundRobinByDoc interleaves source blocks across documents (so the
// earliest-packed blocks aren't all from one source) while capping the
// number of blocks per document at maxStitchPerDoc.
func roundRobinByDoc(blocks []sourceBlock, maxStitchPerDoc int) []sourceBlock {
	byDoc := map[string][]sourceBlock{}
	var order []string
	for _, b := range blocks {
		if _, ok := byDoc[b.docID]; !ok {
			order = append(order, b.docID)
		}
		byDoc[b.docID] = append(byDoc[b.docID], b)
	}
	var out []sourceBlock
	for i := 0; ; i++ {
		progressed := false
		for _, docID := range order {
			group := byDoc[docID]
			if i >= len(group) {
				continue
			}
			if maxStitchPerDoc > 0 && i >= maxStitchPerDoc {
				continue
			}
			out = append(out, group[i])
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

func formatSourceBlock(n int, b sourceBlock) string {
	pageLabel := strconv.Itoa(b.pageStart)
	if b.pageEnd != b.pageStart {
		pageLabel = fmt.Sprintf("%d-%d", b.pageStart, b.pageEnd)
	}
	return fmt.Sprintf("Source ID: [^%d]\nDocument: %s\nPage: p%s\nContent:\n%s\n---\n", n, b.uri, pageLabel, b.text)
}
