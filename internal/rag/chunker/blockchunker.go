package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

// BlockChunker implements the Chunking Service (C8): it turns a document's
// ordered blocks into token-bounded chunks via strategy selection plus the
// narrative packing algorithm, grounded on SimpleChunker's greedy
// target-with-overlap shape but operating over typed blocks instead of flat
// text so header context and table chunks survive.
type BlockChunker struct {
	Store             *ragstore.Store
	TargetTokens       int
	OverlapTokens      int
	MaxChunksPerDoc    int
}

func NewBlockChunker(store *ragstore.Store, targetTokens, overlapTokens, maxChunks int) *BlockChunker {
	if targetTokens <= 0 {
		targetTokens = 400
	}
	if overlapTokens < 0 {
		overlapTokens = 40
	}
	if maxChunks <= 0 {
		maxChunks = 5000
	}
	return &BlockChunker{Store: store, TargetTokens: targetTokens, OverlapTokens: overlapTokens, MaxChunksPerDoc: maxChunks}
}

var separators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

func approxTokens(s string) int {
	n := (len(s) + 3) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}

// Chunk runs the full C8 pipeline for one document and atomically replaces
// its chunk plan and chunks.
func (c *BlockChunker) Chunk(ctx context.Context, docID string) (ragstore.ChunkPlan, []ragstore.Chunk, []string, error) {
	const op = "chunker.Chunk"
	blocks, err := c.Store.ListBlocks(ctx, docID)
	if err != nil {
		return ragstore.ChunkPlan{}, nil, nil, ragerr.Wrap(ragerr.Fatal, op, err)
	}

	strategy, totalChars, tableDensity := selectStrategy(blocks)
	var chunks []ragstore.Chunk
	var warnings []string

	switch strategy {
	case ragstore.StrategyTiny:
		chunks = tinyChunk(docID, blocks)
	case ragstore.StrategyLayout, ragstore.StrategySection:
		chunks = layoutAndNarrativeChunk(docID, blocks, c.TargetTokens, c.OverlapTokens)
	}

	if len(chunks) > c.MaxChunksPerDoc {
		chunks = chunks[:c.MaxChunksPerDoc]
	}

	coverage := coverageRatio(blocks, chunks)
	if coverage < 0.85 {
		warnings = append(warnings, fmt.Sprintf("low_coverage:%.2f", coverage))
	}
	tinyCount, nonTableCount := 0, 0
	for _, ch := range chunks {
		if isTableChunk(ch) {
			continue
		}
		nonTableCount++
		tok, _ := ch.Meta["tokens"].(int)
		if tok < 60 {
			tinyCount++
		}
		if tok > 1400 {
			warnings = append(warnings, fmt.Sprintf("chunk_too_large:%d", tok))
		}
	}
	if nonTableCount > 0 && float64(tinyCount)/float64(nonTableCount) > 0.30 {
		warnings = append(warnings, "too_many_tiny_chunks")
	}

	pageSpan := [2]int{0, 0}
	if len(blocks) > 0 {
		pageSpan[0] = blocks[0].Page
		pageSpan[1] = blocks[len(blocks)-1].Page
	}
	plan := ragstore.ChunkPlan{
		PlanID:     planID(docID),
		DocID:      docID,
		Strategy:   strategy,
		Params:     map[string]any{"target_tokens": c.TargetTokens, "overlap_tokens": c.OverlapTokens, "table_density": tableDensity, "total_chars": totalChars},
		PageSpan:   pageSpan,
		BlockCount: len(blocks),
	}

	if err := c.Store.ReplacePlanAndChunks(ctx, plan, chunks); err != nil {
		return ragstore.ChunkPlan{}, nil, nil, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	return plan, chunks, warnings, nil
}

func selectStrategy(blocks []ragstore.Block) (ragstore.ChunkStrategy, int, float64) {
	totalChars := 0
	tableCount := 0
	for _, b := range blocks {
		totalChars += len(b.Text)
		if b.Type == ragstore.BlockTable {
			tableCount++
		}
	}
	if totalChars < 600 {
		return ragstore.StrategyTiny, totalChars, 0
	}
	density := 0.0
	if len(blocks) > 0 {
		density = float64(tableCount) / float64(len(blocks))
	}
	// any table present routes to layout
	if tableCount > 0 {
		return ragstore.StrategyLayout, totalChars, density
	}
	return ragstore.StrategySection, totalChars, density
}

func tinyChunk(docID string, blocks []ragstore.Block) []ragstore.Chunk {
	var sb strings.Builder
	var headers []string
	var blockIDs []string
	start, end := 0, 0
	pageStart, pageEnd := 0, 0
	first := true
	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		if hs, ok := b.Meta["headers"].([]string); ok && len(hs) > len(headers) {
			headers = hs
		}
		if first {
			start = b.SpanStart
			pageStart = b.Page
			first = false
		}
		end = b.SpanEnd
		pageEnd = b.Page
		sb.WriteString(text)
		sb.WriteString("\n\n")
		blockIDs = append(blockIDs, b.BlockID)
	}
	text := headerPath(headers) + strings.TrimSpace(sb.String())
	c := ragstore.Chunk{
		ChunkID:   chunkID(docID, 0),
		DocID:     docID,
		SpanStart: start,
		SpanEnd:   end,
		PageStart: pageStart,
		PageEnd:   pageEnd,
		Text:      text,
		Meta: map[string]any{
			"types":            []string{"paragraph"},
			"source_block_ids": blockIDs,
			"tokens":           approxTokens(text),
			"strategy":         string(ragstore.StrategyTiny),
			"context_headers":  headers,
		},
		Checksum: checksum(text),
	}
	return []ragstore.Chunk{c}
}

func layoutAndNarrativeChunk(docID string, blocks []ragstore.Block, targetTokens, overlapTokens int) []ragstore.Chunk {
	var out []ragstore.Chunk
	idx := 0
	var narrative []ragstore.Block
	flushNarrative := func() {
		if len(narrative) == 0 {
			return
		}
		packed := packNarrative(docID, narrative, targetTokens, overlapTokens, &idx)
		out = append(out, packed...)
		narrative = nil
	}
	for _, b := range blocks {
		if b.Type == ragstore.BlockTable {
			flushNarrative()
			out = append(out, tableChunk(docID, b, idx))
			idx++
			continue
		}
		narrative = append(narrative, b)
	}
	flushNarrative()
	return out
}

func tableChunk(docID string, b ragstore.Block, idx int) ragstore.Chunk {
	meta := map[string]any{
		"types":            []string{"table"},
		"source_block_ids": []string{b.BlockID},
		"tokens":           approxTokens(b.Text),
		"strategy":         string(ragstore.StrategyLayout),
	}
	for _, k := range []string{"rows", "cols", "html"} {
		if v, ok := b.Meta[k]; ok {
			meta[k] = v
		}
	}
	if hs, ok := b.Meta["headers"].([]string); ok {
		meta["context_headers"] = hs
	}
	return ragstore.Chunk{
		ChunkID:   chunkID(docID, idx),
		DocID:     docID,
		SpanStart: b.SpanStart,
		SpanEnd:   b.SpanEnd,
		PageStart: b.Page,
		PageEnd:   b.Page,
		Text:      b.Text,
		Meta:      meta,
		Checksum:  checksum(b.Text),
	}
}

type segment struct {
	text      string
	blockID   string
	headers   []string
	spanStart int
	spanEnd   int
	page      int
	isList    bool
	isHeader  bool
}

// packNarrative implements the adaptive greedy packing algorithm: maintain
// a header stack, convert lists to bullet lines, pack segments to an
// adaptive target, split oversized segments on a prioritized separator
// list, apply variable overlap, then merge tiny orphan chunks forward.
func packNarrative(docID string, blocks []ragstore.Block, targetTokens, overlapTokens int, idx *int) []ragstore.Chunk {
	segs := make([]segment, 0, len(blocks))
	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		isList := b.Type == ragstore.BlockList
		if isList {
			text = bulletize(text)
		}
		var headers []string
		if hs, ok := b.Meta["headers"].([]string); ok {
			headers = hs
		}
		segs = append(segs, segment{
			text: headerPath(headers) + text, blockID: b.BlockID, headers: headers,
			spanStart: b.SpanStart, spanEnd: b.SpanEnd, page: b.Page,
			isList: isList, isHeader: b.Type == ragstore.BlockHeader,
		})
	}

	adaptiveTarget := targetTokens
	codeOrListHeavy := 0
	for _, s := range segs {
		if s.isList {
			codeOrListHeavy++
		}
	}
	if len(segs) > 0 && float64(codeOrListHeavy)/float64(len(segs)) > 0.4 {
		adaptiveTarget = targetTokens * 3 / 4
	}

	var chunks []ragstore.Chunk
	i := 0
	for i < len(segs) {
		var cur []segment
		curTokens := 0
		for i < len(segs) {
			segTok := approxTokens(segs[i].text)
			if segTok > adaptiveTarget && len(cur) == 0 {
				for _, piece := range splitOversized(segs[i].text, adaptiveTarget) {
					cur = append(cur, segment{text: piece, blockID: segs[i].blockID, headers: segs[i].headers, spanStart: segs[i].spanStart, spanEnd: segs[i].spanEnd, page: segs[i].page})
				}
				i++
				break
			}
			if curTokens+segTok > adaptiveTarget && len(cur) > 0 {
				break
			}
			cur = append(cur, segs[i])
			curTokens += segTok
			i++
		}
		if len(cur) == 0 {
			continue
		}
		chunks = append(chunks, buildChunk(docID, cur, *idx))
		*idx++
		// back up the start index by overlap worth of segments for the next
		// window, unless this is the tail.
		if i < len(segs) {
			ov := overlapForSegs(cur, overlapTokens)
			i = backUp(i, segs, ov)
		}
	}
	return mergeOrphans(chunks, adaptiveTarget)
}

func overlapForSegs(cur []segment, overlapTokens int) int {
	if len(cur) == 0 {
		return overlapTokens
	}
	last := cur[len(cur)-1]
	if last.isList || last.isHeader {
		return overlapTokens / 2
	}
	dense := 0
	for _, s := range cur {
		if approxTokens(s.text) >= 70 {
			dense++
		}
	}
	if len(cur) > 0 && float64(dense)/float64(len(cur)) >= 0.7 {
		return overlapTokens * 3 / 2
	}
	return overlapTokens
}

func backUp(i int, segs []segment, overlapTokens int) int {
	back := 0
	j := i
	for j > 0 && back < overlapTokens {
		j--
		back += approxTokens(segs[j].text)
	}
	if j >= i {
		return i
	}
	return j
}

func buildChunk(docID string, segs []segment, idx int) ragstore.Chunk {
	var sb strings.Builder
	var blockIDs []string
	var headers []string
	start, end, page0, page1 := segs[0].spanStart, segs[0].spanEnd, segs[0].page, segs[0].page
	for n, s := range segs {
		if n > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.text)
		blockIDs = append(blockIDs, s.blockID)
		if len(s.headers) > len(headers) {
			headers = s.headers
		}
		if s.spanStart < start {
			start = s.spanStart
		}
		if s.spanEnd > end {
			end = s.spanEnd
		}
		if s.page < page0 {
			page0 = s.page
		}
		if s.page > page1 {
			page1 = s.page
		}
	}
	text := sb.String()
	return ragstore.Chunk{
		ChunkID:   chunkID(docID, idx),
		DocID:     docID,
		SpanStart: start,
		SpanEnd:   end,
		PageStart: page0,
		PageEnd:   page1,
		Text:      text,
		Meta: map[string]any{
			"types":            []string{"paragraph"},
			"source_block_ids": blockIDs,
			"tokens":           approxTokens(text),
			"strategy":         string(ragstore.StrategySection),
			"context_headers":  headers,
		},
		Checksum: checksum(text),
	}
}

func mergeOrphans(chunks []ragstore.Chunk, target int) []ragstore.Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	out := make([]ragstore.Chunk, 0, len(chunks))
	for _, c := range chunks {
		tok, _ := c.Meta["tokens"].(int)
		if tok < 50 && len(out) > 0 && !isTableChunk(c) {
			prev := out[len(out)-1]
			prevTok, _ := prev.Meta["tokens"].(int)
			if prevTok+tok <= target*120/100 {
				prev.Text = prev.Text + "\n\n" + c.Text
				prev.SpanEnd = c.SpanEnd
				prev.PageEnd = c.PageEnd
				if ids, ok := prev.Meta["source_block_ids"].([]string); ok {
					if cids, ok2 := c.Meta["source_block_ids"].([]string); ok2 {
						prev.Meta["source_block_ids"] = append(ids, cids...)
					}
				}
				prev.Meta["tokens"] = approxTokens(prev.Text)
				prev.Checksum = checksum(prev.Text)
				out[len(out)-1] = prev
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

func isTableChunk(c ragstore.Chunk) bool {
	types, _ := c.Meta["types"].([]string)
	for _, t := range types {
		if t == "table" {
			return true
		}
	}
	return false
}

func bulletize(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, "• "+l)
	}
	return strings.Join(out, "\n")
}

func headerPath(headers []string) string {
	if len(headers) == 0 {
		return ""
	}
	return strings.Join(headers, " > ") + "\n\n"
}

// splitOversized splits text along the prioritized separator list, falling
// back to a hard character slice sized to approximate targetTokens.
func splitOversized(text string, targetTokens int) []string {
	targetChars := targetTokens * 4
	if len(text) <= targetChars {
		return []string{text}
	}
	for _, sep := range separators {
		parts := strings.Split(text, sep)
		if len(parts) > 1 {
			var pieces []string
			var cur strings.Builder
			for _, p := range parts {
				if cur.Len()+len(p) > targetChars && cur.Len() > 0 {
					pieces = append(pieces, cur.String())
					cur.Reset()
				}
				if cur.Len() > 0 {
					cur.WriteString(sep)
				}
				cur.WriteString(p)
			}
			if cur.Len() > 0 {
				pieces = append(pieces, cur.String())
			}
			allFit := true
			for _, p := range pieces {
				if len(p) > targetChars*2 {
					allFit = false
					break
				}
			}
			if allFit {
				return pieces
			}
		}
	}
	var pieces []string
	for start := 0; start < len(text); start += targetChars {
		end := start + targetChars
		if end > len(text) {
			end = len(text)
		}
		pieces = append(pieces, text[start:end])
	}
	return pieces
}

func coverageRatio(blocks []ragstore.Block, chunks []ragstore.Chunk) float64 {
	covered := map[string]struct{}{}
	for _, c := range chunks {
		if ids, ok := c.Meta["source_block_ids"].([]string); ok {
			for _, id := range ids {
				covered[id] = struct{}{}
			}
		}
	}
	totalChars, coveredChars := 0, 0
	for _, b := range blocks {
		totalChars += len(b.Text)
		if _, ok := covered[b.BlockID]; ok {
			coveredChars += len(b.Text)
		}
	}
	if totalChars == 0 {
		return 1
	}
	return float64(coveredChars) / float64(totalChars)
}

func checksum(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func chunkID(docID string, idx int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:chunk:%d", docID, idx)))
	return hex.EncodeToString(sum[:])[:32]
}

func planID(docID string) string {
	sum := sha256.Sum256([]byte(docID + ":plan"))
	return hex.EncodeToString(sum[:])[:32]
}
