package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"manifold/internal/persistence/databases"
	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

// DeltaResult reports what the incremental run actually did, letting callers
// verify the idempotence/delta guarantees.
type DeltaResult struct {
	Upserted int
	Deleted  int
}

// RunDelta implements the per-document C10 algorithm: scroll existing
// points, diff by checksum, embed only what changed, upsert, then delete
// stale points. Re-running with unchanged chunks is a no-op.
type dimensioned interface{ Dimension() int }

func RunDelta(ctx context.Context, store *ragstore.Store, vec databases.VectorStore, emb Embedder, docID string, planID string) (DeltaResult, error) {
	const op = "embedder.RunDelta"

	if d, ok := vec.(dimensioned); ok && d.Dimension() != emb.Dimension() {
		return DeltaResult{}, ragerr.New(ragerr.Fatal, op, fmt.Errorf("embedder dimension %d does not match index dimension %d", emb.Dimension(), d.Dimension()))
	}

	chunks, err := store.ListChunks(ctx, docID)
	if err != nil {
		return DeltaResult{}, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	if planID != "" {
		filtered := chunks[:0:0]
		for _, c := range chunks {
			if c.PlanID == planID {
				filtered = append(filtered, c)
			}
		}
		chunks = filtered
	}

	existing := map[string]string{}
	scroller, canScroll := vec.(databases.ScrollByDocID)
	if canScroll {
		existing, err = scroller.ScrollDoc(ctx, docID)
		if err != nil {
			return DeltaResult{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
		}
	}

	currentIDs := map[string]struct{}{}
	var needChunks []ragstore.Chunk
	for _, c := range chunks {
		currentIDs[c.ChunkID] = struct{}{}
		if existing[c.ChunkID] != c.Checksum {
			needChunks = append(needChunks, c)
		}
	}
	var stale []string
	for id := range existing {
		if _, ok := currentIDs[id]; !ok {
			stale = append(stale, id)
		}
	}

	var upserted int
	if len(needChunks) > 0 {
		texts := make([]string, len(needChunks))
		for i, c := range needChunks {
			texts[i] = embedText(c)
		}
		vectors, err := embedWithBackoff(ctx, emb, texts, batchSizeFor(emb))
		if err != nil {
			return DeltaResult{}, ragerr.Wrap(ragerr.TransientExternal, op, fmt.Errorf("embedding batch: %w", err))
		}
		for i, c := range needChunks {
			if i >= len(vectors) {
				break
			}
			if err := vec.Upsert(ctx, c.ChunkID, vectors[i], pointPayload(c, emb.Name())); err != nil {
				return DeltaResult{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
			}
			upserted++
		}
	}

	var deleted int
	if deleter, ok := vec.(databases.ScrollByDocID); ok && len(stale) > 0 {
		if err := deleter.DeleteByIDs(ctx, stale); err != nil {
			return DeltaResult{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
		}
		deleted = len(stale)
	} else {
		for _, id := range stale {
			if err := vec.Delete(ctx, id); err != nil {
				return DeltaResult{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
			}
			deleted++
		}
	}

	return DeltaResult{Upserted: upserted, Deleted: deleted}, nil
}

// embedText builds the embedding input: a type prefix, the header path, and
// the chunk text.
func embedText(c ragstore.Chunk) string {
	prefix := ""
	if types, ok := c.Meta["types"].([]string); ok {
		for _, t := range types {
			switch t {
			case "table":
				rows, _ := c.Meta["rows"].(string)
				cols, _ := c.Meta["cols"].(string)
				prefix = fmt.Sprintf("[table rows=%s cols=%s]", rows, cols)
			case "list":
				prefix = "[list]"
			}
		}
	}
	headerPath := ""
	if hs, ok := c.Meta["context_headers"].([]string); ok && len(hs) > 0 {
		for i, h := range hs {
			if i > 0 {
				headerPath += " > "
			}
			headerPath += h
		}
	}
	out := prefix
	if headerPath != "" {
		if out != "" {
			out += " "
		}
		out += headerPath
	}
	if out != "" {
		out += "\n\n"
	}
	return out + c.Text
}

// pointPayload builds the Vector Point payload: enough of the chunk's
// identity and span to reconstruct a citation without a round trip to the
// relational store.
func pointPayload(c ragstore.Chunk, model string) map[string]string {
	p := map[string]string{
		"doc_id":     c.DocID,
		"plan_id":    c.PlanID,
		"chunk_id":   c.ChunkID,
		"checksum":   c.Checksum,
		"model":      model,
		"page_start": fmt.Sprintf("%d", c.PageStart),
		"page_end":   fmt.Sprintf("%d", c.PageEnd),
		"span_start": fmt.Sprintf("%d", c.SpanStart),
		"span_end":   fmt.Sprintf("%d", c.SpanEnd),
	}
	if headers, ok := c.Meta["context_headers"].([]string); ok && len(headers) > 0 {
		p["context_headers"] = strings.Join(headers, " > ")
	}
	if types, ok := c.Meta["types"].([]string); ok && len(types) > 0 {
		p["types"] = strings.Join(types, ",")
	}
	return p
}

func batchSizeFor(emb Embedder) int {
	if _, ok := emb.(*clientEmbedder); ok {
		return 500
	}
	return 64
}

// embedWithBackoff retries transient failures up to 5 times with
// exponential backoff, matching the ingest-pipeline retry policy used
// elsewhere for external calls.
func embedWithBackoff(ctx context.Context, emb Embedder, texts []string, batchSize int) ([][]float32, error) {
	var out [][]float32
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]
		var vectors [][]float32
		var err error
		backoff := 200 * time.Millisecond
		for attempt := 0; attempt < 5; attempt++ {
			vectors, err = emb.EmbedBatch(ctx, batch)
			if err == nil {
				break
			}
			if attempt == 4 {
				return nil, err
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		out = append(out, vectors...)
	}
	return out, nil
}
