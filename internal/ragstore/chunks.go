package ragstore

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"manifold/internal/ragerr"
)

// ReplacePlanAndChunks is idempotent: delete prior chunks for the doc,
// insert the new plan and chunks in one transaction.
func (s *Store) ReplacePlanAndChunks(ctx context.Context, plan ChunkPlan, chunks []Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplacePlanAndChunks", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE doc_id=$1`, plan.DocID); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplacePlanAndChunks.deleteChunks", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunk_plans WHERE doc_id=$1`, plan.DocID); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplacePlanAndChunks.deletePlans", err)
	}
	if plan.Params == nil {
		plan.Params = map[string]any{}
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO chunk_plans(plan_id, doc_id, strategy, params, page_span_start, page_span_end, block_count, created_at)
VALUES($1,$2,$3,$4,$5,$6,$7,now())`,
		plan.PlanID, plan.DocID, string(plan.Strategy), plan.Params, plan.PageSpan[0], plan.PageSpan[1], plan.BlockCount); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplacePlanAndChunks.insertPlan", err)
	}

	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		if c.Meta == nil {
			c.Meta = map[string]any{}
		}
		rows[i] = []any{c.ChunkID, c.PlanID, c.DocID, c.SpanStart, c.SpanEnd, c.PageStart, c.PageEnd, c.Text, c.Meta, c.Checksum, i}
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"chunks"},
			[]string{"chunk_id", "plan_id", "doc_id", "span_start", "span_end", "page_start", "page_end", "text", "meta", "checksum", "ord"},
			pgx.CopyFromRows(rows)); err != nil {
			return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplacePlanAndChunks.insertChunks", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplacePlanAndChunks.commit", err)
	}
	return nil
}

func (s *Store) ListChunks(ctx context.Context, docID string) ([]Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, plan_id, doc_id, span_start, span_end, page_start, page_end, text, meta, checksum
FROM chunks WHERE doc_id=$1 ORDER BY ord ASC`, docID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ListChunks", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (s *Store) LatestPlan(ctx context.Context, docID string) (ChunkPlan, error) {
	row := s.pool.QueryRow(ctx, `
SELECT plan_id, doc_id, strategy, params, page_span_start, page_span_end, block_count, created_at
FROM chunk_plans WHERE doc_id=$1 ORDER BY created_at DESC LIMIT 1`, docID)
	var p ChunkPlan
	var strategy string
	if err := row.Scan(&p.PlanID, &p.DocID, &strategy, &p.Params, &p.PageSpan[0], &p.PageSpan[1], &p.BlockCount, &p.CreatedAt); err != nil {
		return ChunkPlan{}, ragerr.Wrap(ragerr.NotFound, "ragstore.LatestPlan", err)
	}
	p.Strategy = ChunkStrategy(strategy)
	return p, nil
}

func (s *Store) GetChunksByIDs(ctx context.Context, ids []string) ([]Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, plan_id, doc_id, span_start, span_end, page_start, page_end, text, meta, checksum
FROM chunks WHERE chunk_id = ANY($1)`, ids)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.GetChunksByIDs", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// ChunkWindow returns the chunk immediately before/after the given chunk in
// the same document by span order, for window stitching.
func (s *Store) ChunkWindow(ctx context.Context, docID string, ord int) (prev, next *Chunk, err error) {
	rows, err := s.pool.Query(ctx, `
SELECT chunk_id, plan_id, doc_id, span_start, span_end, page_start, page_end, text, meta, checksum, ord
FROM chunks WHERE doc_id=$1 AND ord IN ($2,$3)`, docID, ord-1, ord+1)
	if err != nil {
		return nil, nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ChunkWindow", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c Chunk
		var o int
		if scanErr := rows.Scan(&c.ChunkID, &c.PlanID, &c.DocID, &c.SpanStart, &c.SpanEnd, &c.PageStart, &c.PageEnd, &c.Text, &c.Meta, &c.Checksum, &o); scanErr != nil {
			return nil, nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ChunkWindow.scan", scanErr)
		}
		cc := c
		if o == ord-1 {
			prev = &cc
		} else if o == ord+1 {
			next = &cc
		}
	}
	return prev, next, rows.Err()
}

// ChunkWindowByID is ChunkWindow keyed by chunk_id rather than a caller-known
// ord, for callers (retrieval) that only carry chunk ids forward.
func (s *Store) ChunkWindowByID(ctx context.Context, chunkID string) (prev, next *Chunk, err error) {
	var docID string
	var ord int
	row := s.pool.QueryRow(ctx, `SELECT doc_id, ord FROM chunks WHERE chunk_id=$1`, chunkID)
	if scanErr := row.Scan(&docID, &ord); scanErr != nil {
		return nil, nil, ragerr.Wrap(ragerr.NotFound, "ragstore.ChunkWindowByID", scanErr)
	}
	return s.ChunkWindow(ctx, docID, ord)
}

func scanChunks(rows pgx.Rows) ([]Chunk, error) {
	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ChunkID, &c.PlanID, &c.DocID, &c.SpanStart, &c.SpanEnd, &c.PageStart, &c.PageEnd, &c.Text, &c.Meta, &c.Checksum); err != nil {
			return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.scanChunks", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchChunksFTS is the keyword leg of C12: full-text search over chunk
// text using websearch_to_tsquery with a plainto_tsquery fallback, the same
// cascade internal/persistence/databases.pgSearch.SearchChunks uses.
type FTSHit struct {
	ChunkID string
	Score   float64
	Snippet string
}

func (s *Store) SearchChunksFTS(ctx context.Context, tenantDocIDs []string, query string, limit int) ([]FTSHit, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 40
	}
	run := func(stmt string) ([]FTSHit, error) {
		rows, err := s.pool.Query(ctx, stmt, q, tenantDocIDs, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []FTSHit
		for rows.Next() {
			var h FTSHit
			if err := rows.Scan(&h.ChunkID, &h.Score, &h.Snippet); err != nil {
				return nil, err
			}
			out = append(out, h)
		}
		return out, rows.Err()
	}
	docFilter := `(array_length($2::text[],1) IS NULL OR doc_id = ANY($2))`
	stmt := `SELECT chunk_id, ts_rank(ts, websearch_to_tsquery('simple',$1)) AS score, left(text,160) AS snippet
FROM chunks WHERE ts @@ websearch_to_tsquery('simple',$1) AND ` + docFilter + ` ORDER BY score DESC LIMIT $3`
	res, err := run(stmt)
	if err == nil && len(res) > 0 {
		return res, nil
	}
	stmt = `SELECT chunk_id, ts_rank(ts, plainto_tsquery('simple',$1)) AS score, left(text,160) AS snippet
FROM chunks WHERE ts @@ plainto_tsquery('simple',$1) AND ` + docFilter + ` ORDER BY score DESC LIMIT $3`
	res2, err2 := run(stmt)
	if err2 != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.SearchChunksFTS", err2)
	}
	return res2, nil
}
