package ragstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"manifold/internal/ragerr"
)

// ReplaceBlocks is idempotent: delete all blocks for the document, then bulk
// insert the new set, inside one transaction.
func (s *Store) ReplaceBlocks(ctx context.Context, docID string, blocks []Block) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceBlocks", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM blocks WHERE doc_id=$1`, docID); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceBlocks.delete", err)
	}
	rows := make([][]any, len(blocks))
	for i, b := range blocks {
		if b.Meta == nil {
			b.Meta = map[string]any{}
		}
		rows[i] = []any{b.BlockID, docID, b.Page, b.SpanStart, b.SpanEnd, string(b.Type), b.Text, b.Meta, i}
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"blocks"},
			[]string{"block_id", "doc_id", "page", "span_start", "span_end", "type", "text", "meta", "ord"},
			pgx.CopyFromRows(rows)); err != nil {
			return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceBlocks.insert", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceBlocks.commit", err)
	}
	return nil
}

// ListBlocks returns all blocks for a document in span order.
func (s *Store) ListBlocks(ctx context.Context, docID string) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `
SELECT block_id, doc_id, page, span_start, span_end, type, text, meta
FROM blocks WHERE doc_id=$1 ORDER BY ord ASC`, docID)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ListBlocks", err)
	}
	defer rows.Close()
	var out []Block
	for rows.Next() {
		var b Block
		var typ string
		if err := rows.Scan(&b.BlockID, &b.DocID, &b.Page, &b.SpanStart, &b.SpanEnd, &typ, &b.Text, &b.Meta); err != nil {
			return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.ListBlocks.scan", err)
		}
		b.Type = BlockType(typ)
		out = append(out, b)
	}
	return out, rows.Err()
}
