package ragstore

import (
	"context"

	"github.com/jackc/pgx/v5"

	"manifold/internal/ragerr"
)

// ReplaceGraph atomically replaces a document's graph: delete old edges then
// nodes, insert new nodes then edges, in one transaction.
func (s *Store) ReplaceGraph(ctx context.Context, docID string, nodes []GraphNode, edges []GraphEdge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceGraph", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM graph_edges WHERE doc_id=$1`, docID); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceGraph.deleteEdges", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM graph_nodes WHERE doc_id=$1`, docID); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceGraph.deleteNodes", err)
	}

	nodeRows := make([][]any, len(nodes))
	for i, n := range nodes {
		if n.Meta == nil {
			n.Meta = map[string]any{}
		}
		nodeRows[i] = []any{n.NodeID, docID, n.Type, n.Label, n.Meta}
	}
	if len(nodeRows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"graph_nodes"},
			[]string{"node_id", "doc_id", "type", "label", "meta"}, pgx.CopyFromRows(nodeRows)); err != nil {
			return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceGraph.insertNodes", err)
		}
	}
	edgeRows := make([][]any, len(edges))
	for i, e := range edges {
		if e.Meta == nil {
			e.Meta = map[string]any{}
		}
		edgeRows[i] = []any{e.EdgeID, docID, e.SrcNodeID, e.DstNodeID, string(e.RelType), e.Weight, e.Meta}
	}
	if len(edgeRows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"graph_edges"},
			[]string{"edge_id", "doc_id", "src_node_id", "dst_node_id", "rel_type", "weight", "meta"}, pgx.CopyFromRows(edgeRows)); err != nil {
			return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceGraph.insertEdges", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.ReplaceGraph.commit", err)
	}
	return nil
}

// Neighbors returns node ids reachable from nodeID via rel, in either
// direction (outbound dst, inbound src).
func (s *Store) Neighbors(ctx context.Context, nodeID string, rel GraphEdgeRel, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 32
	}
	rows, err := s.pool.Query(ctx, `
SELECT dst_node_id FROM graph_edges WHERE src_node_id=$1 AND rel_type=$2
UNION
SELECT src_node_id FROM graph_edges WHERE dst_node_id=$1 AND rel_type=$2
ORDER BY 1 LIMIT $3`, nodeID, string(rel), limit)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.Neighbors", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.Neighbors.scan", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) GetNode(ctx context.Context, nodeID string) (GraphNode, error) {
	row := s.pool.QueryRow(ctx, `SELECT node_id, doc_id, type, label, meta FROM graph_nodes WHERE node_id=$1`, nodeID)
	var n GraphNode
	if err := row.Scan(&n.NodeID, &n.DocID, &n.Type, &n.Label, &n.Meta); err != nil {
		return GraphNode{}, ragerr.Wrap(ragerr.NotFound, "ragstore.GetNode", err)
	}
	return n, nil
}
