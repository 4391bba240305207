// Package graph implements the Graph Service (C9): it builds a per-document
// tree of header/block nodes plus sequence edges, atomically replacing the
// document's graph on every rebuild.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

type Service struct {
	Store *ragstore.Store
}

func New(store *ragstore.Store) *Service {
	return &Service{Store: store}
}

// Build constructs the document's graph from its current blocks: a root
// "document" node, one node per block, contains edges from the nearest
// enclosing header (or root) to each block, and follows edges linking
// consecutive blocks in document order.
func (s *Service) Build(ctx context.Context, docID string) ([]ragstore.GraphNode, []ragstore.GraphEdge, error) {
	const op = "graph.Build"
	blocks, err := s.Store.ListBlocks(ctx, docID)
	if err != nil {
		return nil, nil, ragerr.Wrap(ragerr.Fatal, op, err)
	}

	rootID := nodeID(docID, "root")
	nodes := []ragstore.GraphNode{{
		NodeID: rootID, DocID: docID, Type: string(ragstore.NodeDocument), Label: docID,
		Meta: map[string]any{},
	}}
	var edges []ragstore.GraphEdge

	type headerFrame struct {
		level  int
		nodeID string
	}
	var headerStack []headerFrame
	var prevBlockNode string

	for _, b := range blocks {
		nid := nodeID(docID, b.BlockID)
		nodes = append(nodes, ragstore.GraphNode{
			NodeID: nid, DocID: docID, Type: string(b.Type), Label: snippet(b.Text),
			Meta: map[string]any{"page": b.Page, "span": [2]int{b.SpanStart, b.SpanEnd}, "source_block_id": b.BlockID, "headers": b.Meta["headers"], "origin_type": string(b.Type)},
		})

		if b.Type == ragstore.BlockHeader {
			level := headerLevel(b)
			for len(headerStack) > 0 && headerStack[len(headerStack)-1].level >= level {
				headerStack = headerStack[:len(headerStack)-1]
			}
			parent := rootID
			if len(headerStack) > 0 {
				parent = headerStack[len(headerStack)-1].nodeID
			}
			edges = append(edges, containsEdge(docID, parent, nid))
			headerStack = append(headerStack, headerFrame{level: level, nodeID: nid})
		} else {
			parent := rootID
			if len(headerStack) > 0 {
				parent = headerStack[len(headerStack)-1].nodeID
			}
			edges = append(edges, containsEdge(docID, parent, nid))
		}

		if prevBlockNode != "" {
			edges = append(edges, ragstore.GraphEdge{
				EdgeID: edgeID(docID, prevBlockNode, nid, "follows"), DocID: docID,
				SrcNodeID: prevBlockNode, DstNodeID: nid, RelType: ragstore.RelFollows, Weight: 1,
			})
		}
		prevBlockNode = nid
	}

	if err := s.Store.ReplaceGraph(ctx, docID, nodes, edges); err != nil {
		return nil, nil, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	return nodes, edges, nil
}

func containsEdge(docID, parent, child string) ragstore.GraphEdge {
	return ragstore.GraphEdge{
		EdgeID: edgeID(docID, parent, child, "contains"), DocID: docID,
		SrcNodeID: parent, DstNodeID: child, RelType: ragstore.RelContains, Weight: 1,
	}
}

func headerLevel(b ragstore.Block) int {
	if lvl, ok := b.Meta["level"].(int); ok && lvl > 0 {
		return lvl
	}
	if hs, ok := b.Meta["headers"].([]string); ok {
		return len(hs)
	}
	return 1
}

func snippet(text string) string {
	if len(text) <= 80 {
		return text
	}
	return text[:80]
}

func nodeID(docID, suffix string) string {
	sum := sha256.Sum256([]byte(docID + ":node:" + suffix))
	return hex.EncodeToString(sum[:])[:32]
}

func edgeID(docID, src, dst, rel string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:edge:%s:%s:%s", docID, src, dst, rel)))
	return hex.EncodeToString(sum[:])[:32]
}
