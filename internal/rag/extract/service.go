// Package extract implements the Extraction Service (C7): it turns a
// Canonical Manifest (or, failing that, the canonical HTML) into the
// document's flat list of Blocks with stable spans.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"manifold/internal/objectstore"
	"manifold/internal/rag/parser"
	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

type Service struct {
	Store *ragstore.Store
	Canon objectstore.ObjectStore
}

func New(store *ragstore.Store, canon objectstore.ObjectStore) *Service {
	return &Service{Store: store, Canon: canon}
}

// Extract reads the document's manifest, maps each artifact to a block with
// a running flat-text cursor, strips repeating page headers/footers, and
// atomically replaces the document's block set.
func (s *Service) Extract(ctx context.Context, docID string) ([]ragstore.Block, error) {
	const op = "extract.Extract"

	var blocks []ragstore.Block
	manifest, err := s.loadManifest(ctx, docID)
	if err != nil {
		blocks, err = s.blocksFromCanonicalHTML(ctx, docID)
		if err != nil {
			return nil, ragerr.Wrap(ragerr.Fatal, op, err)
		}
	} else {
		blocks = blocksFromManifest(docID, manifest)
		blocks = stripRepeatingPageLines(blocks, manifest.PageCount)
	}

	if err := s.Store.ReplaceBlocks(ctx, docID, blocks); err != nil {
		return nil, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	if err := s.Store.TransitionState(ctx, docID, ragstore.DocExtracted); err != nil {
		return nil, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	return blocks, nil
}

// blocksFromCanonicalHTML is the fallback path when no manifest was
// produced for a document (a manifest-less normalization, or an
// incompletely ingested one): it walks the canonical HTML's text nodes and
// emits one paragraph block per blank-line-separated chunk, all on page 0.
func (s *Service) blocksFromCanonicalHTML(ctx context.Context, docID string) ([]ragstore.Block, error) {
	rc, _, err := s.Canon.Get(ctx, objectstore.CanonicalHTMLKey(docID))
	if err != nil {
		return nil, fmt.Errorf("extract: loading canonical html: %w", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("extract: reading canonical html: %w", err)
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("extract: parsing canonical html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && (n.Data == "p" || n.Data == "br" || n.Data == "div") {
			sb.WriteString("\n\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	cursor := 0
	var out []ragstore.Block
	for i, para := range strings.Split(sb.String(), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		start := cursor
		end := start + len(para)
		cursor = end + 1
		out = append(out, ragstore.Block{
			BlockID:   blockID(docID, fmt.Sprintf("html-%d", i)),
			DocID:     docID,
			Page:      0,
			SpanStart: start,
			SpanEnd:   end,
			Type:      ragstore.BlockParagraph,
			Text:      para,
			Meta:      map[string]any{"headers": []string(nil), "fallback": "html"},
		})
	}
	return out, nil
}

func (s *Service) loadManifest(ctx context.Context, docID string) (*parser.Manifest, error) {
	rc, _, err := s.Canon.Get(ctx, objectstore.CanonicalManifestKey(docID))
	if err != nil {
		return nil, fmt.Errorf("extract: loading manifest: %w", err)
	}
	defer rc.Close()
	var m parser.Manifest
	if err := json.NewDecoder(rc).Decode(&m); err != nil {
		return nil, fmt.Errorf("extract: decoding manifest: %w", err)
	}
	return &m, nil
}

// blocksFromManifest maps artifact types 1:1 onto block types. A table's text
// is the artifact text when present, else the stashed HTML fragment, else the
// literal placeholder " | ". The flat cursor advances by len(text)+1 between
// artifacts so spans never overlap.
func blocksFromManifest(docID string, m *parser.Manifest) []ragstore.Block {
	cursor := 0
	var headerStack []string
	out := make([]ragstore.Block, 0, len(m.Artifacts))
	for _, a := range m.Artifacts {
		text := artifactText(a)
		start := cursor
		end := start + len(text)
		cursor = end + 1

		if a.Type == parser.ArtifactHeader {
			headerStack = pushHeader(headerStack, a.Text)
		}

		meta := map[string]any{"headers": append([]string(nil), headerStack...)}
		for k, v := range a.Metadata {
			meta[k] = v
		}

		out = append(out, ragstore.Block{
			BlockID:   blockID(docID, a.ArtifactID),
			DocID:     docID,
			Page:      a.PageIdx,
			SpanStart: start,
			SpanEnd:   end,
			Type:      mapArtifactType(a.Type),
			Text:      text,
			Meta:      meta,
		})
	}
	return out
}

func artifactText(a parser.Artifact) string {
	if a.Type == parser.ArtifactTable {
		if a.Text != "" {
			return a.Text
		}
		if html, ok := a.Metadata["html"]; ok && html != "" {
			return html
		}
		return " | "
	}
	return a.Text
}

func mapArtifactType(t parser.ArtifactType) ragstore.BlockType {
	switch t {
	case parser.ArtifactHeader:
		return ragstore.BlockHeader
	case parser.ArtifactList:
		return ragstore.BlockList
	case parser.ArtifactTable:
		return ragstore.BlockTable
	case parser.ArtifactCode:
		return ragstore.BlockCode
	case parser.ArtifactImage:
		return ragstore.BlockImage
	default:
		return ragstore.BlockParagraph
	}
}

func pushHeader(stack []string, text string) []string {
	return append(stack, text)
}

func blockID(docID, artifactID string) string {
	sum := sha256.Sum256([]byte(docID + ":" + artifactID))
	return hex.EncodeToString(sum[:])[:32]
}

// stripRepeatingPageLines detects lines that recur on at least
// max(3, 20% of pages) of distinct pages, treating them as running
// headers/footers rather than content, and removes every block whose whole
// text is such a line. A repeating line inside a longer block is kept.
func stripRepeatingPageLines(blocks []ragstore.Block, pageCount int) []ragstore.Block {
	if pageCount <= 0 {
		return blocks
	}
	threshold := pageCount / 5
	if threshold < 3 {
		threshold = 3
	}

	lineOnPages := map[string]map[int]struct{}{}
	for _, b := range blocks {
		if b.Type != ragstore.BlockParagraph && b.Type != ragstore.BlockHeader {
			continue
		}
		for _, line := range strings.Split(b.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || len(line) > 120 {
				continue
			}
			if lineOnPages[line] == nil {
				lineOnPages[line] = map[int]struct{}{}
			}
			lineOnPages[line][b.Page] = struct{}{}
		}
	}
	repeating := map[string]struct{}{}
	for line, pages := range lineOnPages {
		if len(pages) >= threshold {
			repeating[line] = struct{}{}
		}
	}
	if len(repeating) == 0 {
		return blocks
	}

	out := make([]ragstore.Block, 0, len(blocks))
	for _, b := range blocks {
		if _, isRepeat := repeating[strings.TrimSpace(b.Text)]; isRepeat {
			continue
		}
		out = append(out, b)
	}
	return out
}
