// Package normalize implements the Normalization Service (C6): it takes a raw
// blob, runs it through the Parser Manager, sanitizes and annotates the
// resulting HTML, and persists the canonical artifacts.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"manifold/internal/objectstore"
	"manifold/internal/rag/parser"
	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

type Service struct {
	Store   *ragstore.Store
	Raw     objectstore.ObjectStore
	Canon   objectstore.ObjectStore
	Parser  *parser.Manager
	TempDir string
}

func New(store *ragstore.Store, raw, canon objectstore.ObjectStore, pm *parser.Manager, tempDir string) *Service {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Service{Store: store, Raw: raw, Canon: canon, Parser: pm, TempDir: tempDir}
}

// Normalize runs the C6 pipeline for one document and leaves it in state
// NORMALIZED. It is idempotent: rerunning overwrites the canonical objects
// and the Normalization row (latest wins).
func (s *Service) Normalize(ctx context.Context, docID string) (ragstore.Normalization, error) {
	const op = "normalize.Normalize"
	doc, err := s.Store.GetDocument(ctx, docID)
	if err != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.NotFound, op, err)
	}
	blob, found, err := s.Store.GetBlob(ctx, doc.Sha256)
	if err != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}
	if !found {
		return ragstore.Normalization{}, ragerr.New(ragerr.NotFound, op, fmt.Errorf("blob not found for sha256=%s", doc.Sha256))
	}

	tmp, err := os.CreateTemp(s.TempDir, "rawblob-*")
	if err != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	rc, _, err := s.Raw.Get(ctx, blob.Location)
	if err != nil {
		tmp.Close()
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}
	_, copyErr := io.Copy(tmp, rc)
	rc.Close()
	tmp.Close()
	if copyErr != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.TransientExternal, op, copyErr)
	}

	manifest, err := s.Parser.Parse(ctx, tmpPath, doc.Mime, parser.MethodAuto, "")
	if err != nil {
		_ = s.Store.SetDocumentError(ctx, docID, err.Error())
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.Fatal, op, err)
	}

	sanitized, pageCount := sanitizeAndAnnotate(manifest.HTML)
	if manifest.PageCount == 0 {
		manifest.PageCount = maxInt(pageCount, 1)
	}

	var warnings []string
	warnings = append(warnings, manifest.Warnings...)
	if manifest.TextChars() == 0 {
		warnings = append(warnings, "canonical_empty")
	}
	if manifest.OCRPages > 0 {
		warnings = append(warnings, fmt.Sprintf("ocr_pages:%d", manifest.OCRPages))
	}
	if manifest.TextChars() < 400 {
		warnings = append(warnings, "sparse_text")
	}
	if len(manifest.Artifacts) == 0 {
		warnings = append(warnings, "no_artifacts_detected")
	}

	htmlKey := objectstore.CanonicalHTMLKey(docID)
	if _, err := s.Canon.Put(ctx, htmlKey, strings.NewReader(sanitized), objectstore.PutOptions{ContentType: "text/html; charset=utf-8"}); err != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}
	manifestJSON, jerr := marshalManifest(manifest)
	if jerr != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.Fatal, op, jerr)
	}
	manifestKey := objectstore.CanonicalManifestKey(docID)
	if _, err := s.Canon.Put(ctx, manifestKey, bytes.NewReader(manifestJSON), objectstore.PutOptions{ContentType: "application/json"}); err != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.TransientExternal, op, err)
	}

	norm := ragstore.Normalization{
		DocID:        docID,
		CanonicalURI: htmlKey,
		ManifestURI:  manifestKey,
		ToolName:     manifest.ToolName,
		ToolVersion:  manifest.ToolVersion,
		PageCount:    manifest.PageCount,
		OCRPages:     manifest.OCRPages,
		Warnings:     warnings,
	}
	if err := s.Store.UpsertNormalization(ctx, norm); err != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	if err := s.Store.TransitionState(ctx, docID, ragstore.DocNormalized); err != nil {
		return ragstore.Normalization{}, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	return norm, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// sanitizeAndAnnotate strips script/style/noscript, ensures a <body>, and
// tags each <section data-page="N"> with id="p-N" plus stable
// data-artifact-id/id="a-<id>" on content-bearing descendants.
func sanitizeAndAnnotate(rawHTML string) (string, int) {
	if strings.TrimSpace(rawHTML) == "" {
		return "<html><body></body></html>", 0
	}
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "<html><body></body></html>", 0
	}

	maxPage := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch strings.ToLower(n.Data) {
			case "script", "style", "noscript":
				n.Parent.RemoveChild(n)
				return
			case "section":
				if p := attr(n, "data-page"); p != "" {
					if pi, perr := strconv.Atoi(p); perr == nil {
						if pi > maxPage {
							maxPage = pi
						}
						setAttr(n, "id", "p-"+p)
					}
				}
			case "p", "h1", "h2", "h3", "h4", "h5", "h6", "ul", "ol", "table", "img", "figure", "pre", "code":
				if id := attr(n, "data-artifact-id"); id != "" {
					setAttr(n, "id", "a-"+id)
				}
			}
		}
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			walk(c)
			c = next
		}
	}
	walk(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "<html><body></body></html>", maxPage
	}
	return buf.String(), maxPage + 1
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// marshalManifest serializes the manifest excluding its HTML body (which is
// stored separately as the canonical HTML object).
func marshalManifest(m *parser.Manifest) ([]byte, error) {
	return json.Marshal(m)
}
