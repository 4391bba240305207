package parser

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// HTMLAdapter reads a locally staged HTML document (already fetched by the
// ingestion SSRF-guarded client), extracts the main article via readability
// and walks the resulting DOM into header/paragraph artifacts. Grounded on
// internal/tools/web/fetch.go's readability-then-convert shape, but emits a
// typed artifact tree instead of markdown since normalization needs
// structure, not prose.
type HTMLAdapter struct{}

func (HTMLAdapter) Name() string { return "html_readability" }

func (HTMLAdapter) SupportsMIME(mime string) bool {
	switch mime {
	case "text/html", "application/xhtml+xml":
		return true
	default:
		return false
	}
}

func (HTMLAdapter) Parse(ctx context.Context, path, mime string, method ParseMethod, prefer string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: reading html: %w", err)
	}

	docHTML := string(raw)
	var warnings []string

	art, rerr := readability.FromReader(strings.NewReader(docHTML), nil)
	body := docHTML
	title := ""
	if rerr == nil && strings.TrimSpace(art.Content) != "" {
		body = art.Content
		title = strings.TrimSpace(art.Title)
	} else {
		warnings = append(warnings, "readability_extract_failed")
	}

	node, perr := html.Parse(strings.NewReader(body))
	if perr != nil {
		return nil, fmt.Errorf("parser: parsing html body: %w", perr)
	}

	artifacts := walkHTML(node)
	if title != "" {
		artifacts = append([]Artifact{{
			ArtifactID: "a0",
			Type:       ArtifactHeader,
			Text:       title,
			Headers:    []string{title},
		}}, artifacts...)
	}
	if len(artifacts) == 0 {
		warnings = append(warnings, "canonical_empty")
	}

	return &Manifest{
		ToolName:    "html_readability",
		ToolVersion: "1",
		PageCount:   1,
		Warnings:    warnings,
		Artifacts:   artifacts,
		HTML:        "<html><body>" + body + "</body></html>",
	}, nil
}

var headerLevels = map[string]int{"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6}

// walkHTML flattens a parsed DOM into header/paragraph/list artifacts in
// document order, carrying the current header stack as each paragraph's
// Headers breadcrumb for graph-building downstream.
func walkHTML(root *html.Node) []Artifact {
	var artifacts []Artifact
	var stack []string

	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			tag := strings.ToLower(n.Data)
			if lvl, ok := headerLevels[tag]; ok {
				text := strings.TrimSpace(textContent(n))
				if text != "" {
					if lvl-1 < len(stack) {
						stack = stack[:lvl-1]
					}
					stack = append(stack, text)
					artifacts = append(artifacts, Artifact{
						ArtifactID: "a" + strconv.Itoa(len(artifacts)+1),
						Type:       ArtifactHeader,
						Text:       text,
						Headers:    append([]string(nil), stack...),
					})
				}
				return
			}
			switch tag {
			case "p":
				text := strings.TrimSpace(textContent(n))
				if text != "" {
					artifacts = append(artifacts, Artifact{
						ArtifactID: "a" + strconv.Itoa(len(artifacts)+1),
						Type:       ArtifactParagraph,
						Text:       text,
						Headers:    append([]string(nil), stack...),
					})
				}
				return
			case "ul", "ol":
				text := strings.TrimSpace(textContent(n))
				if text != "" {
					artifacts = append(artifacts, Artifact{
						ArtifactID: "a" + strconv.Itoa(len(artifacts)+1),
						Type:       ArtifactList,
						Text:       text,
						Headers:    append([]string(nil), stack...),
					})
				}
				return
			case "pre", "code":
				text := strings.TrimSpace(textContent(n))
				if text != "" {
					artifacts = append(artifacts, Artifact{
						ArtifactID: "a" + strconv.Itoa(len(artifacts)+1),
						Type:       ArtifactCode,
						Text:       text,
						Headers:    append([]string(nil), stack...),
					})
				}
				return
			case "script", "style", "nav", "footer":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return artifacts
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
