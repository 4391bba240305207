package parser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFAdapter extracts per-page text natively. Grounded on the bbiangul
// parser's page-walk shape: open, iterate pages, skip ones that fail to
// extract, emit one paragraph artifact per non-empty page.
type PDFAdapter struct{}

func (PDFAdapter) Name() string { return "pdf_native" }

func (PDFAdapter) SupportsMIME(mime string) bool {
	return mime == "application/pdf"
}

func (PDFAdapter) Parse(ctx context.Context, path, mime string, method ParseMethod, prefer string) (*Manifest, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("parser: opening pdf: %w", err)
	}
	defer f.Close()

	totalPages := r.NumPage()
	var artifacts []Artifact
	var htmlBuf strings.Builder
	var warnings []string

	for i := 1; i <= totalPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		// ledongthuc/pdf can panic on unsupported filter combinations;
		// isolate each page so one bad page doesn't drop the rest.
		text, ok := safeExtract(page)
		if !ok {
			warnings = append(warnings, "pdf_page_extract_failed:"+strconv.Itoa(i))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		id := "a" + strconv.Itoa(len(artifacts)+1)
		artifacts = append(artifacts, Artifact{
			ArtifactID: id,
			Type:       ArtifactParagraph,
			Text:       text,
			PageIdx:    i - 1,
		})
		htmlBuf.WriteString(fmt.Sprintf(`<section data-page="%d"><p data-artifact-id=%q>%s</p></section>`, i-1, id, escapeHTML(text)))
	}

	if len(artifacts) == 0 {
		warnings = append(warnings, "canonical_empty")
	}

	return &Manifest{
		ToolName:    "pdf_native",
		ToolVersion: "1",
		PageCount:   totalPages,
		Warnings:    warnings,
		Artifacts:   artifacts,
		HTML:        "<html><body>" + htmlBuf.String() + "</body></html>",
		Stats:       map[string]any{"pages": totalPages},
	}, nil
}

func safeExtract(page pdf.Page) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	rows, err := page.GetTextByRow()
	if err != nil {
		return "", false
	}
	var b strings.Builder
	for _, row := range rows {
		for _, w := range row.Content {
			b.WriteString(w.S)
		}
		b.WriteString("\n")
	}
	return b.String(), true
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
