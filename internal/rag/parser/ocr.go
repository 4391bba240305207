package parser

import (
	"context"
	"strconv"
	"strings"
)

// OCREngine is the pluggable interface a real OCR backend implements; the
// engine itself (tesseract, a hosted vision API, etc.) is out of scope here
// and is injected by whoever wires the Manager.
type OCREngine interface {
	// RecognizeImage returns extracted text for one rasterized page.
	RecognizeImage(ctx context.Context, imgPath string) (string, error)
}

// OCRAdapter wraps an OCREngine as a parser Adapter. It supports any MIME
// since it's only ever invoked explicitly (method == MethodOCR) or as the
// auto-OCR fallback when another adapter's text looks sparse; SupportsMIME
// always returns true because the manager gates which pages get rasterized.
type OCRAdapter struct {
	Engine OCREngine
	// Rasterize turns path into a list of page image paths. Left nil for a
	// pre-rasterized single-image input, in which case path is used as-is.
	Rasterize func(ctx context.Context, path string) ([]string, error)
}

func (a OCRAdapter) Name() string { return "ocr" }

func (a OCRAdapter) SupportsMIME(mime string) bool { return true }

func (a OCRAdapter) Parse(ctx context.Context, path, mime string, method ParseMethod, prefer string) (*Manifest, error) {
	if a.Engine == nil {
		return &Manifest{ToolName: "ocr", ToolVersion: "1", Warnings: []string{"ocr_engine_unavailable", "canonical_empty"}}, nil
	}

	pages := []string{path}
	if a.Rasterize != nil {
		imgs, err := a.Rasterize(ctx, path)
		if err != nil {
			return nil, err
		}
		pages = imgs
	}

	var artifacts []Artifact
	var htmlBuf []string
	var warnings []string
	for i, imgPath := range pages {
		text, err := a.Engine.RecognizeImage(ctx, imgPath)
		if err != nil {
			warnings = append(warnings, "ocr_page_failed")
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
			PageIdx:    i,
			Metadata:   map[string]string{"ocr": "true"},
		})
		htmlBuf = append(htmlBuf, "<section data-page=\""+strconv.Itoa(i)+"\"><p data-artifact-id=\""+id+"\">"+escapeHTML(text)+"</p></section>")
	}

	if len(artifacts) == 0 {
		warnings = append(warnings, "canonical_empty")
	}

	return &Manifest{
		ToolName:    "ocr",
		ToolVersion: "1",
		PageCount:   len(pages),
		OCRPages:    len(artifacts),
		Warnings:    warnings,
		Artifacts:   artifacts,
		HTML:        "<html><body>" + strings.Join(htmlBuf, "") + "</body></html>",
	}, nil
}
