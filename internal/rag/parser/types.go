// Package parser implements the Parser Manager (C4): a cascading adapter
// pipeline that turns a raw document into a Canonical Manifest. Downstream
// components (Normalization, Extraction) only ever see a *Manifest.
package parser

import "context"

type ArtifactType string

const (
	ArtifactHeader    ArtifactType = "header"
	ArtifactParagraph ArtifactType = "paragraph"
	ArtifactList      ArtifactType = "list"
	ArtifactTable     ArtifactType = "table"
	ArtifactCode      ArtifactType = "code"
	ArtifactImage     ArtifactType = "image"
	ArtifactText      ArtifactType = "text"
)

// Artifact is one typed fragment produced by parsing. IDs are opaque to
// consumers and only stable across reruns of a deterministic parser.
type Artifact struct {
	ArtifactID string            `json:"artifact_id"`
	Type       ArtifactType      `json:"type"`
	Text       string            `json:"text"`
	PageIdx    int               `json:"page_idx"`
	Headers    []string          `json:"headers,omitempty"`
	Caption    string            `json:"caption,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	RawPath    string            `json:"raw_path,omitempty"`
}

// Manifest is the Canonical Manifest: HTML plus a typed artifact list and
// stats. HTML is excluded from the persisted JSON (it's stored separately as
// the canonical HTML object) but kept in-process for Normalization to upload.
type Manifest struct {
	ToolName   string         `json:"tool_name"`
	ToolVersion string        `json:"tool_version"`
	PageCount  int            `json:"page_count"`
	OCRPages   int            `json:"ocr_pages"`
	Stats      map[string]any `json:"stats,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Artifacts  []Artifact     `json:"artifacts"`
	HTML       string         `json:"-"`
	HTMLURI    string         `json:"html_uri,omitempty"`
}

// TextChars returns the total character count across all artifact text,
// used for the sparse-text / auto-OCR decision.
func (m *Manifest) TextChars() int {
	n := 0
	for _, a := range m.Artifacts {
		n += len(a.Text)
	}
	return n
}

func (m *Manifest) TableCount() int {
	n := 0
	for _, a := range m.Artifacts {
		if a.Type == ArtifactTable {
			n++
		}
	}
	return n
}

// ParseMethod selects the requested parsing strategy: "auto" lets the
// manager pick (with the sparse-text OCR fallback), "ocr" forces the OCR
// adapter, and any other value runs the advanced cascade without the OCR
// fallback.
type ParseMethod string

const (
	MethodAuto ParseMethod = "auto"
	MethodOCR  ParseMethod = "ocr"
)

// Adapter implements a single parsing strategy for one or more MIME/format
// families. Returning (nil, nil) means "not applicable, try the next
// adapter"; the Manager logs an error from an advanced adapter and also
// moves on to the next one.
type Adapter interface {
	Name() string
	SupportsMIME(mime string) bool
	Parse(ctx context.Context, path, mime string, method ParseMethod, prefer string) (*Manifest, error)
}
