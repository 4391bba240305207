package parser

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// SimpleFallbackAdapter always succeeds: it reads the file as text (best
// effort, stripping anything that doesn't decode cleanly) and emits one
// paragraph per non-blank line. It is the adapter of last resort so the
// manifest cascade never returns an error just because no format-specific
// adapter matched.
type SimpleFallbackAdapter struct{}

func (SimpleFallbackAdapter) Name() string { return "simple_fallback" }

func (SimpleFallbackAdapter) SupportsMIME(mime string) bool { return true }

func (SimpleFallbackAdapter) Parse(ctx context.Context, path, mime string, method ParseMethod, prefer string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &Manifest{
			ToolName:  "simple_fallback",
			ToolVersion: "1",
			Warnings:  []string{"advanced_parser_unavailable", "canonical_empty"},
			Artifacts: nil,
			HTML:      "<html><body></body></html>",
		}, nil
	}

	text := strings.ToValidUTF8(string(raw), "")
	lines := strings.Split(text, "\n")

	var artifacts []Artifact
	var htmlBuf strings.Builder
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id := "a" + strconv.Itoa(len(artifacts)+1)
		artifacts = append(artifacts, Artifact{
			ArtifactID: id,
			Type:       ArtifactParagraph,
			Text:       line,
			PageIdx:    0,
		})
		htmlBuf.WriteString("<p data-artifact-id=\"" + id + "\">" + escapeHTML(line) + "</p>")
	}

	warnings := []string{"advanced_parser_unavailable"}
	if len(artifacts) == 0 {
		warnings = append(warnings, "canonical_empty")
	}

	return &Manifest{
		ToolName:    "simple_fallback",
		ToolVersion: "1",
		PageCount:   1,
		Warnings:    warnings,
		Artifacts:   artifacts,
		HTML:        "<html><body>" + htmlBuf.String() + "</body></html>",
	}, nil
}
