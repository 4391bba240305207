package parser

import (
	"fmt"
	"strconv"
	"strings"

	"context"

	"github.com/xuri/excelize/v2"
)

// XLSXAdapter converts each worksheet into one table artifact, grounded on
// the bbiangul xlsx parser's row-join approach.
type XLSXAdapter struct{}

func (XLSXAdapter) Name() string { return "xlsx_native" }

func (XLSXAdapter) SupportsMIME(mime string) bool {
	switch mime {
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-excel":
		return true
	default:
		return false
	}
}

func (XLSXAdapter) Parse(ctx context.Context, path, mime string, method ParseMethod, prefer string) (*Manifest, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("parser: opening xlsx: %w", err)
	}
	defer f.Close()

	var artifacts []Artifact
	var htmlBuf strings.Builder
	var warnings []string

	for pageIdx, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		var md strings.Builder
		var htmlRows strings.Builder
		cols := 0
		for _, row := range rows {
			if len(row) > cols {
				cols = len(row)
			}
			md.WriteString("| " + strings.Join(row, " | ") + " |\n")
			htmlRows.WriteString("<tr>")
			for _, cell := range row {
				htmlRows.WriteString("<td>" + escapeHTML(cell) + "</td>")
			}
			htmlRows.WriteString("</tr>")
		}
		id := "a" + strconv.Itoa(len(artifacts)+1)
		artifacts = append(artifacts, Artifact{
			ArtifactID: id,
			Type:       ArtifactTable,
			Text:       md.String(),
			PageIdx:    pageIdx,
			Caption:    sheet,
			Metadata: map[string]string{
				"rows": strconv.Itoa(len(rows)),
				"cols": strconv.Itoa(cols),
				"html": "<table>" + htmlRows.String() + "</table>",
			},
		})
		htmlBuf.WriteString(fmt.Sprintf(`<section data-page="%d"><table data-artifact-id=%q>%s</table></section>`, pageIdx, id, htmlRows.String()))
	}

	if len(artifacts) == 0 {
		warnings = append(warnings, "canonical_empty")
	}

	return &Manifest{
		ToolName:    "xlsx_native",
		ToolVersion: "1",
		PageCount:   len(f.GetSheetList()),
		Warnings:    warnings,
		Artifacts:   artifacts,
		HTML:        "<html><body>" + htmlBuf.String() + "</body></html>",
		Stats:       map[string]any{"sheets": len(f.GetSheetList())},
	}, nil
}
