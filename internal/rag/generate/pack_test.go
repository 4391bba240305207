package generate

import (
	"strconv"
	"strings"
	"testing"

	"manifold/internal/rag/retrieve"
)

func item(id, docID string, score float64, pageStart, pageEnd int, text, types string) retrieve.RetrievedItem {
	return retrieve.RetrievedItem{
		ID: id, DocID: docID, Score: score, Text: text,
		Metadata: map[string]string{
			"page_start": strconv.Itoa(pageStart),
			"page_end":   strconv.Itoa(pageEnd),
			"types":      types,
			"uri":        "doc/" + docID,
		},
	}
}

func TestPack_StitchesContiguousPages(t *testing.T) {
	items := []retrieve.RetrievedItem{
		item("c1", "d1", 0.9, 1, 1, "page one text", ""),
		item("c2", "d1", 0.8, 2, 2, "page two text", ""),
	}
	packed := Pack(items, false, 4000, 0)
	if len(packed.Footnotes) != 1 {
		t.Fatalf("expected stitched single footnote, got %d", len(packed.Footnotes))
	}
	if !strings.Contains(packed.Text, "page one text") || !strings.Contains(packed.Text, "page two text") {
		t.Fatalf("expected both pages stitched into one block: %s", packed.Text)
	}
}

func TestPack_NumericQueryPrioritizesTables(t *testing.T) {
	items := []retrieve.RetrievedItem{
		item("c1", "d1", 0.95, 1, 1, "prose about nothing", ""),
		item("c2", "d2", 0.10, 5, 5, "table of totals", "table"),
	}
	packed := Pack(items, true, 4000, 0)
	if packed.Footnotes[0].DocID != "d2" {
		t.Fatalf("expected table doc first, got %s", packed.Footnotes[0].DocID)
	}
}

func TestPack_RespectsTokenBudget(t *testing.T) {
	items := []retrieve.RetrievedItem{
		item("c1", "d1", 0.9, 1, 1, strings.Repeat("word ", 500), ""),
		item("c2", "d2", 0.8, 1, 1, strings.Repeat("word ", 500), ""),
	}
	packed := Pack(items, false, 100, 0)
	if len(packed.Footnotes) != 1 {
		t.Fatalf("expected budget to cut off after first block, got %d footnotes", len(packed.Footnotes))
	}
}

func TestPack_RoundRobinsAcrossDocsWithMaxStitchPerDoc(t *testing.T) {
	items := []retrieve.RetrievedItem{
		item("c1", "d1", 0.9, 1, 1, "d1 block a", ""),
		item("c2", "d1", 0.8, 10, 10, "d1 block b", ""),
		item("c3", "d2", 0.7, 1, 1, "d2 block a", ""),
	}
	packed := Pack(items, false, 4000, 1)
	if len(packed.Footnotes) != 2 {
		t.Fatalf("expected maxStitchPerDoc=1 to cap d1 to one block, got %d", len(packed.Footnotes))
	}
}
