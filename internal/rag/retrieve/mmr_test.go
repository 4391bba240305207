package retrieve

import "testing"

func TestMMR_PrefersDiverseOverRedundant(t *testing.T) {
	items := []RetrievedItem{
		{ID: "a", DocID: "D1", Score: 1.0, Text: "quarterly revenue report figures"},
		{ID: "b", DocID: "D1", Score: 0.95, Text: "quarterly revenue report figures and totals"},
		{ID: "c", DocID: "D2", Score: 0.5, Text: "unrelated maintenance schedule notes"},
	}
	out := MMR(items, 2, 0.5)
	if len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}
	if out[0].ID != "a" {
		t.Fatalf("expected highest-scoring item first, got %s", out[0].ID)
	}
	if out[1].ID != "c" {
		t.Fatalf("expected MMR to prefer diverse item c over near-duplicate b, got %s", out[1].ID)
	}
}

func TestCapPerDoc_LimitsPerDocument(t *testing.T) {
	items := []RetrievedItem{
		{ID: "a", DocID: "D1"},
		{ID: "b", DocID: "D1"},
		{ID: "c", DocID: "D1"},
		{ID: "d", DocID: "D2"},
	}
	out := CapPerDoc(items, 2)
	if len(out) != 3 {
		t.Fatalf("expected 3 items (2 from D1 + 1 from D2), got %d", len(out))
	}
	count := 0
	for _, it := range out {
		if it.DocID == "D1" {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 items from D1, got %d", count)
	}
}

func TestJaccard_IdenticalSetsYieldOne(t *testing.T) {
	a := tokenSet("alpha beta gamma")
	b := tokenSet("alpha beta gamma")
	if j := jaccard(a, b); j != 1.0 {
		t.Fatalf("jaccard of identical sets = %v, want 1.0", j)
	}
}
