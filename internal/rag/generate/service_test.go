package generate

import "testing"

func TestSelectMode_ClassifiesByKeyword(t *testing.T) {
	cases := []struct {
		query string
		want  promptMode
	}{
		{"What is the total amount due?", modeNumericTotal},
		{"List the parties to this contract", modeList},
		{"Quote the governing law clause", modeClause},
		{"Where is the office located?", modeDefault},
	}
	for _, c := range cases {
		if got := selectMode(c.query, false); got != c.want {
			t.Fatalf("selectMode(%q) = %s, want %s", c.query, got, c.want)
		}
	}
}

func TestSelectMode_NumericQueryOverridesKeyword(t *testing.T) {
	if got := selectMode("Where is the office located?", true); got != modeNumericTotal {
		t.Fatalf("selectMode with numericQuery=true = %s, want NUMERIC_TOTAL", got)
	}
}

func TestRepairCitations_FallsBackToMarkersThenFirstTwo(t *testing.T) {
	footnotes := []Footnote{{N: 1, DocID: "d1"}, {N: 2, DocID: "d2"}, {N: 3, DocID: "d3"}}

	byRef := repairCitations([]citationRef{{N: 2}}, footnotes, "irrelevant")
	if len(byRef) != 1 || byRef[0].DocID != "d2" {
		t.Fatalf("expected citation by ref to resolve to d2, got %+v", byRef)
	}

	byMarker := repairCitations(nil, footnotes, "supported by [^3]")
	if len(byMarker) != 1 || byMarker[0].DocID != "d3" {
		t.Fatalf("expected marker extraction to resolve to d3, got %+v", byMarker)
	}

	fallback := repairCitations(nil, footnotes, "no markers here")
	if len(fallback) != 2 || fallback[0].DocID != "d1" || fallback[1].DocID != "d2" {
		t.Fatalf("expected fallback to first two footnotes, got %+v", fallback)
	}
}

func TestNaiveContextSum_RequiresAtLeastTwoNumbers(t *testing.T) {
	if _, ok := naiveContextSum("only one number: 42"); ok {
		t.Fatalf("expected no sum with a single number")
	}
	sum, ok := naiveContextSum("line items: 10.00 and 20.00")
	if !ok || sum != 30.00 {
		t.Fatalf("sum = %v, ok = %v, want 30.00, true", sum, ok)
	}
}

func TestGreetingRe_MatchesCommonGreetings(t *testing.T) {
	for _, q := range []string{"hi", "Hello!", "hey", "good morning"} {
		if !greetingRe.MatchString(q) {
			t.Fatalf("expected %q to match greeting", q)
		}
	}
	if greetingRe.MatchString("hi, what is the invoice total?") {
		t.Fatalf("did not expect a full question to match the greeting shortcut")
	}
}
