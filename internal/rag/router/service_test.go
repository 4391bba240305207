package router

import (
	"context"
	"testing"
)

func TestRegexFallback_ClassifiesIntents(t *testing.T) {
	s := New(nil, "")

	cases := []struct {
		query string
		want  Intent
	}{
		{"What is the total on invoice number INV-1042?", FactLookup},
		{"What is the student name and total fees owed?", FactLookup},
		{"Compare vendor A versus vendor B spend", Comparison},
		{"Summarize this contract for me", Summarization},
		{"Where is the office located?", Hybrid},
	}
	for _, c := range cases {
		got := s.Route(context.Background(), c.query)
		if got.Intent != c.want {
			t.Fatalf("query %q: intent = %s, want %s", c.query, got.Intent, c.want)
		}
	}
}

func TestRegexFallback_TagsNumericFlavor(t *testing.T) {
	s := New(nil, "")
	got := s.Route(context.Background(), "What is the total amount spent last quarter?")
	if got.Filters["flavor"] != "numeric" {
		t.Fatalf("flavor = %q, want numeric", got.Filters["flavor"])
	}
}

func TestExtractJSON_StripsCodeFence(t *testing.T) {
	in := "```json\n{\"intent\":\"HYBRID\"}\n```"
	out := extractJSON(in)
	if out != `{"intent":"HYBRID"}` {
		t.Fatalf("extractJSON = %q", out)
	}
}
