package jobs

import (
	"context"
	"testing"

	"manifold/internal/ragstore"
)

func TestDocIDsFromPayload_ExtractsStrings(t *testing.T) {
	payload := map[string]any{"doc_ids": []any{"d1", "d2", "d3"}}
	got := docIDsFromPayload(payload)
	if len(got) != 3 || got[0] != "d1" || got[2] != "d3" {
		t.Fatalf("docIDsFromPayload = %v", got)
	}
}

func TestDocIDsFromPayload_MissingKeyReturnsNil(t *testing.T) {
	if got := docIDsFromPayload(map[string]any{}); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestRound2_RoundsToTwoDecimals(t *testing.T) {
	if got := round2(1.0 / 3.0 * 100); got != 33.33 {
		t.Fatalf("round2 = %v, want 33.33", got)
	}
}

func TestDispatch_UnknownJobTypeErrors(t *testing.T) {
	w := &Worker{Log: noopLogger{}}
	_, err := w.dispatch(context.Background(), ragstore.Job{JobID: "j1", JobType: "bogus"})
	if err == nil {
		t.Fatalf("expected an error for an unknown job_type")
	}
}
