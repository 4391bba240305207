package generate

import "testing"

func TestGroundedness_HighOverlapScoresHigh(t *testing.T) {
	ctx := "The invoice total was 1234.56 dollars for vendor Acme Corp."
	answer := "The invoice total for Acme Corp was 1234.56 dollars."
	g := groundedness(answer, ctx)
	if g < 0.7 {
		t.Fatalf("groundedness = %f, want >= 0.7", g)
	}
}

func TestGroundedness_FabricatedNumberScoresLow(t *testing.T) {
	ctx := "The invoice total was 1234.56 dollars for vendor Acme Corp."
	answer := "The total was 9999.99 dollars."
	g := groundedness(answer, ctx)
	if g > 0.5 {
		t.Fatalf("groundedness = %f, want a low score for a fabricated number", g)
	}
}

func TestGroundedness_EmptyAnswerIsFullyGrounded(t *testing.T) {
	if g := groundedness("", "anything"); g != 1.0 {
		t.Fatalf("groundedness of empty answer = %f, want 1.0", g)
	}
}
