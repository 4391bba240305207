package factlookup

import "testing"

func TestCurrencyLineRe_CapturesLabelAndAmount(t *testing.T) {
	m := currencyLineRe.FindStringSubmatch("Total Due: $1,234.56")
	if m == nil {
		t.Fatalf("expected match")
	}
	if !labeledTotalWords.MatchString(m[1]) {
		t.Fatalf("expected label %q to match a total/due/fee word", m[1])
	}
	if m[2] != "1,234.56" {
		t.Fatalf("amount = %q, want 1,234.56", m[2])
	}
}

func TestStudentNameLineRe_CapturesName(t *testing.T) {
	m := studentNameLineRe.FindStringSubmatch("Student Name: Jane Doe")
	if m == nil || firstLine(m[1]) != "Jane Doe" {
		t.Fatalf("expected name capture, got %v", m)
	}
}

func TestInvoiceNumberQueryRe_Extracts(t *testing.T) {
	m := invoiceNumberQueryRe.FindStringSubmatch("What is the total for invoice number INV-1042?")
	if m == nil || m[1] != "INV-1042" {
		t.Fatalf("expected INV-1042, got %v", m)
	}
}
