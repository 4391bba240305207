package structured

import (
	"testing"

	"manifold/internal/ragstore"
)

func TestExtractInvoice_FieldsAndLineItems(t *testing.T) {
	blocks := []ragstore.Block{
		{Type: ragstore.BlockHeader, Text: "Acme Corp"},
		{Type: ragstore.BlockParagraph, Text: "Invoice Number: INV-1042\nInvoice Date: 2026-01-05\nDue Date: 2026-02-04"},
		{Type: ragstore.BlockTable, Text: "Description | Qty | Unit Price | Amount\n--- | --- | --- | ---\nWidgets | 3 | $10.00 | $30.00"},
		{Type: ragstore.BlockParagraph, Text: "Total Due: $30.00"},
	}
	full := joinBlockText(blocks)
	inv := extractInvoice("doc1", blocks, full)

	if inv.InvoiceNumber != "INV-1042" {
		t.Fatalf("invoice number = %q", inv.InvoiceNumber)
	}
	if inv.InvoiceDate == nil || inv.DueDate == nil {
		t.Fatalf("expected both dates parsed, got invoice=%v due=%v", inv.InvoiceDate, inv.DueDate)
	}
	if inv.Total != 30.00 {
		t.Fatalf("total = %v, want 30.00", inv.Total)
	}
	if inv.Currency != "USD" {
		t.Fatalf("currency = %q, want USD", inv.Currency)
	}
	if len(inv.LineItems) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(inv.LineItems))
	}
	li := inv.LineItems[0]
	if li.Description != "Widgets" || li.Qty != 3 || li.UnitPrice != 10.00 || li.Amount != 30.00 {
		t.Fatalf("unexpected line item: %+v", li)
	}
}

func TestExtractContract_PartiesAndLaw(t *testing.T) {
	full := "This Agreement is entered into between Acme Corp and Widget LLC. " +
		"Effective Date: January 1, 2026. This agreement is governed by the laws of Delaware."
	c := extractContract("doc2", full)

	if len(c.Parties) != 2 {
		t.Fatalf("expected 2 parties, got %v", c.Parties)
	}
	if c.EffectiveDate == nil {
		t.Fatalf("expected effective date parsed")
	}
	if c.GoverningLaw != "Delaware" {
		t.Fatalf("governing law = %q, want Delaware", c.GoverningLaw)
	}
}

func TestExtract_NeitherSignal_NoOp(t *testing.T) {
	full := "Just a plain memo with no structured signals at all."
	if invoiceKeyword.MatchString(full) || contractKeyword.MatchString(full) {
		t.Fatalf("expected no keyword matches in plain memo text")
	}
}

func TestParseAmount_StripsCurrencyAndCommas(t *testing.T) {
	v, ok := parseAmount("$1,234.50")
	if !ok || v != 1234.50 {
		t.Fatalf("parseAmount = %v, %v, want 1234.50, true", v, ok)
	}
}

func TestColumnIndex_MatchesByHeaderSubstring(t *testing.T) {
	idx := columnIndex([]string{"Item Description", "Quantity", "Rate", "Line Total"})
	for _, key := range []string{"description", "qty", "unit_price", "amount"} {
		if _, ok := idx[key]; !ok {
			t.Fatalf("expected column %q to resolve, got %v", key, idx)
		}
	}
}
