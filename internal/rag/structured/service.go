// Package structured implements the Structured Extractor (C11): regex and
// heuristic extraction of invoice/contract entities from a document's blocks
// into the relational tables, run after extraction when a document looks
// like an invoice or a contract.
package structured

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"manifold/internal/ragerr"
	"manifold/internal/ragstore"
)

type Service struct {
	Store *ragstore.Store
}

func New(store *ragstore.Store) *Service {
	return &Service{Store: store}
}

// Result reports which structured entities, if any, were extracted and
// persisted for the document.
type Result struct {
	InvoiceExtracted  bool
	ContractExtracted bool
}

var (
	invoiceKeyword = regexp.MustCompile(`(?i)\binvoice\b`)
	contractKeyword = regexp.MustCompile(`(?i)\b(agreement|contract)\b`)

	invoiceNumberRe = regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?|number)\s*[:#]?\s*([A-Za-z0-9\-_/]+)`)
	invoiceDateRe   = regexp.MustCompile(`(?i)invoice\s*date\s*[:\-]?\s*([A-Za-z0-9,\s/\-]{6,25})`)
	dueDateRe       = regexp.MustCompile(`(?i)due\s*date\s*[:\-]?\s*([A-Za-z0-9,\s/\-]{6,25})`)
	totalRe         = regexp.MustCompile(`(?i)(?:grand\s*total|total\s*due|total)\s*[:\-]?\s*([$€£]?\s?[\d,]+\.\d{2})`)
	vendorLabelRe   = regexp.MustCompile(`(?i)(?:vendor|from|bill\s*from)\s*[:\-]\s*(.+)`)

	partiesRe       = regexp.MustCompile(`(?i)\bbetween\s+(.+?)\s+and\s+(.+?)(?:[.,;]|\s+\(|\s*$)`)
	effectiveDateRe = regexp.MustCompile(`(?i)effective\s*date\s*[:\-]?\s*([A-Za-z0-9,\s/\-]{6,25})`)
	expiryDateRe    = regexp.MustCompile(`(?i)(?:expir\w+|termination)\s*date\s*[:\-]?\s*([A-Za-z0-9,\s/\-]{6,25})`)
	governingLawRe  = regexp.MustCompile(`(?i)governed\s+by\s+the\s+laws?\s+of\s+(.+?)(?:[.,;]|\s*$)`)
)

// Extract inspects the document's blocks for invoice/contract signals and,
// when found, upserts the corresponding structured rows. A document with
// neither signal is a no-op.
func (s *Service) Extract(ctx context.Context, docID string) (Result, error) {
	const op = "structured.Extract"
	blocks, err := s.Store.ListBlocks(ctx, docID)
	if err != nil {
		return Result{}, ragerr.Wrap(ragerr.Fatal, op, err)
	}
	if len(blocks) == 0 {
		return Result{}, nil
	}

	full := joinBlockText(blocks)
	var res Result

	if invoiceKeyword.MatchString(full) {
		inv := extractInvoice(docID, blocks, full)
		if err := s.Store.UpsertInvoice(ctx, inv); err != nil {
			return res, ragerr.Wrap(ragerr.Fatal, op, err)
		}
		res.InvoiceExtracted = true
	}

	if contractKeyword.MatchString(full) {
		c := extractContract(docID, full)
		if err := s.Store.UpsertContract(ctx, c); err != nil {
			return res, ragerr.Wrap(ragerr.Fatal, op, err)
		}
		res.ContractExtracted = true
	}

	return res, nil
}

func joinBlockText(blocks []ragstore.Block) string {
	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func extractInvoice(docID string, blocks []ragstore.Block, full string) ragstore.Invoice {
	inv := ragstore.Invoice{InvoiceID: docID, Currency: "USD", Meta: map[string]any{}}

	if m := invoiceNumberRe.FindStringSubmatch(full); m != nil {
		inv.InvoiceNumber = strings.TrimSpace(m[1])
	}
	if m := invoiceDateRe.FindStringSubmatch(full); m != nil {
		if t, ok := parseLooseDate(m[1]); ok {
			inv.InvoiceDate = &t
		}
	}
	if m := dueDateRe.FindStringSubmatch(full); m != nil {
		if t, ok := parseLooseDate(m[1]); ok {
			inv.DueDate = &t
		}
	}
	if m := totalRe.FindStringSubmatch(full); m != nil {
		inv.Currency = currencyFromSymbol(m[1])
		if v, ok := parseAmount(m[1]); ok {
			inv.Total = v
		}
	}
	if m := vendorLabelRe.FindStringSubmatch(full); m != nil {
		inv.Vendor = strings.TrimSpace(firstLine(m[1]))
	} else if v := headerVendorGuess(blocks); v != "" {
		inv.Vendor = v
	}

	inv.LineItems = extractLineItems(docID, blocks)
	return inv
}

// headerVendorGuess falls back to the document's first non-empty header
// block when no explicit "Vendor:"/"Bill From:" label is present; paragraph
// blocks are not considered.
func headerVendorGuess(blocks []ragstore.Block) string {
	for _, b := range blocks {
		if b.Type == ragstore.BlockHeader && strings.TrimSpace(b.Text) != "" {
			return strings.TrimSpace(b.Text)
		}
	}
	return ""
}

// extractLineItems scans table blocks for a description/qty/unit-price/amount
// layout, matching on header text rather than fixed column order.
func extractLineItems(docID string, blocks []ragstore.Block) []ragstore.InvoiceLineItem {
	var out []ragstore.InvoiceLineItem
	for _, b := range blocks {
		if b.Type != ragstore.BlockTable {
			continue
		}
		rows := splitTableRows(b.Text)
		if len(rows) < 2 {
			continue
		}
		cols := columnIndex(rows[0])
		for _, row := range rows[1:] {
			if len(row) == 0 {
				continue
			}
			item := ragstore.InvoiceLineItem{InvoiceID: docID}
			if i, ok := cols["description"]; ok && i < len(row) {
				item.Description = strings.TrimSpace(row[i])
			}
			if i, ok := cols["qty"]; ok && i < len(row) {
				item.Qty, _ = strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
			}
			if i, ok := cols["unit_price"]; ok && i < len(row) {
				if v, ok := parseAmount(row[i]); ok {
					item.UnitPrice = v
				}
			}
			if i, ok := cols["amount"]; ok && i < len(row) {
				if v, ok := parseAmount(row[i]); ok {
					item.Amount = v
				}
			}
			if item.Description != "" || item.Amount != 0 {
				out = append(out, item)
			}
		}
	}
	return out
}

func splitTableRows(text string) [][]string {
	var rows [][]string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || isMarkdownSeparatorRow(line) {
			continue
		}
		line = strings.Trim(line, "|")
		cells := strings.Split(line, "|")
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		rows = append(rows, cells)
	}
	return rows
}

func isMarkdownSeparatorRow(line string) bool {
	trimmed := strings.Trim(line, "| -:")
	return trimmed == ""
}

func columnIndex(header []string) map[string]int {
	idx := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(h, "desc"):
			idx["description"] = i
		case strings.Contains(h, "qty") || strings.Contains(h, "quantity"):
			idx["qty"] = i
		case strings.Contains(h, "unit") || strings.Contains(h, "rate") || strings.Contains(h, "price"):
			idx["unit_price"] = i
		case strings.Contains(h, "amount") || strings.Contains(h, "total"):
			idx["amount"] = i
		}
	}
	return idx
}

func extractContract(docID string, full string) ragstore.Contract {
	c := ragstore.Contract{ContractID: docID, Meta: map[string]any{}}
	if m := partiesRe.FindStringSubmatch(full); m != nil {
		c.Parties = []string{strings.TrimSpace(m[1]), strings.TrimSpace(m[2])}
	}
	if m := effectiveDateRe.FindStringSubmatch(full); m != nil {
		if t, ok := parseLooseDate(m[1]); ok {
			c.EffectiveDate = &t
		}
	}
	if m := expiryDateRe.FindStringSubmatch(full); m != nil {
		if t, ok := parseLooseDate(m[1]); ok {
			c.ExpiryDate = &t
		}
	}
	if m := governingLawRe.FindStringSubmatch(full); m != nil {
		c.GoverningLaw = strings.TrimSpace(m[1])
	}
	return c
}

func parseLooseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(firstLine(s))
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func currencyFromSymbol(s string) string {
	switch {
	case strings.Contains(s, "€"):
		return "EUR"
	case strings.Contains(s, "£"):
		return "GBP"
	default:
		return "USD"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
