package retrieve

import (
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// QueryHints captures signals pulled out of the raw query text before it is
// sent to the search backends: an explicit date range, an invoice number the
// user is asking about, and whether the query reads as numeric (asking for
// a total, count, or amount) so downstream packing can prioritize
// tables/lists.
type QueryHints struct {
	DateStart     *time.Time
	DateEnd       *time.Time
	InvoiceNumber string
	Numeric       bool
}

var (
	invoiceNumberHintRe = regexp.MustCompile(`(?i)invoice\s*(?:#|no\.?|number)\s*[:#]?\s*([A-Za-z0-9\-_/]+)`)
	numericHintRe       = regexp.MustCompile(`(?i)\b(total|sum|how much|count|average|amount|spend|spent)\b`)
	dateRangeRe         = regexp.MustCompile(`(?i)(?:between|from)\s+(.+?)\s+(?:and|to)\s+(.+?)(?:[.?]|$)`)
)

// ExtractHints scans the raw query for the patterns above. Extraction is
// best-effort: a miss on any one hint leaves its zero value and never
// errors.
func ExtractHints(q string) QueryHints {
	var h QueryHints
	if m := invoiceNumberHintRe.FindStringSubmatch(q); m != nil {
		h.InvoiceNumber = strings.TrimSpace(m[1])
	}
	h.Numeric = numericHintRe.MatchString(q)
	if m := dateRangeRe.FindStringSubmatch(q); m != nil {
		if t, err := dateparse.ParseAny(strings.TrimSpace(m[1])); err == nil {
			h.DateStart = &t
		}
		if t, err := dateparse.ParseAny(strings.TrimSpace(m[2])); err == nil {
			h.DateEnd = &t
		}
	}
	return h
}

// ApplyHints folds the extracted hints into the query plan's filter map so
// both search legs see them consistently.
func ApplyHints(plan QueryPlan, h QueryHints) QueryPlan {
	if h.InvoiceNumber != "" {
		plan.Filters["invoice_number"] = h.InvoiceNumber
	}
	if h.Numeric {
		plan.Filters["numeric_hint"] = "true"
	}
	if h.DateStart != nil {
		plan.Filters["date_start"] = h.DateStart.Format("2006-01-02")
	}
	if h.DateEnd != nil {
		plan.Filters["date_end"] = h.DateEnd.Format("2006-01-02")
	}
	return plan
}
