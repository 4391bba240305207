package ragstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"manifold/internal/ragerr"
)

func (s *Store) UpsertInvoice(ctx context.Context, inv Invoice) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpsertInvoice", err)
	}
	defer tx.Rollback(ctx)

	if inv.Meta == nil {
		inv.Meta = map[string]any{}
	}
	_, err = tx.Exec(ctx, `
INSERT INTO invoices(invoice_id, vendor, invoice_number, invoice_date, due_date, total, currency, meta)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (invoice_id) DO UPDATE SET vendor=EXCLUDED.vendor, invoice_number=EXCLUDED.invoice_number,
  invoice_date=EXCLUDED.invoice_date, due_date=EXCLUDED.due_date, total=EXCLUDED.total,
  currency=EXCLUDED.currency, meta=EXCLUDED.meta`,
		inv.InvoiceID, inv.Vendor, inv.InvoiceNumber, inv.InvoiceDate, inv.DueDate, inv.Total, inv.Currency, inv.Meta)
	if err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpsertInvoice.insert", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM invoice_line_items WHERE invoice_id=$1`, inv.InvoiceID); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpsertInvoice.deleteLines", err)
	}
	for _, li := range inv.LineItems {
		if _, err := tx.Exec(ctx, `
INSERT INTO invoice_line_items(invoice_id, description, qty, unit_price, amount) VALUES($1,$2,$3,$4,$5)`,
			inv.InvoiceID, li.Description, li.Qty, li.UnitPrice, li.Amount); err != nil {
			return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpsertInvoice.insertLine", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpsertInvoice.commit", err)
	}
	return nil
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (Invoice, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT invoice_id, vendor, invoice_number, invoice_date, due_date, total, currency, meta
FROM invoices WHERE invoice_number=$1 LIMIT 1`, number)
	var inv Invoice
	if err := row.Scan(&inv.InvoiceID, &inv.Vendor, &inv.InvoiceNumber, &inv.InvoiceDate, &inv.DueDate, &inv.Total, &inv.Currency, &inv.Meta); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, false, nil
		}
		return Invoice{}, false, ragerr.Wrap(ragerr.TransientExternal, "ragstore.GetInvoiceByNumber", err)
	}
	return inv, true, nil
}

func (s *Store) InvoiceDocIDsInRange(ctx context.Context, start, end string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT invoice_id FROM invoices WHERE invoice_date BETWEEN $1 AND $2`, start, end)
	if err != nil {
		return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.InvoiceDocIDsInRange", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, ragerr.Wrap(ragerr.TransientExternal, "ragstore.InvoiceDocIDsInRange.scan", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) TotalSpend(ctx context.Context, start, end string) (float64, error) {
	var total float64
	err := s.pool.QueryRow(ctx, `SELECT coalesce(sum(total),0) FROM invoices WHERE invoice_date BETWEEN $1 AND $2`, start, end).Scan(&total)
	return total, ragerr.Wrap(ragerr.TransientExternal, "ragstore.TotalSpend", err)
}

func (s *Store) UpsertContract(ctx context.Context, c Contract) error {
	if c.Meta == nil {
		c.Meta = map[string]any{}
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO contracts(contract_id, parties, effective_date, expiry_date, governing_law, meta)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (contract_id) DO UPDATE SET parties=EXCLUDED.parties, effective_date=EXCLUDED.effective_date,
  expiry_date=EXCLUDED.expiry_date, governing_law=EXCLUDED.governing_law, meta=EXCLUDED.meta`,
		c.ContractID, c.Parties, c.EffectiveDate, c.ExpiryDate, c.GoverningLaw, c.Meta)
	return ragerr.Wrap(ragerr.TransientExternal, "ragstore.UpsertContract", err)
}
