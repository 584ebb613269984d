package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
)

// --- Settlement rows ---

const settlementColumns = `transaction_group, kind, status, invoice_id, created_at, updated_at`

func scanSettlement(row pgx.Row) (ledger.TransactionSettlement, error) {
	var st ledger.TransactionSettlement
	err := row.Scan(&st.TransactionGroup, &st.Kind, &st.Status, &st.InvoiceID, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.TransactionSettlement{}, errs.ErrNotFound
	}
	return st, err
}

func (s *Store) Settlement(ctx context.Context, key ledger.SettlementKey) (ledger.TransactionSettlement, error) {
	return scanSettlement(s.pool.QueryRow(ctx, `
		select `+settlementColumns+`
		from transaction_settlements
		where transaction_group = $1 and kind = $2
	`, key.TransactionGroup, key.Kind))
}

func (s *Store) SettlementsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]ledger.TransactionSettlement, error) {
	rows, err := s.pool.Query(ctx, `
		select `+settlementColumns+`
		from transaction_settlements
		where invoice_id = $1
		order by transaction_group, kind
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.TransactionSettlement, 0)
	for rows.Next() {
		st, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// OwedDebts joins OWED rows with their host-side debt leg created in period.
// Amount is the negated host leg, so refunds come out negative.
func (s *Store) OwedDebts(ctx context.Context, period ledger.Period, kinds []ledger.Kind, hostID *uuid.UUID) ([]ledger.DebtItem, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	rows, err := s.pool.Query(ctx, `
		select s.transaction_group, s.kind, t.host_id, t.host_currency,
		       -t.amount_in_host_currency, t.is_refund, t.created_at
		from transaction_settlements s
		join transactions t
		  on t.transaction_group = s.transaction_group and t.kind = s.kind
		where s.status = 'OWED'
		  and s.kind = any($1)
		  and t.is_debt
		  and t.deleted_at is null
		  and t.account_id = t.host_id
		  and t.created_at >= $2 and t.created_at < $3
		  and ($4::uuid is null or t.host_id = $4)
		order by t.created_at, s.transaction_group
	`, names, period.Start, period.End, hostID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.DebtItem, 0)
	for rows.Next() {
		var d ledger.DebtItem
		if err := rows.Scan(&d.Key.TransactionGroup, &d.Key.Kind, &d.HostID, &d.Currency, &d.Amount, &d.IsRefund, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Invoices ---

const invoiceColumns = `id, reference, host_id, currency, direction, period_start, period_end,
	line_items, total_amount, audit_references, created_at, paid_at, published_at`

func scanInvoice(row pgx.Row) (ledger.Invoice, error) {
	var inv ledger.Invoice
	var lines, refs []byte
	err := row.Scan(&inv.ID, &inv.Reference, &inv.HostID, &inv.Currency, &inv.Direction,
		&inv.Period.Start, &inv.Period.End, &lines, &inv.TotalAmount, &refs,
		&inv.CreatedAt, &inv.PaidAt, &inv.PublishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Invoice{}, errs.ErrNotFound
	}
	if err != nil {
		return ledger.Invoice{}, err
	}
	if err := json.Unmarshal(lines, &inv.LineItems); err != nil {
		return ledger.Invoice{}, fmt.Errorf("invoice %s line items: %w", inv.ID, err)
	}
	if err := json.Unmarshal(refs, &inv.AuditReferences); err != nil {
		return ledger.Invoice{}, fmt.Errorf("invoice %s audit references: %w", inv.ID, err)
	}
	return inv, nil
}

func (s *Store) Invoice(ctx context.Context, id uuid.UUID) (ledger.Invoice, error) {
	return scanInvoice(s.pool.QueryRow(ctx, `select `+invoiceColumns+` from invoices where id = $1`, id))
}

// UnpublishedInvoices returns the outbox in creation order.
func (s *Store) UnpublishedInvoices(ctx context.Context, limit int) ([]ledger.Invoice, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		select `+invoiceColumns+`
		from invoices
		where published_at is null
		order by created_at, reference
		limit $1
	`, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *Store) MarkInvoicePublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		update invoices set published_at = coalesce(published_at, $2) where id = $1
	`, id, at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func createInvoice(ctx context.Context, q querier, inv ledger.Invoice) error {
	lines, err := json.Marshal(inv.LineItems)
	if err != nil {
		return err
	}
	refs, err := json.Marshal(inv.AuditReferences)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		insert into invoices (id, reference, host_id, currency, direction, period_start, period_end,
			line_items, total_amount, audit_references, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, inv.ID, inv.Reference, inv.HostID, inv.Currency, inv.Direction, inv.Period.Start, inv.Period.End,
		lines, inv.TotalAmount, refs, inv.CreatedAt)
	return mapErr(err)
}
