package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

// inLockedTx runs fn in a transaction that holds the advisory lock for key
// until commit or rollback.
func (s *Store) inLockedTx(ctx context.Context, key string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `select pg_advisory_xact_lock($1)`, lockKey(key)); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return mapErr(tx.Commit(ctx))
}

// --- host unit of work ---

type hostTx struct{ tx pgx.Tx }

// InHostTx runs fn in one database transaction serialized per host.
func (s *Store) InHostTx(ctx context.Context, hostID uuid.UUID, fn func(tx settlement.Tx) error) error {
	return s.inLockedTx(ctx, "host:"+hostID.String(), func(tx pgx.Tx) error {
		return fn(hostTx{tx: tx})
	})
}

func (t hostTx) CreateInvoice(ctx context.Context, inv ledger.Invoice) error {
	return createInvoice(ctx, t.tx, inv)
}

func (t hostTx) TransitionSettlements(ctx context.Context, keys []ledger.SettlementKey, from, to ledger.SettlementStatus, invoiceID *uuid.UUID, at time.Time) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	groups := make([]uuid.UUID, len(keys))
	kinds := make([]string, len(keys))
	for i, k := range keys {
		groups[i] = k.TransactionGroup
		kinds[i] = string(k.Kind)
	}
	ct, err := t.tx.Exec(ctx, `
		update transaction_settlements s
		set status = $1, updated_at = $2, invoice_id = coalesce($3, s.invoice_id)
		from unnest($4::uuid[], $5::text[]) as k(transaction_group, kind)
		where s.transaction_group = k.transaction_group
		  and s.kind = k.kind
		  and s.status = $6
	`, to, at.UTC(), invoiceID, groups, kinds, from)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (t hostTx) MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, at time.Time) error {
	ct, err := t.tx.Exec(ctx, `update invoices set paid_at = $2 where id = $1 and paid_at is null`, invoiceID, at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, `select exists (select 1 from invoices where id = $1)`, invoiceID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return errs.ErrNotFound
	}
	return errs.ErrConflict
}

// --- account unit of work ---

type accountTx struct{ tx pgx.Tx }

// InAccountTx runs fn in one database transaction serialized on (account, cutoff day).
// A lost race on the carryforward unique index surfaces as errs.ErrConflict.
func (s *Store) InAccountTx(ctx context.Context, accountID uuid.UUID, cutoff ledger.Cutoff, fn func(tx carryforward.Tx) error) error {
	return s.inLockedTx(ctx, "carryforward:"+accountID.String()+":"+cutoff.Day(), func(tx pgx.Tx) error {
		return fn(accountTx{tx: tx})
	})
}

func (t accountTx) CarryforwardExists(ctx context.Context, accountID uuid.UUID, opening time.Time) (bool, error) {
	return carryforwardExists(ctx, t.tx, accountID, opening)
}

func (t accountTx) HostBalances(ctx context.Context, accountID uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error) {
	return hostBalances(ctx, t.tx, accountID, asOf)
}

func (t accountTx) CurrencySums(ctx context.Context, accountID uuid.UUID, asOf *time.Time) (map[string]int64, error) {
	sums, err := sumByCurrency(ctx, t.tx, []uuid.UUID{accountID}, asOf)
	if err != nil {
		return nil, err
	}
	if sums[accountID] == nil {
		return map[string]int64{}, nil
	}
	return sums[accountID], nil
}

func (t accountTx) InsertTransactions(ctx context.Context, legs []ledger.Transaction) ([]ledger.Transaction, error) {
	return insertLegs(ctx, t.tx, legs)
}
