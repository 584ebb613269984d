// Package settlement tracks debt settlement rows and aggregates owed debts into
// periodic per-host invoices.
package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
)

// Repo defines read operations needed by the tracker and the aggregator.
type Repo interface {
	// OwedDebts joins OWED rows of kinds with their host-side debt leg created in period.
	OwedDebts(ctx context.Context, period ledger.Period, kinds []ledger.Kind, hostID *uuid.UUID) ([]ledger.DebtItem, error)
	Settlement(ctx context.Context, key ledger.SettlementKey) (ledger.TransactionSettlement, error)
	SettlementsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]ledger.TransactionSettlement, error)
	Invoice(ctx context.Context, id uuid.UUID) (ledger.Invoice, error)
}

// UnitOfWork runs fn atomically, scoped to one host. An error from fn rolls back.
type UnitOfWork interface {
	InHostTx(ctx context.Context, hostID uuid.UUID, fn func(tx Tx) error) error
}

// Tx is the write side available inside a host unit of work.
type Tx interface {
	CreateInvoice(ctx context.Context, inv ledger.Invoice) error
	// TransitionSettlements moves rows currently in from to to and returns how many
	// moved. A nil invoiceID leaves the row's invoice untouched.
	TransitionSettlements(ctx context.Context, keys []ledger.SettlementKey, from, to ledger.SettlementStatus, invoiceID *uuid.UUID, at time.Time) (int64, error)
	// MarkInvoicePaid stamps PaidAt on an unpaid invoice; ErrConflict if already paid.
	MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, at time.Time) error
}
