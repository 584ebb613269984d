// Package carryforward closes an account's balance at a fiscal cutoff and
// reopens it on the next day, and verifies coverage of a population of accounts.
package carryforward

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
)

// Reader is the read side shared by the store and its transactions.
type Reader interface {
	// CarryforwardExists reports a live BALANCE_CARRYFORWARD leg on the account dated opening.
	CarryforwardExists(ctx context.Context, accountID uuid.UUID, opening time.Time) (bool, error)
	HostBalances(ctx context.Context, accountID uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error)
}

// Tx is an account-scoped unit of work. Reads observe the unit's own writes.
type Tx interface {
	Reader
	// CurrencySums sums the account's legs per currency; a nil asOf sums every leg.
	CurrencySums(ctx context.Context, accountID uuid.UUID, asOf *time.Time) (map[string]int64, error)
	InsertTransactions(ctx context.Context, legs []ledger.Transaction) ([]ledger.Transaction, error)
}

// Store serializes units of work on (account, cutoff). An error from fn rolls
// back; a lost race on the carryforward unique key surfaces as errs.ErrConflict.
type Store interface {
	Reader
	InAccountTx(ctx context.Context, accountID uuid.UUID, cutoff ledger.Cutoff, fn func(tx Tx) error) error
}

// Accounts resolves batch populations.
type Accounts interface {
	Resolve(ctx context.Context, ref string) (ledger.Account, error)
	Population(ctx context.Context, cutoff ledger.Cutoff, f ledger.AccountFilter) ([]ledger.Account, error)
}

// Invalidator drops cached current balances after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID) error
}
