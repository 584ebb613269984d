package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

// keyLocks hands out one context-aware mutex per key.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newKeyLocks() *keyLocks { return &keyLocks{locks: make(map[string]chan struct{})} }

func (l *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --- host unit of work ---

type stagedRow struct {
	row  ledger.TransactionSettlement
	from ledger.SettlementStatus
}

type hostTx struct {
	s        *Store
	invoices []ledger.Invoice
	rows     map[ledger.SettlementKey]stagedRow
	paid     map[uuid.UUID]time.Time
}

// InHostTx runs fn under the host's lock and commits its staged writes atomically.
func (s *Store) InHostTx(ctx context.Context, hostID uuid.UUID, fn func(tx settlement.Tx) error) error {
	unlock, err := s.locks.acquire(ctx, "host:"+hostID.String())
	if err != nil {
		return err
	}
	defer unlock()
	tx := &hostTx{s: s, rows: map[ledger.SettlementKey]stagedRow{}, paid: map[uuid.UUID]time.Time{}}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (t *hostTx) CreateInvoice(_ context.Context, inv ledger.Invoice) error {
	if _, ok := t.invoice(inv.ID); ok {
		return errs.ErrConflict
	}
	t.invoices = append(t.invoices, inv)
	return nil
}

func (t *hostTx) invoice(id uuid.UUID) (ledger.Invoice, bool) {
	for _, inv := range t.invoices {
		if inv.ID == id {
			return inv, true
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	inv, ok := t.s.invoices[id]
	return inv, ok
}

func (t *hostTx) TransitionSettlements(_ context.Context, keys []ledger.SettlementKey, from, to ledger.SettlementStatus, invoiceID *uuid.UUID, at time.Time) (int64, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var n int64
	for _, k := range keys {
		staged, ok := t.rows[k]
		if !ok {
			row, exists := t.s.settlements[k]
			if !exists {
				continue
			}
			staged = stagedRow{row: row, from: row.Status}
		}
		if staged.row.Status != from {
			continue
		}
		staged.row.Status = to
		staged.row.UpdatedAt = at
		if invoiceID != nil {
			id := *invoiceID
			staged.row.InvoiceID = &id
		}
		t.rows[k] = staged
		n++
	}
	return n, nil
}

func (t *hostTx) MarkInvoicePaid(_ context.Context, invoiceID uuid.UUID, at time.Time) error {
	inv, ok := t.invoice(invoiceID)
	if !ok {
		return errs.ErrNotFound
	}
	if _, staged := t.paid[invoiceID]; staged || inv.PaidAt != nil {
		return errs.ErrConflict
	}
	t.paid[invoiceID] = at
	return nil
}

func (t *hostTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range t.invoices {
		if _, ok := s.invoices[inv.ID]; ok {
			return errs.ErrConflict
		}
	}
	for k, st := range t.rows {
		if cur, ok := s.settlements[k]; !ok || cur.Status != st.from {
			return errs.ErrConflict
		}
	}
	for id := range t.paid {
		if inv, ok := s.invoices[id]; ok && inv.PaidAt != nil {
			return errs.ErrConflict
		}
	}
	for _, inv := range t.invoices {
		s.invoices[inv.ID] = inv
	}
	for k, st := range t.rows {
		s.settlements[k] = st.row
	}
	for id, at := range t.paid {
		inv := s.invoices[id]
		at := at.UTC()
		inv.PaidAt = &at
		s.invoices[id] = inv
	}
	return nil
}

// --- account unit of work ---

type accountTx struct {
	s      *Store
	staged []ledger.Transaction
}

// InAccountTx runs fn under the (account, cutoff) lock. Commit rejects a second
// carryforward leg at the same instant with errs.ErrConflict.
func (s *Store) InAccountTx(ctx context.Context, accountID uuid.UUID, cutoff ledger.Cutoff, fn func(tx carryforward.Tx) error) error {
	unlock, err := s.locks.acquire(ctx, "carryforward:"+accountID.String()+":"+cutoff.Day())
	if err != nil {
		return err
	}
	defer unlock()
	tx := &accountTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (t *accountTx) CarryforwardExists(_ context.Context, accountID uuid.UUID, opening time.Time) (bool, error) {
	for _, l := range t.staged {
		if l.AccountID == accountID && l.Kind == ledger.KindBalanceCarryforward && l.CreatedAt.Equal(opening) {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.carryforwardAtLocked(accountID, opening), nil
}

func (t *accountTx) HostBalances(_ context.Context, accountID uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.hostBalancesLocked(accountID, asOf, t.staged), nil
}

func (t *accountTx) CurrencySums(_ context.Context, accountID uuid.UUID, asOf *time.Time) (map[string]int64, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.sumsLocked(accountID, asOf, t.staged), nil
}

func (t *accountTx) InsertTransactions(_ context.Context, legs []ledger.Transaction) ([]ledger.Transaction, error) {
	for _, l := range legs {
		if l.ID == uuid.Nil {
			return nil, errs.ErrInvalid
		}
	}
	t.staged = append(t.staged, legs...)
	return legs, nil
}

func (t *accountTx) commit() error {
	if len(t.staged) == 0 {
		return nil
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInsertLocked(t.staged); err != nil {
		return err
	}
	s.insertLocked(t.staged)
	return nil
}
