// Package memory provides an in-memory implementation used for development and tests.
// Units of work are staged and validated at commit, mirroring the constraints the
// Postgres schema enforces.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
)

// Store is an in-memory implementation of the repositories and writers used by the services.
// It is guarded by an RWMutex for concurrent reads/writes; units of work additionally
// serialize on per-key locks.
type Store struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]ledger.Account
	slugs    map[string]uuid.UUID
	txs      map[uuid.UUID]ledger.Transaction
	// Per-account and per-group leg ids in insertion order.
	byAccount map[uuid.UUID][]uuid.UUID
	byGroup   map[uuid.UUID][]uuid.UUID
	// refunded holds leg ids that a live refund leg points at.
	refunded    map[uuid.UUID]struct{}
	settlements map[ledger.SettlementKey]ledger.TransactionSettlement
	invoices    map[uuid.UUID]ledger.Invoice
	seq         int64

	locks *keyLocks
}

// New constructs an empty in-memory store.
func New() *Store {
	s := &Store{locks: newKeyLocks()}
	s.Reset()
	return s
}

func (s *Store) Reset() {
	s.mu.Lock()
	s.accounts = map[uuid.UUID]ledger.Account{}
	s.slugs = map[string]uuid.UUID{}
	s.txs = map[uuid.UUID]ledger.Transaction{}
	s.byAccount = map[uuid.UUID][]uuid.UUID{}
	s.byGroup = map[uuid.UUID][]uuid.UUID{}
	s.refunded = map[uuid.UUID]struct{}{}
	s.settlements = map[ledger.SettlementKey]ledger.TransactionSettlement{}
	s.invoices = map[uuid.UUID]ledger.Invoice{}
	s.seq = 0
	s.mu.Unlock()
}

// Ready always succeeds.
func (s *Store) Ready(context.Context) error { return nil }

// --- Accounts ---

func (s *Store) CreateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[a.ID]; ok {
		return ledger.Account{}, errs.ErrConflict
	}
	if _, ok := s.slugs[a.Slug]; ok {
		return ledger.Account{}, errs.ErrConflict
	}
	s.accounts[a.ID] = a
	s.slugs[a.Slug] = a.ID
	return a, nil
}

func (s *Store) UpdateAccount(_ context.Context, a ledger.Account) (ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.accounts[a.ID]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	if cur.Slug != a.Slug {
		if _, taken := s.slugs[a.Slug]; taken {
			return ledger.Account{}, errs.ErrConflict
		}
		delete(s.slugs, cur.Slug)
		s.slugs[a.Slug] = a.ID
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) AccountByID(_ context.Context, id uuid.UUID) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return a, nil
}

func (s *Store) AccountBySlug(_ context.Context, slug string) (ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.slugs[slug]
	if !ok {
		return ledger.Account{}, errs.ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *Store) AccountsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (s *Store) AccountsWithHostActivity(_ context.Context, before time.Time, f ledger.AccountFilter) ([]ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Account, 0)
	for id, legIDs := range s.byAccount {
		active := false
		for _, lid := range legIDs {
			t := s.txs[lid]
			if t.DeletedAt != nil || t.HostID == nil || t.CreatedAt.After(before) {
				continue
			}
			if f.HostID != nil && *t.HostID != *f.HostID {
				continue
			}
			active = true
			break
		}
		if active {
			out = append(out, s.accounts[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return page(out, f.Limit, f.Offset), nil
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return in[:0]
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// --- Transactions ---

func (s *Store) TransactionsByGroup(_ context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Transaction, 0, len(s.byGroup[group]))
	for _, id := range s.byGroup[group] {
		if t := s.txs[id]; t.DeletedAt == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) GroupRefunded(_ context.Context, group uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.byGroup[group] {
		if _, ok := s.refunded[id]; ok {
			return true, nil
		}
	}
	return false, nil
}

// InsertGroup stores legs and settlement rows atomically. A leg that refunds an
// already refunded leg, or a duplicate settlement key, is a conflict.
func (s *Store) InsertGroup(_ context.Context, legs []ledger.Transaction, settlements []ledger.TransactionSettlement) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkInsertLocked(legs); err != nil {
		return nil, err
	}
	for _, st := range settlements {
		if _, ok := s.settlements[st.Key()]; ok {
			return nil, errs.ErrConflict
		}
	}
	out := s.insertLocked(legs)
	for _, st := range settlements {
		s.settlements[st.Key()] = st
	}
	return out, nil
}

func (s *Store) checkInsertLocked(legs []ledger.Transaction) error {
	refunds := make(map[uuid.UUID]struct{})
	for _, t := range legs {
		if _, ok := s.txs[t.ID]; ok {
			return errs.ErrConflict
		}
		if t.RefundOf != nil {
			if _, ok := s.refunded[*t.RefundOf]; ok {
				return errs.ErrConflict
			}
			if _, ok := refunds[*t.RefundOf]; ok {
				return errs.ErrConflict
			}
			refunds[*t.RefundOf] = struct{}{}
		}
		if t.Kind == ledger.KindBalanceCarryforward && s.carryforwardAtLocked(t.AccountID, t.CreatedAt) {
			return errs.ErrConflict
		}
	}
	return nil
}

func (s *Store) insertLocked(legs []ledger.Transaction) []ledger.Transaction {
	out := make([]ledger.Transaction, len(legs))
	for i, t := range legs {
		s.seq++
		t.Seq = s.seq
		t.ProviderData = t.ProviderData.Clone()
		s.txs[t.ID] = t
		s.byAccount[t.AccountID] = append(s.byAccount[t.AccountID], t.ID)
		s.byGroup[t.Group] = append(s.byGroup[t.Group], t.ID)
		if t.RefundOf != nil {
			s.refunded[*t.RefundOf] = struct{}{}
		}
		out[i] = t
	}
	return out
}

func (s *Store) carryforwardAtLocked(accountID uuid.UUID, at time.Time) bool {
	for _, id := range s.byAccount[accountID] {
		t := s.txs[id]
		if t.Kind == ledger.KindBalanceCarryforward && t.DeletedAt == nil && t.CreatedAt.Equal(at) {
			return true
		}
	}
	return false
}

// SoftDeleteGroup marks every leg of a group deleted. Refund links of deleted legs are released.
// It stands in for the administrative ban flow, which lives outside this service.
func (s *Store) SoftDeleteGroup(_ context.Context, group uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, ok := s.byGroup[group]
	if !ok {
		return errs.ErrNotFound
	}
	at = at.UTC()
	for _, id := range ids {
		t := s.txs[id]
		if t.DeletedAt != nil {
			continue
		}
		t.DeletedAt = &at
		if t.RefundOf != nil {
			delete(s.refunded, *t.RefundOf)
		}
		s.txs[id] = t
	}
	return nil
}

// --- Balances ---

func live(t ledger.Transaction, asOf *time.Time) bool {
	return t.DeletedAt == nil && (asOf == nil || !t.CreatedAt.After(*asOf))
}

func (s *Store) SumByCurrency(_ context.Context, ids []uuid.UUID, asOf *time.Time) (map[uuid.UUID]map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]map[string]int64, len(ids))
	for _, id := range ids {
		if sums := s.sumsLocked(id, asOf, nil); len(sums) > 0 {
			out[id] = sums
		}
	}
	return out, nil
}

func (s *Store) sumsLocked(id uuid.UUID, asOf *time.Time, extra []ledger.Transaction) map[string]int64 {
	sums := make(map[string]int64)
	add := func(t ledger.Transaction) {
		if live(t, asOf) {
			sums[t.Currency] += t.Amount
		}
	}
	for _, lid := range s.byAccount[id] {
		add(s.txs[lid])
	}
	for _, t := range extra {
		if t.AccountID == id {
			add(t)
		}
	}
	return sums
}

func (s *Store) AccountVersions(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.BalanceVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]ledger.BalanceVersion, len(ids))
	for _, id := range ids {
		var v ledger.BalanceVersion
		for _, lid := range s.byAccount[id] {
			t := s.txs[lid]
			if t.DeletedAt != nil {
				continue
			}
			v.Legs++
			if t.Seq > v.Seq {
				v.Seq = t.Seq
			}
		}
		if v.Legs > 0 {
			out[id] = v
		}
	}
	return out, nil
}

func (s *Store) HostBalances(_ context.Context, id uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hostBalancesLocked(id, asOf, nil), nil
}

func (s *Store) hostBalancesLocked(id uuid.UUID, asOf time.Time, extra []ledger.Transaction) []ledger.HostBalance {
	type hk struct {
		host               uuid.UUID
		currency, hostCurr string
	}
	sums := make(map[hk]*ledger.HostBalance)
	var order []hk
	add := func(t ledger.Transaction) {
		if t.AccountID != id || t.HostID == nil || !live(t, &asOf) {
			return
		}
		k := hk{*t.HostID, t.Currency, t.HostCurrency}
		b, ok := sums[k]
		if !ok {
			b = &ledger.HostBalance{HostID: k.host, Currency: k.currency, HostCurrency: k.hostCurr}
			sums[k] = b
			order = append(order, k)
		}
		b.Value += t.Amount
		b.HostValue += t.AmountInHostCurrency
	}
	for _, lid := range s.byAccount[id] {
		add(s.txs[lid])
	}
	for _, t := range extra {
		add(t)
	}
	out := make([]ledger.HostBalance, 0, len(order))
	for _, k := range order {
		out = append(out, *sums[k])
	}
	ledger.SortHostBalances(out)
	return out
}

// --- Carryforward ---

func (s *Store) CarryforwardExists(_ context.Context, accountID uuid.UUID, opening time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.carryforwardAtLocked(accountID, opening), nil
}

// --- Settlements and invoices ---

func (s *Store) Settlement(_ context.Context, key ledger.SettlementKey) (ledger.TransactionSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[key]
	if !ok {
		return ledger.TransactionSettlement{}, errs.ErrNotFound
	}
	return st, nil
}

func (s *Store) SettlementsByInvoice(_ context.Context, invoiceID uuid.UUID) ([]ledger.TransactionSettlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.TransactionSettlement, 0)
	for _, st := range s.settlements {
		if st.InvoiceID != nil && *st.InvoiceID == invoiceID {
			out = append(out, st)
		}
	}
	sortSettlements(out)
	return out, nil
}

func sortSettlements(rows []ledger.TransactionSettlement) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TransactionGroup != rows[j].TransactionGroup {
			return rows[i].TransactionGroup.String() < rows[j].TransactionGroup.String()
		}
		return rows[i].Kind < rows[j].Kind
	})
}

func (s *Store) OwedDebts(_ context.Context, period ledger.Period, kinds []ledger.Kind, hostID *uuid.UUID) ([]ledger.DebtItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[ledger.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		wanted[k] = struct{}{}
	}
	out := make([]ledger.DebtItem, 0)
	for key, st := range s.settlements {
		if st.Status != ledger.SettlementOwed {
			continue
		}
		if _, ok := wanted[key.Kind]; !ok {
			continue
		}
		for _, lid := range s.byGroup[key.TransactionGroup] {
			t := s.txs[lid]
			if t.DeletedAt != nil || !t.IsDebt || t.Kind != key.Kind || !t.IsHostSide() {
				continue
			}
			if !period.Contains(t.CreatedAt) || (hostID != nil && *t.HostID != *hostID) {
				continue
			}
			out = append(out, ledger.DebtItem{
				Key:       key,
				HostID:    *t.HostID,
				Currency:  t.HostCurrency,
				Amount:    -t.AmountInHostCurrency,
				IsRefund:  t.IsRefund,
				CreatedAt: t.CreatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key.TransactionGroup.String() < out[j].Key.TransactionGroup.String()
	})
	return out, nil
}

func (s *Store) Invoice(_ context.Context, id uuid.UUID) (ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.invoices[id]
	if !ok {
		return ledger.Invoice{}, errs.ErrNotFound
	}
	return inv, nil
}

// UnpublishedInvoices returns the outbox: invoices not yet handed to the payable subsystem.
func (s *Store) UnpublishedInvoices(_ context.Context, limit int) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ledger.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.PublishedAt == nil {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return strings.Compare(out[i].Reference, out[j].Reference) < 0
	})
	return page(out, limit, 0), nil
}

func (s *Store) MarkInvoicePublished(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return errs.ErrNotFound
	}
	if inv.PublishedAt == nil {
		at = at.UTC()
		inv.PublishedAt = &at
		s.invoices[id] = inv
	}
	return nil
}
