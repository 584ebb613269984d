package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

func getTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres store tests")
	}
	return dsn
}

func mustOpen(t *testing.T, dsn string) *Store {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

// prepare applies the init migration and empties every table.
func prepare(t *testing.T) *Store {
	t.Helper()
	dsn := getTestDSN(t)
	s := mustOpen(t, dsn)
	t.Cleanup(s.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Resolve init SQL path relative to this test file so CWD doesn't matter
	_, thisFile, _, _ := runtime.Caller(0)
	repoRoot := filepath.Clean(filepath.Join(filepath.Dir(thisFile), "../../../"))
	b, err := os.ReadFile(filepath.Join(repoRoot, "db", "migrations", "0001_init.sql"))
	if err != nil {
		t.Fatalf("read init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, string(b)); err != nil {
		t.Fatalf("apply init sql: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `truncate table transaction_settlements, invoices, transactions, accounts cascade`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func mustAccount(t *testing.T, s *Store, slug string, typ ledger.AccountType, host *uuid.UUID) ledger.Account {
	t.Helper()
	id := uuid.New()
	if host == nil && (typ == ledger.AccountTypeHost || typ == ledger.AccountTypePlatform) {
		host = &id
	}
	a, err := s.CreateAccount(context.Background(), ledger.Account{
		ID: id, Slug: slug, Name: slug, Type: typ, Currency: "GBP", HostID: host, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create account %s: %v", slug, err)
	}
	return a
}

func leg(group, account, counterparty uuid.UUID, host *uuid.UUID, kind ledger.Kind, amount int64, at time.Time) ledger.Transaction {
	typ := ledger.Credit
	if amount < 0 {
		typ = ledger.Debit
	}
	return ledger.Transaction{
		ID: uuid.New(), Group: group, Type: typ, Kind: kind,
		Amount: amount, Currency: "GBP", AmountInHostCurrency: amount, HostCurrency: "GBP",
		HostCurrencyFxRate: decimal.NewFromInt(1),
		AccountID:          account, CounterpartyID: counterparty, HostID: host,
		IsDebt: kind == ledger.KindPlatformTipDebt, CreatedAt: at,
	}
}

func TestStore_AccountsAndBalances(t *testing.T) {
	s := prepare(t)
	ctx := context.Background()
	if err := s.Ready(ctx); err != nil {
		t.Fatalf("ready: %v", err)
	}

	host := mustAccount(t, s, "host", ledger.AccountTypeHost, nil)
	coll := mustAccount(t, s, "coll", ledger.AccountTypeCollective, &host.ID)
	donor := mustAccount(t, s, "donor", ledger.AccountTypeUser, nil)

	if _, err := s.CreateAccount(ctx, ledger.Account{ID: uuid.New(), Slug: "coll", Name: "dup", Type: ledger.AccountTypeUser, Currency: "GBP"}); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("duplicate slug: want conflict, got %v", err)
	}
	got, err := s.AccountBySlug(ctx, "COLL")
	if err != nil || got.ID != coll.ID || got.HostID == nil || *got.HostID != host.ID {
		t.Fatalf("account by slug: %+v %v", got, err)
	}

	at := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)
	g := uuid.New()
	saved, err := s.InsertGroup(ctx, []ledger.Transaction{
		leg(g, coll.ID, donor.ID, &host.ID, ledger.KindContribution, 7400, at),
		leg(g, donor.ID, coll.ID, nil, ledger.KindContribution, -7400, at),
	}, nil)
	if err != nil {
		t.Fatalf("insert group: %v", err)
	}
	if saved[0].Seq == 0 || saved[1].Seq <= saved[0].Seq {
		t.Fatalf("unexpected seq: %d %d", saved[0].Seq, saved[1].Seq)
	}

	sums, err := s.SumByCurrency(ctx, []uuid.UUID{coll.ID, donor.ID}, nil)
	if err != nil {
		t.Fatalf("sums: %v", err)
	}
	if sums[coll.ID]["GBP"] != 7400 || sums[donor.ID]["GBP"] != -7400 {
		t.Fatalf("unexpected sums: %v", sums)
	}
	before := at.Add(-time.Second)
	if early, _ := s.SumByCurrency(ctx, []uuid.UUID{coll.ID}, &before); len(early) != 0 {
		t.Fatalf("expected no sums before the group, got %v", early)
	}

	v, err := s.AccountVersions(ctx, []uuid.UUID{coll.ID, host.ID})
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if v[coll.ID].Legs != 1 || v[coll.ID].Seq != saved[0].Seq {
		t.Fatalf("unexpected version: %+v", v[coll.ID])
	}
	if _, ok := v[host.ID]; ok {
		t.Fatalf("host has no legs and should be omitted")
	}

	hb, err := s.HostBalances(ctx, coll.ID, at)
	if err != nil || len(hb) != 1 || hb[0].Value != 7400 || hb[0].HostID != host.ID {
		t.Fatalf("host balances: %+v %v", hb, err)
	}
	pop, err := s.AccountsWithHostActivity(ctx, at, ledger.AccountFilter{})
	if err != nil || len(pop) != 1 || pop[0].ID != coll.ID {
		t.Fatalf("population: %+v %v", pop, err)
	}

	legs, err := s.TransactionsByGroup(ctx, g)
	if err != nil || len(legs) != 2 || !legs[0].HostCurrencyFxRate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("group: %+v %v", legs, err)
	}
	if err := s.SoftDeleteGroup(ctx, g, time.Now()); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if sums, _ := s.SumByCurrency(ctx, []uuid.UUID{coll.ID}, nil); len(sums) != 0 {
		t.Fatalf("deleted legs still summed: %v", sums)
	}
}

func TestStore_RefundOnce(t *testing.T) {
	s := prepare(t)
	ctx := context.Background()
	host := mustAccount(t, s, "host", ledger.AccountTypeHost, nil)
	platform := mustAccount(t, s, "platform", ledger.AccountTypePlatform, nil)
	at := time.Date(2024, time.June, 1, 12, 0, 0, 0, time.UTC)

	g := uuid.New()
	orig, err := s.InsertGroup(ctx, []ledger.Transaction{
		leg(g, host.ID, platform.ID, &host.ID, ledger.KindPlatformTipDebt, -813, at),
		leg(g, platform.ID, host.ID, &host.ID, ledger.KindPlatformTipDebt, 813, at),
	}, []ledger.TransactionSettlement{{TransactionGroup: g, Kind: ledger.KindPlatformTipDebt, Status: ledger.SettlementOwed, CreatedAt: at, UpdatedAt: at}})
	if err != nil {
		t.Fatalf("insert debt: %v", err)
	}

	if err := refund(s, orig); err != nil {
		t.Fatalf("first refund: %v", err)
	}
	if refunded, err := s.GroupRefunded(ctx, g); err != nil || !refunded {
		t.Fatalf("group refunded: %v %v", refunded, err)
	}
	if err := refund(s, orig); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second refund: want conflict, got %v", err)
	}
}

func refund(s *Store, orig []ledger.Transaction) error {
	rev := ledger.Reverse(orig, uuid.New())
	for i := range rev {
		rev[i].ID = uuid.New()
	}
	_, err := s.InsertGroup(context.Background(), rev, nil)
	return err
}

func TestStore_OwedDebtsHalfOpenPeriod(t *testing.T) {
	s := prepare(t)
	ctx := context.Background()
	host := mustAccount(t, s, "host", ledger.AccountTypeHost, nil)
	platform := mustAccount(t, s, "platform", ledger.AccountTypePlatform, nil)
	jul, aug := ledger.MonthPeriod(2024, time.July), ledger.MonthPeriod(2024, time.August)

	for _, at := range []time.Time{time.Date(2024, time.July, 31, 23, 59, 59, 999500000, time.UTC), aug.Start} {
		g := uuid.New()
		if _, err := s.InsertGroup(ctx, []ledger.Transaction{
			leg(g, host.ID, platform.ID, &host.ID, ledger.KindPlatformTipDebt, -100, at),
			leg(g, platform.ID, host.ID, &host.ID, ledger.KindPlatformTipDebt, 100, at),
		}, []ledger.TransactionSettlement{{TransactionGroup: g, Kind: ledger.KindPlatformTipDebt, Status: ledger.SettlementOwed, CreatedAt: at, UpdatedAt: at}}); err != nil {
			t.Fatalf("insert debt at %s: %v", at, err)
		}
	}
	for _, p := range []ledger.Period{jul, aug} {
		owed, err := s.OwedDebts(ctx, p, []ledger.Kind{ledger.KindPlatformTipDebt}, nil)
		if err != nil || len(owed) != 1 {
			t.Fatalf("owed debts in %s: %+v %v", p, owed, err)
		}
	}
}

func TestStore_SettlementUnitOfWork(t *testing.T) {
	s := prepare(t)
	ctx := context.Background()
	host := mustAccount(t, s, "host", ledger.AccountTypeHost, nil)
	platform := mustAccount(t, s, "platform", ledger.AccountTypePlatform, nil)
	june := ledger.MonthPeriod(2024, time.June)
	at := time.Date(2024, time.June, 14, 12, 0, 0, 0, time.UTC)

	g := uuid.New()
	if _, err := s.InsertGroup(ctx, []ledger.Transaction{
		leg(g, host.ID, platform.ID, &host.ID, ledger.KindPlatformTipDebt, -813, at),
		leg(g, platform.ID, host.ID, &host.ID, ledger.KindPlatformTipDebt, 813, at),
	}, []ledger.TransactionSettlement{{TransactionGroup: g, Kind: ledger.KindPlatformTipDebt, Status: ledger.SettlementOwed, CreatedAt: at, UpdatedAt: at}}); err != nil {
		t.Fatalf("insert debt: %v", err)
	}

	owed, err := s.OwedDebts(ctx, june, []ledger.Kind{ledger.KindPlatformTipDebt}, nil)
	if err != nil || len(owed) != 1 || owed[0].Amount != 813 || owed[0].HostID != host.ID {
		t.Fatalf("owed debts: %+v %v", owed, err)
	}

	inv := ledger.Invoice{
		ID: uuid.New(), Reference: "01HZX", HostID: host.ID, Currency: "GBP",
		Direction: ledger.HostOwesPlatform, Period: june, TotalAmount: 813,
		LineItems:       []ledger.LineItem{{Kind: ledger.KindPlatformTipDebt, Description: "Platform Tips", Amount: 813}},
		AuditReferences: []ledger.AuditReference{{TransactionGroup: g, Kind: ledger.KindPlatformTipDebt, Amount: 813}},
		CreatedAt:       time.Now().UTC(),
	}
	key := ledger.SettlementKey{TransactionGroup: g, Kind: ledger.KindPlatformTipDebt}
	err = s.InHostTx(ctx, host.ID, func(tx settlement.Tx) error {
		if err := tx.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		n, err := tx.TransitionSettlements(ctx, []ledger.SettlementKey{key}, ledger.SettlementOwed, ledger.SettlementInvoiced, &inv.ID, time.Now())
		if err != nil {
			return err
		}
		if n != 1 {
			t.Errorf("moved %d rows", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("host tx: %v", err)
	}

	st, err := s.Settlement(ctx, key)
	if err != nil || st.Status != ledger.SettlementInvoiced || st.InvoiceID == nil || *st.InvoiceID != inv.ID {
		t.Fatalf("settlement: %+v %v", st, err)
	}
	got, err := s.Invoice(ctx, inv.ID)
	if err != nil || len(got.LineItems) != 1 || got.LineItems[0].Description != "Platform Tips" {
		t.Fatalf("invoice: %+v %v", got, err)
	}
	if owed, _ := s.OwedDebts(ctx, june, []ledger.Kind{ledger.KindPlatformTipDebt}, nil); len(owed) != 0 {
		t.Fatalf("invoiced rows still owed: %+v", owed)
	}

	// a failing unit rolls back
	boom := errors.New("boom")
	err = s.InHostTx(ctx, host.ID, func(tx settlement.Tx) error {
		if _, err := tx.TransitionSettlements(ctx, []ledger.SettlementKey{key}, ledger.SettlementInvoiced, ledger.SettlementSettled, nil, time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
	if st, _ := s.Settlement(ctx, key); st.Status != ledger.SettlementInvoiced {
		t.Fatalf("rolled back row moved to %s", st.Status)
	}

	out, err := s.UnpublishedInvoices(ctx, 10)
	if err != nil || len(out) != 1 {
		t.Fatalf("outbox: %+v %v", out, err)
	}
	if err := s.MarkInvoicePublished(ctx, inv.ID, time.Now()); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if out, _ := s.UnpublishedInvoices(ctx, 10); len(out) != 0 {
		t.Fatalf("published invoice still in outbox")
	}
}

func TestStore_CarryforwardUniqueness(t *testing.T) {
	s := prepare(t)
	ctx := context.Background()
	host := mustAccount(t, s, "host", ledger.AccountTypeHost, nil)
	coll := mustAccount(t, s, "coll", ledger.AccountTypeCollective, &host.ID)
	cutoff := ledger.YearEnd(2024)

	write := func() error {
		return s.InAccountTx(ctx, coll.ID, cutoff, func(tx carryforward.Tx) error {
			g := uuid.New()
			_, err := tx.InsertTransactions(ctx, []ledger.Transaction{
				leg(g, coll.ID, coll.ID, &host.ID, ledger.KindBalanceCarryforward, -100, cutoff.Closing),
				leg(g, coll.ID, coll.ID, &host.ID, ledger.KindBalanceCarryforward, 100, cutoff.Opening),
			})
			return err
		})
	}
	if err := write(); err != nil {
		t.Fatalf("first pair: %v", err)
	}
	if exists, err := s.CarryforwardExists(ctx, coll.ID, cutoff.Opening); err != nil || !exists {
		t.Fatalf("exists: %v %v", exists, err)
	}
	if err := write(); !errors.Is(err, errs.ErrConflict) {
		t.Fatalf("second pair: want conflict, got %v", err)
	}
}
