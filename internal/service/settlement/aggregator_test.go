package settlement_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/hostledger/internal/devseed"
	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/fx"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/logging"
	"github.com/tinoosan/hostledger/internal/service/account"
	"github.com/tinoosan/hostledger/internal/service/journal"
	"github.com/tinoosan/hostledger/internal/service/settlement"
	"github.com/tinoosan/hostledger/internal/storage/memory"
)

var june = ledger.MonthPeriod(2024, time.June)

type env struct {
	store    *memory.Store
	journal  journal.Service
	accounts account.Service
	seeded   devseed.Fixture
}

func seed(t *testing.T) env {
	t.Helper()
	log := logging.Discard()
	store := memory.New()
	accs := account.New(store, store)
	j := journal.New(store, store, fx.New(log), nil, log)
	seeded, err := devseed.Seed(context.Background(), accs, j, 2024, log)
	require.NoError(t, err)
	return env{store: store, journal: j, accounts: accs, seeded: seeded}
}

func gbp(c int64) ledger.Amount { return ledger.Amount{Cents: c, Currency: "GBP"} }

func aggregator(s *memory.Store, uow settlement.UnitOfWork) *settlement.Aggregator {
	return settlement.NewAggregator(s, uow, 4, 2, logging.Discard())
}

func TestRunInvoicesHostForPeriod(t *testing.T) {
	e := seed(t)
	ctx := context.Background()

	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)
	require.False(t, sum.HasErrors())
	require.Len(t, sum.Results, 1)

	res := sum.Results[0]
	assert.Equal(t, settlement.OutcomeInvoiced, res.Outcome)
	assert.Equal(t, 3, res.Rows)
	require.NotNil(t, res.Invoice)
	inv := res.Invoice
	assert.Equal(t, e.seeded.Host.ID, inv.HostID)
	assert.Equal(t, "GBP", inv.Currency)
	assert.Equal(t, ledger.HostOwesPlatform, inv.Direction)
	assert.Equal(t, int64(990), inv.TotalAmount)
	assert.Equal(t, []ledger.LineItem{
		{Kind: ledger.KindHostFeeShareDebt, Description: "Shared Revenue", Amount: 240},
		{Kind: ledger.KindPlatformTipDebt, Description: "Platform Tips", Amount: 750},
	}, inv.LineItems)
	assert.Len(t, inv.AuditReferences, 3)
	assert.NotEmpty(t, inv.Reference)

	stored, err := e.store.Invoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Reference, stored.Reference)

	rows, err := e.store.SettlementsByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, ledger.SettlementInvoiced, r.Status)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	agg := aggregator(e.store, e.store)

	_, err := agg.Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)

	again, err := agg.Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)
	assert.Empty(t, again.Results)
	unpublished, err := e.store.UnpublishedInvoices(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, unpublished, 1)
}

func TestRunOutsidePeriodFindsNothing(t *testing.T) {
	e := seed(t)
	sum, err := aggregator(e.store, e.store).Run(context.Background(), settlement.RunOptions{Period: ledger.MonthPeriod(2024, time.July)})
	require.NoError(t, err)
	assert.Empty(t, sum.Results)
}

func TestMonthBoundaryDebtsLandInExactlyOnePeriod(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	agg := aggregator(e.store, e.store)
	tracker := settlement.NewTracker(e.store, e.store, logging.Discard())
	lastMilli := time.Date(2024, time.July, 31, 23, 59, 59, 999500000, time.UTC)
	aug := ledger.MonthPeriod(2024, time.August)

	late, err := e.journal.Record(ctx, devseed.PlatformTipDebt(e.seeded.Host, e.seeded.Platform, gbp(300), lastMilli))
	require.NoError(t, err)
	early, err := e.journal.Record(ctx, devseed.PlatformTipDebt(e.seeded.Host, e.seeded.Platform, gbp(40), aug.Start))
	require.NoError(t, err)

	sum, err := agg.Run(ctx, settlement.RunOptions{Period: ledger.MonthPeriod(2024, time.July)})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	require.NotNil(t, sum.Results[0].Invoice)
	assert.Equal(t, int64(300), sum.Results[0].Invoice.TotalAmount)

	sum, err = agg.Run(ctx, settlement.RunOptions{Period: aug})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	require.NotNil(t, sum.Results[0].Invoice)
	assert.Equal(t, int64(40), sum.Results[0].Invoice.TotalAmount)
	assert.Equal(t, aug.End, sum.Results[0].Invoice.Period.End)

	for _, legs := range [][]ledger.Transaction{late, early} {
		st, err := tracker.Status(ctx, ledger.SettlementKey{TransactionGroup: legs[0].Group, Kind: ledger.KindPlatformTipDebt})
		require.NoError(t, err)
		assert.Equal(t, ledger.SettlementInvoiced, st)
	}
}

func TestFixedFeeGetsItsOwnLine(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	at := time.Date(2024, time.June, 30, 18, 0, 0, 0, time.UTC)
	_, err := e.journal.Record(ctx, devseed.FixedFeeDebt(e.seeded.Host, e.seeded.Platform, gbp(1000), at))
	require.NoError(t, err)

	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	inv := sum.Results[0].Invoice
	require.NotNil(t, inv)
	assert.Equal(t, int64(1990), inv.TotalAmount)
	assert.Equal(t, []ledger.LineItem{
		{Kind: ledger.KindHostFeeShareDebt, Description: "Shared Revenue", Amount: 240},
		{Kind: ledger.KindPlatformTipDebt, Description: "Platform Tips", Amount: 750},
		{Kind: ledger.KindHostFixedFeeDebt, Description: "Fixed Fee per Hosted Collective", Amount: 1000},
	}, inv.LineItems)
}

func TestRunRejectsEmptyPeriod(t *testing.T) {
	e := seed(t)
	start := time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)
	_, err := aggregator(e.store, e.store).Run(context.Background(), settlement.RunOptions{Period: ledger.Period{Start: start, End: start}})
	assert.ErrorIs(t, err, errs.ErrInvalid)
}

func TestDryRunWritesNothing(t *testing.T) {
	e := seed(t)
	ctx := context.Background()

	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: june, DryRun: true})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	require.NotNil(t, sum.Results[0].Invoice)
	assert.Equal(t, int64(990), sum.Results[0].Invoice.TotalAmount)

	unpublished, err := e.store.UnpublishedInvoices(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unpublished)
	owed, err := e.store.OwedDebts(ctx, june, []ledger.Kind{ledger.KindPlatformTipDebt, ledger.KindHostFeeShareDebt}, nil)
	require.NoError(t, err)
	assert.Len(t, owed, 3)
}

func TestFullyRefundedDebtSettlesWithoutInvoice(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	at := time.Date(2024, time.August, 2, 9, 0, 0, 0, time.UTC)

	tip, err := e.journal.Record(ctx, devseed.PlatformTipDebt(e.seeded.Host, e.seeded.Platform, gbp(500), at))
	require.NoError(t, err)
	refund, err := e.journal.Refund(ctx, tip[0].Group, at.Add(time.Hour))
	require.NoError(t, err)

	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: ledger.MonthPeriod(2024, time.August)})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	assert.Equal(t, settlement.OutcomeNettedZero, sum.Results[0].Outcome)
	assert.Nil(t, sum.Results[0].Invoice)

	tracker := settlement.NewTracker(e.store, e.store, logging.Discard())
	for _, g := range []uuid.UUID{tip[0].Group, refund[0].Group} {
		st, err := tracker.Status(ctx, ledger.SettlementKey{TransactionGroup: g, Kind: ledger.KindPlatformTipDebt})
		require.NoError(t, err)
		assert.Equal(t, ledger.SettlementSettled, st)
	}
	unpublished, err := e.store.UnpublishedInvoices(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, unpublished)
}

func TestRefundLargerThanDebtFlipsDirection(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	july := time.Date(2024, time.July, 3, 9, 0, 0, 0, time.UTC)
	aug := time.Date(2024, time.August, 3, 9, 0, 0, 0, time.UTC)

	// July debt is refunded in August, where only a smaller new debt exists.
	tip, err := e.journal.Record(ctx, devseed.PlatformTipDebt(e.seeded.Host, e.seeded.Platform, gbp(400), july))
	require.NoError(t, err)
	_, err = e.journal.Record(ctx, devseed.HostFeeShareDebt(e.seeded.Host, e.seeded.Platform, gbp(100), aug))
	require.NoError(t, err)
	_, err = e.journal.Refund(ctx, tip[0].Group, aug)
	require.NoError(t, err)

	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: ledger.MonthPeriod(2024, time.August)})
	require.NoError(t, err)
	require.Len(t, sum.Results, 1)
	inv := sum.Results[0].Invoice
	require.NotNil(t, inv)
	assert.Equal(t, ledger.PlatformOwesHost, inv.Direction)
	assert.Equal(t, int64(300), inv.TotalAmount)
	assert.Equal(t, []ledger.LineItem{
		{Kind: ledger.KindHostFeeShareDebt, Description: "Shared Revenue", Amount: -100},
		{Kind: ledger.KindPlatformTipDebt, Description: "Platform Tips", Amount: 400},
	}, inv.LineItems)
}

// failingHost rejects every unit of work for one host.
type failingHost struct {
	settlement.UnitOfWork
	host uuid.UUID
}

func (f failingHost) InHostTx(ctx context.Context, hostID uuid.UUID, fn func(tx settlement.Tx) error) error {
	if hostID == f.host {
		return errors.New("disk full")
	}
	return f.UnitOfWork.InHostTx(ctx, hostID, fn)
}

func TestFailingHostDoesNotBlockOthers(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	at := time.Date(2024, time.June, 18, 9, 0, 0, 0, time.UTC)

	otherID := uuid.New()
	other, err := e.accounts.Create(ctx, ledger.Account{ID: otherID, Slug: "leeds-host", Name: "Leeds Host", Type: ledger.AccountTypeHost, Currency: "GBP", HostID: &otherID})
	require.NoError(t, err)
	_, err = e.journal.Record(ctx, devseed.PlatformTipDebt(other, e.seeded.Platform, gbp(120), at))
	require.NoError(t, err)

	agg := aggregator(e.store, failingHost{UnitOfWork: e.store, host: e.seeded.Host.ID})
	sum, err := agg.Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)
	assert.True(t, sum.HasErrors())
	assert.Equal(t, 1, sum.Counts[settlement.OutcomeInvoiced])
	assert.Equal(t, 1, sum.Counts[settlement.OutcomeError])
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, e.seeded.Host.ID, sum.Failures[0].HostID)
	assert.Contains(t, sum.Failures[0].Reason, "disk full")

	// the failed host's rows are untouched and the next run picks them up
	owed, err := e.store.OwedDebts(ctx, june, []ledger.Kind{ledger.KindPlatformTipDebt, ledger.KindHostFeeShareDebt}, &e.seeded.Host.ID)
	require.NoError(t, err)
	assert.Len(t, owed, 3)

	sum, err = aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Counts[settlement.OutcomeInvoiced])
}

func TestMaxHostsCapsRun(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	at := time.Date(2024, time.June, 18, 9, 0, 0, 0, time.UTC)
	otherID := uuid.New()
	other, err := e.accounts.Create(ctx, ledger.Account{ID: otherID, Slug: "leeds-host", Name: "Leeds Host", Type: ledger.AccountTypeHost, Currency: "GBP", HostID: &otherID})
	require.NoError(t, err)
	_, err = e.journal.Record(ctx, devseed.PlatformTipDebt(other, e.seeded.Platform, gbp(120), at))
	require.NoError(t, err)

	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: june, MaxHosts: 1})
	require.NoError(t, err)
	assert.Len(t, sum.Results, 1)
}

func TestMarkInvoicePaid(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)
	inv := sum.Results[0].Invoice
	require.NotNil(t, inv)

	tracker := settlement.NewTracker(e.store, e.store, logging.Discard())
	paidAt := time.Date(2024, time.July, 10, 0, 0, 0, 0, time.UTC)
	paid, err := tracker.MarkInvoicePaid(ctx, inv.ID, paidAt)
	require.NoError(t, err)
	require.NotNil(t, paid.PaidAt)
	assert.Equal(t, paidAt, *paid.PaidAt)

	rows, err := e.store.SettlementsByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, ledger.SettlementSettled, r.Status)
	}

	again, err := tracker.MarkInvoicePaid(ctx, inv.ID, paidAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, paidAt, *again.PaidAt)

	_, err = tracker.MarkInvoicePaid(ctx, uuid.New(), paidAt)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	sum, err := aggregator(e.store, e.store).Run(ctx, settlement.RunOptions{Period: june})
	require.NoError(t, err)
	inv := sum.Results[0].Invoice
	require.NotNil(t, inv)

	err = e.store.InHostTx(ctx, inv.HostID, func(tx settlement.Tx) error {
		keys := make([]ledger.SettlementKey, 0, len(inv.AuditReferences))
		for _, r := range inv.AuditReferences {
			keys = append(keys, ledger.SettlementKey{TransactionGroup: r.TransactionGroup, Kind: r.Kind})
		}
		n, err := tx.TransitionSettlements(ctx, keys, ledger.SettlementOwed, ledger.SettlementSettled, nil, time.Now())
		require.NoError(t, err)
		assert.Zero(t, n)
		return nil
	})
	require.NoError(t, err)

	rows, err := e.store.SettlementsByInvoice(ctx, inv.ID)
	require.NoError(t, err)
	for _, r := range rows {
		assert.Equal(t, ledger.SettlementInvoiced, r.Status)
	}
}
