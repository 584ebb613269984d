package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/hostledger/internal/devseed"
	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/fx"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/logging"
	"github.com/tinoosan/hostledger/internal/service/account"
	"github.com/tinoosan/hostledger/internal/service/journal"
	"github.com/tinoosan/hostledger/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	svc      journal.Service
	host     ledger.Account
	platform ledger.Account
	coll     ledger.Account
	donor    ledger.Account
}

type recordingInvalidator struct{ ids []uuid.UUID }

func (r *recordingInvalidator) Invalidate(_ context.Context, ids ...uuid.UUID) error {
	r.ids = append(r.ids, ids...)
	return nil
}

func setup(t *testing.T, inv journal.Invalidator) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	accs := account.New(store, store)
	hostID, platformID := uuid.New(), uuid.New()
	created, itemErrs, err := accs.CreateBatch(ctx, []ledger.Account{
		{ID: hostID, Slug: "host", Name: "Host", Type: ledger.AccountTypeHost, Currency: "GBP", HostID: &hostID},
		{ID: platformID, Slug: "platform", Name: "Platform", Type: ledger.AccountTypePlatform, Currency: "GBP", HostID: &platformID},
		{Slug: "collective", Name: "Collective", Type: ledger.AccountTypeCollective, Currency: "EUR", HostID: &hostID},
		{Slug: "donor", Name: "Donor", Type: ledger.AccountTypeUser, Currency: "EUR"},
	})
	require.NoError(t, err)
	require.Empty(t, itemErrs)
	log := logging.Discard()
	return fixture{
		store:    store,
		svc:      journal.New(store, store, fx.New(log), inv, log),
		host:     created[0],
		platform: created[1],
		coll:     created[2],
		donor:    created[3],
	}
}

func eur(c int64) ledger.Amount { return ledger.Amount{Cents: c, Currency: "EUR"} }
func gbp(c int64) ledger.Amount { return ledger.Amount{Cents: c, Currency: "GBP"} }

func TestRecordAssignsIdentityAndInvalidates(t *testing.T) {
	inv := &recordingInvalidator{}
	f := setup(t, inv)
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	saved, err := f.svc.Record(context.Background(), devseed.Contribution(f.donor, f.coll, eur(1000), at))
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.NotEqual(t, uuid.Nil, saved[0].Group)
	assert.Equal(t, saved[0].Group, saved[1].Group)
	assert.Less(t, saved[0].Seq, saved[1].Seq)
	for _, l := range saved {
		assert.NotEqual(t, uuid.Nil, l.ID)
		assert.Equal(t, at, l.CreatedAt)
	}
	assert.ElementsMatch(t, []uuid.UUID{f.coll.ID, f.donor.ID}, inv.ids)

	legs, err := f.svc.Group(context.Background(), saved[0].Group)
	require.NoError(t, err)
	assert.Len(t, legs, 2)
}

func TestRecordConvertsHostCurrency(t *testing.T) {
	f := setup(t, nil)
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	legs := devseed.HostFee(f.coll, f.host, eur(1000), at)
	for i := range legs {
		legs[i].HostCurrency = ""
		legs[i].AmountInHostCurrency = 0
		legs[i].HostCurrencyFxRate = decimal.RequireFromString("0.86")
	}

	saved, err := f.svc.Record(context.Background(), legs)
	require.NoError(t, err)
	// host currency comes from the host account
	assert.Equal(t, "GBP", saved[0].HostCurrency)
	assert.Equal(t, int64(-860), saved[0].AmountInHostCurrency)
	assert.Equal(t, "GBP", saved[1].HostCurrency)
	assert.Equal(t, int64(860), saved[1].AmountInHostCurrency)
}

func TestRecordRejectsHostCurrencyImbalance(t *testing.T) {
	f := setup(t, nil)
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)
	legs := devseed.Contribution(f.donor, f.coll, eur(1000), at)
	legs[0].HostCurrency = ""
	legs[0].AmountInHostCurrency = 0
	legs[0].HostCurrencyFxRate = decimal.RequireFromString("0.86")

	_, err := f.svc.Record(context.Background(), legs)
	assert.ErrorIs(t, err, errs.ErrUnbalancedGroup)
}

func TestValidateGroupRejects(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	t.Run("unbalanced", func(t *testing.T) {
		legs := devseed.Contribution(f.donor, f.coll, eur(1000), at)
		legs[1].Amount, legs[1].AmountInHostCurrency = -999, -999
		_, err := f.svc.Record(ctx, legs)
		assert.ErrorIs(t, err, errs.ErrUnbalancedGroup)
	})
	t.Run("sign", func(t *testing.T) {
		legs := devseed.Contribution(f.donor, f.coll, eur(1000), at)
		legs[0].Type = ledger.Debit
		_, err := f.svc.Record(ctx, legs)
		assert.ErrorIs(t, err, errs.ErrSignMismatch)
	})
	t.Run("unknown account", func(t *testing.T) {
		ghost := ledger.Account{ID: uuid.New(), Name: "Ghost"}
		_, err := f.svc.Record(ctx, devseed.Contribution(ghost, f.coll, eur(1000), at))
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
	t.Run("fx disagreement", func(t *testing.T) {
		legs := devseed.Contribution(f.donor, f.coll, eur(1000), at)
		legs[0].HostCurrency, legs[0].AmountInHostCurrency = "GBP", 900
		legs[0].HostCurrencyFxRate = decimal.RequireFromString("0.86")
		legs[1].HostCurrency, legs[1].AmountInHostCurrency = "GBP", -900
		legs[1].HostCurrencyFxRate = decimal.RequireFromString("0.86")
		_, err := f.svc.Record(ctx, legs)
		assert.ErrorIs(t, err, errs.ErrCurrencyMismatch)
	})
	t.Run("debt flag without debt kind", func(t *testing.T) {
		legs := devseed.HostFee(f.coll, f.host, eur(100), at)
		legs[0].IsDebt = true
		_, err := f.svc.Record(ctx, legs)
		assert.ErrorIs(t, err, errs.ErrInvalid)
	})
	t.Run("debt without host side leg", func(t *testing.T) {
		legs := devseed.PlatformTipDebt(f.host, f.platform, gbp(100), at)
		legs[0].AccountID = f.coll.ID
		_, err := f.svc.Record(ctx, legs)
		assert.ErrorIs(t, err, errs.ErrInvalid)
	})
}

func TestRecordCreatesOneSettlementPerDebtKind(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	saved, err := f.svc.Record(ctx, devseed.PlatformTipDebt(f.host, f.platform, gbp(813), at))
	require.NoError(t, err)

	st, err := f.store.Settlement(ctx, ledger.SettlementKey{TransactionGroup: saved[0].Group, Kind: ledger.KindPlatformTipDebt})
	require.NoError(t, err)
	assert.Equal(t, ledger.SettlementOwed, st.Status)

	_, err = f.store.Settlement(ctx, ledger.SettlementKey{TransactionGroup: saved[0].Group, Kind: ledger.KindHostFeeShareDebt})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRefund(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	at := time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC)

	orig, err := f.svc.Record(ctx, devseed.PlatformTipDebt(f.host, f.platform, gbp(813), at))
	require.NoError(t, err)

	rev, err := f.svc.Refund(ctx, orig[0].Group, at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rev, 2)
	assert.NotEqual(t, orig[0].Group, rev[0].Group)
	for i := range rev {
		assert.True(t, rev[i].IsRefund)
		assert.Equal(t, -orig[i].Amount, rev[i].Amount)
		require.NotNil(t, rev[i].RefundOf)
		assert.Equal(t, orig[i].ID, *rev[i].RefundOf)
	}

	// the refund's own debt leg gets a fresh OWED row
	st, err := f.store.Settlement(ctx, ledger.SettlementKey{TransactionGroup: rev[0].Group, Kind: ledger.KindPlatformTipDebt})
	require.NoError(t, err)
	assert.Equal(t, ledger.SettlementOwed, st.Status)

	_, err = f.svc.Refund(ctx, orig[0].Group, at.Add(2*time.Hour))
	assert.ErrorIs(t, err, errs.ErrConflict)
	assert.ErrorIs(t, err, errs.ErrAlreadyRefunded)

	_, err = f.svc.Refund(ctx, uuid.New(), at)
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
