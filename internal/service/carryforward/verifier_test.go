package carryforward_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/hostledger/internal/devseed"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/logging"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
)

type brokenReader struct {
	carryforward.Reader
	fail uuid.UUID
}

func (r brokenReader) HostBalances(ctx context.Context, id uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error) {
	if id == r.fail {
		return nil, errors.New("read timeout")
	}
	return r.Reader.HostBalances(ctx, id, asOf)
}

func TestVerifyClassifiesEachStatus(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	v := carryforward.NewVerifier(e.store, e.accounts, 2, logging.Discard())

	status := func(ref string) carryforward.Status {
		t.Helper()
		rep, err := v.Verify(ctx, carryforward.VerifyOptions{Cutoff: yearEnd, AccountRef: ref})
		require.NoError(t, err)
		require.Equal(t, 1, rep.Total)
		for st, n := range rep.Counts {
			if n == 1 {
				return st
			}
		}
		t.Fatalf("no status for %s", ref)
		return ""
	}

	assert.Equal(t, carryforward.StatusMissing, status("eco-collective"))
	assert.Equal(t, carryforward.StatusErrorMultiCurrency, status("travelling-band"))
	assert.Equal(t, carryforward.StatusOKNoHostTransactions, status("lisbon-host"))

	spender, err := e.accounts.Create(ctx, ledger.Account{Slug: "spent-out", Name: "Spent Out", Type: ledger.AccountTypeCollective, Currency: "GBP", HostID: &e.seeded.Host.ID})
	require.NoError(t, err)
	at := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)
	_, err = e.journal.Record(ctx, devseed.Contribution(e.seeded.Donor, spender, ledger.Amount{Cents: 300, Currency: "GBP"}, at))
	require.NoError(t, err)
	_, err = e.journal.Record(ctx, devseed.HostFee(spender, e.seeded.Host, ledger.Amount{Cents: 300, Currency: "GBP"}, at))
	require.NoError(t, err)
	assert.Equal(t, carryforward.StatusOKZeroBalance, status("spent-out"))

	_, err = e.engine.Create(ctx, e.seeded.Collective.ID, day, carryforward.Options{})
	require.NoError(t, err)
	assert.Equal(t, carryforward.StatusOKCarryforward, status("eco-collective"))
}

func TestVerifyMissingExceptionCarriesBalances(t *testing.T) {
	e := seed(t)
	rep, err := carryforward.NewVerifier(e.store, e.accounts, 1, logging.Discard()).
		Verify(context.Background(), carryforward.VerifyOptions{Cutoff: yearEnd, AccountRef: e.seeded.Collective.ID.String()})
	require.NoError(t, err)
	require.Len(t, rep.Exceptions, 1)
	ex := rep.Exceptions[0]
	assert.Equal(t, "eco-collective", ex.Slug)
	assert.Equal(t, carryforward.StatusMissing, ex.Status)
	require.Len(t, ex.Balances, 1)
	assert.Equal(t, int64(7400), ex.Balances[0].Value)
	assert.Equal(t, "GBP", ex.Balances[0].Currency)
	assert.Zero(t, rep.CoveragePercent)
	assert.False(t, rep.FullCoverage())
}

func TestVerifyIsReadOnly(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	v := carryforward.NewVerifier(e.store, e.accounts, 4, logging.Discard())
	for range 2 {
		rep, err := v.Verify(ctx, carryforward.VerifyOptions{Cutoff: yearEnd})
		require.NoError(t, err)
		assert.Equal(t, 3, rep.Counts[carryforward.StatusMissing])
	}
	exists, err := e.store.CarryforwardExists(ctx, e.seeded.Collective.ID, yearEnd.Opening)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestVerifyAbortsOnReadError(t *testing.T) {
	e := seed(t)
	r := brokenReader{Reader: e.store, fail: e.seeded.Collective.ID}
	_, err := carryforward.NewVerifier(r, e.accounts, 2, logging.Discard()).
		Verify(context.Background(), carryforward.VerifyOptions{Cutoff: yearEnd})
	assert.ErrorContains(t, err, "read timeout")
}
