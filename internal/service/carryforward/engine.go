package carryforward

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/metrics"
)

// Outcome is the terminal state of one account at one cutoff.
type Outcome string

const (
	OutcomeCreated                   Outcome = "CREATED"
	OutcomeSkippedZeroBalance        Outcome = "SKIPPED_ZERO_BALANCE"
	OutcomeSkippedAlreadyExists      Outcome = "SKIPPED_ALREADY_EXISTS"
	OutcomeSkippedNoHostTransactions Outcome = "SKIPPED_NO_HOST_TRANSACTIONS"
	OutcomeErrorMultiCurrency        Outcome = "ERROR_MULTI_CURRENCY"
	// OutcomeError is reported by batch runs for units that failed with an error.
	OutcomeError Outcome = "ERROR"
)

// IsError reports outcomes that need human attention.
func (o Outcome) IsError() bool { return o == OutcomeErrorMultiCurrency || o == OutcomeError }

// casAttempts bounds retries after losing a race on the carryforward unique key.
const casAttempts = 3

type Options struct {
	DryRun bool
}

// Result describes what happened, or in a dry run what would happen.
type Result struct {
	Outcome   Outcome
	AccountID uuid.UUID
	Slug      string
	HostID    *uuid.UUID
	Currency  string
	// Amount is the carried balance in Currency.
	Amount  int64
	Closing time.Time
	Opening time.Time
	Group   uuid.UUID
	DryRun  bool
	// Balances lists the per (host, currency) sums through the end of the cutoff day.
	Balances []ledger.HostBalance
	Err      error
}

// Engine creates carryforward pairs.
type Engine struct {
	store Store
	cache Invalidator
	log   *slog.Logger
}

// NewEngine wires an engine. cache may be nil.
func NewEngine(store Store, cache Invalidator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, cache: cache, log: logger}
}

// Create runs one account at the cutoff following cutoffDay. ERROR_MULTI_CURRENCY
// is an outcome, not an error; a returned error means nothing was written.
func (e *Engine) Create(ctx context.Context, accountID uuid.UUID, cutoffDay time.Time, opts Options) (Result, error) {
	if accountID == uuid.Nil {
		return Result{}, errs.ErrInvalid
	}
	cutoff := ledger.CutoffAt(cutoffDay)
	start := time.Now()
	defer metrics.ObserveSince("carryforward", start)

	var res Result
	var err error
	for attempt := 1; attempt <= casAttempts; attempt++ {
		err = e.store.InAccountTx(ctx, accountID, cutoff, func(tx Tx) error {
			var ferr error
			res, ferr = e.create(ctx, tx, accountID, cutoff, opts)
			return ferr
		})
		if err == nil || !errors.Is(err, errs.ErrConflict) {
			break
		}
		// Another writer committed a pair for this key first.
		exists, xerr := e.store.CarryforwardExists(ctx, accountID, cutoff.Opening)
		if xerr != nil {
			err = xerr
			break
		}
		if exists {
			res, err = Result{Outcome: OutcomeSkippedAlreadyExists, AccountID: accountID, Closing: cutoff.Closing, Opening: cutoff.Opening, DryRun: opts.DryRun}, nil
			break
		}
		e.log.WarnContext(ctx, "carryforward write conflicted, retrying", "account_id", accountID, "attempt", attempt)
	}
	if err != nil {
		return Result{}, err
	}

	if res.Outcome == OutcomeCreated && !opts.DryRun && e.cache != nil {
		if ierr := e.cache.Invalidate(ctx, accountID); ierr != nil {
			e.log.WarnContext(ctx, "balance cache invalidation failed", "account_id", accountID, "err", ierr)
		}
	}
	metrics.CarryforwardOutcomes.WithLabelValues(string(res.Outcome), strconv.FormatBool(opts.DryRun)).Inc()
	e.log.InfoContext(ctx, "carryforward",
		"account_id", accountID,
		"cutoff", cutoff.Day(),
		"outcome", res.Outcome,
		"amount", res.Amount,
		"currency", res.Currency,
		"dry_run", opts.DryRun,
	)
	return res, nil
}

func (e *Engine) create(ctx context.Context, tx Tx, accountID uuid.UUID, cutoff ledger.Cutoff, opts Options) (Result, error) {
	res := Result{AccountID: accountID, Closing: cutoff.Closing, Opening: cutoff.Opening, DryRun: opts.DryRun}

	exists, err := tx.CarryforwardExists(ctx, accountID, cutoff.Opening)
	if err != nil {
		return res, err
	}
	if exists {
		res.Outcome = OutcomeSkippedAlreadyExists
		return res, nil
	}

	hb, err := tx.HostBalances(ctx, accountID, cutoff.DayEnd)
	if err != nil {
		return res, err
	}
	ledger.SortHostBalances(hb)
	res.Balances = hb
	b, outcome := classify(hb)
	if outcome != "" {
		res.Outcome = outcome
		return res, nil
	}

	host := b.HostID
	res.HostID = &host
	res.Currency = b.Currency
	res.Amount = b.Value
	res.Outcome = OutcomeCreated
	if opts.DryRun {
		return res, nil
	}

	legs := pair(accountID, b, cutoff)
	if err := ledger.CheckBalanced(legs); err != nil {
		return res, err
	}
	before, err := snapshot(ctx, tx, accountID, cutoff)
	if err != nil {
		return res, err
	}
	if _, err := tx.InsertTransactions(ctx, legs); err != nil {
		return res, err
	}
	if err := verify(ctx, tx, accountID, cutoff, legs[0], before); err != nil {
		return res, err
	}
	res.Group = legs[0].Group
	return res, nil
}

// classify returns the single non-zero balance or the terminal outcome that
// applies instead.
func classify(hb []ledger.HostBalance) (ledger.HostBalance, Outcome) {
	if len(hb) == 0 {
		return ledger.HostBalance{}, OutcomeSkippedNoHostTransactions
	}
	var nonZero []ledger.HostBalance
	for _, b := range hb {
		if b.Value != 0 {
			nonZero = append(nonZero, b)
		}
	}
	switch len(nonZero) {
	case 0:
		return ledger.HostBalance{}, OutcomeSkippedZeroBalance
	case 1:
		return nonZero[0], ""
	default:
		return ledger.HostBalance{}, OutcomeErrorMultiCurrency
	}
}

// pair builds the closing and opening legs. A positive balance closes with a
// DEBIT; a negative one closes with a CREDIT.
func pair(accountID uuid.UUID, b ledger.HostBalance, cutoff ledger.Cutoff) []ledger.Transaction {
	group := uuid.New()
	host := b.HostID
	hostCurrency, hostValue := b.HostCurrency, b.HostValue
	if hostCurrency == "" {
		hostCurrency, hostValue = b.Currency, b.Value
	}
	rate := decimal.NewFromInt(1)
	if hostCurrency != b.Currency {
		rate = decimal.NewFromInt(hostValue).Div(decimal.NewFromInt(b.Value)).Round(10)
	}
	closeType := ledger.Debit
	if b.Value < 0 {
		closeType = ledger.Credit
	}
	mk := func(typ ledger.TransactionType, amount, hostAmount int64, at time.Time, desc string) ledger.Transaction {
		h := host
		return ledger.Transaction{
			ID:                   uuid.New(),
			Group:                group,
			Type:                 typ,
			Kind:                 ledger.KindBalanceCarryforward,
			Description:          desc,
			Amount:               amount,
			Currency:             b.Currency,
			AmountInHostCurrency: hostAmount,
			HostCurrency:         hostCurrency,
			HostCurrencyFxRate:   rate,
			AccountID:            accountID,
			CounterpartyID:       accountID,
			HostID:               &h,
			CreatedAt:            at,
		}
	}
	return []ledger.Transaction{
		mk(closeType, -b.Value, -hostValue, cutoff.Closing, "Balance carryforward: closing "+cutoff.Day()),
		mk(closeType.Opposite(), b.Value, hostValue, cutoff.Opening, "Balance carryforward: opening "+cutoff.Opening.Format("2006-01-02")),
	}
}

// sums holds an account's per-currency balances at the instants verify compares.
type sums struct {
	current map[string]int64
	dayEnd  map[string]int64
	opening map[string]int64
}

func snapshot(ctx context.Context, tx Tx, accountID uuid.UUID, cutoff ledger.Cutoff) (sums, error) {
	var s sums
	var err error
	if s.current, err = tx.CurrencySums(ctx, accountID, nil); err != nil {
		return s, err
	}
	dayEnd, opening := cutoff.DayEnd, cutoff.Opening
	if s.dayEnd, err = tx.CurrencySums(ctx, accountID, &dayEnd); err != nil {
		return s, err
	}
	if s.opening, err = tx.CurrencySums(ctx, accountID, &opening); err != nil {
		return s, err
	}
	return s, nil
}

// verify checks that the pair is balance-neutral: the current balance is
// unchanged, and the balance of everything dated on or before the cutoff day,
// closing leg excluded, equals the balance at the opening instant, other legs
// dated exactly at the opening instant excluded.
func verify(ctx context.Context, tx Tx, accountID uuid.UUID, cutoff ledger.Cutoff, closing ledger.Transaction, before sums) error {
	after, err := snapshot(ctx, tx, accountID, cutoff)
	if err != nil {
		return err
	}
	if !sameSums(before.current, after.current) {
		return fmt.Errorf("%w: current balance %v became %v", errs.ErrBalanceMismatch, before.current, after.current)
	}
	pre := add(after.dayEnd, map[string]int64{closing.Currency: -closing.Amount}, 1)
	atOpening := add(before.opening, before.dayEnd, -1)
	post := add(after.opening, atOpening, -1)
	if !sameSums(pre, post) {
		return fmt.Errorf("%w: balance %v before %s but %v at opening", errs.ErrBalanceMismatch, pre, cutoff.Day(), post)
	}
	return nil
}

// add returns a + sign*b per currency.
func add(a, b map[string]int64, sign int64) map[string]int64 {
	out := maps.Clone(a)
	if out == nil {
		out = make(map[string]int64, len(b))
	}
	for c, v := range b {
		out[c] += sign * v
	}
	return out
}

func sameSums(a, b map[string]int64) bool {
	return maps.Equal(nonZero(a), nonZero(b))
}

func nonZero(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for c, v := range m {
		if v != 0 {
			out[c] = v
		}
	}
	return out
}
