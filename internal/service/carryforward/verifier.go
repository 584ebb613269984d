package carryforward

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/metrics"
)

// Status is the coverage classification of one account.
type Status string

const (
	StatusOKCarryforward       Status = "OK_CARRYFORWARD"
	StatusOKZeroBalance        Status = "OK_ZERO_BALANCE"
	StatusOKNoHostTransactions Status = "OK_NO_HOST_TRANSACTIONS"
	StatusMissing              Status = "MISSING"
	StatusErrorMultiCurrency   Status = "ERROR_MULTI_CURRENCY"
)

// OK reports statuses that count as covered.
func (s Status) OK() bool {
	return s == StatusOKCarryforward || s == StatusOKZeroBalance || s == StatusOKNoHostTransactions
}

type VerifyOptions struct {
	Cutoff     ledger.Cutoff
	AccountRef string
	HostID     *uuid.UUID
	Limit      int
	Offset     int
}

// Exception is an account that is not covered.
type Exception struct {
	AccountID uuid.UUID            `json:"accountId"`
	Slug      string               `json:"slug"`
	Status    Status               `json:"status"`
	Balances  []ledger.HostBalance `json:"balances,omitempty"`
}

// Report is the read-only coverage result for a cutoff.
type Report struct {
	Cutoff          ledger.Cutoff  `json:"-"`
	Day             string         `json:"cutoff"`
	Total           int            `json:"total"`
	Counts          map[Status]int `json:"counts"`
	Exceptions      []Exception    `json:"exceptions"`
	CoveragePercent float64        `json:"coveragePercent"`
}

// FullCoverage holds when nothing is missing and nothing is ambiguous.
func (r Report) FullCoverage() bool {
	return r.Counts[StatusMissing] == 0 && r.Counts[StatusErrorMultiCurrency] == 0
}

// Verifier classifies accounts without writing anything.
type Verifier struct {
	store       Reader
	accounts    Accounts
	log         *slog.Logger
	concurrency int
}

func NewVerifier(store Reader, accounts Accounts, concurrency int, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Verifier{store: store, accounts: accounts, log: logger, concurrency: concurrency}
}

func (v *Verifier) Verify(ctx context.Context, opts VerifyOptions) (Report, error) {
	accs, err := population(ctx, v.accounts, opts.Cutoff, opts.AccountRef, ledger.AccountFilter{HostID: opts.HostID, Limit: opts.Limit, Offset: opts.Offset})
	if err != nil {
		return Report{}, err
	}

	type row struct {
		status   Status
		balances []ledger.HostBalance
	}
	rows := make([]row, len(accs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for i, acc := range accs {
		i, acc := i, acc
		g.Go(func() error {
			st, hb, err := v.classify(gctx, acc.ID, opts.Cutoff)
			if err != nil {
				return err
			}
			rows[i] = row{status: st, balances: hb}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	rep := Report{Cutoff: opts.Cutoff, Day: opts.Cutoff.Day(), Total: len(accs), Counts: make(map[Status]int), Exceptions: []Exception{}}
	ok := 0
	for i, r := range rows {
		rep.Counts[r.status]++
		metrics.CoverageStatuses.WithLabelValues(string(r.status)).Inc()
		if r.status.OK() {
			ok++
			continue
		}
		rep.Exceptions = append(rep.Exceptions, Exception{AccountID: accs[i].ID, Slug: accs[i].Slug, Status: r.status, Balances: r.balances})
	}
	rep.CoveragePercent = 100
	if rep.Total > 0 {
		rep.CoveragePercent = float64(ok) / float64(rep.Total) * 100
	}
	v.log.InfoContext(ctx, "coverage verified",
		"cutoff", rep.Day,
		"total", rep.Total,
		"missing", rep.Counts[StatusMissing],
		"multi_currency", rep.Counts[StatusErrorMultiCurrency],
		"coverage_percent", rep.CoveragePercent,
	)
	return rep, nil
}

func (v *Verifier) classify(ctx context.Context, accountID uuid.UUID, cutoff ledger.Cutoff) (Status, []ledger.HostBalance, error) {
	exists, err := v.store.CarryforwardExists(ctx, accountID, cutoff.Opening)
	if err != nil {
		return "", nil, err
	}
	if exists {
		return StatusOKCarryforward, nil, nil
	}
	hb, err := v.store.HostBalances(ctx, accountID, cutoff.DayEnd)
	if err != nil {
		return "", nil, err
	}
	ledger.SortHostBalances(hb)
	_, outcome := classify(hb)
	switch outcome {
	case OutcomeSkippedNoHostTransactions:
		return StatusOKNoHostTransactions, nil, nil
	case OutcomeSkippedZeroBalance:
		return StatusOKZeroBalance, nil, nil
	case OutcomeErrorMultiCurrency:
		return StatusErrorMultiCurrency, hb, nil
	default:
		return StatusMissing, hb, nil
	}
}
