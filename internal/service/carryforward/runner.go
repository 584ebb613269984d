package carryforward

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
)

type BatchOptions struct {
	Cutoff ledger.Cutoff
	// AccountRef targets one account by id or slug; the filter fields are then ignored.
	AccountRef string
	HostID     *uuid.UUID
	Limit      int
	Offset     int
	DryRun     bool
}

// Failure names an account that needs attention.
type Failure struct {
	AccountID uuid.UUID
	Slug      string
	Outcome   Outcome
	Reason    string
}

// Summary aggregates a batch run.
type Summary struct {
	Cutoff   ledger.Cutoff
	DryRun   bool
	Counts   map[Outcome]int
	Results  []Result
	Failures []Failure
}

// HasErrors reports whether any account ended in an error outcome.
func (s Summary) HasErrors() bool { return len(s.Failures) > 0 }

// Runner applies the engine to a population with bounded parallelism.
type Runner struct {
	engine      *Engine
	accounts    Accounts
	log         *slog.Logger
	concurrency int
	maxAttempts int
	backoff     time.Duration
}

func NewRunner(engine *Engine, accounts Accounts, concurrency, maxAttempts int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Runner{engine: engine, accounts: accounts, log: logger, concurrency: concurrency, maxAttempts: maxAttempts, backoff: 50 * time.Millisecond}
}

func population(ctx context.Context, accounts Accounts, cutoff ledger.Cutoff, ref string, f ledger.AccountFilter) ([]ledger.Account, error) {
	if ref != "" {
		acc, err := accounts.Resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve account %q: %w", ref, err)
		}
		return []ledger.Account{acc}, nil
	}
	return accounts.Population(ctx, cutoff, f)
}

// Run processes the population. Per-account errors are collected, never fatal;
// the returned error covers population lookup and cancellation only.
func (r *Runner) Run(ctx context.Context, opts BatchOptions) (Summary, error) {
	accs, err := population(ctx, r.accounts, opts.Cutoff, opts.AccountRef, ledger.AccountFilter{HostID: opts.HostID, Limit: opts.Limit, Offset: opts.Offset})
	if err != nil {
		return Summary{}, err
	}
	r.log.InfoContext(ctx, "carryforward run started",
		"cutoff", opts.Cutoff.Day(),
		"accounts", len(accs),
		"dry_run", opts.DryRun,
	)

	results := make([]Result, len(accs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, acc := range accs {
		i, acc := i, acc
		g.Go(func() error {
			results[i] = r.runAccount(gctx, acc, opts)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Cutoff: opts.Cutoff, DryRun: opts.DryRun, Counts: make(map[Outcome]int), Results: results}
	for _, res := range results {
		sum.Counts[res.Outcome]++
		if res.Outcome.IsError() {
			sum.Failures = append(sum.Failures, Failure{AccountID: res.AccountID, Slug: res.Slug, Outcome: res.Outcome, Reason: reason(res)})
		}
	}
	r.log.InfoContext(ctx, "carryforward run finished",
		"created", sum.Counts[OutcomeCreated],
		"failures", len(sum.Failures),
	)
	return sum, ctx.Err()
}

func (r *Runner) runAccount(ctx context.Context, acc ledger.Account, opts BatchOptions) Result {
	var res Result
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			if serr := sleep(ctx, time.Duration(attempt-1)*r.backoff); serr != nil {
				err = serr
				break
			}
		}
		res, err = r.engine.Create(ctx, acc.ID, opts.Cutoff.Closing, Options{DryRun: opts.DryRun})
		if err == nil || !errs.IsRetryable(err) {
			break
		}
		r.log.WarnContext(ctx, "carryforward unit failed, retrying", "account_id", acc.ID, "attempt", attempt, "err", err)
	}
	if err != nil {
		r.log.ErrorContext(ctx, "carryforward unit failed", "account_id", acc.ID, "slug", acc.Slug, "err", err)
		return Result{
			Outcome:   OutcomeError,
			AccountID: acc.ID,
			Slug:      acc.Slug,
			Closing:   opts.Cutoff.Closing,
			Opening:   opts.Cutoff.Opening,
			DryRun:    opts.DryRun,
			Err:       err,
		}
	}
	res.Slug = acc.Slug
	return res
}

func reason(res Result) string {
	if res.Err != nil {
		return res.Err.Error()
	}
	if res.Outcome == OutcomeErrorMultiCurrency {
		return "multiple non-zero balances: " + describe(res.Balances)
	}
	return string(res.Outcome)
}

// describe renders non-zero host balances, e.g. "EUR 12.00 (host …), GBP 3.00 (host …)".
func describe(hb []ledger.HostBalance) string {
	parts := make([]string, 0, len(hb))
	for _, b := range hb {
		if b.Value == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (host %s)", ledger.Amount{Cents: b.Value, Currency: b.Currency}, b.HostID))
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
