package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/tinoosan/hostledger/internal/dictionary"
	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/metrics"
)

// Outcome is the terminal state of one (host, currency) group in a run.
type Outcome string

const (
	// OutcomeInvoiced wrote an invoice and moved its rows OWED -> INVOICED.
	OutcomeInvoiced Outcome = "INVOICED"
	// OutcomeNettedZero wrote no invoice and moved its rows OWED -> SETTLED.
	OutcomeNettedZero Outcome = "SETTLED_NET_ZERO"
	// OutcomeNothingOwed means a retry found the rows already taken by another run.
	OutcomeNothingOwed Outcome = "SKIPPED_NOTHING_OWED"
	OutcomeError       Outcome = "ERROR"
)

type RunOptions struct {
	Period ledger.Period
	// HostID restricts the run to one host.
	HostID *uuid.UUID
	DryRun bool
	// MaxHosts caps how many hosts one run processes; 0 means no cap.
	MaxHosts int
}

// HostResult reports one (host, currency) group.
type HostResult struct {
	HostID   uuid.UUID
	Currency string
	Outcome  Outcome
	// Invoice is set for INVOICED, including dry runs.
	Invoice  *ledger.Invoice
	Rows     int
	Attempts int
	Err      error
}

// Failure names a group that ended in error, for targeted reruns.
type Failure struct {
	HostID   uuid.UUID
	Currency string
	Reason   string
}

// Summary aggregates a run.
type Summary struct {
	Period   ledger.Period
	DryRun   bool
	Counts   map[Outcome]int
	Results  []HostResult
	Failures []Failure
}

// HasErrors reports whether any group failed.
func (s Summary) HasErrors() bool { return len(s.Failures) > 0 }

// Aggregator turns OWED debts into per-host invoices.
type Aggregator struct {
	repo        Repo
	uow         UnitOfWork
	log         *slog.Logger
	concurrency int
	maxAttempts int
	now         func() time.Time
	backoff     time.Duration
}

func NewAggregator(repo Repo, uow UnitOfWork, concurrency, maxAttempts int, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Aggregator{
		repo:        repo,
		uow:         uow,
		log:         logger,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		now:         time.Now,
		backoff:     50 * time.Millisecond,
	}
}

// Run invoices every (host, currency) group with OWED debts created in the period.
// Groups commit independently; a failing group is reported in the summary and
// never blocks the others.
func (a *Aggregator) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	if !opts.Period.Valid() {
		return Summary{}, fmt.Errorf("%w: period %s", errs.ErrInvalid, opts.Period)
	}
	items, err := a.repo.OwedDebts(ctx, opts.Period, dictionary.DebtKinds(), opts.HostID)
	if err != nil {
		return Summary{}, err
	}
	groups := capHosts(groupDebts(items), opts.MaxHosts)
	a.log.InfoContext(ctx, "settlement run started",
		"period", opts.Period.String(),
		"groups", len(groups),
		"dry_run", opts.DryRun,
	)

	results := make([]HostResult, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			results[i] = a.runGroup(gctx, grp, opts)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Period: opts.Period, DryRun: opts.DryRun, Counts: make(map[Outcome]int), Results: results}
	for _, r := range results {
		sum.Counts[r.Outcome]++
		if r.Outcome == OutcomeError {
			sum.Failures = append(sum.Failures, Failure{HostID: r.HostID, Currency: r.Currency, Reason: r.Err.Error()})
		}
	}
	a.log.InfoContext(ctx, "settlement run finished",
		"invoiced", sum.Counts[OutcomeInvoiced],
		"netted_zero", sum.Counts[OutcomeNettedZero],
		"errors", sum.Counts[OutcomeError],
	)
	return sum, ctx.Err()
}

func capHosts(groups []hostGroup, max int) []hostGroup {
	if max <= 0 {
		return groups
	}
	hosts := make(map[uuid.UUID]struct{})
	out := groups[:0:0]
	for _, g := range groups {
		if _, ok := hosts[g.HostID]; !ok {
			if len(hosts) == max {
				continue
			}
			hosts[g.HostID] = struct{}{}
		}
		out = append(out, g)
	}
	return out
}

// runGroup retries the whole unit on transient failures. Retries reload the
// group's debts so rows taken by a concurrent run are not counted twice.
func (a *Aggregator) runGroup(ctx context.Context, grp hostGroup, opts RunOptions) HostResult {
	start := time.Now()
	defer metrics.ObserveSince("settlement", start)

	res := HostResult{HostID: grp.HostID, Currency: grp.Currency}
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			if err := sleep(ctx, time.Duration(attempt-1)*a.backoff); err != nil {
				res.Err = err
				break
			}
			reloaded, err := a.reload(ctx, grp, opts.Period)
			if err != nil {
				res.Err = err
				continue
			}
			grp = reloaded
		}
		if len(grp.Items) == 0 {
			res.Outcome, res.Err = OutcomeNothingOwed, nil
			return res
		}
		out, inv, rows, err := a.commitGroup(ctx, grp, opts)
		if err == nil {
			res.Outcome, res.Invoice, res.Rows, res.Err = out, inv, rows, nil
			return res
		}
		res.Err = err
		if !errs.IsRetryable(err) {
			break
		}
		a.log.WarnContext(ctx, "settlement unit failed, retrying",
			"host_id", grp.HostID,
			"currency", grp.Currency,
			"attempt", attempt,
			"err", err,
		)
	}
	res.Outcome = OutcomeError
	a.log.ErrorContext(ctx, "settlement unit failed",
		"host_id", grp.HostID,
		"currency", grp.Currency,
		"attempts", res.Attempts,
		"err", res.Err,
	)
	return res
}

func (a *Aggregator) reload(ctx context.Context, grp hostGroup, period ledger.Period) (hostGroup, error) {
	host := grp.HostID
	items, err := a.repo.OwedDebts(ctx, period, dictionary.DebtKinds(), &host)
	if err != nil {
		return hostGroup{}, err
	}
	out := hostGroup{HostID: grp.HostID, Currency: grp.Currency}
	for _, it := range items {
		if it.Currency == grp.Currency {
			out.Items = append(out.Items, it)
		}
	}
	return out, nil
}

func (a *Aggregator) commitGroup(ctx context.Context, grp hostGroup, opts RunOptions) (Outcome, *ledger.Invoice, int, error) {
	inv, net, keys := buildInvoice(grp, opts.Period)
	now := a.now().UTC()

	if net == 0 {
		if !opts.DryRun {
			err := a.uow.InHostTx(ctx, grp.HostID, func(tx Tx) error {
				return transition(ctx, tx, keys, ledger.SettlementOwed, ledger.SettlementSettled, nil, now)
			})
			if err != nil {
				return "", nil, 0, err
			}
			metrics.SettlementTransitions.WithLabelValues(string(ledger.SettlementOwed), string(ledger.SettlementSettled)).Add(float64(len(keys)))
		}
		a.log.InfoContext(ctx, "settlement group netted to zero",
			"host_id", grp.HostID,
			"currency", grp.Currency,
			"rows", len(keys),
			"dry_run", opts.DryRun,
		)
		return OutcomeNettedZero, nil, len(keys), nil
	}

	inv.ID = uuid.New()
	inv.Reference = ulid.Make().String()
	inv.CreatedAt = now
	if !opts.DryRun {
		err := a.uow.InHostTx(ctx, grp.HostID, func(tx Tx) error {
			if err := tx.CreateInvoice(ctx, inv); err != nil {
				return err
			}
			id := inv.ID
			return transition(ctx, tx, keys, ledger.SettlementOwed, ledger.SettlementInvoiced, &id, now)
		})
		if err != nil {
			return "", nil, 0, err
		}
		metrics.InvoicesEmitted.WithLabelValues(inv.Currency).Inc()
		metrics.SettlementTransitions.WithLabelValues(string(ledger.SettlementOwed), string(ledger.SettlementInvoiced)).Add(float64(len(keys)))
	}
	a.log.InfoContext(ctx, "settlement invoice emitted",
		"host_id", grp.HostID,
		"currency", grp.Currency,
		"reference", inv.Reference,
		"direction", inv.Direction,
		"total", ledger.Amount{Cents: inv.TotalAmount, Currency: inv.Currency}.String(),
		"rows", len(keys),
		"dry_run", opts.DryRun,
	)
	return OutcomeInvoiced, &inv, len(keys), nil
}

// transition is the CAS step: every key must move or the unit rolls back.
func transition(ctx context.Context, tx Tx, keys []ledger.SettlementKey, from, to ledger.SettlementStatus, invoiceID *uuid.UUID, at time.Time) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", errs.ErrInvalid, from, to)
	}
	n, err := tx.TransitionSettlements(ctx, keys, from, to, invoiceID, at)
	if err != nil {
		return err
	}
	if n != int64(len(keys)) {
		return fmt.Errorf("%w: moved %d of %d settlement rows %s -> %s", errs.ErrConflict, n, len(keys), from, to)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
