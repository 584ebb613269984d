package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/httpapi"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/publish"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

func cutoffFlags(writes bool) func(fs *flag.FlagSet, o *options) {
	return func(fs *flag.FlagSet, o *options) {
		fs.IntVar(&o.year, "year", 0, "fiscal year closing on Dec 31 (default: last year)")
		fs.StringVar(&o.cutoff, "cutoff", "", "cutoff day YYYY-MM-DD, overrides -year")
		fs.StringVar(&o.account, "account", "", "single account id or slug")
		fs.StringVar(&o.host, "host", "", "only accounts with legs at this host (id or slug)")
		fs.IntVar(&o.limit, "limit", 0, "page size, 0 for all")
		fs.IntVar(&o.offset, "offset", 0, "page offset")
		if writes {
			fs.BoolVar(&o.dryRun, "dry-run", false, "compute and print only, write nothing")
		}
	}
}

func settleFlags(fs *flag.FlagSet, o *options) {
	fs.StringVar(&o.period, "period", "", "month YYYY-MM (default: last month)")
	fs.StringVar(&o.host, "host", "", "only this host (id or slug)")
	fs.BoolVar(&o.dryRun, "dry-run", false, "compute and print only, write nothing")
	fs.IntVar(&o.maxHosts, "max-hosts", 0, "process at most n hosts, 0 for all")
}

func markPaidFlags(fs *flag.FlagSet, o *options) {
	fs.StringVar(&o.invoice, "invoice", "", "invoice id")
	fs.StringVar(&o.paidAt, "paid-at", "", "payment time RFC3339 (default: now)")
}

func relayFlags(fs *flag.FlagSet, o *options) {
	fs.IntVar(&o.limit, "limit", 100, "invoices per batch")
}

// resolveCutoff picks -cutoff, then -year, then a bare year argument, then last year.
func resolveCutoff(o options, now time.Time) (ledger.Cutoff, error) {
	if o.cutoff != "" {
		d, err := time.Parse("2006-01-02", o.cutoff)
		if err != nil {
			return ledger.Cutoff{}, fmt.Errorf("invalid -cutoff %q: want YYYY-MM-DD", o.cutoff)
		}
		return ledger.CutoffAt(d), nil
	}
	year := o.year
	if year == 0 && len(o.args) > 0 {
		y, err := strconv.Atoi(o.args[0])
		if err != nil {
			return ledger.Cutoff{}, fmt.Errorf("invalid year %q", o.args[0])
		}
		year = y
	}
	if year == 0 {
		year = now.UTC().Year() - 1
	}
	if year < 1970 || year > 9999 {
		return ledger.Cutoff{}, fmt.Errorf("invalid year %d", year)
	}
	return ledger.YearEnd(year), nil
}

func runCarryforward(ctx context.Context, a *app, o options, out io.Writer) (int, error) {
	cutoff, err := resolveCutoff(o, time.Now())
	if err != nil {
		return exitUsage, err
	}
	hostID, err := a.hostFilter(ctx, o.host)
	if err != nil {
		return exitFail, err
	}
	sum, err := a.runner.Run(ctx, carryforward.BatchOptions{
		Cutoff:     cutoff,
		AccountRef: o.account,
		HostID:     hostID,
		Limit:      o.limit,
		Offset:     o.offset,
		DryRun:     o.dryRun,
	})
	if err != nil {
		return exitFail, err
	}
	printCarryforward(out, sum, o.verbose)
	if sum.HasErrors() {
		return exitFail, nil
	}
	return exitOK, nil
}

func runVerify(ctx context.Context, a *app, o options, out io.Writer) (int, error) {
	cutoff, err := resolveCutoff(o, time.Now())
	if err != nil {
		return exitUsage, err
	}
	hostID, err := a.hostFilter(ctx, o.host)
	if err != nil {
		return exitFail, err
	}
	rep, err := a.verifier.Verify(ctx, carryforward.VerifyOptions{
		Cutoff:     cutoff,
		AccountRef: o.account,
		HostID:     hostID,
		Limit:      o.limit,
		Offset:     o.offset,
	})
	if err != nil {
		return exitFail, err
	}
	printCoverage(out, rep)
	if !rep.FullCoverage() {
		return exitFail, nil
	}
	return exitOK, nil
}

func runSettle(ctx context.Context, a *app, o options, out io.Writer) (int, error) {
	var period ledger.Period
	if o.period != "" {
		p, err := ledger.ParseMonth(o.period)
		if err != nil {
			return exitUsage, err
		}
		period = p
	} else {
		last := time.Now().UTC().AddDate(0, -1, 0)
		period = ledger.MonthPeriod(last.Year(), last.Month())
	}
	hostID, err := a.hostFilter(ctx, o.host)
	if err != nil {
		return exitFail, err
	}
	sum, err := a.aggregator.Run(ctx, settlement.RunOptions{
		Period:   period,
		HostID:   hostID,
		DryRun:   o.dryRun,
		MaxHosts: o.maxHosts,
	})
	if err != nil {
		return exitFail, err
	}
	printSettlement(out, sum, o.verbose)
	if sum.HasErrors() {
		return exitFail, nil
	}
	return exitOK, nil
}

func runMarkPaid(ctx context.Context, a *app, o options, out io.Writer) (int, error) {
	raw := o.invoice
	if raw == "" && len(o.args) > 0 {
		raw = o.args[0]
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return exitUsage, fmt.Errorf("invalid -invoice %q", raw)
	}
	at := time.Now().UTC()
	if o.paidAt != "" {
		if at, err = time.Parse(time.RFC3339, o.paidAt); err != nil {
			return exitUsage, fmt.Errorf("invalid -paid-at %q", o.paidAt)
		}
	}
	inv, err := a.tracker.MarkInvoicePaid(ctx, id, at)
	if err != nil {
		return exitFail, err
	}
	printInvoice(out, inv)
	return exitOK, nil
}

// runRelay drains the outbox batch by batch until a short batch.
func runRelay(ctx context.Context, a *app, o options, out io.Writer) (int, error) {
	w, closeWriter, err := a.messageWriter()
	if err != nil {
		return exitFail, err
	}
	defer func() {
		if err := closeWriter(); err != nil {
			a.log.Warn("closing kafka writer", "err", err)
		}
	}()
	relay := publish.NewRelay(a.store, w, a.log)
	total := 0
	for {
		n, err := relay.Drain(ctx, o.limit)
		total += n
		if err != nil {
			fmt.Fprintf(out, "published %d invoice(s) before failing\n", total)
			return exitFail, err
		}
		if o.limit <= 0 || n < o.limit {
			break
		}
	}
	fmt.Fprintf(out, "published %d invoice(s)\n", total)
	return exitOK, nil
}

func runServe(ctx context.Context, a *app, _ options, _ io.Writer) (int, error) {
	api := httpapi.New(httpapi.Deps{
		Accounts: a.accounts,
		Balances: a.balances,
		Coverage: a.verifier,
		Invoices: a.tracker,
		Ready:    a.ready,
	}, a.log)
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("admin API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return exitFail, fmt.Errorf("server shutdown: %w", err)
		}
		return exitOK, nil
	case err := <-errCh:
		return exitFail, err
	}
}
