package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

func sortedKeys[K ~string, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func money(cents int64, currency string) string {
	return ledger.Amount{Cents: cents, Currency: currency}.String()
}

func printCarryforward(w io.Writer, sum carryforward.Summary, verbose bool) {
	mode := ""
	if sum.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "carryforward %s%s: %d account(s)\n", sum.Cutoff.Day(), mode, len(sum.Results))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range sortedKeys(sum.Counts) {
		fmt.Fprintf(tw, "  %s\t%d\n", o, sum.Counts[o])
	}
	_ = tw.Flush()

	if verbose {
		fmt.Fprintln(w, "results:")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ACCOUNT\tOUTCOME\tAMOUNT\tHOST")
		for _, r := range sum.Results {
			amount, host := "-", "-"
			if r.Currency != "" {
				amount = money(r.Amount, r.Currency)
			}
			if r.HostID != nil {
				host = r.HostID.String()
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", r.Slug, r.Outcome, amount, host)
		}
		_ = tw.Flush()
	}
	if len(sum.Failures) > 0 {
		fmt.Fprintln(w, "failures:")
		for _, f := range sum.Failures {
			fmt.Fprintf(w, "  %s (%s): %s: %s\n", f.Slug, f.AccountID, f.Outcome, f.Reason)
		}
	}
}

func printCoverage(w io.Writer, rep carryforward.Report) {
	fmt.Fprintf(w, "coverage %s: %.2f%% of %d account(s)\n", rep.Day, rep.CoveragePercent, rep.Total)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, st := range sortedKeys(rep.Counts) {
		fmt.Fprintf(tw, "  %s\t%d\n", st, rep.Counts[st])
	}
	_ = tw.Flush()
	if len(rep.Exceptions) == 0 {
		return
	}
	fmt.Fprintln(w, "exceptions:")
	for _, e := range rep.Exceptions {
		fmt.Fprintf(w, "  %s (%s): %s\n", e.Slug, e.AccountID, e.Status)
		for _, b := range e.Balances {
			if b.Value != 0 {
				fmt.Fprintf(w, "    %s at host %s\n", money(b.Value, b.Currency), b.HostID)
			}
		}
	}
}

func printSettlement(w io.Writer, sum settlement.Summary, verbose bool) {
	mode := ""
	if sum.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "settlement %s..%s%s: %d host group(s)\n",
		sum.Period.Start.Format("2006-01-02"), sum.Period.End.AddDate(0, 0, -1).Format("2006-01-02"), mode, len(sum.Results))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, o := range sortedKeys(sum.Counts) {
		fmt.Fprintf(tw, "  %s\t%d\n", o, sum.Counts[o])
	}
	_ = tw.Flush()

	for _, r := range sum.Results {
		if r.Invoice == nil {
			if verbose {
				fmt.Fprintf(w, "  host %s %s: %s, %d row(s)\n", r.HostID, r.Currency, r.Outcome, r.Rows)
			}
			continue
		}
		printInvoice(w, *r.Invoice)
	}
	if len(sum.Failures) > 0 {
		fmt.Fprintln(w, "failures:")
		for _, f := range sum.Failures {
			fmt.Fprintf(w, "  host %s %s: %s\n", f.HostID, f.Currency, f.Reason)
		}
	}
}

func printInvoice(w io.Writer, inv ledger.Invoice) {
	fmt.Fprintf(w, "invoice %s host %s %s %s\n", inv.Reference, inv.HostID, inv.Direction, money(inv.TotalAmount, inv.Currency))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, l := range inv.LineItems {
		fmt.Fprintf(tw, "  %s\t%s\n", l.Description, money(l.Amount, inv.Currency))
	}
	_ = tw.Flush()
	if inv.PaidAt != nil {
		fmt.Fprintf(w, "  paid at %s\n", inv.PaidAt.Format("2006-01-02T15:04:05Z07:00"))
	}
}
