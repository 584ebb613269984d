// Command hostledger runs the ledger's batch procedures and its admin HTTP server.
//
//	hostledger carryforward [-year 2024 | -cutoff 2024-12-31] [-dry-run] [-account ref] [-host ref] [-limit n] [-offset n] [-verbose]
//	hostledger verify-carryforward [-year 2024 | -cutoff 2024-12-31] [-account ref] [-host ref] [-limit n] [-offset n]
//	hostledger settle [-period 2024-06] [-host ref] [-dry-run] [-max-hosts n]
//	hostledger mark-paid -invoice id [-paid-at RFC3339]
//	hostledger relay-invoices [-limit n]
//	hostledger serve
//
// A bare year argument is accepted in place of -year. The process exits 1 when
// any unit ended in an error outcome and 2 on usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/tinoosan/hostledger/internal/config"
	"github.com/tinoosan/hostledger/internal/logging"
	"github.com/tinoosan/hostledger/internal/metrics"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

// options holds every flag; each command registers the ones it reads.
type options struct {
	year     int
	cutoff   string
	dryRun   bool
	account  string
	host     string
	limit    int
	offset   int
	verbose  bool
	period   string
	maxHosts int
	invoice  string
	paidAt   string
	args     []string
}

type command struct {
	summary string
	flags   func(fs *flag.FlagSet, o *options)
	run     func(ctx context.Context, a *app, o options, out io.Writer) (int, error)
	// push sends batch metrics to the Pushgateway after the run.
	push    bool
}

var commands = map[string]command{
	"carryforward":        {summary: "close balances at a cutoff and reopen them the next day", flags: cutoffFlags(true), run: runCarryforward, push: true},
	"verify-carryforward": {summary: "report carryforward coverage for a cutoff", flags: cutoffFlags(false), run: runVerify, push: true},
	"settle":              {summary: "invoice hosts for debts owed in a month", flags: settleFlags, run: runSettle, push: true},
	"mark-paid":           {summary: "record payment of an invoice", flags: markPaidFlags, run: runMarkPaid},
	"relay-invoices":      {summary: "publish unpublished invoices to Kafka", flags: relayFlags, run: runRelay, push: true},
	"serve":               {summary: "run the admin HTTP API", flags: func(*flag.FlagSet, *options) {}, run: runServe},
}

// wireApp is replaced in tests.
var wireApp = wire

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(stderr)
		return exitUsage
	}

	var o options
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&o.verbose, "verbose", false, "debug logging and per-unit output")
	cmd.flags(fs, &o)
	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	o.args = fs.Args()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return exitFail
	}
	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	log := logging.New(stderr, level, cfg.Log.Format)

	a, err := wireApp(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "err", err)
		return exitFail
	}
	defer a.Close()

	start := time.Now()
	code, err := cmd.run(ctx, a, o, stdout)
	if err != nil {
		log.Error(name+" failed", "err", err)
		fmt.Fprintln(stderr, "error:", err)
		if code == exitOK {
			code = exitFail
		}
	}
	if cmd.push {
		metrics.ObserveSince(name, start)
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metrics.Push(pctx, cfg.Metrics.PushgatewayURL, "hostledger_"+name); err != nil {
			log.Warn("pushgateway push failed", "err", err)
		}
		cancel()
	}
	return code
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: hostledger <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-20s %s\n", n, commands[n].summary)
	}
}
