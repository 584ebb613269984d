package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/tinoosan/hostledger/internal/config"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/publish"
	"github.com/tinoosan/hostledger/internal/service/settlement"
)

// devEnv points the process at a freshly seeded in-memory store for 2024.
func devEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "REDIS_ADDR", "KAFKA_BROKERS", "PUSHGATEWAY_URL"} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
	t.Setenv("DEV_SEED", "true")
	t.Setenv("DEV_SEED_YEAR", "2024")
	t.Setenv("LOG_LEVEL", "error")
}

func runCmd(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, &out, &errOut)
	return code, out.String()
}

func TestUsageErrors(t *testing.T) {
	devEnv(t)
	code, _ := runCmd(t)
	assert.Equal(t, exitUsage, code)
	code, _ = runCmd(t, "rollover")
	assert.Equal(t, exitUsage, code)
	code, _ = runCmd(t, "carryforward", "-bogus")
	assert.Equal(t, exitUsage, code)
	code, _ = runCmd(t, "carryforward", "-cutoff", "31/12/2024")
	assert.Equal(t, exitUsage, code)
	code, _ = runCmd(t, "mark-paid", "-invoice", "nope")
	assert.Equal(t, exitUsage, code)
}

func TestResolveCutoff(t *testing.T) {
	now := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)

	c, err := resolveCutoff(options{}, now)
	require.NoError(t, err)
	assert.Equal(t, "2024-12-31", c.Day())

	c, err = resolveCutoff(options{args: []string{"2023"}}, now)
	require.NoError(t, err)
	assert.Equal(t, "2023-12-31", c.Day())

	c, err = resolveCutoff(options{year: 2022, args: []string{"2023"}}, now)
	require.NoError(t, err)
	assert.Equal(t, "2022-12-31", c.Day())

	c, err = resolveCutoff(options{year: 2022, cutoff: "2024-06-30"}, now)
	require.NoError(t, err)
	assert.Equal(t, ledger.CutoffAt(time.Date(2024, time.June, 30, 0, 0, 0, 0, time.UTC)), c)

	_, err = resolveCutoff(options{args: []string{"twenty"}}, now)
	assert.Error(t, err)
}

func TestCarryforwardCommand(t *testing.T) {
	devEnv(t)

	// the travelling band holds two currencies, so the batch fails
	code, out := runCmd(t, "carryforward", "-verbose", "2024")
	assert.Equal(t, exitFail, code)
	assert.Contains(t, out, "carryforward 2024-12-31: 4 account(s)")
	assert.Contains(t, out, "eco-collective")
	assert.Contains(t, out, "GBP 74.00")
	assert.Contains(t, out, "travelling-band")
	assert.Contains(t, out, "multiple non-zero balances")

	code, out = runCmd(t, "carryforward", "-account", "eco-collective", "-dry-run", "-year", "2024")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "(dry run)")
	assert.Contains(t, out, "CREATED")

	code, _ = runCmd(t, "carryforward", "-host", "no-such-host", "2024")
	assert.Equal(t, exitFail, code)
}

func TestVerifyCommand(t *testing.T) {
	devEnv(t)
	code, out := runCmd(t, "verify-carryforward", "-year", "2024")
	assert.Equal(t, exitFail, code)
	assert.Contains(t, out, "coverage 2024-12-31: 0.00% of 4 account(s)")
	assert.Contains(t, out, "MISSING")

	// a host with no legs at the cutoff has nothing to cover
	code, out = runCmd(t, "verify-carryforward", "-account", "lisbon-host", "2024")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "OK_NO_HOST_TRANSACTIONS")
}

func TestSettleCommand(t *testing.T) {
	devEnv(t)
	code, out := runCmd(t, "settle", "-period", "2024-06")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "HOST_OWES_PLATFORM GBP 9.90")
	assert.Contains(t, out, "Shared Revenue")
	assert.Contains(t, out, "Platform Tips")

	code, out = runCmd(t, "settle", "-period", "2024-07", "-verbose")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "0 host group(s)")

	code, _ = runCmd(t, "settle", "-period", "June")
	assert.Equal(t, exitUsage, code)
}

func TestRelayCommand(t *testing.T) {
	devEnv(t)
	ctrl := gomock.NewController(t)
	w := publish.NewMockMessageWriter(ctrl)
	w.EXPECT().WriteMessages(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, msgs ...kafka.Message) error {
			assert.Len(t, msgs, 1)
			return nil
		}).Times(1)

	orig := wireApp
	t.Cleanup(func() { wireApp = orig })
	wireApp = func(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
		a, err := wire(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		if _, err := a.aggregator.Run(ctx, settlement.RunOptions{Period: ledger.MonthPeriod(2024, time.June)}); err != nil {
			return nil, err
		}
		a.writer = w
		return a, nil
	}

	code, out := runCmd(t, "relay-invoices", "-limit", "10")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "published 1 invoice(s)")
}

func TestRelayRequiresBrokers(t *testing.T) {
	devEnv(t)
	code, _ := runCmd(t, "relay-invoices")
	assert.Equal(t, exitFail, code)
}
