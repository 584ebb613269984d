// Package fx is the only place where an amount crosses a currency boundary.
// Every conversion is explicit about its rate and is logged.
package fx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/govalues/money"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/metrics"
)

// Converter applies exchange-rate snapshots to tagged amounts.
type Converter struct {
	log *slog.Logger
}

func New(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{log: logger}
}

// Convert expresses a in currency `to` using rate (units of `to` per unit of a.Currency).
// Same-currency conversions require a rate of exactly one.
func (c *Converter) Convert(ctx context.Context, a ledger.Amount, to string, rate decimal.Decimal) (ledger.Amount, error) {
	if a.Currency == to {
		if !rate.IsZero() && !rate.Equal(decimal.NewFromInt(1)) {
			return ledger.Amount{}, fmt.Errorf("%w: rate %s for %s->%s", errs.ErrInvalid, rate, a.Currency, to)
		}
		return a, nil
	}
	if !rate.IsPositive() {
		return ledger.Amount{}, fmt.Errorf("%w: missing fx rate %s->%s", errs.ErrInvalid, a.Currency, to)
	}
	units, err := convertUnits(a, to, rate)
	if err != nil {
		return ledger.Amount{}, err
	}
	out := ledger.Amount{Cents: units, Currency: to}
	metrics.FXConversions.WithLabelValues(a.Currency, to).Inc()
	c.log.DebugContext(ctx, "fx conversion",
		"from", a.String(),
		"to", out.String(),
		"rate", rate.String(),
	)
	return out, nil
}

func convertUnits(a ledger.Amount, to string, rate decimal.Decimal) (int64, error) {
	r, err := money.ParseExchRate(a.Currency, to, rate.String())
	if err != nil {
		return 0, fmt.Errorf("%w: fx rate %s->%s: %v", errs.ErrInvalid, a.Currency, to, err)
	}
	src, err := a.Money()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errs.ErrInvalid, err)
	}
	dst, err := r.Conv(src)
	if err != nil {
		return 0, fmt.Errorf("fx convert %s->%s: %w", a.Currency, to, err)
	}
	units, ok := dst.MinorUnits()
	if !ok {
		return 0, fmt.Errorf("%w: converted amount overflows minor units", errs.ErrInvalid)
	}
	return units, nil
}

// Agrees reports whether host is a faithful conversion of a at rate, within one minor unit.
func Agrees(a, host ledger.Amount, rate decimal.Decimal) bool {
	if a.Currency == host.Currency {
		return a.Cents == host.Cents
	}
	if !rate.IsPositive() {
		return false
	}
	want, err := convertUnits(a, host.Currency, rate)
	if err != nil {
		return false
	}
	diff := want - host.Cents
	return diff >= -1 && diff <= 1
}
