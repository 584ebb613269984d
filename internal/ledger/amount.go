package ledger

import (
	"fmt"
	"strings"

	"github.com/govalues/money"

	"github.com/tinoosan/hostledger/internal/errs"
)

// Amount is a currency-tagged integer amount in minor units.
type Amount struct {
	Cents    int64
	Currency string
}

// NewAmount validates the currency code and returns a tagged amount.
func NewAmount(cents int64, currency string) (Amount, error) {
	curr, err := money.ParseCurr(strings.ToUpper(strings.TrimSpace(currency)))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: currency %q", errs.ErrInvalid, currency)
	}
	return Amount{Cents: cents, Currency: curr.Code()}, nil
}

// Money converts to a govalues amount.
func (a Amount) Money() (money.Amount, error) {
	return money.NewAmountFromMinorUnits(a.Currency, a.Cents)
}

// Add sums two amounts of the same currency.
func (a Amount) Add(b Amount) (Amount, error) {
	if a.Currency != b.Currency {
		return Amount{}, fmt.Errorf("%w: %s + %s", errs.ErrCurrencyMismatch, a.Currency, b.Currency)
	}
	return Amount{Cents: a.Cents + b.Cents, Currency: a.Currency}, nil
}

// Neg flips the sign.
func (a Amount) Neg() Amount { return Amount{Cents: -a.Cents, Currency: a.Currency} }

// Abs drops the sign.
func (a Amount) Abs() Amount {
	if a.Cents < 0 {
		return a.Neg()
	}
	return a
}

func (a Amount) IsZero() bool { return a.Cents == 0 }

// String formats the amount with the currency's scale, e.g. "GBP 74.00".
func (a Amount) String() string {
	m, err := a.Money()
	if err != nil {
		return fmt.Sprintf("%s %d", a.Currency, a.Cents)
	}
	return m.String()
}
