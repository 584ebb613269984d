package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Balance is an account balance in the account's own currency.
type Balance struct {
	Value    int64  `json:"value"`
	Currency string `json:"currency"`
	// ByCurrency is set only when more than one currency holds a non-zero amount.
	ByCurrency map[string]int64 `json:"byCurrency,omitempty"`
}

// IsMultiCurrency reports an ambiguous balance needing manual resolution.
func (b Balance) IsMultiCurrency() bool { return len(b.ByCurrency) > 1 }

// Equal compares two balances including the per-currency breakdown.
func (b Balance) Equal(o Balance) bool {
	if b.Value != o.Value || b.Currency != o.Currency || len(b.ByCurrency) != len(o.ByCurrency) {
		return false
	}
	for c, v := range b.ByCurrency {
		if o.ByCurrency[c] != v {
			return false
		}
	}
	return true
}

// BalanceFromSums folds per-currency sums into a Balance. fallback is used when
// no currency can be picked.
func BalanceFromSums(sums map[string]int64, fallback string) Balance {
	nonZero := make(map[string]int64, len(sums))
	for c, v := range sums {
		if v != 0 {
			nonZero[c] = v
		}
	}
	switch len(nonZero) {
	case 0:
		if len(sums) == 1 {
			for c := range sums {
				return Balance{Currency: c}
			}
		}
		return Balance{Currency: fallback}
	case 1:
		for c, v := range nonZero {
			return Balance{Value: v, Currency: c}
		}
	}
	return Balance{ByCurrency: nonZero}
}

// HostBalance is the sum of an account's legs held with one host in one currency.
type HostBalance struct {
	HostID   uuid.UUID `json:"hostId"`
	Currency string    `json:"currency"`
	Value    int64     `json:"value"`
	// HostCurrency and HostValue carry the same legs summed in host currency.
	HostCurrency string `json:"hostCurrency"`
	HostValue    int64  `json:"hostValue"`
}

// SortHostBalances orders by host then currency for stable output.
func SortHostBalances(hb []HostBalance) {
	sort.Slice(hb, func(i, j int) bool {
		if hb[i].HostID != hb[j].HostID {
			return hb[i].HostID.String() < hb[j].HostID.String()
		}
		if hb[i].Currency != hb[j].Currency {
			return hb[i].Currency < hb[j].Currency
		}
		return hb[i].HostCurrency < hb[j].HostCurrency
	})
}

// BalanceVersion identifies the state of an account's legs. It pairs the
// highest Seq with the live leg count so out-of-order commits and soft deletes
// both move it.
type BalanceVersion struct {
	Seq  int64 `json:"seq"`
	Legs int64 `json:"legs"`
}

// BalanceSnapshot is a materialized current balance at a store version.
type BalanceSnapshot struct {
	AccountID  uuid.UUID        `json:"accountId"`
	Version    BalanceVersion   `json:"version"`
	ByCurrency map[string]int64 `json:"byCurrency"`
	ComputedAt time.Time        `json:"computedAt"`
}
