package settlement

import (
	"sort"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/dictionary"
	"github.com/tinoosan/hostledger/internal/ledger"
)

// hostGroup is the unit of invoicing: one host, one currency.
type hostGroup struct {
	HostID   uuid.UUID
	Currency string
	Items    []ledger.DebtItem
}

// groupDebts buckets items by (host, currency) in a stable order.
func groupDebts(items []ledger.DebtItem) []hostGroup {
	type gk struct {
		host     uuid.UUID
		currency string
	}
	idx := make(map[gk]int)
	var out []hostGroup
	for _, it := range items {
		k := gk{it.HostID, it.Currency}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, hostGroup{HostID: it.HostID, Currency: it.Currency})
		}
		out[i].Items = append(out[i].Items, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HostID != out[j].HostID {
			return out[i].HostID.String() < out[j].HostID.String()
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// buildInvoice nets a group's items into one line per debt kind. Refund items
// net into their origin line, zero lines are dropped and a negative line stays
// negative. The returned total is signed from the host's side: negative means
// the platform owes the host. Every item's key is returned whether or not its
// line survived.
func buildInvoice(g hostGroup, period ledger.Period) (ledger.Invoice, int64, []ledger.SettlementKey) {
	items := append([]ledger.DebtItem(nil), g.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].Key.TransactionGroup.String() < items[j].Key.TransactionGroup.String()
	})

	sums := make(map[ledger.Kind]int64)
	keys := make([]ledger.SettlementKey, 0, len(items))
	refs := make([]ledger.AuditReference, 0, len(items))
	for _, it := range items {
		sums[it.Key.Kind] += it.Amount
		keys = append(keys, it.Key)
		refs = append(refs, ledger.AuditReference{
			TransactionGroup: it.Key.TransactionGroup,
			Kind:             it.Key.Kind,
			Amount:           it.Amount,
		})
	}

	var lines []ledger.LineItem
	var total int64
	for _, k := range dictionary.DebtKinds() {
		v, ok := sums[k]
		if !ok || v == 0 {
			continue
		}
		lines = append(lines, ledger.LineItem{Kind: k, Description: dictionary.InvoiceLine(k), Amount: v})
		total += v
	}

	inv := ledger.Invoice{
		HostID:          g.HostID,
		Currency:        g.Currency,
		Direction:       ledger.HostOwesPlatform,
		Period:          period,
		LineItems:       lines,
		TotalAmount:     total,
		AuditReferences: refs,
	}
	if total < 0 {
		// Amounts are expressed in the invoice's direction so lines still sum to the total.
		inv.Direction = ledger.PlatformOwesHost
		inv.TotalAmount = -total
		for i := range inv.LineItems {
			inv.LineItems[i].Amount = -inv.LineItems[i].Amount
		}
		for i := range inv.AuditReferences {
			inv.AuditReferences[i].Amount = -inv.AuditReferences[i].Amount
		}
	}
	return inv, total, keys
}
