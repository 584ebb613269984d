package dictionary

import "github.com/tinoosan/hostledger/internal/ledger"

type KindDef struct {
	Kind  ledger.Kind `json:"kind"`
	Label string      `json:"label"`
	// Debt marks amounts a host owes the platform that were not collected at the point of sale.
	Debt bool `json:"debt"`
	// InvoiceLine is the line item description used by settlement invoices.
	InvoiceLine string `json:"invoice_line,omitempty"`
}

var curated = []KindDef{
	{Kind: ledger.KindContribution, Label: "Contribution"},
	{Kind: ledger.KindAddedFunds, Label: "Added Funds"},
	{Kind: ledger.KindExpense, Label: "Expense"},
	{Kind: ledger.KindHostFee, Label: "Host Fee"},
	{Kind: ledger.KindHostFeeShare, Label: "Host Fee Share"},
	{Kind: ledger.KindHostFeeShareDebt, Label: "Host Fee Share Debt", Debt: true, InvoiceLine: "Shared Revenue"},
	{Kind: ledger.KindPlatformTip, Label: "Platform Tip"},
	{Kind: ledger.KindPlatformTipDebt, Label: "Platform Tip Debt", Debt: true, InvoiceLine: "Platform Tips"},
	{Kind: ledger.KindHostFixedFeeDebt, Label: "Host Fixed Fee Debt", Debt: true, InvoiceLine: "Fixed Fee per Hosted Collective"},
	{Kind: ledger.KindPaymentProcessorFee, Label: "Payment Processor Fee"},
	{Kind: ledger.KindBalanceCarryforward, Label: "Balance Carryforward"},
}

func lookup(k ledger.Kind) (KindDef, bool) {
	for _, d := range curated {
		if d.Kind == k {
			return d, true
		}
	}
	return KindDef{}, false
}

// IsKnown reports whether k is part of the taxonomy.
func IsKnown(k ledger.Kind) bool {
	_, ok := lookup(k)
	return ok
}

// IsDebt reports whether legs of kind k are settlement-tracked debts.
func IsDebt(k ledger.Kind) bool {
	d, ok := lookup(k)
	return ok && d.Debt
}

// DebtKinds returns every settlement-tracked kind in taxonomy order.
func DebtKinds() []ledger.Kind {
	out := make([]ledger.Kind, 0, 3)
	for _, d := range curated {
		if d.Debt {
			out = append(out, d.Kind)
		}
	}
	return out
}

// InvoiceLine returns the invoice description for a debt kind, falling back to the label.
func InvoiceLine(k ledger.Kind) string {
	d, ok := lookup(k)
	if !ok {
		return string(k)
	}
	if d.InvoiceLine != "" {
		return d.InvoiceLine
	}
	return d.Label
}

// Kinds returns the full taxonomy.
func Kinds() []KindDef {
	out := make([]KindDef, len(curated))
	copy(out, curated)
	return out
}
