package httpapi

import (
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/service/carryforward"
)

type hostBalanceResponse struct {
	HostID           uuid.UUID `json:"host_id"`
	Currency         string    `json:"currency"`
	BalanceMinor     int64     `json:"balance_minor"`
	HostCurrency     string    `json:"host_currency"`
	HostBalanceMinor int64     `json:"host_balance_minor"`
}

type accountBalanceResponse struct {
	AccountID    uuid.UUID             `json:"account_id"`
	Slug         string                `json:"slug"`
	AsOf         *time.Time            `json:"as_of,omitempty"`
	Currency     string                `json:"currency"`
	BalanceMinor int64                 `json:"balance_minor"`
	ByCurrency   map[string]int64      `json:"by_currency,omitempty"`
	HostBalances []hostBalanceResponse `json:"host_balances"`
}

type balanceItem struct {
	AccountID    uuid.UUID        `json:"account_id"`
	Currency     string           `json:"currency"`
	BalanceMinor int64            `json:"balance_minor"`
	ByCurrency   map[string]int64 `json:"by_currency,omitempty"`
}

type balancesResponse struct {
	AsOf     *time.Time    `json:"as_of,omitempty"`
	Balances []balanceItem `json:"balances"`
}

type coverageException struct {
	AccountID uuid.UUID             `json:"account_id"`
	Slug      string                `json:"slug"`
	Status    string                `json:"status"`
	Balances  []hostBalanceResponse `json:"balances,omitempty"`
}

type coverageResponse struct {
	Cutoff          string              `json:"cutoff"`
	Total           int                 `json:"total"`
	Counts          map[string]int      `json:"counts"`
	CoveragePercent float64             `json:"coverage_percent"`
	FullCoverage    bool                `json:"full_coverage"`
	Exceptions      []coverageException `json:"exceptions"`
}

type lineItemResponse struct {
	Kind        ledger.Kind `json:"kind"`
	Description string      `json:"description"`
	AmountMinor int64       `json:"amount_minor"`
}

type auditReferenceResponse struct {
	TransactionGroup uuid.UUID   `json:"transaction_group"`
	Kind             ledger.Kind `json:"kind"`
	AmountMinor      int64       `json:"amount_minor"`
}

type invoiceResponse struct {
	ID               uuid.UUID                `json:"id"`
	Reference        string                   `json:"reference"`
	HostID           uuid.UUID                `json:"host_id"`
	Currency         string                   `json:"currency"`
	Direction        ledger.InvoiceDirection  `json:"direction"`
	PeriodStart      time.Time                `json:"period_start"`
	PeriodEnd        time.Time                `json:"period_end"`
	LineItems        []lineItemResponse       `json:"line_items"`
	TotalAmountMinor int64                    `json:"total_amount_minor"`
	AuditReferences  []auditReferenceResponse `json:"audit_references"`
	CreatedAt        time.Time                `json:"created_at"`
	PaidAt           *time.Time               `json:"paid_at,omitempty"`
	PublishedAt      *time.Time               `json:"published_at,omitempty"`
}

type markPaidRequest struct {
	PaidAt *time.Time `json:"paid_at"`
}

func toHostBalances(hb []ledger.HostBalance) []hostBalanceResponse {
	out := make([]hostBalanceResponse, 0, len(hb))
	for _, b := range hb {
		out = append(out, hostBalanceResponse{
			HostID:           b.HostID,
			Currency:         b.Currency,
			BalanceMinor:     b.Value,
			HostCurrency:     b.HostCurrency,
			HostBalanceMinor: b.HostValue,
		})
	}
	return out
}

func toCoverageResponse(r carryforward.Report) coverageResponse {
	counts := make(map[string]int, len(r.Counts))
	for st, n := range r.Counts {
		counts[string(st)] = n
	}
	ex := make([]coverageException, 0, len(r.Exceptions))
	for _, e := range r.Exceptions {
		ex = append(ex, coverageException{
			AccountID: e.AccountID,
			Slug:      e.Slug,
			Status:    string(e.Status),
			Balances:  toHostBalances(e.Balances),
		})
	}
	return coverageResponse{
		Cutoff:          r.Day,
		Total:           r.Total,
		Counts:          counts,
		CoveragePercent: r.CoveragePercent,
		FullCoverage:    r.FullCoverage(),
		Exceptions:      ex,
	}
}

func toInvoiceResponse(inv ledger.Invoice) invoiceResponse {
	lines := make([]lineItemResponse, 0, len(inv.LineItems))
	for _, l := range inv.LineItems {
		lines = append(lines, lineItemResponse{Kind: l.Kind, Description: l.Description, AmountMinor: l.Amount})
	}
	refs := make([]auditReferenceResponse, 0, len(inv.AuditReferences))
	for _, a := range inv.AuditReferences {
		refs = append(refs, auditReferenceResponse{TransactionGroup: a.TransactionGroup, Kind: a.Kind, AmountMinor: a.Amount})
	}
	return invoiceResponse{
		ID:               inv.ID,
		Reference:        inv.Reference,
		HostID:           inv.HostID,
		Currency:         inv.Currency,
		Direction:        inv.Direction,
		PeriodStart:      inv.Period.Start,
		PeriodEnd:        inv.Period.End,
		LineItems:        lines,
		TotalAmountMinor: inv.TotalAmount,
		AuditReferences:  refs,
		CreatedAt:        inv.CreatedAt,
		PaidAt:           inv.PaidAt,
		PublishedAt:      inv.PublishedAt,
	}
}
