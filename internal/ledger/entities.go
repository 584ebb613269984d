package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/hostledger/internal/meta"
)

// TransactionType is the accounting side of a leg.
type TransactionType string

const (
	// Credit legs carry non-negative amounts and increase the owning account's balance.
	Credit TransactionType = "CREDIT"
	// Debit legs carry non-positive amounts and decrease the owning account's balance.
	Debit TransactionType = "DEBIT"
)

// Opposite returns the other side.
func (t TransactionType) Opposite() TransactionType {
	if t == Credit {
		return Debit
	}
	return Credit
}

// Kind is the transaction taxonomy.
type Kind string

const (
	KindContribution        Kind = "CONTRIBUTION"
	KindAddedFunds          Kind = "ADDED_FUNDS"
	KindExpense             Kind = "EXPENSE"
	KindHostFee             Kind = "HOST_FEE"
	KindHostFeeShare        Kind = "HOST_FEE_SHARE"
	KindHostFeeShareDebt    Kind = "HOST_FEE_SHARE_DEBT"
	KindPlatformTip         Kind = "PLATFORM_TIP"
	KindPlatformTipDebt     Kind = "PLATFORM_TIP_DEBT"
	KindHostFixedFeeDebt    Kind = "HOST_FIXED_FEE_DEBT"
	KindPaymentProcessorFee Kind = "PAYMENT_PROCESSOR_FEE"
	KindBalanceCarryforward Kind = "BALANCE_CARRYFORWARD"
)

// AccountType enumerates the broad classification of an account.
type AccountType string

const (
	AccountTypeUser         AccountType = "USER"
	AccountTypeOrganization AccountType = "ORGANIZATION"
	AccountTypeCollective   AccountType = "COLLECTIVE"
	AccountTypeHost         AccountType = "HOST"
	AccountTypePlatform     AccountType = "PLATFORM"
)

// Account is an entity that can hold a balance.
type Account struct {
	ID       uuid.UUID
	Slug     string
	Name     string
	Type     AccountType
	Currency string
	// HostID is the current fiscal host, nil for unhosted accounts.
	HostID    *uuid.UUID
	CreatedAt time.Time
}

// Transaction is one leg of a monetary movement.
type Transaction struct {
	ID uuid.UUID
	// Seq is the store-assigned insertion order. It versions cached balances.
	Seq         int64
	Group       uuid.UUID
	Type        TransactionType
	Kind        Kind
	Description string

	// Amount is signed and expressed in Currency, the owning account's currency at the time.
	Amount   int64
	Currency string

	AmountInHostCurrency int64
	HostCurrency         string
	// HostCurrencyFxRate converts Currency into HostCurrency.
	HostCurrencyFxRate decimal.Decimal

	// Fee snapshots in host currency. Balance-affecting fees are booked as their own legs.
	PaymentProcessorFeeInHostCurrency int64
	HostFeeInHostCurrency             int64
	PlatformFeeInHostCurrency         int64

	AccountID      uuid.UUID
	CounterpartyID uuid.UUID
	HostID         *uuid.UUID
	// RefundOf points at the leg this one reverses.
	RefundOf *uuid.UUID
	IsDebt   bool
	IsRefund bool

	ProviderData meta.Payload

	CreatedAt time.Time
	DeletedAt *time.Time
}

// Value returns the leg's tagged amount in account currency.
func (t Transaction) Value() Amount { return Amount{Cents: t.Amount, Currency: t.Currency} }

// HostValue returns the leg's tagged amount in host currency.
func (t Transaction) HostValue() Amount {
	return Amount{Cents: t.AmountInHostCurrency, Currency: t.HostCurrency}
}

// IsHostSide reports whether the leg is booked on its own host's account.
func (t Transaction) IsHostSide() bool {
	return t.HostID != nil && *t.HostID == t.AccountID
}

// SettlementStatus is the collectability state of a debt.
type SettlementStatus string

const (
	SettlementOwed     SettlementStatus = "OWED"
	SettlementInvoiced SettlementStatus = "INVOICED"
	SettlementSettled  SettlementStatus = "SETTLED"
)

func (s SettlementStatus) rank() int {
	switch s {
	case SettlementOwed:
		return 1
	case SettlementInvoiced:
		return 2
	case SettlementSettled:
		return 3
	}
	return 0
}

// CanTransitionTo reports whether moving from s to next keeps the walk forward-only.
func (s SettlementStatus) CanTransitionTo(next SettlementStatus) bool {
	return s.rank() > 0 && next.rank() > s.rank()
}

// SettlementKey is the natural key of a TransactionSettlement.
type SettlementKey struct {
	TransactionGroup uuid.UUID
	Kind             Kind
}

// TransactionSettlement tracks one debt-bearing group for one debt kind.
type TransactionSettlement struct {
	TransactionGroup uuid.UUID
	Kind             Kind
	Status           SettlementStatus
	InvoiceID        *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Key returns the row's natural key.
func (s TransactionSettlement) Key() SettlementKey {
	return SettlementKey{TransactionGroup: s.TransactionGroup, Kind: s.Kind}
}

// DebtItem is an OWED settlement row joined with its host-side debt leg.
type DebtItem struct {
	Key      SettlementKey
	HostID   uuid.UUID
	Currency string
	// Amount is what the host owes, in host currency: the negated host-side leg.
	// Refund legs make it negative.
	Amount    int64
	IsRefund  bool
	CreatedAt time.Time
}

// InvoiceDirection says who pays whom.
type InvoiceDirection string

const (
	HostOwesPlatform InvoiceDirection = "HOST_OWES_PLATFORM"
	PlatformOwesHost InvoiceDirection = "PLATFORM_OWES_HOST"
)

// LineItem is one summed line of an invoice.
type LineItem struct {
	Kind        Kind   `json:"kind"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

// AuditReference lists one contributing transaction group and its amount.
type AuditReference struct {
	TransactionGroup uuid.UUID `json:"transactionGroup"`
	Kind             Kind      `json:"kind"`
	Amount           int64     `json:"amount"`
}

// Invoice is the payable emitted per host and currency for a period.
type Invoice struct {
	ID              uuid.UUID
	Reference       string
	HostID          uuid.UUID
	Currency        string
	Direction       InvoiceDirection
	Period          Period
	LineItems       []LineItem
	TotalAmount     int64
	AuditReferences []AuditReference
	CreatedAt       time.Time
	PaidAt          *time.Time
	PublishedAt     *time.Time
}

// InvoiceRequest is the shape handed to the payable subsystem.
type InvoiceRequest struct {
	Reference       string           `json:"reference"`
	HostID          uuid.UUID        `json:"hostId"`
	Currency        string           `json:"currency"`
	Direction       InvoiceDirection `json:"direction"`
	PeriodStart     time.Time        `json:"periodStart"`
	// PeriodEnd is exclusive: the first instant after the period.
	PeriodEnd       time.Time        `json:"periodEnd"`
	LineItems       []LineItem       `json:"lineItems"`
	TotalAmount     int64            `json:"totalAmount"`
	AuditReferences []uuid.UUID      `json:"auditReferences"`
	Attachment      []AuditReference `json:"attachment"`
}

// Request converts the invoice into the payable request shape.
func (inv Invoice) Request() InvoiceRequest {
	groups := make([]uuid.UUID, 0, len(inv.AuditReferences))
	seen := make(map[uuid.UUID]struct{}, len(inv.AuditReferences))
	for _, ref := range inv.AuditReferences {
		if _, ok := seen[ref.TransactionGroup]; ok {
			continue
		}
		seen[ref.TransactionGroup] = struct{}{}
		groups = append(groups, ref.TransactionGroup)
	}
	return InvoiceRequest{
		Reference:       inv.Reference,
		HostID:          inv.HostID,
		Currency:        inv.Currency,
		Direction:       inv.Direction,
		PeriodStart:     inv.Period.Start,
		PeriodEnd:       inv.Period.End,
		LineItems:       inv.LineItems,
		TotalAmount:     inv.TotalAmount,
		AuditReferences: groups,
		Attachment:      inv.AuditReferences,
	}
}

// AccountFilter narrows batch populations.
type AccountFilter struct {
	HostID *uuid.UUID
	Limit  int
	Offset int
}
