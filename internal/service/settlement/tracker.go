package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/metrics"
)

// Tracker reads settlement state and records externally observed payments.
type Tracker struct {
	repo Repo
	uow  UnitOfWork
	log  *slog.Logger
}

func NewTracker(repo Repo, uow UnitOfWork, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{repo: repo, uow: uow, log: logger}
}

// Status returns the current state of one settlement row.
func (t *Tracker) Status(ctx context.Context, key ledger.SettlementKey) (ledger.SettlementStatus, error) {
	s, err := t.repo.Settlement(ctx, key)
	if err != nil {
		return "", err
	}
	return s.Status, nil
}

// Invoice returns an invoice by id.
func (t *Tracker) Invoice(ctx context.Context, id uuid.UUID) (ledger.Invoice, error) {
	return t.repo.Invoice(ctx, id)
}

// MarkInvoicePaid moves every row of the invoice INVOICED -> SETTLED and stamps
// PaidAt. Marking an already paid invoice returns it unchanged.
func (t *Tracker) MarkInvoicePaid(ctx context.Context, invoiceID uuid.UUID, at time.Time) (ledger.Invoice, error) {
	if invoiceID == uuid.Nil {
		return ledger.Invoice{}, errs.ErrInvalid
	}
	inv, err := t.repo.Invoice(ctx, invoiceID)
	if err != nil {
		return ledger.Invoice{}, err
	}
	if inv.PaidAt != nil {
		return inv, nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	rows, err := t.repo.SettlementsByInvoice(ctx, invoiceID)
	if err != nil {
		return ledger.Invoice{}, err
	}
	keys := make([]ledger.SettlementKey, 0, len(rows))
	for _, r := range rows {
		if r.Status == ledger.SettlementInvoiced {
			keys = append(keys, r.Key())
		}
	}

	err = t.uow.InHostTx(ctx, inv.HostID, func(tx Tx) error {
		if err := transition(ctx, tx, keys, ledger.SettlementInvoiced, ledger.SettlementSettled, nil, at); err != nil {
			return err
		}
		return tx.MarkInvoicePaid(ctx, invoiceID, at)
	})
	if err != nil {
		return ledger.Invoice{}, err
	}
	metrics.SettlementTransitions.WithLabelValues(string(ledger.SettlementInvoiced), string(ledger.SettlementSettled)).Add(float64(len(keys)))
	t.log.InfoContext(ctx, "invoice paid",
		"invoice_id", invoiceID,
		"reference", inv.Reference,
		"host_id", inv.HostID,
		"rows", len(keys),
	)
	inv.PaidAt = &at
	return inv, nil
}
