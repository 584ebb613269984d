// Package devseed builds realistic transaction groups and seeds a store with a
// small fiscal-hosting setup for local runs.
package devseed

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/hostledger/internal/ledger"
)

func hostOf(a ledger.Account) *uuid.UUID {
	if a.HostID == nil {
		return nil
	}
	h := *a.HostID
	return &h
}

func mkLeg(acc, counterparty ledger.Account, host *uuid.UUID, typ ledger.TransactionType, kind ledger.Kind, amount ledger.Amount, at time.Time, desc string) ledger.Transaction {
	cents := amount.Cents
	if typ == ledger.Debit {
		cents = -cents
	}
	return ledger.Transaction{
		Type:                 typ,
		Kind:                 kind,
		Description:          desc,
		Amount:               cents,
		Currency:             amount.Currency,
		AmountInHostCurrency: cents,
		HostCurrency:         amount.Currency,
		HostCurrencyFxRate:   decimal.NewFromInt(1),
		AccountID:            acc.ID,
		CounterpartyID:       counterparty.ID,
		HostID:               host,
		CreatedAt:            at,
	}
}

// Contribution credits a hosted collective and debits the contributor.
func Contribution(from, to ledger.Account, amount ledger.Amount, at time.Time) []ledger.Transaction {
	return []ledger.Transaction{
		mkLeg(to, from, hostOf(to), ledger.Credit, ledger.KindContribution, amount, at, "Contribution from "+from.Name),
		mkLeg(from, to, hostOf(from), ledger.Debit, ledger.KindContribution, amount, at, "Contribution to "+to.Name),
	}
}

// HostFee moves a fee from a collective to its host.
func HostFee(collective, host ledger.Account, amount ledger.Amount, at time.Time) []ledger.Transaction {
	h := host.ID
	return []ledger.Transaction{
		mkLeg(collective, host, &h, ledger.Debit, ledger.KindHostFee, amount, at, "Host fee"),
		mkLeg(host, collective, &h, ledger.Credit, ledger.KindHostFee, amount, at, "Host fee"),
	}
}

func debt(kind ledger.Kind, host, platform ledger.Account, amount ledger.Amount, at time.Time, desc string) []ledger.Transaction {
	h := host.ID
	legs := []ledger.Transaction{
		mkLeg(host, platform, &h, ledger.Debit, kind, amount, at, desc),
		mkLeg(platform, host, &h, ledger.Credit, kind, amount, at, desc),
	}
	for i := range legs {
		legs[i].IsDebt = true
	}
	return legs
}

// PlatformTipDebt records a tip the host collected on the platform's behalf.
func PlatformTipDebt(host, platform ledger.Account, amount ledger.Amount, at time.Time) []ledger.Transaction {
	return debt(ledger.KindPlatformTipDebt, host, platform, amount, at, "Platform tip owed by host")
}

// HostFeeShareDebt records the platform's share of a host fee, owed by the host.
func HostFeeShareDebt(host, platform ledger.Account, amount ledger.Amount, at time.Time) []ledger.Transaction {
	return debt(ledger.KindHostFeeShareDebt, host, platform, amount, at, "Host fee share owed by host")
}

// FixedFeeDebt records the platform's monthly fee for hosting one collective.
func FixedFeeDebt(host, platform ledger.Account, amount ledger.Amount, at time.Time) []ledger.Transaction {
	return debt(ledger.KindHostFixedFeeDebt, host, platform, amount, at, "Fixed fee per hosted collective")
}

// PartialRefund reverses part of an original debt group with a new group.
func PartialRefund(orig []ledger.Transaction, cents int64, at time.Time) []ledger.Transaction {
	out := make([]ledger.Transaction, 0, len(orig))
	for _, t := range orig {
		r := t
		r.ID = uuid.Nil
		r.Group = uuid.Nil
		r.Type = t.Type.Opposite()
		sign := int64(1)
		if t.Amount > 0 {
			sign = -1
		}
		r.Amount = sign * cents
		r.AmountInHostCurrency = sign * cents
		r.IsRefund = true
		id := t.ID
		r.RefundOf = &id
		r.Description = "Refund: " + t.Description
		r.CreatedAt = at
		out = append(out, r)
	}
	return out
}
