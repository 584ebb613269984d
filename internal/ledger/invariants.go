package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/errs"
)

// CheckSign verifies the sign rule: CREDIT >= 0, DEBIT <= 0, in both currencies.
func CheckSign(t Transaction) error {
	switch t.Type {
	case Credit:
		if t.Amount < 0 || t.AmountInHostCurrency < 0 {
			return fmt.Errorf("%w: credit leg %s carries %d", errs.ErrSignMismatch, t.ID, t.Amount)
		}
	case Debit:
		if t.Amount > 0 || t.AmountInHostCurrency > 0 {
			return fmt.Errorf("%w: debit leg %s carries %d", errs.ErrSignMismatch, t.ID, t.Amount)
		}
	default:
		return fmt.Errorf("%w: type %q", errs.ErrInvalid, t.Type)
	}
	return nil
}

// CheckBalanced verifies that legs form one group whose amounts net to zero per
// currency, both in account currency and in host currency.
func CheckBalanced(legs []Transaction) error {
	if len(legs) < 2 {
		return fmt.Errorf("%w: a group needs at least 2 legs", errs.ErrUnbalancedGroup)
	}
	group := legs[0].Group
	native := make(map[string]int64)
	host := make(map[string]int64)
	for _, t := range legs {
		if t.Group != group {
			return fmt.Errorf("%w: legs span groups %s and %s", errs.ErrInvalid, group, t.Group)
		}
		if err := CheckSign(t); err != nil {
			return err
		}
		native[t.Currency] += t.Amount
		if t.HostCurrency != "" {
			host[t.HostCurrency] += t.AmountInHostCurrency
		}
	}
	if c, v := firstNonZero(native); c != "" {
		return fmt.Errorf("%w: group %s nets %d %s", errs.ErrUnbalancedGroup, group, v, c)
	}
	if c, v := firstNonZero(host); c != "" {
		return fmt.Errorf("%w: group %s nets %d %s in host currency", errs.ErrUnbalancedGroup, group, v, c)
	}
	return nil
}

func firstNonZero(sums map[string]int64) (string, int64) {
	keys := make([]string, 0, len(sums))
	for c := range sums {
		keys = append(keys, c)
	}
	sort.Strings(keys)
	for _, c := range keys {
		if sums[c] != 0 {
			return c, sums[c]
		}
	}
	return "", 0
}

// Reverse builds the refund legs for an original group: same accounts, sign and
// type flipped, a new group id and RefundOf pointing at each reversed leg.
func Reverse(orig []Transaction, group uuid.UUID) []Transaction {
	out := make([]Transaction, 0, len(orig))
	for _, t := range orig {
		r := t
		r.ID = uuid.Nil
		r.Seq = 0
		r.Group = group
		r.Type = t.Type.Opposite()
		r.Amount = -t.Amount
		r.AmountInHostCurrency = -t.AmountInHostCurrency
		r.PaymentProcessorFeeInHostCurrency = -t.PaymentProcessorFeeInHostCurrency
		r.HostFeeInHostCurrency = -t.HostFeeInHostCurrency
		r.PlatformFeeInHostCurrency = -t.PlatformFeeInHostCurrency
		r.IsRefund = true
		id := t.ID
		r.RefundOf = &id
		r.ProviderData = t.ProviderData.Clone()
		r.DeletedAt = nil
		out = append(out, r)
	}
	return out
}
