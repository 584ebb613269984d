// Package journal records transaction groups: balanced CREDIT/DEBIT legs that
// share one correlation id, together with the settlement rows of their debt legs.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/dictionary"
	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/fx"
	"github.com/tinoosan/hostledger/internal/ledger"
)

// Repo defines read operations needed by the service.
type Repo interface {
	AccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error)
	TransactionsByGroup(ctx context.Context, group uuid.UUID) ([]ledger.Transaction, error)
	GroupRefunded(ctx context.Context, group uuid.UUID) (bool, error)
}

// Writer inserts a group and its settlement rows atomically and returns the
// legs with their store-assigned Seq.
type Writer interface {
	InsertGroup(ctx context.Context, legs []ledger.Transaction, settlements []ledger.TransactionSettlement) ([]ledger.Transaction, error)
}

// Invalidator drops cached current balances.
type Invalidator interface {
	Invalidate(ctx context.Context, ids ...uuid.UUID) error
}

// Service validates and records transaction groups.
type Service interface {
	ValidateGroup(ctx context.Context, legs []ledger.Transaction) error
	Record(ctx context.Context, legs []ledger.Transaction) ([]ledger.Transaction, error)
	Refund(ctx context.Context, group uuid.UUID, at time.Time) ([]ledger.Transaction, error)
	Group(ctx context.Context, group uuid.UUID) ([]ledger.Transaction, error)
}

type service struct {
	repo   Repo
	writer Writer
	fx     *fx.Converter
	cache  Invalidator
	log    *slog.Logger
	now    func() time.Time
}

// New wires the service. cache may be nil when no balance cache is in use.
func New(repo Repo, writer Writer, conv *fx.Converter, cache Invalidator, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	if conv == nil {
		conv = fx.New(logger)
	}
	return &service{repo: repo, writer: writer, fx: conv, cache: cache, log: logger, now: time.Now}
}

func fieldErr(i int, msg string) error { return fmt.Errorf("%w: legs[%d]: %s", errs.ErrInvalid, i, msg) }

func (s *service) ValidateGroup(ctx context.Context, legs []ledger.Transaction) error {
	if len(legs) < 2 {
		return fmt.Errorf("%w: at least 2 legs", errs.ErrUnbalancedGroup)
	}
	ids := make([]uuid.UUID, 0, len(legs))
	for i, t := range legs {
		if t.AccountID == uuid.Nil {
			return fieldErr(i, "account_id required")
		}
		if !dictionary.IsKnown(t.Kind) {
			return fieldErr(i, fmt.Sprintf("unknown kind %q", t.Kind))
		}
		if t.IsDebt != dictionary.IsDebt(t.Kind) {
			return fieldErr(i, fmt.Sprintf("is_debt=%t does not match kind %s", t.IsDebt, t.Kind))
		}
		if t.IsDebt && t.HostID == nil {
			return fieldErr(i, "debt leg requires a host")
		}
		if _, err := ledger.NewAmount(t.Amount, t.Currency); err != nil {
			return fieldErr(i, err.Error())
		}
		if _, err := ledger.NewAmount(t.AmountInHostCurrency, t.HostCurrency); err != nil {
			return fieldErr(i, "host "+err.Error())
		}
		if !fx.Agrees(t.Value(), t.HostValue(), t.HostCurrencyFxRate) {
			return fmt.Errorf("%w: legs[%d]: %s at rate %s does not give %s",
				errs.ErrCurrencyMismatch, i, t.Value(), t.HostCurrencyFxRate, t.HostValue())
		}
		if err := t.ProviderData.Validate(); err != nil {
			return fieldErr(i, err.Error())
		}
		ids = append(ids, t.AccountID)
	}
	if err := ledger.CheckBalanced(legs); err != nil {
		return err
	}
	if err := checkDebtLegs(legs); err != nil {
		return err
	}

	accs, err := s.repo.AccountsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for i, t := range legs {
		if _, ok := accs[t.AccountID]; !ok {
			return fmt.Errorf("%w: legs[%d]: account %s", errs.ErrNotFound, i, t.AccountID)
		}
	}
	return nil
}

// checkDebtLegs enforces exactly one host-side leg per debt kind present in the group.
func checkDebtLegs(legs []ledger.Transaction) error {
	hostSide := make(map[ledger.Kind]int)
	for _, t := range legs {
		if !t.IsDebt {
			continue
		}
		if _, ok := hostSide[t.Kind]; !ok {
			hostSide[t.Kind] = 0
		}
		if t.IsHostSide() {
			hostSide[t.Kind]++
		}
	}
	for k, n := range hostSide {
		if n != 1 {
			return fmt.Errorf("%w: %s needs exactly one leg on the host account, got %d", errs.ErrInvalid, k, n)
		}
	}
	return nil
}

func (s *service) Record(ctx context.Context, legs []ledger.Transaction) ([]ledger.Transaction, error) {
	if len(legs) == 0 {
		return nil, fmt.Errorf("%w: empty group", errs.ErrInvalid)
	}
	group := legs[0].Group
	if group == uuid.Nil {
		group = uuid.New()
	}
	now := s.now().UTC()

	hostIDs := make([]uuid.UUID, 0)
	for _, t := range legs {
		if t.HostID != nil && t.HostCurrency == "" {
			hostIDs = append(hostIDs, *t.HostID)
		}
	}
	hosts := map[uuid.UUID]ledger.Account{}
	if len(hostIDs) > 0 {
		var err error
		if hosts, err = s.repo.AccountsByIDs(ctx, hostIDs); err != nil {
			return nil, err
		}
	}

	out := make([]ledger.Transaction, len(legs))
	for i, t := range legs {
		if t.Group != uuid.Nil && t.Group != group {
			return nil, fieldErr(i, "legs must share one group")
		}
		t.Group = group
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.CreatedAt = t.CreatedAt.UTC()
		t.Currency = strings.ToUpper(t.Currency)
		t.HostCurrency = strings.ToUpper(t.HostCurrency)
		if t.HostCurrency == "" {
			t.HostCurrency = t.Currency
			if t.HostID != nil {
				if h, ok := hosts[*t.HostID]; ok {
					t.HostCurrency = h.Currency
				}
			}
		}
		if t.AmountInHostCurrency == 0 && t.Amount != 0 {
			conv, err := s.fx.Convert(ctx, t.Value(), t.HostCurrency, t.HostCurrencyFxRate)
			if err != nil {
				return nil, fmt.Errorf("legs[%d]: %w", i, err)
			}
			t.AmountInHostCurrency = conv.Cents
		}
		out[i] = t
	}

	if err := s.ValidateGroup(ctx, out); err != nil {
		return nil, err
	}

	var settlements []ledger.TransactionSettlement
	seen := make(map[ledger.Kind]struct{})
	for _, t := range out {
		if !t.IsDebt {
			continue
		}
		if _, ok := seen[t.Kind]; ok {
			continue
		}
		seen[t.Kind] = struct{}{}
		settlements = append(settlements, ledger.TransactionSettlement{
			TransactionGroup: group,
			Kind:             t.Kind,
			Status:           ledger.SettlementOwed,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	saved, err := s.writer.InsertGroup(ctx, out, settlements)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, saved)
	s.log.InfoContext(ctx, "transaction group recorded",
		"group", group,
		"legs", len(saved),
		"settlements", len(settlements),
	)
	return saved, nil
}

func (s *service) invalidate(ctx context.Context, legs []ledger.Transaction) {
	if s.cache == nil {
		return
	}
	ids := make([]uuid.UUID, 0, len(legs))
	seen := make(map[uuid.UUID]struct{}, len(legs))
	for _, t := range legs {
		if _, ok := seen[t.AccountID]; ok {
			continue
		}
		seen[t.AccountID] = struct{}{}
		ids = append(ids, t.AccountID)
	}
	// Snapshots are versioned, so a failed invalidation is caught on the next read.
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.log.WarnContext(ctx, "balance cache invalidation failed", "err", err)
	}
}

// Refund records the reversing group. A group can be refunded once.
func (s *service) Refund(ctx context.Context, group uuid.UUID, at time.Time) ([]ledger.Transaction, error) {
	if group == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	orig, err := s.repo.TransactionsByGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if len(orig) == 0 {
		return nil, fmt.Errorf("%w: group %s", errs.ErrNotFound, group)
	}
	for _, t := range orig {
		if t.IsRefund {
			return nil, fmt.Errorf("%w: group %s is itself a refund", errs.ErrInvalid, group)
		}
	}
	refunded, err := s.repo.GroupRefunded(ctx, group)
	if err != nil {
		return nil, err
	}
	if refunded {
		return nil, alreadyRefunded(group)
	}

	rev := ledger.Reverse(orig, uuid.New())
	if at.IsZero() {
		at = s.now()
	}
	for i := range rev {
		rev[i].CreatedAt = at.UTC()
	}
	saved, err := s.Record(ctx, rev)
	if errors.Is(err, errs.ErrConflict) {
		// lost a race with a concurrent refund of the same group
		return nil, alreadyRefunded(group)
	}
	return saved, err
}

func alreadyRefunded(group uuid.UUID) error {
	return fmt.Errorf("%w: %w: group %s", errs.ErrConflict, errs.ErrAlreadyRefunded, group)
}

func (s *service) Group(ctx context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	if group == uuid.Nil {
		return nil, errs.ErrInvalid
	}
	legs, err := s.repo.TransactionsByGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	if len(legs) == 0 {
		return nil, errs.ErrNotFound
	}
	return legs, nil
}
