// Package balance computes current and point-in-time account balances.
//
// A balance is the sum of Amount over an account's non-deleted legs, grouped
// by each leg's own currency. Current balances are served from a versioned
// snapshot cache that is always checked against the store's version for the
// account; a stale or missing snapshot is recomputed from the legs.
package balance

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/metrics"
)

// Repo is the read side of the transaction store.
type Repo interface {
	// SumByCurrency sums non-deleted legs per account and currency. A nil asOf sums every leg.
	SumByCurrency(ctx context.Context, ids []uuid.UUID, asOf *time.Time) (map[uuid.UUID]map[string]int64, error)
	// AccountVersions omits accounts that have no legs.
	AccountVersions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.BalanceVersion, error)
	HostBalances(ctx context.Context, accountID uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error)
}

// Cache stores current-balance snapshots.
type Cache interface {
	Get(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.BalanceSnapshot, error)
	Set(ctx context.Context, snaps ...ledger.BalanceSnapshot) error
	Delete(ctx context.Context, ids ...uuid.UUID) error
}

type Engine struct {
	repo     Repo
	cache    Cache
	currency string
	log      *slog.Logger
	now      func() time.Time
}

// NewEngine builds an engine. A nil cache falls back to an in-process MemoryCache.
func NewEngine(repo Repo, cache Cache, defaultCurrency string, logger *slog.Logger) *Engine {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, cache: cache, currency: defaultCurrency, log: logger, now: time.Now}
}

// DefaultCurrency is reported for accounts without legs.
func (e *Engine) DefaultCurrency() string { return e.currency }

// Balances returns one balance per requested id. A nil asOf, or one not before
// now, reads the current balance.
func (e *Engine) Balances(ctx context.Context, ids []uuid.UUID, asOf *time.Time) (map[uuid.UUID]ledger.Balance, error) {
	if asOf == nil || !asOf.Before(e.now()) {
		return e.CurrentBalances(ctx, ids)
	}
	return e.BalancesAt(ctx, ids, *asOf)
}

// BalancesAt sums legs created at or before asOf.
func (e *Engine) BalancesAt(ctx context.Context, ids []uuid.UUID, asOf time.Time) (map[uuid.UUID]ledger.Balance, error) {
	ids = dedupe(ids)
	at := asOf.UTC()
	sums, err := e.repo.SumByCurrency(ctx, ids, &at)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]ledger.Balance, len(ids))
	for _, id := range ids {
		out[id] = ledger.BalanceFromSums(sums[id], e.currency)
	}
	return out, nil
}

// CurrentBalances serves snapshots whose version matches the store and
// recomputes the rest. Versions are read before sums, so a leg committed in
// between leaves a snapshot that the next read sees as stale.
func (e *Engine) CurrentBalances(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Balance, error) {
	ids = dedupe(ids)
	versions, err := e.repo.AccountVersions(ctx, ids)
	if err != nil {
		return nil, err
	}

	withLegs := make([]uuid.UUID, 0, len(versions))
	for _, id := range ids {
		if _, ok := versions[id]; ok {
			withLegs = append(withLegs, id)
		}
	}
	snaps := map[uuid.UUID]ledger.BalanceSnapshot{}
	if len(withLegs) > 0 {
		if snaps, err = e.cache.Get(ctx, withLegs); err != nil {
			e.log.WarnContext(ctx, "balance cache read failed", "err", err)
			snaps = map[uuid.UUID]ledger.BalanceSnapshot{}
		}
	}

	out := make(map[uuid.UUID]ledger.Balance, len(ids))
	var recompute []uuid.UUID
	for _, id := range ids {
		v, ok := versions[id]
		if !ok {
			out[id] = ledger.Balance{Currency: e.currency}
			continue
		}
		snap, cached := snaps[id]
		switch {
		case cached && snap.Version == v:
			metrics.BalanceCacheLookups.WithLabelValues("hit").Inc()
			out[id] = ledger.BalanceFromSums(snap.ByCurrency, e.currency)
		case cached:
			metrics.BalanceCacheLookups.WithLabelValues("stale").Inc()
			recompute = append(recompute, id)
		default:
			metrics.BalanceCacheLookups.WithLabelValues("miss").Inc()
			recompute = append(recompute, id)
		}
	}
	if len(recompute) == 0 {
		return out, nil
	}

	sums, err := e.repo.SumByCurrency(ctx, recompute, nil)
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	fresh := make([]ledger.BalanceSnapshot, 0, len(recompute))
	for _, id := range recompute {
		out[id] = ledger.BalanceFromSums(sums[id], e.currency)
		fresh = append(fresh, ledger.BalanceSnapshot{
			AccountID:  id,
			Version:    versions[id],
			ByCurrency: sums[id],
			ComputedAt: now,
		})
	}
	if err := e.cache.Set(ctx, fresh...); err != nil {
		e.log.WarnContext(ctx, "balance cache write failed", "err", err, "accounts", len(fresh))
	}
	return out, nil
}

// Balance is the single-account form of Balances.
func (e *Engine) Balance(ctx context.Context, id uuid.UUID, asOf *time.Time) (ledger.Balance, error) {
	m, err := e.Balances(ctx, []uuid.UUID{id}, asOf)
	if err != nil {
		return ledger.Balance{}, err
	}
	return m[id], nil
}

// HostBalances returns an account's per (host, currency) sums at asOf, sorted.
func (e *Engine) HostBalances(ctx context.Context, id uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error) {
	hb, err := e.repo.HostBalances(ctx, id, asOf.UTC())
	if err != nil {
		return nil, err
	}
	ledger.SortHostBalances(hb)
	return hb, nil
}

// Invalidate drops cached snapshots for ids.
func (e *Engine) Invalidate(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return e.cache.Delete(ctx, ids...)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
