package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
)

// --- Balances ---

func sumByCurrency(ctx context.Context, q querier, ids []uuid.UUID, asOf *time.Time) (map[uuid.UUID]map[string]int64, error) {
	out := make(map[uuid.UUID]map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `
		select account_id, currency, sum(amount)::bigint
		from transactions
		where account_id = any($1)
		  and deleted_at is null
		  and ($2::timestamptz is null or created_at <= $2)
		group by account_id, currency
	`, ids, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var currency string
		var sum int64
		if err := rows.Scan(&id, &currency, &sum); err != nil {
			return nil, err
		}
		if out[id] == nil {
			out[id] = make(map[string]int64)
		}
		out[id][currency] = sum
	}
	return out, rows.Err()
}

// SumByCurrency sums live legs per account and currency. A nil asOf sums every leg.
func (s *Store) SumByCurrency(ctx context.Context, ids []uuid.UUID, asOf *time.Time) (map[uuid.UUID]map[string]int64, error) {
	return sumByCurrency(ctx, s.pool, ids, asOf)
}

// AccountVersions pairs the highest seq with the live leg count per account.
// Accounts without live legs are omitted.
func (s *Store) AccountVersions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.BalanceVersion, error) {
	out := make(map[uuid.UUID]ledger.BalanceVersion, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		select account_id, max(seq), count(*)
		from transactions
		where account_id = any($1) and deleted_at is null
		group by account_id
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var v ledger.BalanceVersion
		if err := rows.Scan(&id, &v.Seq, &v.Legs); err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, rows.Err()
}

func hostBalances(ctx context.Context, q querier, id uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error) {
	rows, err := q.Query(ctx, `
		select host_id, currency, host_currency, sum(amount)::bigint, sum(amount_in_host_currency)::bigint
		from transactions
		where account_id = $1
		  and host_id is not null
		  and deleted_at is null
		  and created_at <= $2
		group by host_id, currency, host_currency
	`, id, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.HostBalance, 0)
	for rows.Next() {
		var b ledger.HostBalance
		if err := rows.Scan(&b.HostID, &b.Currency, &b.HostCurrency, &b.Value, &b.HostValue); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ledger.SortHostBalances(out)
	return out, nil
}

// HostBalances groups the account's host legs at or before asOf by (host, currency).
func (s *Store) HostBalances(ctx context.Context, id uuid.UUID, asOf time.Time) ([]ledger.HostBalance, error) {
	return hostBalances(ctx, s.pool, id, asOf)
}

// --- Carryforward ---

func carryforwardExists(ctx context.Context, q querier, accountID uuid.UUID, opening time.Time) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		select exists (
			select 1 from transactions
			where account_id = $1
			  and kind = 'BALANCE_CARRYFORWARD'
			  and created_at = $2
			  and deleted_at is null
		)
	`, accountID, opening).Scan(&exists)
	return exists, err
}

// CarryforwardExists reports a live carryforward leg on the account dated opening.
func (s *Store) CarryforwardExists(ctx context.Context, accountID uuid.UUID, opening time.Time) (bool, error) {
	return carryforwardExists(ctx, s.pool, accountID, opening)
}
