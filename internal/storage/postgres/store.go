// Package postgres provides a pgx-backed storage implementation that satisfies
// the repository, writer and unit-of-work interfaces used by the services.
//
// Migrations that create the expected schema live under db/migrations. This
// package maps between domain entities and SQL rows and runs the statements
// and transactions.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tinoosan/hostledger/internal/errs"
	"github.com/tinoosan/hostledger/internal/ledger"
	"github.com/tinoosan/hostledger/internal/meta"
)

// Store holds a pgx connection pool. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open establishes a pgx pool using the provided connection string.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ready pings the pool to verify connectivity.
func (s *Store) Ready(ctx context.Context) error { return s.pool.Ping(ctx) }

// mapErr turns constraint violations into the shared sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errs.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", errs.ErrConflict, err)
	}
	return err
}

// lockKey hashes a unit-of-work key into an advisory lock id.
func lockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// --- Account reads ---

const accountColumns = `id, slug, name, type, currency, host_id, created_at`

func scanAccount(row pgx.Row) (ledger.Account, error) {
	var a ledger.Account
	err := row.Scan(&a.ID, &a.Slug, &a.Name, &a.Type, &a.Currency, &a.HostID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Account{}, errs.ErrNotFound
	}
	return a, err
}

func (s *Store) AccountByID(ctx context.Context, id uuid.UUID) (ledger.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `select `+accountColumns+` from accounts where id = $1`, id))
}

func (s *Store) AccountBySlug(ctx context.Context, slug string) (ledger.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `select `+accountColumns+` from accounts where slug = $1`, strings.ToLower(slug)))
}

// AccountsByIDs returns the accounts found among ids; missing ids are simply absent.
func (s *Store) AccountsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.Account, error) {
	out := make(map[uuid.UUID]ledger.Account, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `select `+accountColumns+` from accounts where id = any($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

// AccountsWithHostActivity lists accounts with at least one live host leg at or
// before before, ordered by slug.
func (s *Store) AccountsWithHostActivity(ctx context.Context, before time.Time, f ledger.AccountFilter) ([]ledger.Account, error) {
	var limit any
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.pool.Query(ctx, `
		select `+accountColumns+`
		from accounts a
		where exists (
			select 1 from transactions t
			where t.account_id = a.id
			  and t.host_id is not null
			  and t.deleted_at is null
			  and t.created_at <= $1
			  and ($2::uuid is null or t.host_id = $2)
		)
		order by a.slug
		limit $3 offset $4
	`, before, f.HostID, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Account, 0)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Account writes ---

func (s *Store) CreateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	_, err := s.pool.Exec(ctx, `
		insert into accounts (id, slug, name, type, currency, host_id, created_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, a.ID, a.Slug, a.Name, a.Type, strings.ToUpper(a.Currency), a.HostID, a.CreatedAt)
	if err != nil {
		return ledger.Account{}, mapErr(err)
	}
	return a, nil
}

// UpdateAccount updates the mutable fields: name and host.
func (s *Store) UpdateAccount(ctx context.Context, a ledger.Account) (ledger.Account, error) {
	ct, err := s.pool.Exec(ctx, `update accounts set name = $1, host_id = $2 where id = $3`, a.Name, a.HostID, a.ID)
	if err != nil {
		return ledger.Account{}, err
	}
	if ct.RowsAffected() == 0 {
		return ledger.Account{}, errs.ErrNotFound
	}
	return a, nil
}

// --- Transaction reads ---

const txColumns = `seq, id, transaction_group, type, kind, description,
	amount, currency, amount_in_host_currency, host_currency, host_currency_fx_rate::text,
	payment_processor_fee_in_host_currency, host_fee_in_host_currency, platform_fee_in_host_currency,
	account_id, counterparty_id, host_id, refund_of, is_debt, is_refund, provider_data, created_at, deleted_at`

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var t ledger.Transaction
	var rate string
	var pd []byte
	err := row.Scan(&t.Seq, &t.ID, &t.Group, &t.Type, &t.Kind, &t.Description,
		&t.Amount, &t.Currency, &t.AmountInHostCurrency, &t.HostCurrency, &rate,
		&t.PaymentProcessorFeeInHostCurrency, &t.HostFeeInHostCurrency, &t.PlatformFeeInHostCurrency,
		&t.AccountID, &t.CounterpartyID, &t.HostID, &t.RefundOf, &t.IsDebt, &t.IsRefund, &pd, &t.CreatedAt, &t.DeletedAt)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if t.HostCurrencyFxRate, err = decimal.NewFromString(rate); err != nil {
		return ledger.Transaction{}, fmt.Errorf("fx rate %q: %w", rate, err)
	}
	if len(pd) > 0 {
		var p meta.Payload
		if err := p.UnmarshalJSON(pd); err == nil {
			t.ProviderData = p
		}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

// TransactionsByGroup returns the group's live legs in insertion order.
func (s *Store) TransactionsByGroup(ctx context.Context, group uuid.UUID) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		select `+txColumns+`
		from transactions
		where transaction_group = $1 and deleted_at is null
		order by seq
	`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ledger.Transaction, 0, 2)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GroupRefunded reports whether any leg of the group has a live refund.
func (s *Store) GroupRefunded(ctx context.Context, group uuid.UUID) (bool, error) {
	var refunded bool
	err := s.pool.QueryRow(ctx, `
		select exists (
			select 1 from transactions r
			join transactions o on o.id = r.refund_of
			where o.transaction_group = $1 and r.deleted_at is null
		)
	`, group).Scan(&refunded)
	return refunded, err
}

// --- Transaction writes ---

// InsertGroup stores legs and settlement rows in one transaction. A second
// refund of a leg or a duplicate settlement key is errs.ErrConflict.
func (s *Store) InsertGroup(ctx context.Context, legs []ledger.Transaction, settlements []ledger.TransactionSettlement) ([]ledger.Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out, err := insertLegs(ctx, tx, legs)
	if err != nil {
		return nil, err
	}
	for _, st := range settlements {
		if _, err := tx.Exec(ctx, `
			insert into transaction_settlements (transaction_group, kind, status, invoice_id, created_at, updated_at)
			values ($1,$2,$3,$4,$5,$6)
		`, st.TransactionGroup, st.Kind, st.Status, st.InvoiceID, st.CreatedAt, st.UpdatedAt); err != nil {
			return nil, mapErr(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func insertLegs(ctx context.Context, q querier, legs []ledger.Transaction) ([]ledger.Transaction, error) {
	out := make([]ledger.Transaction, len(legs))
	for i, t := range legs {
		var pd []byte
		if len(t.ProviderData) > 0 {
			var err error
			if pd, err = t.ProviderData.MarshalStableJSON(); err != nil {
				return nil, err
			}
		}
		rate := t.HostCurrencyFxRate
		if rate.IsZero() {
			rate = decimal.NewFromInt(1)
		}
		err := q.QueryRow(ctx, `
			insert into transactions (
				id, transaction_group, type, kind, description,
				amount, currency, amount_in_host_currency, host_currency, host_currency_fx_rate,
				payment_processor_fee_in_host_currency, host_fee_in_host_currency, platform_fee_in_host_currency,
				account_id, counterparty_id, host_id, refund_of, is_debt, is_refund, provider_data, created_at
			) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
			returning seq
		`, t.ID, t.Group, t.Type, t.Kind, t.Description,
			t.Amount, t.Currency, t.AmountInHostCurrency, t.HostCurrency, rate.String(),
			t.PaymentProcessorFeeInHostCurrency, t.HostFeeInHostCurrency, t.PlatformFeeInHostCurrency,
			t.AccountID, t.CounterpartyID, t.HostID, t.RefundOf, t.IsDebt, t.IsRefund, pd, t.CreatedAt,
		).Scan(&t.Seq)
		if err != nil {
			return nil, mapErr(err)
		}
		out[i] = t
	}
	return out, nil
}

// SoftDeleteGroup marks every live leg of a group deleted. It stands in for the
// administrative ban flow, which lives outside this service; reads skip deleted legs.
func (s *Store) SoftDeleteGroup(ctx context.Context, group uuid.UUID, at time.Time) error {
	ct, err := s.pool.Exec(ctx, `
		update transactions set deleted_at = $2
		where transaction_group = $1 and deleted_at is null
	`, group, at.UTC())
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
