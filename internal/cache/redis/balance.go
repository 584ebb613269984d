// Package redis stores current-balance snapshots in Redis so that several
// processes share one cache. Snapshots carry their version; the balance engine
// decides whether a stored snapshot is still current.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tinoosan/hostledger/internal/ledger"
)

const namespace = "hostledger:balance"

// BalanceCache implements balance.Cache.
type BalanceCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// Options mirrors the Redis section of the configuration.
type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// New connects to a single Redis node and pings it.
func New(ctx context.Context, opts Options) (*BalanceCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return NewWithClient(rdb, opts.TTL), nil
}

// NewWithClient wraps an existing client, single node or cluster.
func NewWithClient(client redis.UniversalClient, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func key(id uuid.UUID) string { return namespace + ":" + id.String() }

func (c *BalanceCache) Get(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.BalanceSnapshot, error) {
	out := make(map[uuid.UUID]ledger.BalanceSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var snap ledger.BalanceSnapshot
		if err := json.Unmarshal([]byte(s), &snap); err != nil || snap.AccountID != ids[i] {
			// unreadable entries count as misses and get overwritten
			continue
		}
		out[ids[i]] = snap
	}
	return out, nil
}

func (c *BalanceCache) Set(ctx context.Context, snaps ...ledger.BalanceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, s := range snaps {
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key(s.AccountID), b, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (c *BalanceCache) Delete(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	return c.client.Del(ctx, keys...).Err()
}

// Ready pings Redis.
func (c *BalanceCache) Ready(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *BalanceCache) Close() error { return c.client.Close() }
