package balance

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/tinoosan/hostledger/internal/ledger"
)

// MemoryCache is an in-process snapshot cache.
type MemoryCache struct {
	mu    sync.RWMutex
	snaps map[uuid.UUID]ledger.BalanceSnapshot
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{snaps: make(map[uuid.UUID]ledger.BalanceSnapshot)}
}

func (c *MemoryCache) Get(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]ledger.BalanceSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[uuid.UUID]ledger.BalanceSnapshot, len(ids))
	for _, id := range ids {
		if s, ok := c.snaps[id]; ok {
			s.ByCurrency = maps.Clone(s.ByCurrency)
			out[id] = s
		}
	}
	return out, nil
}

func (c *MemoryCache) Set(_ context.Context, snaps ...ledger.BalanceSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range snaps {
		s.ByCurrency = maps.Clone(s.ByCurrency)
		c.snaps[s.AccountID] = s
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, ids ...uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.snaps, id)
	}
	return nil
}
