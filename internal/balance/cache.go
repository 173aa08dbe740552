// Package balance maintains a periodically refreshed snapshot of account
// balances on the destination exchange.
package balance

import (
	"context"
	"sync"
	"time"

	"exchange_bridge/internal/core"
)

// Cache holds the latest balance snapshot. The snapshot is replaced wholesale
// under the mutex, so readers observe either the previous or the new value,
// never a partial one.
type Cache struct {
	gateway  core.IExchangeGateway
	logger   core.ILogger
	interval time.Duration

	mu       sync.Mutex
	snapshot *core.BalanceSnapshot
}

// NewCache creates a balance cache refreshed every interval (default 60s).
func NewCache(gateway core.IExchangeGateway, logger core.ILogger, interval time.Duration) *Cache {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Cache{
		gateway:  gateway,
		logger:   logger.WithField("component", "balance_cache"),
		interval: interval,
	}
}

// Refresh fetches a fresh snapshot and replaces the cached value. On fetch
// failure the previous snapshot stays in place and the error is only logged.
// The mutex is held across the fetch, so at most one refresh is in flight.
func (c *Cache) Refresh(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, err := c.gateway.FetchBalances(ctx)
	if err != nil {
		c.logger.Warn("balance refresh failed, keeping previous snapshot", "error", err.Error())
		return
	}
	c.snapshot = snap
	c.logger.Debug("balances refreshed", "assets", len(snap.Total))
}

// Balances returns the current snapshot, which may be stale by up to the
// refresh interval. Taking the refresh lock first acts as a barrier so a read
// never interleaves with an in-flight refresh.
func (c *Cache) Balances() *core.BalanceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Run performs an initial refresh and then refreshes on the fixed interval
// until the context is cancelled. It implements the bootstrap Runner.
func (c *Cache) Run(ctx context.Context) error {
	c.Refresh(ctx)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
