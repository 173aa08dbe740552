// Package lifecycle tracks orders on the destination exchange through their
// full life: creation, correlation with exchange identifiers, cancellation,
// and per-order fill accounting.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"exchange_bridge/internal/core"
	apperrors "exchange_bridge/pkg/errors"
	"exchange_bridge/pkg/retry"
	"exchange_bridge/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

var (
	// ErrSelfTradeTimeout is returned when own opposite-side orders do not
	// clear within the bounded wait before a submission.
	ErrSelfTradeTimeout = errors.New("timed out waiting for own matching orders to clear")

	// ErrCreateOrderFailed is the resolution of an order whose creation was
	// rejected terminally or exhausted its retry budget.
	ErrCreateOrderFailed = errors.New("order creation failed")

	// ErrUnknownOrder is returned when a hash does not correspond to any
	// tracked order.
	ErrUnknownOrder = errors.New("unknown order hash")

	// ErrOrderCancelled is the resolution of an order cancelled before its
	// creation ever reached the gateway.
	ErrOrderCancelled = errors.New("order cancelled before placement")
)

// priceEpsilon is the tolerance for exact price matching in OrderIDsForPrices.
var priceEpsilon = decimal.New(1, -8)

// Config tunes the manager. Zero values fall back to production defaults.
type Config struct {
	Pair string

	CreateAttempts   int           // bounded retry budget for creation
	CreateRetryDelay time.Duration // fixed delay between creation attempts

	SelfTradeAttempts     int           // bounded wait for own orders to clear
	SelfTradePollInterval time.Duration

	CancelRetryDelay time.Duration // fixed delay between cancel retries

	RateLimit rate.Limit // gateway calls per second
	RateBurst int
}

func (c *Config) applyDefaults() {
	if c.CreateAttempts <= 0 {
		c.CreateAttempts = 10
	}
	if c.CreateRetryDelay <= 0 {
		c.CreateRetryDelay = 100 * time.Millisecond
	}
	if c.SelfTradeAttempts <= 0 {
		c.SelfTradeAttempts = 20
	}
	if c.SelfTradePollInterval <= 0 {
		c.SelfTradePollInterval = 100 * time.Millisecond
	}
	if c.CancelRetryDelay <= 0 {
		c.CancelRetryDelay = 100 * time.Millisecond
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 25
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 30
	}
}

// entry is the correlation record for one creation attempt. exchangeID and
// failure are written exactly once, before resolved is closed.
type entry struct {
	hash  core.OrderHash
	pair  string
	side  core.Side
	size  decimal.Decimal
	price decimal.Decimal

	filled decimal.Decimal // cumulative filled, updated by RecordFill

	cancelRequested bool // set by CancelOrder; aborts a creation not yet on the wire

	exchangeID string
	failure    error
	resolved   chan struct{} // closed once creation resolves either way
}

// Manager owns the correlation table for one destination pair. It serializes
// conflicting operations on the same logical order, prevents self-trading,
// and retries transient gateway failures.
type Manager struct {
	gateway core.IExchangeGateway
	logger  core.ILogger
	cfg     Config
	metrics *telemetry.MetricsHolder

	limiter *rate.Limiter

	mu             sync.Mutex
	byHash         map[core.OrderHash]*entry
	byID           map[string]*entry
	pendingCancels map[string]struct{}
	counter        uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a lifecycle manager for one trading pair.
func NewManager(gateway core.IExchangeGateway, logger core.ILogger, cfg Config) *Manager {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		gateway:        gateway,
		logger:         logger.WithField("component", "lifecycle_manager"),
		cfg:            cfg,
		metrics:        telemetry.GetGlobalMetrics(),
		limiter:        rate.NewLimiter(cfg.RateLimit, cfg.RateBurst),
		byHash:         make(map[core.OrderHash]*entry),
		byID:           make(map[string]*entry),
		pendingCancels: make(map[string]struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Stop aborts in-flight creations and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// SubmitOrder mints a fresh order hash, records the order as in-flight, and
// returns immediately. Creation proceeds asynchronously: a bounded wait for
// own crossing orders to clear, then the gateway call with bounded retry.
// The resolution (identifier or failure) is observable via AwaitResolution.
func (m *Manager) SubmitOrder(pair string, side core.Side, size, price decimal.Decimal) core.OrderHash {
	m.mu.Lock()
	m.counter++
	hash := core.OrderHash(pair + "-" + string(side) + "-" + size.String() + "-" + price.String() + "-" + strconv.FormatUint(m.counter, 10))
	e := &entry{
		hash:     hash,
		pair:     pair,
		side:     side,
		size:     size,
		price:    price,
		resolved: make(chan struct{}),
	}
	m.byHash[hash] = e
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.resolveCreate(e)
	}()
	return hash
}

// AwaitResolution blocks until creation of the order resolves. It returns the
// exchange identifier on success, or the failure the creation resolved with.
func (m *Manager) AwaitResolution(ctx context.Context, hash core.OrderHash) (string, error) {
	m.mu.Lock()
	e, ok := m.byHash[hash]
	m.mu.Unlock()
	if !ok {
		return "", ErrUnknownOrder
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-e.resolved:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.failure != nil {
		return "", e.failure
	}
	return e.exchangeID, nil
}

// CancelOrder cancels the order identified by hash. An unknown hash is logged
// and ignored. If creation is still in flight, the cancel marks the entry so
// a creation not yet on the wire is aborted instead of placed, then waits for
// the resolution so a cancel never races ahead of its create on the wire. A
// cancel of a failed creation is a no-op. Transient gateway errors are
// retried without bound: an unacknowledged cancel must never be abandoned.
func (m *Manager) CancelOrder(ctx context.Context, hash core.OrderHash) error {
	m.mu.Lock()
	e, ok := m.byHash[hash]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("cancel requested for unknown order", "hash", hash)
		return nil
	}
	e.cancelRequested = true
	m.mu.Unlock()

	// The hash stays in byHash until the resolution is known, so an aborted
	// wait here never orphans an order that later gets an exchange id.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.resolved:
	}

	m.mu.Lock()
	id, failure := e.exchangeID, e.failure
	if failure != nil {
		delete(m.byHash, hash)
	}
	m.mu.Unlock()
	if failure != nil {
		m.logger.Info("skipping cancel of order whose creation never happened", "hash", hash)
		return nil
	}
	return m.cancelByID(ctx, id, e.pair)
}

// cancelByID sends the cancel for one exchange identifier, guarding against
// overlapping cancels on the same identifier.
func (m *Manager) cancelByID(ctx context.Context, orderID, pair string) error {
	m.mu.Lock()
	if _, underway := m.pendingCancels[orderID]; underway {
		m.mu.Unlock()
		m.logger.Debug("cancel already under way", "order_id", orderID)
		return nil
	}
	m.pendingCancels[orderID] = struct{}{}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pendingCancels, orderID)
		m.mu.Unlock()
	}()

	err := retry.Forever(ctx, m.cfg.CancelRetryDelay, apperrors.IsTransient, func() error {
		if lerr := m.limiter.Wait(ctx); lerr != nil {
			return lerr
		}
		cerr := m.gateway.CancelOrder(ctx, orderID, pair)
		if cerr != nil && apperrors.IsTransient(cerr) {
			m.logger.Warn("transient error cancelling order, will retry",
				"order_id", orderID, "error", cerr.Error())
		}
		return cerr
	})
	if err != nil && ctx.Err() != nil {
		// Cancellation outcome unknown; keep the order tracked.
		return err
	}

	switch {
	case err == nil:
		m.metrics.RecordCancel(ctx)
		m.logger.Info("order cancelled", "order_id", orderID)
	case errors.Is(err, apperrors.ErrOrderNotFound):
		m.metrics.RecordCancel(ctx)
		m.logger.Info("order already gone on exchange", "order_id", orderID)
		err = nil
	default:
		m.logger.Error("cancel failed terminally, dropping order from tracking",
			"order_id", orderID, "error", err.Error())
	}

	m.removeTracked(orderID)
	return err
}

func (m *Manager) removeTracked(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byID[orderID]; ok {
		delete(m.byID, orderID)
		delete(m.byHash, e.hash)
	}
	m.metrics.SetOrdersTracked(m.gateway.GetName(), int64(len(m.byID)))
}

// CancelAllOpenOrders cancels every open order the exchange reports for the
// configured pair, looping until none remain. It deliberately trusts the
// exchange's view rather than the local table, since local state is empty
// after a restart.
func (m *Manager) CancelAllOpenOrders(ctx context.Context) error {
	for {
		ids, err := m.gateway.FetchOpenOrders(ctx, m.cfg.Pair)
		if err != nil {
			return fmt.Errorf("fetching open orders: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		m.logger.Info("cancelling open orders", "count", len(ids))
		var lastErr error
		progressed := false
		for _, id := range ids {
			if err := m.cancelByID(ctx, id, m.cfg.Pair); err != nil {
				if ctx.Err() != nil {
					return err
				}
				// one stuck order must not leave the rest resting
				lastErr = err
				continue
			}
			progressed = true
		}
		if lastErr != nil && !progressed {
			return lastErr
		}
	}
}

// WouldSelfTrade reports whether a prospective order would cross one of this
// account's own tracked resting orders: a BUY at p crosses any tracked SELL
// priced <= p, a SELL at p crosses any tracked BUY priced >= p. Linear scan;
// the tracked set stays small.
func (m *Manager) WouldSelfTrade(side core.Side, price decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.byID {
		switch side {
		case core.SideBuy:
			if e.side == core.SideSell && e.price.LessThanOrEqual(price) {
				return true
			}
		case core.SideSell:
			if e.side == core.SideBuy && e.price.GreaterThanOrEqual(price) {
				return true
			}
		}
	}
	return false
}

// TrackedCount returns the number of orders with a confirmed exchange id.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// SideOf returns the side of a tracked order.
func (m *Manager) SideOf(orderID string) (core.Side, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[orderID]
	if !ok {
		return "", false
	}
	return e.side, true
}

// OrderIDsForPrices selects tracked orders whose price matches one of the
// given prices within 1e-8, or is crossed by it (a SELL priced at or below,
// a BUY priced at or above).
func (m *Manager) OrderIDsForPrices(prices []decimal.Decimal) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.byID {
		for _, p := range prices {
			if p.Sub(e.price).Abs().LessThanOrEqual(priceEpsilon) ||
				(e.side == core.SideSell && e.price.LessThanOrEqual(p)) ||
				(e.side == core.SideBuy && e.price.GreaterThanOrEqual(p)) {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// RecordFill stores a new cumulative filled quantity for a tracked order and
// returns the newly-filled delta since the last recorded value. For an
// untracked identifier it returns the full cumulative amount and false.
func (m *Manager) RecordFill(orderID string, cumulative decimal.Decimal) (decimal.Decimal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[orderID]
	if !ok {
		return cumulative, false
	}
	delta := cumulative.Sub(e.filled)
	e.filled = cumulative
	if !delta.IsZero() {
		m.metrics.RecordFillDelta(context.Background())
	}
	return delta, true
}

// resolveCreate runs the asynchronous half of SubmitOrder.
func (m *Manager) resolveCreate(e *entry) {
	if err := m.waitUntilClearOfOwnOrders(e.side, e.price); err != nil {
		m.failEntry(e, err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < m.cfg.CreateAttempts; attempt++ {
		// re-checked before every attempt: a cancelled hash must never
		// reach the gateway
		m.mu.Lock()
		cancelled := e.cancelRequested
		m.mu.Unlock()
		if cancelled {
			m.failEntry(e, fmt.Errorf("%w: %w", ErrCreateOrderFailed, ErrOrderCancelled))
			return
		}

		if err := m.limiter.Wait(m.ctx); err != nil {
			m.failEntry(e, fmt.Errorf("%w: %w", ErrCreateOrderFailed, err))
			return
		}

		var id string
		var err error
		started := time.Now()
		if e.side == core.SideBuy {
			id, err = m.gateway.CreateLimitBuyOrder(m.ctx, e.pair, e.size, e.price)
		} else {
			id, err = m.gateway.CreateLimitSellOrder(m.ctx, e.pair, e.size, e.price)
		}
		m.metrics.RecordExchangeLatency(m.ctx, time.Since(started))
		if err == nil {
			m.mu.Lock()
			e.exchangeID = id
			m.byID[id] = e
			m.metrics.SetOrdersTracked(m.gateway.GetName(), int64(len(m.byID)))
			m.mu.Unlock()
			close(e.resolved)
			m.metrics.RecordOrderSubmitted(m.ctx)
			m.logger.Info("order created",
				"hash", e.hash, "order_id", id, "side", e.side,
				"size", e.size.String(), "price", e.price.String())
			return
		}

		lastErr = err
		if apperrors.IsBusinessRejection(err) {
			m.failEntry(e, fmt.Errorf("%w: %w", ErrCreateOrderFailed, err))
			return
		}
		m.logger.Warn("order creation failed, will retry",
			"hash", e.hash, "attempt", attempt+1, "error", err.Error())

		select {
		case <-m.ctx.Done():
			m.failEntry(e, fmt.Errorf("%w: %w", ErrCreateOrderFailed, m.ctx.Err()))
			return
		case <-time.After(m.cfg.CreateRetryDelay):
		}
	}
	m.failEntry(e, fmt.Errorf("%w after %d attempts: %w", ErrCreateOrderFailed, m.cfg.CreateAttempts, lastErr))
}

// waitUntilClearOfOwnOrders polls until no tracked opposite-side order would
// cross the candidate price. The gateway cannot check-and-place atomically
// against our own resting orders, so crossing is avoided here, before the
// create is sent.
func (m *Manager) waitUntilClearOfOwnOrders(side core.Side, price decimal.Decimal) error {
	for attempt := 0; attempt <= m.cfg.SelfTradeAttempts; attempt++ {
		if !m.WouldSelfTrade(side, price) {
			if attempt > 0 {
				m.logger.Info("own matching orders cleared, submitting",
					"side", side, "price", price.String())
			}
			return nil
		}
		if attempt == m.cfg.SelfTradeAttempts {
			break
		}
		m.logger.Debug("waiting for own matching orders to clear",
			"side", side, "price", price.String(), "attempt", attempt+1)
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-time.After(m.cfg.SelfTradePollInterval):
		}
	}
	return ErrSelfTradeTimeout
}

func (m *Manager) failEntry(e *entry, err error) {
	m.mu.Lock()
	e.failure = err
	m.mu.Unlock()
	close(e.resolved)
	m.metrics.RecordOrderFailed(context.Background())
	m.logger.Error("order creation resolved as failed", "hash", e.hash, "error", err.Error())
}
