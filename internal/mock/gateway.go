// Package mock provides an in-memory exchange gateway for testing.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exchange_bridge/internal/core"
	apperrors "exchange_bridge/pkg/errors"

	"github.com/shopspring/decimal"
)

// Gateway implements core.IExchangeGateway against in-memory state with
// controllable failure injection. Queued errors are consumed one per call
// before the operation succeeds.
type Gateway struct {
	name string

	mu             sync.Mutex
	orders         map[string]*core.OrderState
	trades         []core.TradeRecord // newest first
	balances       *core.BalanceSnapshot
	orderIDCounter int
	tradeIDCounter int

	createErrs  []error
	cancelErrs  []error
	fetchErrs   []error
	balanceErrs []error
	tradesErrs  []error

	createCalls  int
	cancelCalls  int
	balanceCalls int
}

// NewGateway creates an empty mock gateway.
func NewGateway(name string) *Gateway {
	return &Gateway{
		name:   name,
		orders: make(map[string]*core.OrderState),
		balances: &core.BalanceSnapshot{
			Free:   map[string]decimal.Decimal{},
			Locked: map[string]decimal.Decimal{},
			Total:  map[string]decimal.Decimal{},
		},
		orderIDCounter: 1000,
		tradeIDCounter: 5000,
	}
}

func (g *Gateway) GetName() string { return g.name }

// QueueCreateError makes the next create call fail with err.
func (g *Gateway) QueueCreateError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createErrs = append(g.createErrs, err)
}

// QueueCancelError makes the next cancel call fail with err.
func (g *Gateway) QueueCancelError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelErrs = append(g.cancelErrs, err)
}

// QueueFetchOrderError makes the next order fetch fail with err.
func (g *Gateway) QueueFetchOrderError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetchErrs = append(g.fetchErrs, err)
}

// QueueBalanceError makes the next balance fetch fail with err.
func (g *Gateway) QueueBalanceError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balanceErrs = append(g.balanceErrs, err)
}

// QueueTradesError makes the next trade-history fetch fail with err.
func (g *Gateway) QueueTradesError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tradesErrs = append(g.tradesErrs, err)
}

// CreateCalls reports how many create requests reached the gateway.
func (g *Gateway) CreateCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

// CancelCalls reports how many cancel requests reached the gateway.
func (g *Gateway) CancelCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelCalls
}

// BalanceCalls reports how many balance fetches reached the gateway.
func (g *Gateway) BalanceCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balanceCalls
}

func popErr(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (g *Gateway) CreateLimitBuyOrder(ctx context.Context, pair string, size, price decimal.Decimal) (string, error) {
	return g.createOrder(ctx, pair, core.SideBuy, size, price)
}

func (g *Gateway) CreateLimitSellOrder(ctx context.Context, pair string, size, price decimal.Decimal) (string, error) {
	return g.createOrder(ctx, pair, core.SideSell, size, price)
}

func (g *Gateway) createOrder(ctx context.Context, pair string, side core.Side, size, price decimal.Decimal) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createCalls++
	if err := popErr(&g.createErrs); err != nil {
		return "", err
	}
	g.orderIDCounter++
	id := fmt.Sprintf("%d", g.orderIDCounter)
	g.orders[id] = &core.OrderState{
		ID:     id,
		Side:   side,
		Price:  price,
		Size:   size,
		Filled: decimal.Zero,
		Open:   true,
	}
	return id, nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID, pair string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelCalls++
	if err := popErr(&g.cancelErrs); err != nil {
		return err
	}
	order, ok := g.orders[orderID]
	if !ok || !order.Open {
		return apperrors.ErrOrderNotFound
	}
	order.Open = false
	return nil
}

func (g *Gateway) FetchOrder(ctx context.Context, orderID string) (*core.OrderState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := popErr(&g.fetchErrs); err != nil {
		return nil, err
	}
	order, ok := g.orders[orderID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

func (g *Gateway) FetchOpenOrders(ctx context.Context, pair string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	var ids []string
	for id, order := range g.orders {
		if order.Open {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (g *Gateway) FetchBalances(ctx context.Context) (*core.BalanceSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balanceCalls++
	if err := popErr(&g.balanceErrs); err != nil {
		return nil, err
	}
	snap := &core.BalanceSnapshot{
		Free:      map[string]decimal.Decimal{},
		Locked:    map[string]decimal.Decimal{},
		Total:     map[string]decimal.Decimal{},
		FetchedAt: time.Now(),
	}
	for k, v := range g.balances.Free {
		snap.Free[k] = v
	}
	for k, v := range g.balances.Locked {
		snap.Locked[k] = v
	}
	for k, v := range g.balances.Total {
		snap.Total[k] = v
	}
	return snap, nil
}

func (g *Gateway) FetchMyTrades(ctx context.Context, pair string) ([]core.TradeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := popErr(&g.tradesErrs); err != nil {
		return nil, err
	}
	trades := make([]core.TradeRecord, len(g.trades))
	copy(trades, g.trades)
	return trades, nil
}

// SetBalance sets the free and total balance for an asset.
func (g *Gateway) SetBalance(asset string, free, locked decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances.Free[asset] = free
	g.balances.Locked[asset] = locked
	g.balances.Total[asset] = free.Add(locked)
}

// SetOrderFilled marks cumulative executed quantity on an order and appends
// a matching trade at the head of the history.
func (g *Gateway) SetOrderFilled(orderID string, cumulative decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	if !ok {
		return
	}
	fillAmount := cumulative.Sub(order.Filled)
	order.Filled = cumulative
	if order.Filled.GreaterThanOrEqual(order.Size) {
		order.Open = false
	}
	g.tradeIDCounter++
	g.trades = append([]core.TradeRecord{{
		ID:      fmt.Sprintf("%d", g.tradeIDCounter),
		OrderID: orderID,
		Side:    order.Side,
		Amount:  fillAmount,
		Price:   order.Price,
		Time:    time.Now(),
	}}, g.trades...)
}

// AppendTrade prepends an arbitrary trade to the history, newest first.
func (g *Gateway) AppendTrade(trade core.TradeRecord) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trades = append([]core.TradeRecord{trade}, g.trades...)
}

// OrderIsOpen reports whether the order exists and is still open.
func (g *Gateway) OrderIsOpen(orderID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	order, ok := g.orders[orderID]
	return ok && order.Open
}
