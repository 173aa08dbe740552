// Package fills attributes executed volume on the destination exchange back
// to locally tracked orders.
package fills

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exchange_bridge/internal/core"
	apperrors "exchange_bridge/pkg/errors"
	"exchange_bridge/pkg/retry"

	"github.com/shopspring/decimal"
)

// ErrUnknownOrderFilled signals a trade referencing an order identifier the
// correlation table does not know. That means either a tracking bug or an
// out-of-band order, and is surfaced rather than silently ignored.
var ErrUnknownOrderFilled = errors.New("unknown order filled")

// TrackedOrders is the view of the correlation table the reconciler needs.
// It is implemented by the lifecycle manager.
type TrackedOrders interface {
	SideOf(orderID string) (core.Side, bool)
	OrderIDsForPrices(prices []decimal.Decimal) []string
	RecordFill(orderID string, cumulative decimal.Decimal) (decimal.Decimal, bool)
}

// Reconciler diffs the exchange's trade history and per-order state against
// the local correlation table.
type Reconciler struct {
	gateway core.IExchangeGateway
	orders  TrackedOrders
	logger  core.ILogger
	pair    string

	fetchPolicy retry.Policy
}

// NewReconciler creates a fill reconciler for one pair.
func NewReconciler(gateway core.IExchangeGateway, orders TrackedOrders, logger core.ILogger, pair string) *Reconciler {
	return &Reconciler{
		gateway:     gateway,
		orders:      orders,
		logger:      logger.WithField("component", "fill_reconciler"),
		pair:        pair,
		fetchPolicy: retry.Policy{MaxAttempts: 10, Delay: 100 * time.Millisecond},
	}
}

// LatestTradeID returns the identifier of the newest trade in the account's
// history, or empty when there are none. Used to initialize a watermark.
func (r *Reconciler) LatestTradeID(ctx context.Context) (string, error) {
	trades, err := r.gateway.FetchMyTrades(ctx, r.pair)
	if err != nil {
		return "", fmt.Errorf("fetching trades: %w", err)
	}
	if len(trades) == 0 {
		return "", nil
	}
	return trades[0].ID, nil
}

// NewTradesSince returns the trades that happened after the watermark, oldest
// first. The exchange reports newest-first; the page is truncated at the
// first trade whose identifier equals the watermark and reversed. The
// watermark itself is not advanced, so the call is idempotent.
func (r *Reconciler) NewTradesSince(ctx context.Context, watermark string) ([]core.TradeRecord, error) {
	trades, err := r.gateway.FetchMyTrades(ctx, r.pair)
	if err != nil {
		return nil, fmt.Errorf("fetching trades: %w", err)
	}
	var fresh []core.TradeRecord
	for _, trade := range trades {
		if watermark != "" && trade.ID == watermark {
			break
		}
		fresh = append(fresh, trade)
	}
	// reverse to chronological order
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh, nil
}

// NetFilledSince sums the signed volume of trades after the watermark,
// positive for buys and negative for sells, attributing each trade to its
// tracked order. A trade referencing an untracked order fails with
// ErrUnknownOrderFilled.
func (r *Reconciler) NetFilledSince(ctx context.Context, watermark string) (decimal.Decimal, error) {
	trades, err := r.NewTradesSince(ctx, watermark)
	if err != nil {
		return decimal.Zero, err
	}
	amount := decimal.Zero
	for _, trade := range trades {
		side, tracked := r.orders.SideOf(trade.OrderID)
		if !tracked {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownOrderFilled, trade.OrderID)
		}
		if side == core.SideBuy {
			amount = amount.Add(trade.Amount)
		} else {
			amount = amount.Sub(trade.Amount)
		}
	}
	return amount, nil
}

// FilledAmountForPrices answers how much of our resting liquidity at or
// crossed by the given price levels has executed since the last check. Each
// affected order's state is fetched individually, the delta of its cumulative
// filled quantity is recorded, and the signed deltas are aggregated (buys
// positive, sells negative). Unlike NetFilledSince this does not depend on
// trade-history pagination limits.
func (r *Reconciler) FilledAmountForPrices(ctx context.Context, prices []decimal.Decimal) (decimal.Decimal, error) {
	ids := r.orders.OrderIDsForPrices(prices)
	if len(ids) == 0 {
		return decimal.Zero, nil
	}
	r.logger.Debug("checking fills on affected orders", "count", len(ids))

	amount := decimal.Zero
	for _, id := range ids {
		state, err := r.fetchOrder(ctx, id)
		if err != nil {
			return decimal.Zero, err
		}
		delta, tracked := r.orders.RecordFill(id, state.Filled)
		if !tracked {
			r.logger.Warn("fill delta for untracked order", "order_id", id)
		}
		// sign by the exchange's view of the order's side
		if state.Side == core.SideBuy {
			amount = amount.Add(delta)
		} else {
			amount = amount.Sub(delta)
		}
	}
	return amount, nil
}

// fetchOrder retrieves one order's state with a bounded retry on transient
// gateway errors.
func (r *Reconciler) fetchOrder(ctx context.Context, orderID string) (*core.OrderState, error) {
	var state *core.OrderState
	err := retry.Do(ctx, r.fetchPolicy, apperrors.IsTransient, func() error {
		var ferr error
		state, ferr = r.gateway.FetchOrder(ctx, orderID)
		if ferr != nil {
			r.logger.Warn("fetching order failed, will retry", "order_id", orderID, "error", ferr.Error())
		}
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching order %s: %w", orderID, err)
	}
	return state, nil
}
