// Package bridge runs the destination-exchange side of the cross-exchange
// bridge: it owns the order lifecycle manager, the balance cache, the fill
// reconciler, and the push stream, and reacts to order events by reporting
// newly executed volume.
package bridge

import (
	"context"
	"encoding/json"
	"time"

	"exchange_bridge/internal/alert"
	"exchange_bridge/internal/balance"
	"exchange_bridge/internal/config"
	"exchange_bridge/internal/core"
	"exchange_bridge/internal/fills"
	"exchange_bridge/internal/lifecycle"
	"exchange_bridge/pkg/stream"

	"github.com/shopspring/decimal"
)

// channel the venue pushes private order updates on
const orderChannel = "Pushdata.order"

// Service wires the bridge components together and implements
// bootstrap.Runner.
type Service struct {
	cfg      *config.Config
	gateway  core.IExchangeGateway
	orders   *lifecycle.Manager
	balances *balance.Cache
	fills    *fills.Reconciler
	stream   *stream.Client
	alerts   *alert.AlertManager
	logger   core.ILogger

	onNetFill func(amount decimal.Decimal)
}

// NewService assembles a bridge service from already-constructed components.
func NewService(
	cfg *config.Config,
	gateway core.IExchangeGateway,
	orders *lifecycle.Manager,
	balances *balance.Cache,
	fillRec *fills.Reconciler,
	streamClient *stream.Client,
	alerts *alert.AlertManager,
	logger core.ILogger,
) *Service {
	return &Service{
		cfg:      cfg,
		gateway:  gateway,
		orders:   orders,
		balances: balances,
		fills:    fillRec,
		stream:   streamClient,
		alerts:   alerts,
		logger:   logger.WithField("component", "bridge"),
	}
}

// SetNetFillHandler registers the callback invoked with the signed net
// executed amount after each reconciliation pass. The counterparty side of
// the bridge hedges through it.
func (s *Service) SetNetFillHandler(cb func(amount decimal.Decimal)) {
	s.onNetFill = cb
}

// Run starts the bridge and blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	// stale orders from a previous run would self-trade against us
	if err := s.orders.CancelAllOpenOrders(ctx); err != nil {
		s.logger.Error("startup cancel of open orders failed", "error", err.Error())
		if s.alerts != nil {
			s.alerts.Alert(ctx, "Startup cancellation failed", err.Error(), alert.Critical, nil)
		}
		return err
	}

	s.stream.OnConnected(func() {
		if err := s.stream.SubscribeOrders(context.Background(), s.cfg.Trading.WsPair); err != nil {
			s.logger.Error("order subscription failed", "error", err.Error())
		}
	})
	s.stream.Subscribe(orderChannel, s.handleOrderPush)

	if err := s.stream.Connect(ctx); err != nil {
		// the client keeps retrying on its own
		s.logger.Warn("initial stream connect failed", "error", err.Error())
	}

	s.logger.Info("bridge running",
		"venue", s.gateway.GetName(),
		"pair", s.cfg.Trading.Pair)

	<-ctx.Done()

	s.shutdown()
	return ctx.Err()
}

func (s *Service) shutdown() {
	if s.cfg.System.CancelOnExit {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.orders.CancelAllOpenOrders(ctx); err != nil {
			s.logger.Error("cancel on exit failed", "error", err.Error())
		}
	}
	s.stream.Close()
	s.orders.Stop()
	s.logger.Info("bridge stopped")
}

// handleOrderPush reacts to an order-book update on our pair: the price
// levels it names are the only ones where our resting orders can have
// executed, so only those are reconciled.
func (s *Service) handleOrderPush(data []byte) {
	prices := extractPrices(data)
	if len(prices) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	amount, err := s.fills.FilledAmountForPrices(ctx, prices)
	if err != nil {
		s.logger.Error("fill reconciliation failed", "error", err.Error())
		if s.alerts != nil {
			s.alerts.Alert(ctx, "Fill reconciliation failed", err.Error(), alert.Error, map[string]string{
				"pair": s.cfg.Trading.Pair,
			})
		}
		return
	}
	if amount.IsZero() {
		return
	}

	s.logger.Info("net fill detected", "amount", amount.String())
	if s.onNetFill != nil {
		s.onNetFill(amount)
	}
}

// extractPrices walks an arbitrarily shaped push payload and collects every
// "price" value it contains, deduplicated.
func extractPrices(data []byte) []decimal.Decimal {
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var prices []decimal.Decimal
	var walk func(node interface{})
	walk = func(node interface{}) {
		switch v := node.(type) {
		case map[string]interface{}:
			for key, child := range v {
				if key == "price" {
					if p, ok := toDecimal(child); ok {
						if _, dup := seen[p.String()]; !dup {
							seen[p.String()] = struct{}{}
							prices = append(prices, p)
						}
					}
					continue
				}
				walk(child)
			}
		case []interface{}:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(payload)
	return prices
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		p, err := decimal.NewFromString(val)
		return p, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	default:
		return decimal.Decimal{}, false
	}
}
