// Package core defines the core interfaces and domain types for the bridge
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IExchangeGateway is the boundary to the destination venue's trading API.
// Every operation may fail with network, rate-limit, or business-rejection
// errors; callers classify them via pkg/errors and retry where appropriate.
type IExchangeGateway interface {
	// Identity
	GetName() string

	// Order operations
	CreateLimitBuyOrder(ctx context.Context, pair string, size, price decimal.Decimal) (string, error)
	CreateLimitSellOrder(ctx context.Context, pair string, size, price decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, orderID, pair string) error
	FetchOrder(ctx context.Context, orderID string) (*OrderState, error)
	FetchOpenOrders(ctx context.Context, pair string) ([]string, error)

	// Account operations
	FetchBalances(ctx context.Context) (*BalanceSnapshot, error)

	// FetchMyTrades returns the account's recent trades for the pair,
	// newest first, bounded to the exchange's default page size.
	FetchMyTrades(ctx context.Context, pair string) ([]TradeRecord, error)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
