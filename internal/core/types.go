package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Sign returns +1 for buys and -1 for sells, used when summing filled volume.
func (s Side) Sign() int {
	if s == SideBuy {
		return 1
	}
	return -1
}

// OrderHash is a synthetic, process-local correlation identifier for an order,
// independent of the identifier the exchange assigns. Hashes are unique per
// creation attempt and never reused.
type OrderHash string

// OrderState is the exchange's view of a single order.
type OrderState struct {
	ID     string
	Side   Side
	Price  decimal.Decimal
	Size   decimal.Decimal
	Filled decimal.Decimal // cumulative filled quantity
	Open   bool
}

// TradeRecord is one execution from the account's trade history.
type TradeRecord struct {
	ID      string
	OrderID string
	Side    Side
	Amount  decimal.Decimal
	Price   decimal.Decimal
	Time    time.Time
}

// BalanceSnapshot is an immutable snapshot of account balances per asset.
// It is replaced wholesale on refresh, never mutated in place.
type BalanceSnapshot struct {
	Free      map[string]decimal.Decimal
	Locked    map[string]decimal.Decimal
	Total     map[string]decimal.Decimal
	FetchedAt time.Time
}

// Asset returns the total balance of one asset, zero if unknown.
func (b *BalanceSnapshot) Asset(name string) decimal.Decimal {
	if b == nil || b.Total == nil {
		return decimal.Zero
	}
	return b.Total[name]
}
