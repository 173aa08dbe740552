package lifecycle

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"exchange_bridge/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWouldSelfTrade(t *testing.T) {
	m, _ := newTestManager(t, fastConfig())

	sellHash := m.SubmitOrder("eth_btc", core.SideSell, dec("1"), dec("0.04"))
	_, err := m.AwaitResolution(context.Background(), sellHash)
	require.NoError(t, err)

	buyHash := m.SubmitOrder("eth_btc", core.SideBuy, dec("1"), dec("0.03"))
	_, err = m.AwaitResolution(context.Background(), buyHash)
	require.NoError(t, err)

	cases := []struct {
		name  string
		side  core.Side
		price string
		want  bool
	}{
		{"buy below own sell", core.SideBuy, "0.039", false},
		{"buy at own sell", core.SideBuy, "0.04", true},
		{"buy through own sell", core.SideBuy, "0.05", true},
		{"sell above own buy", core.SideSell, "0.031", false},
		{"sell at own buy", core.SideSell, "0.03", true},
		{"sell through own buy", core.SideSell, "0.02", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.WouldSelfTrade(tc.side, dec(tc.price)))
		})
	}
}

func TestWouldSelfTrade_RandomizedOrderSets(t *testing.T) {
	m, _ := newTestManager(t, fastConfig())
	rng := rand.New(rand.NewSource(1))

	// resting buys strictly below resting sells, so placement never crosses
	var buys, sells []decimal.Decimal
	for i := 0; i < 8; i++ {
		buy := decimal.NewFromFloat(0.010 + rng.Float64()*0.010)
		sell := decimal.NewFromFloat(0.050 + rng.Float64()*0.010)
		placeTracked(t, m, core.SideBuy, buy)
		placeTracked(t, m, core.SideSell, sell)
		buys = append(buys, buy)
		sells = append(sells, sell)
	}

	for i := 0; i < 200; i++ {
		price := decimal.NewFromFloat(0.005 + rng.Float64()*0.060)
		side := core.SideBuy
		if rng.Intn(2) == 0 {
			side = core.SideSell
		}

		var want bool
		if side == core.SideBuy {
			for _, sell := range sells {
				want = want || sell.LessThanOrEqual(price)
			}
		} else {
			for _, buy := range buys {
				want = want || buy.GreaterThanOrEqual(price)
			}
		}
		assert.Equal(t, want, m.WouldSelfTrade(side, price),
			"side=%s price=%s", side, price.String())
	}
}

func placeTracked(t *testing.T, m *Manager, side core.Side, price decimal.Decimal) {
	t.Helper()
	hash := m.SubmitOrder("eth_btc", side, dec("1"), price)
	_, err := m.AwaitResolution(context.Background(), hash)
	require.NoError(t, err)
}

func TestSubmitOrder_WaitsForCrossingOwnOrderToClear(t *testing.T) {
	cfg := fastConfig()
	cfg.SelfTradeAttempts = 100
	cfg.SelfTradePollInterval = 5 * time.Millisecond
	m, gw := newTestManager(t, cfg)

	sellHash := m.SubmitOrder("eth_btc", core.SideSell, dec("1"), dec("0.04"))
	_, err := m.AwaitResolution(context.Background(), sellHash)
	require.NoError(t, err)

	// this buy crosses the resting sell, so its creation is deferred
	buyHash := m.SubmitOrder("eth_btc", core.SideBuy, dec("1"), dec("0.04"))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, gw.CreateCalls())

	require.NoError(t, m.CancelOrder(context.Background(), sellHash))

	id, err := m.AwaitResolution(context.Background(), buyHash)
	require.NoError(t, err)
	assert.True(t, gw.OrderIsOpen(id))
	assert.Equal(t, 2, gw.CreateCalls())
}

func TestSubmitOrder_SelfTradeWaitTimesOut(t *testing.T) {
	cfg := fastConfig()
	cfg.SelfTradeAttempts = 3
	m, gw := newTestManager(t, cfg)

	sellHash := m.SubmitOrder("eth_btc", core.SideSell, dec("1"), dec("0.04"))
	_, err := m.AwaitResolution(context.Background(), sellHash)
	require.NoError(t, err)

	buyHash := m.SubmitOrder("eth_btc", core.SideBuy, dec("1"), dec("0.05"))
	_, err = m.AwaitResolution(context.Background(), buyHash)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSelfTradeTimeout)
	assert.Equal(t, 1, gw.CreateCalls())
	assert.Equal(t, 1, m.TrackedCount())
}
