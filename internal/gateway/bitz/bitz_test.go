package bitz

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"exchange_bridge/internal/config"
	"exchange_bridge/internal/core"
	apperrors "exchange_bridge/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (l *nopLogger) Debug(msg string, fields ...interface{})               {}
func (l *nopLogger) Info(msg string, fields ...interface{})                {}
func (l *nopLogger) Warn(msg string, fields ...interface{})                {}
func (l *nopLogger) Error(msg string, fields ...interface{})               {}
func (l *nopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *nopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *nopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*Gateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	gw := NewGateway(config.VenueConfig{
		Name:      "bitz",
		APIKey:    "test-key",
		SecretKey: "test-secret",
		TradePwd:  "pwd123",
		BaseURL:   server.URL,
	}, 5*time.Second, &nopLogger{})
	return gw, server
}

func expectedSign(form url.Values, secret string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k != "sign" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k + "=" + form.Get(k))
	}
	sb.WriteString(secret)
	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

func TestGateway_CreateOrder_SignsRequest(t *testing.T) {
	var gotForm url.Values
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		_, _ = w.Write([]byte(`{"status":200,"msg":"","data":{"id":123456}}`))
	})

	id, err := gw.CreateLimitBuyOrder(context.Background(), "eth_btc",
		decimal.RequireFromString("0.5"), decimal.RequireFromString("0.031"))
	require.NoError(t, err)
	assert.Equal(t, "123456", id)

	assert.Equal(t, "eth_btc", gotForm.Get("symbol"))
	assert.Equal(t, "0.5", gotForm.Get("number"))
	assert.Equal(t, "0.031", gotForm.Get("price"))
	assert.Equal(t, "1", gotForm.Get("type"))
	assert.Equal(t, "pwd123", gotForm.Get("tradePwd"))
	assert.Equal(t, "test-key", gotForm.Get("apiKey"))
	assert.NotEmpty(t, gotForm.Get("timeStamp"))
	assert.Len(t, gotForm.Get("nonce"), 6)
	assert.Equal(t, expectedSign(gotForm, "test-secret"), gotForm.Get("sign"))
}

func TestGateway_CreateOrder_SellType(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "2", r.PostForm.Get("type"))
		_, _ = w.Write([]byte(`{"status":200,"msg":"","data":{"id":"789"}}`))
	})

	id, err := gw.CreateLimitSellOrder(context.Background(), "eth_btc",
		decimal.RequireFromString("1"), decimal.RequireFromString("0.04"))
	require.NoError(t, err)
	assert.Equal(t, "789", id)
}

func TestGateway_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{-102, apperrors.ErrInvalidOrderParameter},
		{-105, apperrors.ErrAuthenticationFailed},
		{-112, apperrors.ErrExchangeUnavailable},
		{-118, apperrors.ErrRateLimitExceeded},
		{-305, apperrors.ErrInsufficientFunds},
		{-314, apperrors.ErrOrderNotFound},
		{-999, apperrors.ErrOrderRejected},
	}
	for _, tc := range cases {
		status := tc.status
		gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":` + strconv.Itoa(status) + `,"msg":"nope","data":null}`))
		})
		_, err := gw.CreateLimitBuyOrder(context.Background(), "eth_btc",
			decimal.New(1, 0), decimal.New(1, 0))
		assert.ErrorIs(t, err, tc.want, "status %d", status)
	}
}

func TestGateway_FetchOrder(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "555", r.PostForm.Get("entrustSheetId"))
		_, _ = w.Write([]byte(`{"status":200,"msg":"","data":
			{"id":555,"type":2,"price":"0.031","number":"2","numberDeal":"0.5","status":1}}`))
	})

	state, err := gw.FetchOrder(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, "555", state.ID)
	assert.Equal(t, core.SideSell, state.Side)
	assert.True(t, state.Open)
	assert.True(t, state.Filled.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, state.Size.Equal(decimal.RequireFromString("2")))
}

func TestGateway_FetchOpenOrders_FiltersClosed(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"msg":"","data":{"data":[
			{"id":1,"status":0},
			{"id":2,"status":2},
			{"id":3,"status":1}]}}`))
	})

	ids, err := gw.FetchOpenOrders(context.Background(), "eth_btc")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "3"}, ids)
}

func TestGateway_FetchBalances(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"msg":"","data":{"info":[
			{"name":"BTC","num":"1.5","over":"1.0","lock":"0.5"},
			{"name":"ETH","num":"10","over":"10","lock":"0"}]}}`))
	})

	snap, err := gw.FetchBalances(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Free["btc"].Equal(decimal.RequireFromString("1.0")))
	assert.True(t, snap.Locked["btc"].Equal(decimal.RequireFromString("0.5")))
	assert.True(t, snap.Total["eth"].Equal(decimal.RequireFromString("10")))
	assert.False(t, snap.FetchedAt.IsZero())
}

func TestGateway_FetchMyTrades_NewestFirst(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":200,"msg":"","data":{"data":[
			{"id":30,"entrustSheetId":7,"type":1,"number":"0.2","price":"0.03","created":1700000300},
			{"id":20,"entrustSheetId":7,"type":1,"number":"0.1","price":"0.03","created":1700000200}]}}`))
	})

	trades, err := gw.FetchMyTrades(context.Background(), "eth_btc")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "30", trades[0].ID)
	assert.Equal(t, "7", trades[0].OrderID)
	assert.Equal(t, core.SideBuy, trades[0].Side)
	assert.True(t, trades[0].Amount.Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, "20", trades[1].ID)
}

func TestGateway_CancelOrder(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "999", r.PostForm.Get("entrustSheetId"))
		_, _ = w.Write([]byte(`{"status":200,"msg":"","data":null}`))
	})

	require.NoError(t, gw.CancelOrder(context.Background(), "999", "eth_btc"))
}
