// Package bitz implements the exchange gateway for the Bit-Z REST API.
//
// Every private endpoint takes form-encoded parameters signed with
// md5(sorted-params + secret). The response envelope carries a status code;
// 200 is success and negative codes are mapped onto the shared error
// taxonomy so callers can classify transient versus terminal failures.
package bitz

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"exchange_bridge/internal/config"
	"exchange_bridge/internal/core"
	apperrors "exchange_bridge/pkg/errors"
	"exchange_bridge/pkg/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	pathAddOrder     = "/Trade/addEntrustSheet"
	pathCancelOrder  = "/Trade/cancelEntrustSheet"
	pathOrderInfo    = "/Trade/getEntrustSheetInfo"
	pathOpenOrders   = "/Trade/getUserNowEntrustSheet"
	pathTradeHistory = "/Trade/getUserHistoryEntrustSheet"
	pathUserAssets   = "/Assets/getUserAssets"

	orderTypeBuy  = "1"
	orderTypeSell = "2"
)

// Gateway talks to the Bit-Z REST API.
type Gateway struct {
	client   *http.Client
	logger   core.ILogger
	tradePwd string
}

// NewGateway creates a Bit-Z gateway from venue credentials.
func NewGateway(venue config.VenueConfig, timeout time.Duration, logger core.ILogger) *Gateway {
	signer := &signer{
		apiKey:    venue.APIKey.Reveal(),
		secretKey: venue.SecretKey.Reveal(),
	}
	return &Gateway{
		client:   http.NewClient(venue.BaseURL, timeout, signer),
		logger:   logger.WithField("component", "bitz_gateway"),
		tradePwd: venue.TradePwd.Reveal(),
	}
}

func (g *Gateway) GetName() string { return "bitz" }

// signer injects apiKey, timeStamp, nonce, and the md5 signature into every
// request's form body.
type signer struct {
	apiKey    string
	secretKey string
}

func (s *signer) SignRequest(req *nethttp.Request) error {
	if req.Method != nethttp.MethodPost || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return err
	}

	form.Set("apiKey", s.apiKey)
	form.Set("timeStamp", strconv.FormatInt(time.Now().Unix(), 10))
	form.Set("nonce", newNonce())
	form.Set("sign", s.sign(form))

	encoded := form.Encode()
	req.Body = io.NopCloser(strings.NewReader(encoded))
	req.ContentLength = int64(len(encoded))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(encoded)), nil
	}
	return nil
}

// sign computes md5 over the key-sorted parameter string with the secret
// appended, per the venue's signature scheme.
func (s *signer) sign(form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "sign" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(form.Get(k))
	}
	sb.WriteString(s.secretKey)

	sum := md5.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// newNonce returns the 6-character random string the API expects.
func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

// apiResponse is the envelope every endpoint returns.
type apiResponse struct {
	Status int             `json:"status"`
	Msg    string          `json:"msg"`
	Data   json.RawMessage `json:"data"`
}

// Venue status codes, from the API documentation.
const (
	statusOK                = 200
	codeInvalidParameter    = -102
	codeInvalidSignature    = -105
	codeInvalidSecretKey    = -109
	codeIPNotTrusted        = -111
	codeUnderMaintenance    = -112
	codeAPIKeyExpired       = -117
	codeRequestTooFrequent  = -118
	codeInsufficientBalance = -305
	codeOrderNotFound       = -314
)

func mapStatus(status int, msg string) error {
	var sentinel error
	switch status {
	case codeInvalidParameter:
		sentinel = apperrors.ErrInvalidOrderParameter
	case codeInvalidSignature, codeInvalidSecretKey, codeIPNotTrusted, codeAPIKeyExpired:
		sentinel = apperrors.ErrAuthenticationFailed
	case codeUnderMaintenance:
		sentinel = apperrors.ErrExchangeUnavailable
	case codeRequestTooFrequent:
		sentinel = apperrors.ErrRateLimitExceeded
	case codeInsufficientBalance:
		sentinel = apperrors.ErrInsufficientFunds
	case codeOrderNotFound:
		sentinel = apperrors.ErrOrderNotFound
	default:
		sentinel = apperrors.ErrOrderRejected
	}
	return fmt.Errorf("%w: bitz status %d: %s", sentinel, status, msg)
}

// call posts one signed request and unwraps the envelope.
func (g *Gateway) call(ctx context.Context, path string, params url.Values, out interface{}) error {
	body, err := g.client.PostForm(ctx, path, params)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrNetwork, path, err)
	}

	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", apperrors.ErrNetwork, path, err)
	}
	if resp.Status != statusOK {
		return mapStatus(resp.Status, resp.Msg)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("%w: decoding %s data: %v", apperrors.ErrNetwork, path, err)
		}
	}
	return nil
}

type createResult struct {
	ID json.Number `json:"id"`
}

func (g *Gateway) CreateLimitBuyOrder(ctx context.Context, pair string, size, price decimal.Decimal) (string, error) {
	return g.createOrder(ctx, pair, orderTypeBuy, size, price)
}

func (g *Gateway) CreateLimitSellOrder(ctx context.Context, pair string, size, price decimal.Decimal) (string, error) {
	return g.createOrder(ctx, pair, orderTypeSell, size, price)
}

func (g *Gateway) createOrder(ctx context.Context, pair, orderType string, size, price decimal.Decimal) (string, error) {
	params := url.Values{
		"symbol": {pair},
		"number": {size.String()},
		"price":  {price.String()},
		"type":   {orderType},
	}
	if g.tradePwd != "" {
		params.Set("tradePwd", g.tradePwd)
	}

	var result createResult
	if err := g.call(ctx, pathAddOrder, params, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("%w: empty order id in create response", apperrors.ErrOrderRejected)
	}
	g.logger.Debug("order created", "pair", pair, "type", orderType, "id", result.ID.String())
	return result.ID.String(), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID, pair string) error {
	params := url.Values{
		"entrustSheetId": {orderID},
	}
	return g.call(ctx, pathCancelOrder, params, nil)
}

// orderInfo is one entrust sheet as the venue reports it.
type orderInfo struct {
	ID         json.Number `json:"id"`
	Type       json.Number `json:"type"`
	Price      string      `json:"price"`
	Number     string      `json:"number"`
	NumberDeal string      `json:"numberDeal"`
	Status     json.Number `json:"status"`
}

// Entrust sheet status values: 0 pending, 1 partially dealt, 2 dealt,
// 3 cancelled.
func (o *orderInfo) open() bool {
	return o.Status.String() == "0" || o.Status.String() == "1"
}

func (o *orderInfo) side() core.Side {
	if o.Type.String() == orderTypeBuy {
		return core.SideBuy
	}
	return core.SideSell
}

func (g *Gateway) FetchOrder(ctx context.Context, orderID string) (*core.OrderState, error) {
	params := url.Values{
		"entrustSheetId": {orderID},
	}
	var info orderInfo
	if err := g.call(ctx, pathOrderInfo, params, &info); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(info.Price)
	if err != nil {
		return nil, fmt.Errorf("parsing order price %q: %w", info.Price, err)
	}
	size, err := decimal.NewFromString(info.Number)
	if err != nil {
		return nil, fmt.Errorf("parsing order size %q: %w", info.Number, err)
	}
	filled := decimal.Zero
	if info.NumberDeal != "" {
		filled, err = decimal.NewFromString(info.NumberDeal)
		if err != nil {
			return nil, fmt.Errorf("parsing filled amount %q: %w", info.NumberDeal, err)
		}
	}

	return &core.OrderState{
		ID:     info.ID.String(),
		Side:   info.side(),
		Price:  price,
		Size:   size,
		Filled: filled,
		Open:   info.open(),
	}, nil
}

type pagedOrders struct {
	Data []orderInfo `json:"data"`
}

func (g *Gateway) FetchOpenOrders(ctx context.Context, pair string) ([]string, error) {
	params := url.Values{
		"symbol": {pair},
	}
	var page pagedOrders
	if err := g.call(ctx, pathOpenOrders, params, &page); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(page.Data))
	for _, o := range page.Data {
		if o.open() {
			ids = append(ids, o.ID.String())
		}
	}
	return ids, nil
}

type assetInfo struct {
	Name string `json:"name"`
	Num  string `json:"num"`
	Over string `json:"over"`
	Lock string `json:"lock"`
}

type assetsResult struct {
	Info []assetInfo `json:"info"`
}

func (g *Gateway) FetchBalances(ctx context.Context) (*core.BalanceSnapshot, error) {
	var result assetsResult
	if err := g.call(ctx, pathUserAssets, url.Values{}, &result); err != nil {
		return nil, err
	}

	snap := &core.BalanceSnapshot{
		Free:      make(map[string]decimal.Decimal, len(result.Info)),
		Locked:    make(map[string]decimal.Decimal, len(result.Info)),
		Total:     make(map[string]decimal.Decimal, len(result.Info)),
		FetchedAt: time.Now(),
	}
	for _, asset := range result.Info {
		name := strings.ToLower(asset.Name)
		free, err := decimal.NewFromString(asset.Over)
		if err != nil {
			return nil, fmt.Errorf("parsing free balance of %s: %w", name, err)
		}
		locked, err := decimal.NewFromString(asset.Lock)
		if err != nil {
			return nil, fmt.Errorf("parsing locked balance of %s: %w", name, err)
		}
		total, err := decimal.NewFromString(asset.Num)
		if err != nil {
			return nil, fmt.Errorf("parsing total balance of %s: %w", name, err)
		}
		snap.Free[name] = free
		snap.Locked[name] = locked
		snap.Total[name] = total
	}
	return snap, nil
}

// historyItem is one dealt entrust sheet from the history endpoint.
type historyItem struct {
	ID             json.Number `json:"id"`
	EntrustSheetID json.Number `json:"entrustSheetId"`
	Type           json.Number `json:"type"`
	Number         string      `json:"number"`
	Price          string      `json:"price"`
	Created        int64       `json:"created"`
}

type pagedHistory struct {
	Data []historyItem `json:"data"`
}

// FetchMyTrades returns the account's recent executions newest first, as the
// venue orders them.
func (g *Gateway) FetchMyTrades(ctx context.Context, pair string) ([]core.TradeRecord, error) {
	params := url.Values{
		"symbol": {pair},
	}
	var page pagedHistory
	if err := g.call(ctx, pathTradeHistory, params, &page); err != nil {
		return nil, err
	}

	trades := make([]core.TradeRecord, 0, len(page.Data))
	for _, item := range page.Data {
		amount, err := decimal.NewFromString(item.Number)
		if err != nil {
			return nil, fmt.Errorf("parsing trade amount %q: %w", item.Number, err)
		}
		price, err := decimal.NewFromString(item.Price)
		if err != nil {
			return nil, fmt.Errorf("parsing trade price %q: %w", item.Price, err)
		}
		side := core.SideSell
		if item.Type.String() == orderTypeBuy {
			side = core.SideBuy
		}
		trades = append(trades, core.TradeRecord{
			ID:      item.ID.String(),
			OrderID: item.EntrustSheetID.String(),
			Side:    side,
			Amount:  amount,
			Price:   price,
			Time:    time.Unix(item.Created, 0),
		})
	}
	return trades, nil
}
