package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"signal-trade-bot-go/internal/credential"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	binanceFuturesURL = "https://fapi.binance.com"
	binanceTestnetURL = "https://testnet.binancefuture.com"
)

// binanceClient trades USDT-margined futures. Signed requests carry the API
// key in the X-MBX-APIKEY header and an HMAC-SHA256 signature over the full
// query string including the timestamp.
type binanceClient struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	recvWindow string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// BinanceBaseURL overrides the base URL when non-empty. Used by tests.
var BinanceBaseURL string

func newBinanceClient(keys credential.Keys, cfg ClientConfig, logger *zap.Logger) *binanceClient {
	baseURL := binanceFuturesURL
	if cfg.Testnet {
		baseURL = binanceTestnetURL
	}
	if BinanceBaseURL != "" {
		baseURL = BinanceBaseURL
	}

	return &binanceClient{
		client:     resty.New().SetBaseURL(baseURL).SetTimeout(cfg.Timeout),
		apiKey:     keys.APIKey,
		secretKey:  keys.APISecret,
		recvWindow: cfg.RecvWindow,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		logger:     logger.Named("binance"),
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *binanceClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// signedRequest executes one signed call and maps failures onto the typed
// error taxonomy.
func (c *binanceClient) signedRequest(ctx context.Context, method, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}

	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", c.recvWindow)
	queryString := params.Encode()
	queryString += "&signature=" + c.sign(queryString)

	req := c.client.R().
		SetContext(ctx).
		SetHeader("X-MBX-APIKEY", c.apiKey).
		SetQueryString(queryString)
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	if resp.IsError() {
		var apiErr binanceAPIError
		if jsonErr := json.Unmarshal(resp.Body(), &apiErr); jsonErr == nil && apiErr.Msg != "" {
			return &Error{Kind: KindVenue, Code: apiErr.Code, Message: apiErr.Msg}
		}
		return &Error{Kind: KindVenue, Code: resp.StatusCode(), Message: resp.String()}
	}
	return nil
}

func (c *binanceClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return c.signedRequest(ctx, "POST", "/fapi/v1/leverage", params, nil)
}

type binanceOrderResponse struct {
	OrderID int64  `json:"orderId"`
	Status  string `json:"status"`
}

func (c *binanceClient) PlaceMarketOrder(ctx context.Context, symbol, side, qty string, reduceOnly bool) (string, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", qty)
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	var out binanceOrderResponse
	if err := c.signedRequest(ctx, "POST", "/fapi/v1/order", params, &out); err != nil {
		return "", err
	}

	c.logger.Info("Placed market order",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("quantity", qty),
		zap.Int64("order_id", out.OrderID),
	)
	return strconv.FormatInt(out.OrderID, 10), nil
}

func (c *binanceClient) PlaceStopLoss(ctx context.Context, symbol, side string, stopPrice float64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", formatPrice(stopPrice))
	params.Set("closePosition", "true")
	return c.signedRequest(ctx, "POST", "/fapi/v1/order", params, nil)
}

func (c *binanceClient) PlaceTakeProfit(ctx context.Context, symbol, side string, stopPrice float64, qty string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "TAKE_PROFIT_MARKET")
	params.Set("stopPrice", formatPrice(stopPrice))
	params.Set("quantity", qty)
	params.Set("reduceOnly", "true")
	return c.signedRequest(ctx, "POST", "/fapi/v1/order", params, nil)
}

func (c *binanceClient) PlaceTrailingStop(ctx context.Context, symbol, side, qty string, callbackRate, activationPrice, refPrice float64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "TRAILING_STOP_MARKET")
	params.Set("quantity", qty)
	params.Set("callbackRate", strconv.FormatFloat(callbackRate, 'f', 1, 64))
	if activationPrice > 0 {
		params.Set("activationPrice", formatPrice(activationPrice))
	}
	params.Set("reduceOnly", "true")
	return c.signedRequest(ctx, "POST", "/fapi/v1/order", params, nil)
}

type binanceBalanceEntry struct {
	Asset            string `json:"asset"`
	AvailableBalance string `json:"availableBalance"`
}

func (c *binanceClient) AvailableBalance(ctx context.Context) (float64, error) {
	var balances []binanceBalanceEntry
	if err := c.signedRequest(ctx, "GET", "/fapi/v2/balance", url.Values{}, &balances); err != nil {
		return 0, err
	}

	for _, b := range balances {
		if b.Asset == "USDT" {
			v, err := strconv.ParseFloat(b.AvailableBalance, 64)
			if err != nil {
				return 0, &Error{Kind: KindVenue, Message: fmt.Sprintf("unparsable balance %q", b.AvailableBalance)}
			}
			return v, nil
		}
	}
	return 0, nil
}

type binancePositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
}

func (c *binanceClient) Position(ctx context.Context, symbol string) (*PositionState, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var rows []binancePositionRisk
	if err := c.signedRequest(ctx, "GET", "/fapi/v2/positionRisk", params, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &PositionState{Symbol: symbol}, nil
	}

	row := rows[0]
	amt, _ := strconv.ParseFloat(row.PositionAmt, 64)
	entry, _ := strconv.ParseFloat(row.EntryPrice, 64)
	mark, _ := strconv.ParseFloat(row.MarkPrice, 64)
	pnl, _ := strconv.ParseFloat(row.UnRealizedProfit, 64)

	state := &PositionState{
		Symbol:        symbol,
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnL: pnl,
	}
	switch {
	case amt > 0:
		state.Size = amt
		state.Side = "LONG"
	case amt < 0:
		state.Size = -amt
		state.Side = "SHORT"
	}
	return state, nil
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}
