package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"signal-trade-bot-go/internal/credential"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	bybitMainnetURL = "https://api.bybit.com"
	bybitTestURL    = "https://api-testnet.bybit.com"
)

// bybitClient trades linear perpetuals over the v5 API. Signed requests
// carry HMAC-SHA256(timestamp + apiKey + recvWindow + payload) in the
// X-BAPI-SIGN header, where payload is the query string for GETs and the
// JSON body for POSTs.
type bybitClient struct {
	client     *resty.Client
	apiKey     string
	secretKey  string
	recvWindow string
	category   string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// BybitBaseURL overrides the base URL when non-empty. Used by tests.
var BybitBaseURL string

func newBybitClient(keys credential.Keys, cfg ClientConfig, logger *zap.Logger) *bybitClient {
	baseURL := bybitMainnetURL
	if cfg.Testnet {
		baseURL = bybitTestURL
	}
	if BybitBaseURL != "" {
		baseURL = BybitBaseURL
	}

	return &bybitClient{
		client:     resty.New().SetBaseURL(baseURL).SetTimeout(cfg.Timeout),
		apiKey:     keys.APIKey,
		secretKey:  keys.APISecret,
		recvWindow: cfg.RecvWindow,
		category:   cfg.ProductType,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		logger:     logger.Named("bybit"),
	}
}

func (c *bybitClient) sign(timestamp, payload string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(timestamp + c.apiKey + c.recvWindow + payload))
	return hex.EncodeToString(h.Sum(nil))
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// call executes one signed request. A non-zero retCode is a venue failure.
func (c *bybitClient) call(ctx context.Context, method, path string, query map[string]string, body interface{}, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	req := c.client.R().SetContext(ctx)

	var payload string
	if method == "GET" {
		req.SetQueryParams(query)
		payload = req.QueryParam.Encode()
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: err.Error()}
		}
		payload = string(raw)
		req.SetHeader("Content-Type", "application/json").SetBody(raw)
	}

	req.SetHeader("X-BAPI-API-KEY", c.apiKey).
		SetHeader("X-BAPI-SIGN", c.sign(timestamp, payload)).
		SetHeader("X-BAPI-SIGN-TYPE", "2").
		SetHeader("X-BAPI-TIMESTAMP", timestamp).
		SetHeader("X-BAPI-RECV-WINDOW", c.recvWindow)

	var envelope bybitEnvelope
	req.SetResult(&envelope)

	resp, err := req.Execute(method, path)
	if err != nil {
		return &Error{Kind: KindTransport, Message: err.Error()}
	}
	if resp.IsError() {
		return &Error{Kind: KindVenue, Code: resp.StatusCode(), Message: resp.String()}
	}
	if envelope.RetCode != 0 {
		return &Error{Kind: KindVenue, Code: envelope.RetCode, Message: envelope.RetMsg}
	}
	if result != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return &Error{Kind: KindVenue, Message: "unparsable result payload: " + err.Error()}
		}
	}
	return nil
}

// bybitSide maps the shared BUY/SELL convention onto v5's Buy/Sell.
func bybitSide(side string) string {
	if side == SideBuy {
		return "Buy"
	}
	return "Sell"
}

func (c *bybitClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	lev := strconv.Itoa(leverage)
	err := c.call(ctx, "POST", "/v5/position/set-leverage", nil, map[string]string{
		"category":     c.category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}, nil)
	// Bybit rejects a no-op leverage change; that is not a failure.
	if venueErr, ok := err.(*Error); ok && venueErr.Code == 110043 {
		return nil
	}
	return err
}

type bybitOrderResult struct {
	OrderID string `json:"orderId"`
}

func (c *bybitClient) PlaceMarketOrder(ctx context.Context, symbol, side, qty string, reduceOnly bool) (string, error) {
	body := map[string]interface{}{
		"category":  c.category,
		"symbol":    symbol,
		"side":      bybitSide(side),
		"orderType": "Market",
		"qty":       qty,
	}
	if reduceOnly {
		body["reduceOnly"] = true
	}

	var out bybitOrderResult
	if err := c.call(ctx, "POST", "/v5/order/create", nil, body, &out); err != nil {
		return "", err
	}

	c.logger.Info("Placed market order",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.String("quantity", qty),
		zap.String("order_id", out.OrderID),
	)
	return out.OrderID, nil
}

// PlaceStopLoss uses the position trading-stop endpoint, which closes the
// whole position when triggered.
func (c *bybitClient) PlaceStopLoss(ctx context.Context, symbol, side string, stopPrice float64) error {
	return c.call(ctx, "POST", "/v5/position/trading-stop", nil, map[string]interface{}{
		"category":    c.category,
		"symbol":      symbol,
		"stopLoss":    formatPrice(stopPrice),
		"positionIdx": 0,
	}, nil)
}

// PlaceTakeProfit places a reduce-only conditional market order so partial
// closes are possible (the trading-stop endpoint is all-or-nothing).
func (c *bybitClient) PlaceTakeProfit(ctx context.Context, symbol, side string, stopPrice float64, qty string) error {
	direction := 1 // trigger when price rises to the target
	if side == SideBuy {
		direction = 2 // closing a short: trigger on the way down
	}

	return c.call(ctx, "POST", "/v5/order/create", nil, map[string]interface{}{
		"category":         c.category,
		"symbol":           symbol,
		"side":             bybitSide(side),
		"orderType":        "Market",
		"qty":              qty,
		"triggerPrice":     formatPrice(stopPrice),
		"triggerDirection": direction,
		"reduceOnly":       true,
	}, nil)
}

func (c *bybitClient) PlaceTrailingStop(ctx context.Context, symbol, side, qty string, callbackRate, activationPrice, refPrice float64) error {
	// v5 expresses the trail as a price distance, not a percent.
	distance := refPrice * callbackRate / 100

	body := map[string]interface{}{
		"category":     c.category,
		"symbol":       symbol,
		"trailingStop": formatPrice(distance),
		"positionIdx":  0,
	}
	if activationPrice > 0 {
		body["activePrice"] = formatPrice(activationPrice)
	}
	return c.call(ctx, "POST", "/v5/position/trading-stop", nil, body, nil)
}

type bybitWalletResult struct {
	List []struct {
		TotalAvailableBalance string `json:"totalAvailableBalance"`
	} `json:"list"`
}

func (c *bybitClient) AvailableBalance(ctx context.Context) (float64, error) {
	var out bybitWalletResult
	err := c.call(ctx, "GET", "/v5/account/wallet-balance", map[string]string{
		"accountType": "UNIFIED",
	}, nil, &out)
	if err != nil {
		return 0, err
	}
	if len(out.List) == 0 {
		return 0, nil
	}

	v, err := strconv.ParseFloat(out.List[0].TotalAvailableBalance, 64)
	if err != nil {
		return 0, &Error{Kind: KindVenue, Message: "unparsable wallet balance"}
	}
	return v, nil
}

type bybitPositionResult struct {
	List []struct {
		Symbol        string `json:"symbol"`
		Side          string `json:"side"`
		Size          string `json:"size"`
		AvgPrice      string `json:"avgPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealisedPnl string `json:"unrealisedPnl"`
	} `json:"list"`
}

func (c *bybitClient) Position(ctx context.Context, symbol string) (*PositionState, error) {
	var out bybitPositionResult
	err := c.call(ctx, "GET", "/v5/position/list", map[string]string{
		"category": c.category,
		"symbol":   symbol,
	}, nil, &out)
	if err != nil {
		return nil, err
	}
	if len(out.List) == 0 {
		return &PositionState{Symbol: symbol}, nil
	}

	row := out.List[0]
	size, _ := strconv.ParseFloat(row.Size, 64)
	entry, _ := strconv.ParseFloat(row.AvgPrice, 64)
	mark, _ := strconv.ParseFloat(row.MarkPrice, 64)
	pnl, _ := strconv.ParseFloat(row.UnrealisedPnl, 64)

	state := &PositionState{
		Symbol:        symbol,
		Size:          size,
		EntryPrice:    entry,
		MarkPrice:     mark,
		UnrealizedPnL: pnl,
	}
	if size > 0 {
		if row.Side == "Buy" {
			state.Side = "LONG"
		} else {
			state.Side = "SHORT"
		}
	}
	return state, nil
}
