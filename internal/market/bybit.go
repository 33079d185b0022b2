package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	bybitBaseURL        = "https://api.bybit.com"
	bybitTestnetBaseURL = "https://api-testnet.bybit.com"
)

// BybitBaseURL overrides the base URL when non-empty. Used by tests.
var BybitBaseURL string

func bybitBase(testnet bool) string {
	if BybitBaseURL != "" {
		return BybitBaseURL
	}
	if testnet {
		return bybitTestnetBaseURL
	}
	return bybitBaseURL
}

// bybitInterval maps common interval notation ("15m", "1h", "1d") onto the
// v5 API's bare-minute convention.
func bybitInterval(interval string) string {
	switch {
	case strings.HasSuffix(interval, "m"):
		return strings.TrimSuffix(interval, "m")
	case strings.HasSuffix(interval, "h"):
		if n, err := strconv.Atoi(strings.TrimSuffix(interval, "h")); err == nil {
			return strconv.Itoa(n * 60)
		}
	case interval == "1d":
		return "D"
	case interval == "1w":
		return "W"
	}
	return interval
}

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// bybitCandles fetches v5 klines. Bybit returns rows newest first; they are
// reversed to honor the ascending contract.
func (g *HTTPGateway) bybitCandles(ctx context.Context, symbol, interval string, testnet bool, productType string, limit int) ([]Candle, error) {
	var out bybitKlineResponse

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": bybitCategory(productType),
			"symbol":   symbol,
			"interval": bybitInterval(interval),
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&out).
		Get(bybitBase(testnet) + "/v5/market/kline")
	if err != nil {
		return nil, fmt.Errorf("bybit kline request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("bybit kline returned %s: %s", resp.Status(), resp.String())
	}
	if out.RetCode != 0 {
		return nil, fmt.Errorf("bybit kline retCode %d: %s", out.RetCode, out.RetMsg)
	}

	rows := out.Result.List
	candles := make([]Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		c, err := parseBybitKline(rows[i])
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// parseBybitKline converts one row: [startTime, open, high, low, close, volume, turnover].
func parseBybitKline(row []string) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("bybit kline row has %d fields", len(row))
	}

	fields := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return Candle{}, fmt.Errorf("bybit kline field %d: %w", i, err)
		}
		fields[i] = v
	}

	return Candle{
		OpenTime: int64(fields[0]),
		Open:     fields[1],
		High:     fields[2],
		Low:      fields[3],
		Close:    fields[4],
		Volume:   fields[5],
	}, nil
}

func bybitCategory(productType string) string {
	if productType == "" {
		return "linear"
	}
	return productType
}

type bybitTickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
		} `json:"list"`
	} `json:"result"`
}

func (g *HTTPGateway) bybitBookTicker(ctx context.Context, symbol string, testnet bool, productType string) (float64, float64, error) {
	var out bybitTickerResponse

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"category": bybitCategory(productType),
			"symbol":   symbol,
		}).
		SetResult(&out).
		Get(bybitBase(testnet) + "/v5/market/tickers")
	if err != nil {
		return 0, 0, fmt.Errorf("bybit tickers request: %w", err)
	}
	if resp.IsError() {
		return 0, 0, fmt.Errorf("bybit tickers returned %s: %s", resp.Status(), resp.String())
	}
	if out.RetCode != 0 {
		return 0, 0, fmt.Errorf("bybit tickers retCode %d: %s", out.RetCode, out.RetMsg)
	}
	if len(out.Result.List) == 0 {
		return 0, 0, fmt.Errorf("bybit tickers returned no rows for %s", symbol)
	}

	bid, err := strconv.ParseFloat(out.Result.List[0].Bid1Price, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bybit bid price: %w", err)
	}
	ask, err := strconv.ParseFloat(out.Result.List[0].Ask1Price, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bybit ask price: %w", err)
	}
	return bid, ask, nil
}
