package market

import (
	"context"
	"fmt"
	"strconv"
)

const (
	binanceFuturesBaseURL = "https://fapi.binance.com"
	binanceTestnetBaseURL = "https://testnet.binancefuture.com"
)

// BinanceBaseURL overrides the futures base URL when non-empty. Used by tests.
var BinanceBaseURL string

func binanceBase(testnet bool) string {
	if BinanceBaseURL != "" {
		return BinanceBaseURL
	}
	if testnet {
		return binanceTestnetBaseURL
	}
	return binanceFuturesBaseURL
}

// binanceCandles fetches futures klines. Binance already returns bars oldest
// first, so only shape normalization is needed.
func (g *HTTPGateway) binanceCandles(ctx context.Context, symbol, interval string, testnet bool, limit int) ([]Candle, error) {
	var raw [][]interface{}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":   symbol,
			"interval": interval,
			"limit":    strconv.Itoa(limit),
		}).
		SetResult(&raw).
		Get(binanceBase(testnet) + "/fapi/v1/klines")
	if err != nil {
		return nil, fmt.Errorf("binance klines request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("binance klines returned %s: %s", resp.Status(), resp.String())
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		c, err := parseBinanceKline(row)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// parseBinanceKline converts one kline row:
// [openTime, open, high, low, close, volume, ...] with prices as strings.
func parseBinanceKline(row []interface{}) (Candle, error) {
	if len(row) < 6 {
		return Candle{}, fmt.Errorf("binance kline row has %d fields", len(row))
	}

	openTime, ok := row[0].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("binance kline open time has unexpected type %T", row[0])
	}

	fields := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := row[i].(string)
		if !ok {
			return Candle{}, fmt.Errorf("binance kline field %d has unexpected type %T", i, row[i])
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Candle{}, fmt.Errorf("binance kline field %d: %w", i, err)
		}
		fields[i-1] = v
	}

	return Candle{
		OpenTime: int64(openTime),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

type binanceBookTicker struct {
	Symbol   string `json:"symbol"`
	BidPrice string `json:"bidPrice"`
	AskPrice string `json:"askPrice"`
}

func (g *HTTPGateway) binanceBookTicker(ctx context.Context, symbol string, testnet bool) (float64, float64, error) {
	var book binanceBookTicker

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&book).
		Get(binanceBase(testnet) + "/fapi/v1/ticker/bookTicker")
	if err != nil {
		return 0, 0, fmt.Errorf("binance book ticker request: %w", err)
	}
	if resp.IsError() {
		return 0, 0, fmt.Errorf("binance book ticker returned %s: %s", resp.Status(), resp.String())
	}

	bid, err := strconv.ParseFloat(book.BidPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("binance bid price: %w", err)
	}
	ask, err := strconv.ParseFloat(book.AskPrice, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("binance ask price: %w", err)
	}
	return bid, ask, nil
}
