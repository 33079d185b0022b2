package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestGateway() *HTTPGateway {
	return NewHTTPGateway(2*time.Second, zap.NewNop())
}

func TestBybitCandles_ReversedToAscending(t *testing.T) {
	// Bybit lists the newest bar first; the gateway must flip the order.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		assert.Equal(t, "linear", r.URL.Query().Get("category"))
		fmt.Fprint(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			["3000","101","102","100","101.5","12","0"],
			["2000","100","101","99","100.5","10","0"],
			["1000","99","100","98","99.5","11","0"]
		]}}`)
	}))
	defer server.Close()

	BybitBaseURL = server.URL
	defer func() { BybitBaseURL = "" }()

	candles := newTestGateway().Candles(context.Background(), "bybit", "BTCUSDT", "15m", false, "linear", 3)

	assert.Len(t, candles, 3)
	assert.Equal(t, int64(1000), candles[0].OpenTime)
	assert.Equal(t, int64(3000), candles[2].OpenTime)
	assert.InDelta(t, 101.5, candles[2].Close, 1e-9)
}

func TestBinanceCandles_Ascending(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fapi/v1/klines", r.URL.Path)
		fmt.Fprint(w, `[
			[1000,"99","100","98","99.5","11",1999],
			[2000,"100","101","99","100.5","10",2999]
		]`)
	}))
	defer server.Close()

	BinanceBaseURL = server.URL
	defer func() { BinanceBaseURL = "" }()

	candles := newTestGateway().Candles(context.Background(), "binance", "BTCUSDT", "15m", false, "linear", 2)

	assert.Len(t, candles, 2)
	assert.Equal(t, int64(1000), candles[0].OpenTime)
	assert.InDelta(t, 100.5, candles[1].Close, 1e-9)
	assert.InDelta(t, 10.0, candles[1].Volume, 1e-9)
}

func TestCandles_TransportErrorDegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	BinanceBaseURL = server.URL
	defer func() { BinanceBaseURL = "" }()

	candles := newTestGateway().Candles(context.Background(), "binance", "BTCUSDT", "15m", false, "linear", 50)
	assert.Empty(t, candles)
}

func TestCandles_MalformedShapeDegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1000,"not-a-number","100","98","99.5","11"]]`)
	}))
	defer server.Close()

	BinanceBaseURL = server.URL
	defer func() { BinanceBaseURL = "" }()

	candles := newTestGateway().Candles(context.Background(), "binance", "BTCUSDT", "15m", false, "linear", 1)
	assert.Empty(t, candles)
}

func TestCandles_UnsupportedVenue(t *testing.T) {
	candles := newTestGateway().Candles(context.Background(), "kraken", "BTCUSDT", "15m", false, "linear", 50)
	assert.Empty(t, candles)
}

func TestBybitBestBidAsk(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode":0,"result":{"list":[{"symbol":"BTCUSDT","bid1Price":"49990","ask1Price":"50010"}]}}`)
	}))
	defer server.Close()

	BybitBaseURL = server.URL
	defer func() { BybitBaseURL = "" }()

	bid, ask, err := newTestGateway().BestBidAsk(context.Background(), "bybit", "BTCUSDT", false, "linear")
	assert.NoError(t, err)
	assert.InDelta(t, 49990.0, bid, 1e-9)
	assert.InDelta(t, 50010.0, ask, 1e-9)
}

func TestBybitInterval(t *testing.T) {
	assert.Equal(t, "15", bybitInterval("15m"))
	assert.Equal(t, "60", bybitInterval("1h"))
	assert.Equal(t, "240", bybitInterval("4h"))
	assert.Equal(t, "D", bybitInterval("1d"))
}
