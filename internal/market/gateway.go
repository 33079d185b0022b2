// Package market fetches normalized OHLCV candle windows and order-book
// tops from the supported venues. Transport and shape errors degrade to an
// empty candle window rather than failing the caller: a tick that cannot see
// the market simply produces no signal.
package market

import (
	"context"
	"fmt"
	"time"

	"signal-trade-bot-go/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Candle is one OHLCV bar. Gateways always return candles ordered ascending
// by OpenTime.
type Candle struct {
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	OpenTime int64 // milliseconds
}

// Gateway is the market-data contract the analyzer and risk gate consume.
type Gateway interface {
	// Candles returns up to limit candles, oldest first. On any failure it
	// returns an empty slice.
	Candles(ctx context.Context, venue, symbol, interval string, testnet bool, productType string, limit int) []Candle

	// BestBidAsk returns the current top of book.
	BestBidAsk(ctx context.Context, venue, symbol string, testnet bool, productType string) (bid, ask float64, err error)
}

// HTTPGateway implements Gateway over the venues' public REST endpoints.
type HTTPGateway struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewHTTPGateway creates a gateway with the given request timeout.
func NewHTTPGateway(timeout time.Duration, logger *zap.Logger) *HTTPGateway {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "market-data",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
	})

	return &HTTPGateway{
		client:  resty.New().SetTimeout(timeout),
		breaker: breaker,
		logger:  logger.Named("market"),
	}
}

func (g *HTTPGateway) Candles(ctx context.Context, venue, symbol, interval string, testnet bool, productType string, limit int) []Candle {
	candles, err := g.fetchCandles(ctx, venue, symbol, interval, testnet, productType, limit)
	if err != nil {
		g.logger.Warn("Failed to fetch candles, degrading to no signal",
			zap.String("venue", venue),
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		return nil
	}
	return candles
}

func (g *HTTPGateway) fetchCandles(ctx context.Context, venue, symbol, interval string, testnet bool, productType string, limit int) ([]Candle, error) {
	res, err := g.breaker.Execute(func() (interface{}, error) {
		switch venue {
		case models.VenueBinance:
			return g.binanceCandles(ctx, symbol, interval, testnet, limit)
		case models.VenueBybit:
			return g.bybitCandles(ctx, symbol, interval, testnet, productType, limit)
		default:
			return nil, fmt.Errorf("unsupported venue %q", venue)
		}
	})
	if err != nil {
		return nil, err
	}
	return res.([]Candle), nil
}

func (g *HTTPGateway) BestBidAsk(ctx context.Context, venue, symbol string, testnet bool, productType string) (float64, float64, error) {
	switch venue {
	case models.VenueBinance:
		return g.binanceBookTicker(ctx, symbol, testnet)
	case models.VenueBybit:
		return g.bybitBookTicker(ctx, symbol, testnet, productType)
	default:
		return 0, 0, fmt.Errorf("unsupported venue %q", venue)
	}
}
