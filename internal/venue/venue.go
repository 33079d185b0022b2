// Package venue places orders on the supported trading venues behind one
// uniform contract. Two signed-REST backends implement it: Binance USDT
// futures (API key header, HMAC-SHA256 over the query string) and Bybit v5
// (timestamp+key+recvWindow+payload HMAC carried in request headers).
package venue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"signal-trade-bot-go/internal/credential"
	"signal-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// Order sides shared by both backends.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// ErrorKind distinguishes how a venue call failed.
type ErrorKind int

const (
	// KindTransport is a network or HTTP-level failure.
	KindTransport ErrorKind = iota
	// KindVenue is a venue-reported rejection (non-zero status code).
	KindVenue
	// KindValidation is a local precondition failure; no request was sent.
	KindValidation
)

// Error is a typed venue failure.
type Error struct {
	Kind    ErrorKind
	Code    int
	Message string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindVenue:
		return fmt.Sprintf("venue rejected request (code %d): %s", e.Code, e.Message)
	case KindValidation:
		return fmt.Sprintf("invalid order: %s", e.Message)
	default:
		return fmt.Sprintf("venue transport failure: %s", e.Message)
	}
}

var precisionPatterns = []string{
	"precision",
	"lot size",
	"lot_size",
	"step size",
	"step_size",
	"quantity",
	"qty invalid",
	"filter failure",
}

// IsPrecisionError reports whether a venue rejection looks like a lot-size /
// precision filter violation, i.e. worth retrying at a coarser quantity.
func IsPrecisionError(err error) bool {
	venueErr, ok := err.(*Error)
	if !ok || venueErr.Kind != KindVenue {
		return false
	}
	msg := strings.ToLower(venueErr.Message)
	for _, p := range precisionPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// PositionState is the venue-reported view of one position.
type PositionState struct {
	Symbol        string
	Size          float64 // always >= 0; zero means flat
	Side          string  // LONG or SHORT, empty when flat
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
}

// Client is the uniform signed-trading contract over one venue account.
type Client interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, symbol, side, qty string, reduceOnly bool) (orderID string, err error)
	// PlaceStopLoss uses the venue's close-the-whole-position semantics.
	PlaceStopLoss(ctx context.Context, symbol, side string, stopPrice float64) error
	PlaceTakeProfit(ctx context.Context, symbol, side string, stopPrice float64, qty string) error
	PlaceTrailingStop(ctx context.Context, symbol, side, qty string, callbackRate, activationPrice, refPrice float64) error
	AvailableBalance(ctx context.Context) (float64, error)
	Position(ctx context.Context, symbol string) (*PositionState, error)
}

// ClientConfig carries the transport settings shared by both backends.
type ClientConfig struct {
	Testnet        bool
	ProductType    string
	RecvWindow     string
	Timeout        time.Duration
	RateLimit      float64
	RateLimitBurst int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.RecvWindow == "" {
		c.RecvWindow = "5000"
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 20
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 5
	}
	if c.ProductType == "" {
		c.ProductType = "linear"
	}
	return c
}

// Factory builds a signed client for one user's credentials. The trader
// engine takes a Factory so tests can substitute a mock client.
type Factory func(venueName string, keys credential.Keys, cfg ClientConfig, logger *zap.Logger) (Client, error)

// NewClient is the production Factory.
func NewClient(venueName string, keys credential.Keys, cfg ClientConfig, logger *zap.Logger) (Client, error) {
	cfg = cfg.withDefaults()
	switch venueName {
	case models.VenueBinance:
		return newBinanceClient(keys, cfg, logger), nil
	case models.VenueBybit:
		return newBybitClient(keys, cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported venue %q", venueName)
	}
}
