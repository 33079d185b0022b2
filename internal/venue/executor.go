package venue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"signal-trade-bot-go/internal/analyzer"
	"signal-trade-bot-go/internal/models"

	"go.uber.org/zap"
)

// ExecResult is the outcome of one entry execution. Success refers to the
// entry order only: a filled entry whose protective legs failed still
// reports Success=true with the leg failures joined into Error, because a
// live position must be recorded even when its protection is missing.
type ExecResult struct {
	Success   bool
	OrderID   string
	Quantity  float64 // quantity the venue accepted
	Precision int     // decimal places the venue accepted
	Error     string
}

// Options tweaks one execution without touching the stored strategy.
type Options struct {
	// QuantityOverride bypasses sizing when an inbound alert specifies the
	// exact quantity.
	QuantityOverride float64
}

// Executor drives entry + protective-leg placement through a venue client.
type Executor struct {
	client Client
	logger *zap.Logger
}

// NewExecutor wraps a signed client.
func NewExecutor(client Client, logger *zap.Logger) *Executor {
	return &Executor{client: client, logger: logger.Named("executor")}
}

// Execute sizes, enters, and protects one position.
func (e *Executor) Execute(ctx context.Context, cfg *models.StrategyConfig, sig analyzer.Signal, opts Options) ExecResult {
	if sig.Price <= 0 {
		return ExecResult{Error: "signal has no price"}
	}

	quantity, err := e.resolveQuantity(ctx, cfg, sig, opts)
	if err != nil {
		return ExecResult{Error: err.Error()}
	}

	l := e.logger.With(
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.Float64("quantity", quantity),
	)

	// Leverage must be in place before real money moves; a failure here
	// aborts with nothing on the book.
	if err := e.client.SetLeverage(ctx, sig.Symbol, cfg.Leverage); err != nil {
		l.Error("Failed to set leverage", zap.Error(err))
		return ExecResult{Error: fmt.Sprintf("set leverage: %v", err)}
	}

	side := SideBuy
	if sig.Action == analyzer.ActionSell {
		side = SideSell
	}

	orderID, acceptedQty, precision, err := e.placeWithPrecisionRetry(ctx, sig.Symbol, side, quantity)
	if err != nil {
		l.Error("Entry order failed", zap.Error(err))
		return ExecResult{Error: fmt.Sprintf("entry order: %v", err)}
	}

	l.Info("Entry order filled",
		zap.String("order_id", orderID),
		zap.Float64("accepted_quantity", acceptedQty),
		zap.Int("precision", precision),
	)

	legErrors := e.placeProtectiveLegs(ctx, cfg, sig, side, acceptedQty, precision)

	res := ExecResult{
		Success:   true,
		OrderID:   orderID,
		Quantity:  acceptedQty,
		Precision: precision,
	}
	if len(legErrors) > 0 {
		res.Error = strings.Join(legErrors, "; ")
		l.Warn("Entry filled but protective legs failed", zap.String("errors", res.Error))
	}
	return res
}

// resolveQuantity applies the strategy's sizing mode. Percent-based modes
// fetch the live balance from the venue.
func (e *Executor) resolveQuantity(ctx context.Context, cfg *models.StrategyConfig, sig analyzer.Signal, opts Options) (float64, error) {
	if opts.QuantityOverride > 0 {
		return opts.QuantityOverride, nil
	}

	switch cfg.SizingMode {
	case models.SizingFixedNotional:
		if cfg.FixedNotional <= 0 {
			return 0, &Error{Kind: KindValidation, Message: "fixed notional not configured"}
		}
		return cfg.FixedNotional / sig.Price, nil

	case models.SizingBalancePercent:
		balance, err := e.client.AvailableBalance(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch balance: %w", err)
		}
		return balance * cfg.BalancePercent / 100 / sig.Price, nil

	case models.SizingRiskPercent:
		if cfg.StopLossPercent <= 0 {
			return 0, &Error{Kind: KindValidation, Message: "risk sizing requires a stop loss"}
		}
		balance, err := e.client.AvailableBalance(ctx)
		if err != nil {
			return 0, fmt.Errorf("fetch balance: %w", err)
		}
		riskAmount := balance * cfg.RiskPercent / 100
		stopDistance := sig.Price * cfg.StopLossPercent / 100
		return riskAmount / stopDistance, nil

	default:
		return 0, &Error{Kind: KindValidation, Message: fmt.Sprintf("unknown sizing mode %q", cfg.SizingMode)}
	}
}

// placeWithPrecisionRetry walks the quantity precision ladder 3, 2, 1, 0.
// Venues reject orders violating lot-size filters the caller cannot see;
// retrying coarser is the only recovery. The first non-precision failure is
// terminal.
func (e *Executor) placeWithPrecisionRetry(ctx context.Context, symbol, side string, quantity float64) (orderID string, acceptedQty float64, precision int, err error) {
	var lastErr error

	for p := 3; p >= 0; p-- {
		rounded := floorTo(quantity, p)
		if rounded <= 0 {
			lastErr = &Error{Kind: KindValidation, Message: fmt.Sprintf("quantity %.8f rounds to zero at %d decimals", quantity, p)}
			continue
		}

		qty := strconv.FormatFloat(rounded, 'f', p, 64)
		orderID, err := e.client.PlaceMarketOrder(ctx, symbol, side, qty, false)
		if err == nil {
			return orderID, rounded, p, nil
		}
		if !IsPrecisionError(err) {
			return "", 0, 0, err
		}

		e.logger.Warn("Venue rejected quantity precision, retrying coarser",
			zap.String("symbol", symbol),
			zap.String("quantity", qty),
			zap.Int("next_precision", p-1),
		)
		lastErr = err
	}
	return "", 0, 0, fmt.Errorf("exhausted precision ladder: %w", lastErr)
}

// placeProtectiveLegs attaches stop-loss, take-profit legs, and trailing
// stop. Failures are collected, not fatal: the entry is already live.
func (e *Executor) placeProtectiveLegs(ctx context.Context, cfg *models.StrategyConfig, sig analyzer.Signal, entrySide string, quantity float64, precision int) []string {
	var errs []string

	long := entrySide == SideBuy
	closeSide := SideSell
	if !long {
		closeSide = SideBuy
	}

	if cfg.StopLossPercent > 0 {
		stopPrice := offsetPrice(sig.Price, cfg.StopLossPercent, !long)
		if err := e.client.PlaceStopLoss(ctx, sig.Symbol, closeSide, stopPrice); err != nil {
			errs = append(errs, fmt.Sprintf("stop loss: %v", err))
		}
	}

	for i, leg := range cfg.TakeProfitLegs() {
		if !leg.Enabled || leg.Percent <= 0 || leg.CloseFraction <= 0 {
			continue
		}
		target := offsetPrice(sig.Price, leg.Percent, long)
		legQty := floorTo(quantity*leg.CloseFraction, precision)
		if legQty <= 0 {
			errs = append(errs, fmt.Sprintf("take profit %d: quantity rounds to zero", i+1))
			continue
		}
		qty := strconv.FormatFloat(legQty, 'f', precision, 64)
		if err := e.client.PlaceTakeProfit(ctx, sig.Symbol, closeSide, target, qty); err != nil {
			errs = append(errs, fmt.Sprintf("take profit %d: %v", i+1, err))
		}
	}

	if cfg.TrailingEnabled {
		callback := clamp(cfg.TrailingCallback, 0.1, 5)
		var activation float64
		if cfg.TrailingActivation > 0 {
			activation = offsetPrice(sig.Price, cfg.TrailingActivation, long)
		}
		qty := strconv.FormatFloat(quantity, 'f', precision, 64)
		if err := e.client.PlaceTrailingStop(ctx, sig.Symbol, closeSide, qty, callback, activation, sig.Price); err != nil {
			errs = append(errs, fmt.Sprintf("trailing stop: %v", err))
		}
	}

	return errs
}

// offsetPrice moves price by percent, up or down.
func offsetPrice(price, percent float64, up bool) float64 {
	if up {
		return price * (1 + percent/100)
	}
	return price * (1 - percent/100)
}

func floorTo(v float64, decimals int) float64 {
	power := math.Pow(10, float64(decimals))
	return math.Floor(v*power) / power
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
