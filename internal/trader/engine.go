// Package trader is the orchestrator: it sequences market data, analysis,
// risk gating and execution on every tick, handles inbound webhook alerts,
// and drives the reconciler. All persistence and audit rows are written
// here; the components below it stay side-effect free toward the database.
package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/analyzer"
	"signal-trade-bot-go/internal/credential"
	"signal-trade-bot-go/internal/keyedlock"
	"signal-trade-bot-go/internal/market"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/profit"
	"signal-trade-bot-go/internal/reconciler"
	"signal-trade-bot-go/internal/risk"
	"signal-trade-bot-go/internal/store"
	"signal-trade-bot-go/internal/venue"
)

// Alert is the inbound webhook payload. Either StrategyID or Secret must
// identify the target strategy.
type Alert struct {
	Action      string  `json:"action" validate:"required,oneof=buy sell close"`
	Symbol      string  `json:"symbol" validate:"required"`
	Price       float64 `json:"price" validate:"omitempty,gt=0"`
	Quantity    float64 `json:"quantity" validate:"omitempty,gt=0"`
	Leverage    int     `json:"leverage" validate:"omitempty,gte=1,lte=125"`
	StopLoss    float64 `json:"sl" validate:"omitempty,gt=0"`
	TakeProfit1 float64 `json:"tp1" validate:"omitempty,gt=0"`
	TakeProfit2 float64 `json:"tp2" validate:"omitempty,gt=0"`
	TakeProfit3 float64 `json:"tp3" validate:"omitempty,gt=0"`
	StrategyID  uint    `json:"strategy_id"`
	Secret      string  `json:"secret"`
}

// AlertResult is the webhook response body.
type AlertResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	TradeID string `json:"tradeId,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TickSummary reports what one signal tick did, per outcome.
type TickSummary struct {
	Strategies int `json:"strategies"`
	Skipped    int `json:"skipped"`
	Signals    int `json:"signals"`
	Executed   int `json:"executed"`
	Rejected   int `json:"rejected"`
	Failed     int `json:"failed"`
}

// Engine sequences the whole pipeline.
type Engine struct {
	stores      *store.Stores
	gateway     market.Gateway
	gate        *risk.Gate
	credentials credential.Provider
	newClient   venue.Factory
	clientCfg   venue.ClientConfig
	reconciler  *reconciler.Reconciler
	profit      *profit.Engine
	locks       *keyedlock.Keyed
	logger      *zap.Logger

	tickInterval time.Duration
	now          func() time.Time
}

// NewEngine wires the orchestrator. newClient is injectable so tests can
// substitute a fake venue. locks must be the same lock set the reconciler
// uses, so alert closes and reconcile sweeps exclude each other per
// position.
func NewEngine(
	stores *store.Stores,
	gateway market.Gateway,
	gate *risk.Gate,
	credentials credential.Provider,
	newClient venue.Factory,
	clientCfg venue.ClientConfig,
	rec *reconciler.Reconciler,
	profitEngine *profit.Engine,
	locks *keyedlock.Keyed,
	tickInterval time.Duration,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		stores:       stores,
		gateway:      gateway,
		gate:         gate,
		credentials:  credentials,
		newClient:    newClient,
		clientCfg:    clientCfg,
		reconciler:   rec,
		profit:       profitEngine,
		locks:        locks,
		logger:       logger.Named("trader"),
		tickInterval: tickInterval,
		now:          time.Now,
	}
}

// Run drives both ticks on the configured interval until the context is
// canceled. One tick runs immediately on start.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Trading engine started", zap.Duration("tick_interval", e.tickInterval))

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		e.RunSignalTick(ctx)
		e.RunReconcileTick(ctx)

		select {
		case <-ctx.Done():
			e.logger.Info("Trading engine stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunSignalTick evaluates every active strategy once. Strategies are
// processed sequentially; a strategy whose previous run is still in flight
// is skipped, not queued.
func (e *Engine) RunSignalTick(ctx context.Context) TickSummary {
	var summary TickSummary

	strategies, err := e.stores.Strategies.Active()
	if err != nil {
		e.logger.Error("Could not load strategies", zap.Error(err))
		return summary
	}
	summary.Strategies = len(strategies)

	for i := range strategies {
		cfg := &strategies[i]
		key := strategyKey(cfg.ID)
		if !e.locks.TryLock(key) {
			e.logger.Debug("Strategy tick still in flight, skipping", zap.Uint("strategy_id", cfg.ID))
			summary.Skipped++
			continue
		}
		e.runStrategy(ctx, cfg, &summary)
		e.locks.Unlock(key)
	}
	return summary
}

// RunReconcileTick sweeps all open positions against venue truth.
func (e *Engine) RunReconcileTick(ctx context.Context) {
	e.reconciler.Tick(ctx)
}

func (e *Engine) runStrategy(ctx context.Context, cfg *models.StrategyConfig, summary *TickSummary) {
	if !e.autoSignalDue(cfg) {
		summary.Skipped++
		return
	}

	l := e.logger.With(zap.Uint("strategy_id", cfg.ID), zap.String("strategy", cfg.Name))

	acted := false
	for _, symbol := range cfg.SymbolList() {
		candles := e.gateway.Candles(ctx, cfg.Venue, symbol, cfg.Interval, cfg.Environment == models.EnvTestnet, cfg.ProductType, cfg.CandleLimit)
		sig := analyzer.Analyze(candles, indicatorParams(cfg), symbol)
		if sig.Action == analyzer.ActionNone {
			continue
		}
		summary.Signals++

		l.Info("Signal generated",
			zap.String("symbol", symbol),
			zap.String("action", string(sig.Action)),
			zap.Float64("confidence", sig.Confidence),
			zap.String("trend", sig.Trend),
		)

		outcome := e.executeSignal(ctx, cfg, sig, models.TriggerAutoSignal, venue.Options{})
		switch outcome.status {
		case models.WebhookExecuted:
			summary.Executed++
			acted = true
		case models.WebhookRejected, models.WebhookFiltered:
			summary.Rejected++
		default:
			summary.Failed++
		}
	}

	if acted {
		if err := e.stores.Strategies.TouchLastSignal(cfg.ID, e.now().UTC()); err != nil {
			l.Error("Could not update last-signal timestamp", zap.Error(err))
		}
	}
}

// autoSignalDue is the per-strategy rate limit for automatic signals. A
// webhook alert is never throttled by it.
func (e *Engine) autoSignalDue(cfg *models.StrategyConfig) bool {
	if cfg.AutoSignalIntervalMin <= 0 || cfg.LastSignalAt == nil {
		return true
	}
	interval := time.Duration(cfg.AutoSignalIntervalMin) * time.Minute
	return e.now().Sub(*cfg.LastSignalAt) >= interval
}

type signalOutcome struct {
	status  string
	orderID string
	tradeID string
	errMsg  string
}

// executeSignal runs one gated signal to completion: risk gate, venue
// client construction, order execution, and the trade/position/audit rows.
func (e *Engine) executeSignal(ctx context.Context, cfg *models.StrategyConfig, sig analyzer.Signal, triggerSource string, opts venue.Options) signalOutcome {
	l := e.logger.With(
		zap.Uint("strategy_id", cfg.ID),
		zap.String("symbol", sig.Symbol),
		zap.String("action", string(sig.Action)),
		zap.String("trigger", triggerSource),
	)

	verdict := e.gate.Evaluate(ctx, cfg, sig, triggerSource)
	if !verdict.Allowed {
		status := models.WebhookRejected
		if verdict.Reason == risk.ReasonLowConfidence || verdict.Reason == risk.ReasonAdvisorDeclined {
			status = models.WebhookFiltered
		}
		l.Info("Signal did not pass risk gate", zap.String("reason", verdict.Reason))
		e.audit(cfg.ID, sig, status, verdict.Reason)
		return signalOutcome{status: status, errMsg: verdict.Reason}
	}

	client, err := e.clientForStrategy(cfg)
	if err != nil {
		l.Warn("No venue client for strategy", zap.Error(err))
		e.audit(cfg.ID, sig, models.WebhookFailed, err.Error())
		return signalOutcome{status: models.WebhookFailed, errMsg: err.Error()}
	}

	executor := venue.NewExecutor(client, e.logger)
	res := executor.Execute(ctx, cfg, sig, opts)
	if !res.Success {
		l.Error("Execution failed", zap.String("error", res.Error))
		e.audit(cfg.ID, sig, models.WebhookFailed, res.Error)
		return signalOutcome{status: models.WebhookFailed, errMsg: res.Error}
	}

	tradeID := uuid.NewString()
	side := venue.SideBuy
	posSide := models.PositionLong
	if sig.Action == analyzer.ActionSell {
		side = venue.SideSell
		posSide = models.PositionShort
	}

	trade := &models.Trade{
		TradeID:       tradeID,
		UserID:        cfg.UserID,
		StrategyID:    cfg.ID,
		Venue:         cfg.Venue,
		Environment:   cfg.Environment,
		Symbol:        sig.Symbol,
		Side:          side,
		Price:         sig.Price,
		Quantity:      res.Quantity,
		Status:        models.TradeStatusFilled,
		VenueOrderID:  res.OrderID,
		TriggerSource: triggerSource,
		ExecutedAt:    e.now().UTC(),
	}
	if err := e.stores.Trades.Create(trade); err != nil {
		l.Error("Could not record trade", zap.Error(err))
	}

	long := posSide == models.PositionLong
	position := &models.Position{
		UserID:       cfg.UserID,
		StrategyID:   cfg.ID,
		Venue:        cfg.Venue,
		ProductType:  cfg.ProductType,
		Environment:  cfg.Environment,
		Symbol:       sig.Symbol,
		Side:         posSide,
		Size:         res.Quantity,
		EntryPrice:   sig.Price,
		CurrentPrice: sig.Price,
		Leverage:     cfg.Leverage,
		Open:         true,
	}
	if cfg.StopLossPercent > 0 {
		position.StopLoss = protectivePrice(sig.Price, cfg.StopLossPercent, !long)
	}
	if cfg.TakeProfit1.Enabled && cfg.TakeProfit1.Percent > 0 {
		position.TakeProfit = protectivePrice(sig.Price, cfg.TakeProfit1.Percent, long)
	}
	if err := e.stores.Positions.Create(position); err != nil {
		l.Error("Could not record position", zap.Error(err))
	}

	// Partial success: entry filled but one or more protective legs failed.
	// The position is live either way; the audit row carries the leg errors.
	e.audit(cfg.ID, sig, models.WebhookExecuted, res.Error)
	l.Info("Signal executed",
		zap.String("trade_id", tradeID),
		zap.String("order_id", res.OrderID),
		zap.Float64("quantity", res.Quantity),
	)
	return signalOutcome{
		status:  models.WebhookExecuted,
		orderID: res.OrderID,
		tradeID: tradeID,
		errMsg:  res.Error,
	}
}

// ExecuteAlert handles one inbound webhook alert synchronously and returns
// the response body for the HTTP layer.
func (e *Engine) ExecuteAlert(ctx context.Context, alert Alert) AlertResult {
	cfg, err := e.matchStrategy(alert)
	if err != nil {
		return AlertResult{Error: err.Error()}
	}
	if !cfg.Enabled {
		return AlertResult{Error: "strategy is disabled"}
	}

	key := strategyKey(cfg.ID)
	if !e.locks.TryLock(key) {
		return AlertResult{Error: "strategy is busy"}
	}
	defer e.locks.Unlock(key)

	payload, _ := json.Marshal(alert)

	if alert.Action == "close" {
		return e.closeAlert(ctx, cfg, alert, string(payload))
	}

	price := alert.Price
	if price <= 0 {
		price, err = e.midPrice(ctx, cfg, alert.Symbol)
		if err != nil {
			e.auditRaw(cfg.ID, alert.Symbol, string(payload), models.WebhookFailed, err.Error())
			return AlertResult{Error: err.Error()}
		}
	}

	applyOverrides(cfg, alert)

	sig := analyzer.Signal{
		Action:     analyzer.Action(alert.Action),
		Symbol:     alert.Symbol,
		Price:      price,
		Confidence: 1.0, // the sender already decided; the gate still applies
	}

	outcome := e.executeSignal(ctx, cfg, sig, models.TriggerWebhook, venue.Options{QuantityOverride: alert.Quantity})
	return AlertResult{
		Success: outcome.status == models.WebhookExecuted,
		OrderID: outcome.orderID,
		TradeID: outcome.tradeID,
		Error:   outcome.errMsg,
	}
}

// closeAlert closes the strategy's open position for the symbol with a
// reduce-only market order. Close bypasses the risk gate: reducing exposure
// must never be blocked by admission control.
func (e *Engine) closeAlert(ctx context.Context, cfg *models.StrategyConfig, alert Alert, payload string) AlertResult {
	pos, err := e.stores.Positions.OpenBySymbol(cfg.ID, alert.Symbol)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return AlertResult{Error: "no open position for symbol"}
		}
		return AlertResult{Error: err.Error()}
	}

	// The reconciler closes through the same lock; whichever side loses
	// the race sees the position already closed instead of closing twice.
	posKey := reconciler.PositionKey(pos.ID)
	if !e.locks.TryLock(posKey) {
		return AlertResult{Error: "position is busy"}
	}
	defer e.locks.Unlock(posKey)

	client, err := e.clientForStrategy(cfg)
	if err != nil {
		e.auditRaw(cfg.ID, alert.Symbol, payload, models.WebhookFailed, err.Error())
		return AlertResult{Error: err.Error()}
	}

	side := venue.SideSell
	if pos.Side == models.PositionShort {
		side = venue.SideBuy
	}
	qty := strconv.FormatFloat(pos.Size, 'f', -1, 64)

	orderID, err := client.PlaceMarketOrder(ctx, pos.Symbol, side, qty, true)
	if err != nil {
		e.auditRaw(cfg.ID, alert.Symbol, payload, models.WebhookFailed, err.Error())
		return AlertResult{Error: fmt.Sprintf("close order: %v", err)}
	}

	realized := pos.UnrealizedPnL
	pos.Open = false
	pos.UnrealizedPnL = 0
	if err := e.stores.Positions.Save(pos); err != nil {
		e.logger.Error("Could not close position record", zap.Error(err))
	}

	tradeID := uuid.NewString()
	trade := &models.Trade{
		TradeID:       tradeID,
		UserID:        cfg.UserID,
		StrategyID:    cfg.ID,
		Venue:         cfg.Venue,
		Environment:   cfg.Environment,
		Symbol:        pos.Symbol,
		Side:          side,
		Price:         pos.CurrentPrice,
		Quantity:      pos.Size,
		RealizedPnL:   &realized,
		Status:        models.TradeStatusClosed,
		VenueOrderID:  orderID,
		TriggerSource: models.TriggerWebhook,
		ExecutedAt:    e.now().UTC(),
	}
	if err := e.stores.Trades.Create(trade); err != nil {
		e.logger.Error("Could not record closing trade", zap.Error(err))
	}

	e.auditRaw(cfg.ID, alert.Symbol, payload, models.WebhookExecuted, "")

	if realized > 0 && e.profit != nil {
		if err := e.profit.Settle(ctx, cfg.UserID, tradeID, realized, cfg.Environment); err != nil {
			e.logger.Error("Settlement failed", zap.String("trade_id", tradeID), zap.Error(err))
		}
	}

	return AlertResult{Success: true, OrderID: orderID, TradeID: tradeID}
}

func (e *Engine) matchStrategy(alert Alert) (*models.StrategyConfig, error) {
	switch {
	case alert.StrategyID > 0:
		cfg, err := e.stores.Strategies.ByID(alert.StrategyID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("unknown strategy")
		}
		return cfg, err
	case alert.Secret != "":
		cfg, err := e.stores.Strategies.BySecret(alert.Secret)
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("unknown strategy")
		}
		return cfg, err
	default:
		return nil, errors.New("alert must carry strategy_id or secret")
	}
}

func (e *Engine) clientForStrategy(cfg *models.StrategyConfig) (venue.Client, error) {
	keys, err := e.credentials.Resolve(cfg.UserID, cfg.Venue, cfg.ProductType, cfg.Environment)
	if err != nil {
		if errors.Is(err, credential.ErrNotConfigured) {
			return nil, fmt.Errorf("no active %s credential", cfg.Venue)
		}
		return nil, err
	}

	clientCfg := e.clientCfg
	clientCfg.Testnet = cfg.Environment == models.EnvTestnet
	clientCfg.ProductType = cfg.ProductType
	return e.newClient(cfg.Venue, keys, clientCfg, e.logger)
}

// midPrice prices an alert that arrived without one.
func (e *Engine) midPrice(ctx context.Context, cfg *models.StrategyConfig, symbol string) (float64, error) {
	bid, ask, err := e.gateway.BestBidAsk(ctx, cfg.Venue, symbol, cfg.Environment == models.EnvTestnet, cfg.ProductType)
	if err != nil || bid <= 0 || ask <= 0 {
		return 0, errors.New("alert has no price and the order book is unavailable")
	}
	return (bid + ask) / 2, nil
}

// applyOverrides lets an alert tighten a single execution without touching
// the stored strategy. cfg here is a per-call copy loaded by the store.
func applyOverrides(cfg *models.StrategyConfig, alert Alert) {
	if alert.Leverage > 0 {
		cfg.Leverage = alert.Leverage
	}
	if alert.StopLoss > 0 {
		cfg.StopLossPercent = alert.StopLoss
	}
	if alert.TakeProfit1 > 0 {
		cfg.TakeProfit1 = models.TakeProfitLeg{Enabled: true, Percent: alert.TakeProfit1, CloseFraction: 1}
	}
	if alert.TakeProfit2 > 0 {
		cfg.TakeProfit1.CloseFraction = 0.5
		cfg.TakeProfit2 = models.TakeProfitLeg{Enabled: true, Percent: alert.TakeProfit2, CloseFraction: 0.5}
	}
	if alert.TakeProfit3 > 0 {
		cfg.TakeProfit1.CloseFraction = 0.34
		cfg.TakeProfit2.CloseFraction = 0.33
		cfg.TakeProfit3 = models.TakeProfitLeg{Enabled: true, Percent: alert.TakeProfit3, CloseFraction: 0.33}
	}
}

func (e *Engine) audit(strategyID uint, sig analyzer.Signal, status, errMsg string) {
	payload, _ := json.Marshal(map[string]interface{}{
		"action":     sig.Action,
		"symbol":     sig.Symbol,
		"price":      sig.Price,
		"confidence": sig.Confidence,
	})
	e.auditRaw(strategyID, sig.Symbol, string(payload), status, errMsg)
}

func (e *Engine) auditRaw(strategyID uint, symbol, payload, status, errMsg string) {
	err := e.stores.WebhookLogs.Append(&models.WebhookLog{
		StrategyID:   strategyID,
		Symbol:       symbol,
		Payload:      payload,
		Status:       status,
		ErrorMessage: errMsg,
	})
	if err != nil {
		e.logger.Error("Could not append audit log", zap.Error(err))
	}
}

func indicatorParams(cfg *models.StrategyConfig) analyzer.Params {
	return analyzer.Params{
		EMAFast:          cfg.EMAFast,
		EMASlow:          cfg.EMASlow,
		RSIPeriod:        cfg.RSIPeriod,
		RSIOversold:      cfg.RSIOversold,
		RSIOverbought:    cfg.RSIOverbought,
		MACDFast:         cfg.MACDFast,
		MACDSlow:         cfg.MACDSlow,
		MACDSignal:       cfg.MACDSignal,
		VolumeMultiplier: cfg.VolumeMultiplier,
	}
}

func strategyKey(id uint) string {
	return fmt.Sprintf("strategy:%d", id)
}

// protectivePrice mirrors the executor's offset arithmetic for the stored
// position levels.
func protectivePrice(price, percent float64, up bool) float64 {
	if up {
		return price * (1 + percent/100)
	}
	return price * (1 - percent/100)
}
