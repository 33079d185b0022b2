// Package reconciler keeps the local position book in sync with the venues.
// Positions closed on the exchange side (stop loss, take profit, manual
// close) are marked closed locally, a closing trade is recorded, and
// profitable closes are handed to the profit engine for settlement.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-trade-bot-go/internal/credential"
	"signal-trade-bot-go/internal/keyedlock"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/profit"
	"signal-trade-bot-go/internal/store"
	"signal-trade-bot-go/internal/venue"
)

// PositionKey names the lock guarding one position's close path. Every
// writer of a position close (reconcile sweep, manual close) must hold it,
// so the lock set has to be shared across those components.
func PositionKey(id uint) string {
	return fmt.Sprintf("position:%d", id)
}

// Reconciler walks all locally-open positions once per tick.
type Reconciler struct {
	positions   *store.PositionStore
	trades      *store.TradeStore
	credentials credential.Provider
	newClient   venue.Factory
	clientCfg   venue.ClientConfig
	profit      *profit.Engine
	locks       *keyedlock.Keyed
	logger      *zap.Logger
}

// New wires the reconciler. newClient is injectable for tests; locks is the
// process-wide lock set shared with the orchestrator.
func New(positions *store.PositionStore, trades *store.TradeStore, credentials credential.Provider, newClient venue.Factory, clientCfg venue.ClientConfig, profitEngine *profit.Engine, locks *keyedlock.Keyed, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		positions:   positions,
		trades:      trades,
		credentials: credentials,
		newClient:   newClient,
		clientCfg:   clientCfg,
		profit:      profitEngine,
		locks:       locks,
		logger:      logger.Named("reconciler"),
	}
}

type clientKey struct {
	userID      uint
	venueName   string
	productType string
	environment string
}

// Tick reconciles every open position. One venue client is built per
// (user, venue, product, environment) group and reused across that group's
// positions. Failures on one position never stop the sweep.
func (r *Reconciler) Tick(ctx context.Context) {
	positions, err := r.positions.AllOpen()
	if err != nil {
		r.logger.Error("Could not load open positions", zap.Error(err))
		return
	}
	if len(positions) == 0 {
		return
	}

	clients := make(map[clientKey]venue.Client)
	for i := range positions {
		pos := &positions[i]
		key := PositionKey(pos.ID)
		if !r.locks.TryLock(key) {
			// Another sweep or a manual close holds this position; closing
			// it here too would mint a second trade and a second settlement.
			r.logger.Debug("Position already being reconciled, skipping", zap.Uint("position_id", pos.ID))
			continue
		}
		if client, err := r.clientFor(pos, clients); err == nil {
			r.reconcile(ctx, pos, client)
		}
		r.locks.Unlock(key)
	}
}

func (r *Reconciler) clientFor(pos *models.Position, clients map[clientKey]venue.Client) (venue.Client, error) {
	key := clientKey{pos.UserID, pos.Venue, pos.ProductType, pos.Environment}
	if client, ok := clients[key]; ok {
		return client, nil
	}

	keys, err := r.credentials.Resolve(pos.UserID, pos.Venue, pos.ProductType, pos.Environment)
	if err != nil {
		if errors.Is(err, credential.ErrNotConfigured) {
			r.logger.Warn("No active credential for open position, skipping",
				zap.Uint("user_id", pos.UserID),
				zap.String("venue", pos.Venue),
				zap.String("symbol", pos.Symbol))
		} else {
			r.logger.Error("Credential resolution failed", zap.Error(err))
		}
		return nil, err
	}

	cfg := r.clientCfg
	cfg.Testnet = pos.Environment == models.EnvTestnet
	cfg.ProductType = pos.ProductType

	client, err := r.newClient(pos.Venue, keys, cfg, r.logger)
	if err != nil {
		r.logger.Error("Could not build venue client", zap.String("venue", pos.Venue), zap.Error(err))
		return nil, err
	}
	clients[key] = client
	return client, nil
}

func (r *Reconciler) reconcile(ctx context.Context, pos *models.Position, client venue.Client) {
	state, err := client.Position(ctx, pos.Symbol)
	if err != nil {
		r.logger.Warn("Position query failed",
			zap.String("venue", pos.Venue),
			zap.String("symbol", pos.Symbol),
			zap.Error(err))
		return
	}

	if state == nil || state.Size == 0 {
		r.closeLocal(ctx, pos)
		return
	}

	pos.Size = state.Size
	pos.CurrentPrice = state.MarkPrice
	pos.UnrealizedPnL = state.UnrealizedPnL
	if err := r.positions.Save(pos); err != nil {
		r.logger.Error("Could not update position", zap.Error(err))
	}
}

// closeLocal marks a position closed, records the closing trade with the
// last mark-to-market PnL the reconciler saw, and settles profitable
// closes. The realized figure is an estimate: the exchange no longer
// reports the position it just closed.
func (r *Reconciler) closeLocal(ctx context.Context, pos *models.Position) {
	realized := pos.UnrealizedPnL

	pos.Open = false
	pos.UnrealizedPnL = 0
	if err := r.positions.Save(pos); err != nil {
		r.logger.Error("Could not close position", zap.Error(err))
		return
	}

	side := venue.SideSell
	if pos.Side == models.PositionShort {
		side = venue.SideBuy
	}

	tradeID := uuid.NewString()
	trade := &models.Trade{
		TradeID:       tradeID,
		UserID:        pos.UserID,
		StrategyID:    pos.StrategyID,
		Venue:         pos.Venue,
		Environment:   pos.Environment,
		Symbol:        pos.Symbol,
		Side:          side,
		Price:         pos.CurrentPrice,
		Quantity:      pos.Size,
		RealizedPnL:   &realized,
		Status:        models.TradeStatusClosed,
		TriggerSource: models.TriggerPositionMonitor,
		ExecutedAt:    time.Now().UTC(),
	}
	if err := r.trades.Create(trade); err != nil {
		r.logger.Error("Could not record closing trade", zap.Error(err))
		return
	}

	r.logger.Info("Position closed on venue side",
		zap.String("symbol", pos.Symbol),
		zap.String("side", pos.Side),
		zap.Float64("realized_pnl", realized))

	if realized > 0 && r.profit != nil {
		if err := r.profit.Settle(ctx, pos.UserID, tradeID, realized, pos.Environment); err != nil {
			r.logger.Error("Settlement failed", zap.String("trade_id", tradeID), zap.Error(err))
		}
	}
}
