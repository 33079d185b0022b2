package store

import (
	"fmt"
	"time"

	"signal-trade-bot-go/internal/models"

	"gorm.io/gorm"
)

// TradeStore appends trade records and answers the risk gate's history
// queries. Trade rows are never updated or deleted.
type TradeStore struct {
	db *gorm.DB
}

// Create appends one trade.
func (s *TradeStore) Create(trade *models.Trade) error {
	if err := s.db.Create(trade).Error; err != nil {
		return fmt.Errorf("could not save trade record: %w", err)
	}
	return nil
}

// CountSince counts trades for one strategy and trigger source executed at
// or after the cutoff.
func (s *TradeStore) CountSince(strategyID uint, triggerSource string, since time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&models.Trade{}).
		Where("strategy_id = ? AND trigger_source = ? AND executed_at >= ?", strategyID, triggerSource, since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("could not count trades: %w", err)
	}
	return n, nil
}

// RealizedPnLSince sums realized PnL for one strategy since the cutoff.
// Trades without a realized PnL (open entries) do not contribute.
func (s *TradeStore) RealizedPnLSince(strategyID uint, since time.Time) (float64, error) {
	var total *float64
	err := s.db.Model(&models.Trade{}).
		Where("strategy_id = ? AND executed_at >= ? AND realized_pn_l IS NOT NULL", strategyID, since).
		Select("SUM(realized_pn_l)").Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("could not sum realized pnl: %w", err)
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// RecentSettled returns the most recent trades that carry a realized PnL,
// newest first, capped at limit. Used for the consecutive-loss scan.
func (s *TradeStore) RecentSettled(strategyID uint, limit int) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.
		Where("strategy_id = ? AND realized_pn_l IS NOT NULL", strategyID).
		Order("executed_at DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("could not load recent trades: %w", err)
	}
	return trades, nil
}
