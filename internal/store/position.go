package store

import (
	"errors"
	"fmt"

	"signal-trade-bot-go/internal/models"

	"gorm.io/gorm"
)

// PositionStore tracks the locally-held open positions.
type PositionStore struct {
	db *gorm.DB
}

// Create inserts a new position record.
func (s *PositionStore) Create(pos *models.Position) error {
	if err := s.db.Create(pos).Error; err != nil {
		return fmt.Errorf("could not save position: %w", err)
	}
	return nil
}

// Save persists in-place updates from the reconciler.
func (s *PositionStore) Save(pos *models.Position) error {
	if err := s.db.Save(pos).Error; err != nil {
		return fmt.Errorf("could not update position: %w", err)
	}
	return nil
}

// OpenCount counts a user's open positions.
func (s *PositionStore) OpenCount(userID uint) (int64, error) {
	var n int64
	err := s.db.Model(&models.Position{}).
		Where("user_id = ? AND open = ?", userID, true).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("could not count open positions: %w", err)
	}
	return n, nil
}

// AllOpen returns every open position across all users, for reconciliation.
func (s *PositionStore) AllOpen() ([]models.Position, error) {
	var positions []models.Position
	if err := s.db.Where("open = ?", true).Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("could not load open positions: %w", err)
	}
	return positions, nil
}

// OpenBySymbol finds a strategy's open position for one symbol.
func (s *PositionStore) OpenBySymbol(strategyID uint, symbol string) (*models.Position, error) {
	var pos models.Position
	err := s.db.Where("strategy_id = ? AND symbol = ? AND open = ?", strategyID, symbol, true).
		First(&pos).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not load position: %w", err)
	}
	return &pos, nil
}
