package store

import (
	"errors"
	"fmt"
	"time"

	"signal-trade-bot-go/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("record not found")

// StrategyStore reads and updates strategy configurations. Every load path
// runs ApplyDefaults so the pipeline never sees unset tuning fields.
type StrategyStore struct {
	db *gorm.DB
}

// Active returns all enabled strategies with defaults applied.
func (s *StrategyStore) Active() ([]models.StrategyConfig, error) {
	var list []models.StrategyConfig
	if err := s.db.Where("enabled = ?", true).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("could not load active strategies: %w", err)
	}
	for i := range list {
		list[i].ApplyDefaults()
	}
	return list, nil
}

// ByID loads one strategy by primary key.
func (s *StrategyStore) ByID(id uint) (*models.StrategyConfig, error) {
	var cfg models.StrategyConfig
	if err := s.db.First(&cfg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not load strategy %d: %w", id, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// BySecret matches an inbound alert's secret token to a strategy.
func (s *StrategyStore) BySecret(secret string) (*models.StrategyConfig, error) {
	var cfg models.StrategyConfig
	if err := s.db.Where("secret = ?", secret).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not match strategy secret: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Create inserts a strategy row.
func (s *StrategyStore) Create(cfg *models.StrategyConfig) error {
	return s.db.Create(cfg).Error
}

// TouchLastSignal records that the pipeline just acted on this strategy.
// This is the only strategy mutation the pipeline performs.
func (s *StrategyStore) TouchLastSignal(id uint, at time.Time) error {
	return s.db.Model(&models.StrategyConfig{}).Where("id = ?", id).
		Update("last_signal_at", at).Error
}
