package store

import (
	"fmt"

	"signal-trade-bot-go/internal/models"

	"gorm.io/gorm"
)

// WebhookLogStore appends audit rows. The trail is append-only.
type WebhookLogStore struct {
	db *gorm.DB
}

// Append writes one audit entry.
func (s *WebhookLogStore) Append(log *models.WebhookLog) error {
	if err := s.db.Create(log).Error; err != nil {
		return fmt.Errorf("could not append webhook log: %w", err)
	}
	return nil
}

// RecentForStrategy returns the latest audit rows for one strategy.
func (s *WebhookLogStore) RecentForStrategy(strategyID uint, limit int) ([]models.WebhookLog, error) {
	var logs []models.WebhookLog
	err := s.db.Where("strategy_id = ?", strategyID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("could not load webhook logs: %w", err)
	}
	return logs, nil
}
