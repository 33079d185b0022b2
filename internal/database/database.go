package database

import (
	"fmt"

	"signal-trade-bot-go/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for every entity the pipeline
// touches. Nothing is dropped: trades, ledger rows and webhook logs are
// append-only by design.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.StrategyConfig{},
		&models.Trade{},
		&models.Position{},
		&models.WebhookLog{},
		&models.GasFeeBalance{},
		&models.GasFeeTransaction{},
		&models.ReferralCommission{},
		&models.AdminEarning{},
		&models.ProfitSettlement{},
		&models.UserProfile{},
		&models.APICredential{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
