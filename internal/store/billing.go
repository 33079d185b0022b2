package store

import (
	"errors"
	"fmt"

	"signal-trade-bot-go/internal/models"

	"gorm.io/gorm"
)

// BillingStore owns the gas-fee balance, its ledger, and the settlement
// records. Balance mutations and their ledger rows are written inside one
// gorm transaction so the after = before + amount invariant cannot be
// half-persisted.
type BillingStore struct {
	db *gorm.DB
}

// Transaction runs fn against a store bound to one database transaction.
// Every write fn makes commits or rolls back as a unit; the profit cascade
// depends on this to never half-persist a settlement.
func (s *BillingStore) Transaction(fn func(tx *BillingStore) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&BillingStore{db: tx})
	})
}

// GetOrCreateBalance lazily creates the (user, environment) balance row.
func (s *BillingStore) GetOrCreateBalance(userID uint, environment string) (*models.GasFeeBalance, error) {
	var bal models.GasFeeBalance
	err := s.db.Where(models.GasFeeBalance{UserID: userID, Environment: environment}).
		FirstOrCreate(&bal).Error
	if err != nil {
		return nil, fmt.Errorf("could not load balance for user %d: %w", userID, err)
	}
	return &bal, nil
}

// ApplyTransaction mutates a balance by the signed amount and appends the
// matching ledger row atomically. It returns the ledger entry.
func (s *BillingStore) ApplyTransaction(userID uint, environment string, amount float64, txType, reference string) (*models.GasFeeTransaction, error) {
	var entry *models.GasFeeTransaction

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var bal models.GasFeeBalance
		if err := tx.Where(models.GasFeeBalance{UserID: userID, Environment: environment}).
			FirstOrCreate(&bal).Error; err != nil {
			return err
		}

		before := bal.Balance
		bal.Balance = before + amount
		if amount >= 0 {
			bal.TotalDeposited += amount
		} else {
			bal.TotalDeducted += -amount
		}
		if err := tx.Save(&bal).Error; err != nil {
			return err
		}

		entry = &models.GasFeeTransaction{
			UserID:        userID,
			Environment:   environment,
			Amount:        amount,
			Type:          txType,
			Reference:     reference,
			BalanceBefore: before,
			BalanceAfter:  bal.Balance,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("could not apply %s transaction for user %d: %w", txType, userID, err)
	}
	return entry, nil
}

// SettlementExists reports whether a trade has already been settled. This is
// the idempotency check the profit engine relies on.
func (s *BillingStore) SettlementExists(tradeID string) (bool, error) {
	var n int64
	err := s.db.Model(&models.ProfitSettlement{}).
		Where("trade_id = ?", tradeID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("could not check settlement for trade %s: %w", tradeID, err)
	}
	return n > 0, nil
}

// CreateSettlement records the one-time settlement for a trade. The unique
// index on trade_id backs up the caller's existence check.
func (s *BillingStore) CreateSettlement(settlement *models.ProfitSettlement) error {
	if err := s.db.Create(settlement).Error; err != nil {
		return fmt.Errorf("could not record settlement: %w", err)
	}
	return nil
}

// CreateCommission records one referral payout.
func (s *BillingStore) CreateCommission(c *models.ReferralCommission) error {
	if err := s.db.Create(c).Error; err != nil {
		return fmt.Errorf("could not record commission: %w", err)
	}
	return nil
}

// CreateEarning records the admin's share for a settled trade.
func (s *BillingStore) CreateEarning(e *models.AdminEarning) error {
	if err := s.db.Create(e).Error; err != nil {
		return fmt.Errorf("could not record admin earning: %w", err)
	}
	return nil
}

// EarningForTrade loads the admin's share for one settled trade, or
// ErrNotFound when the trade never settled.
func (s *BillingStore) EarningForTrade(tradeID string) (*models.AdminEarning, error) {
	var earning models.AdminEarning
	if err := s.db.Where("trade_id = ?", tradeID).First(&earning).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not load earning for trade %s: %w", tradeID, err)
	}
	return &earning, nil
}

// Transactions returns a user's ledger, newest first.
func (s *BillingStore) Transactions(userID uint, environment string, limit int) ([]models.GasFeeTransaction, error) {
	var rows []models.GasFeeTransaction
	err := s.db.Where("user_id = ? AND environment = ?", userID, environment).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("could not load transactions: %w", err)
	}
	return rows, nil
}

// CommissionsForTrade returns the commission rows written for one trade.
func (s *BillingStore) CommissionsForTrade(tradeID string) ([]models.ReferralCommission, error) {
	var rows []models.ReferralCommission
	if err := s.db.Where("trade_id = ?", tradeID).Order("level").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("could not load commissions: %w", err)
	}
	return rows, nil
}

// ProfileStore resolves the referral chain.
type ProfileStore struct {
	db *gorm.DB
}

// ByUserID loads a profile, or ErrNotFound when the user has none.
func (s *ProfileStore) ByUserID(userID uint) (*models.UserProfile, error) {
	var profile models.UserProfile
	if err := s.db.Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not load profile for user %d: %w", userID, err)
	}
	return &profile, nil
}

// Create inserts a profile row.
func (s *ProfileStore) Create(profile *models.UserProfile) error {
	return s.db.Create(profile).Error
}

// CredentialStore looks up venue API credential rows. Decryption lives in
// the credential package; this store only does persistence.
type CredentialStore struct {
	db *gorm.DB
}

// ActiveFor finds the active credential for (user, venue, product, environment).
func (s *CredentialStore) ActiveFor(userID uint, venue, productType, environment string) (*models.APICredential, error) {
	var cred models.APICredential
	err := s.db.Where(
		"user_id = ? AND venue = ? AND product_type = ? AND environment = ? AND active = ?",
		userID, venue, productType, environment, true,
	).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("could not load credential: %w", err)
	}
	return &cred, nil
}

// Create inserts a credential row.
func (s *CredentialStore) Create(cred *models.APICredential) error {
	return s.db.Create(cred).Error
}
