// Package profit settles closed profitable trades: it deducts the service
// fee from the user's gas-fee balance, cascades referral commissions up the
// referrer chain, and books the platform's remaining share.
package profit

import (
	"context"
	"errors"
	"fmt"

	"signal-trade-bot-go/internal/keyedlock"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/store"

	"go.uber.org/zap"
)

const maxReferralLevels = 3

// Engine runs the settlement cascade. Settle is idempotent per trade id:
// both a persisted settlement row and an in-process keyed lock guard
// against double-charging.
type Engine struct {
	billing  *store.BillingStore
	profiles *store.ProfileStore
	locks    *keyedlock.Keyed
	logger   *zap.Logger

	feeRate       float64
	referralRates []float64
}

// NewEngine builds the settlement engine. referralRates[i] is the rate paid
// to the level i+1 referrer; at most three levels are honored.
func NewEngine(billing *store.BillingStore, profiles *store.ProfileStore, feeRate float64, referralRates []float64, logger *zap.Logger) *Engine {
	if len(referralRates) > maxReferralLevels {
		referralRates = referralRates[:maxReferralLevels]
	}
	return &Engine{
		billing:       billing,
		profiles:      profiles,
		locks:         keyedlock.New(),
		logger:        logger.Named("profit"),
		feeRate:       feeRate,
		referralRates: referralRates,
	}
}

// Settle runs the cascade for one closed trade. Trades with zero or
// negative gross profit are skipped: losses carry no fee. A second call for
// the same trade id is a no-op.
func (e *Engine) Settle(ctx context.Context, userID uint, tradeID string, grossProfit float64, environment string) error {
	if grossProfit <= 0 {
		return nil
	}

	if !e.locks.TryLock(tradeID) {
		e.logger.Debug("Settlement already in flight", zap.String("trade_id", tradeID))
		return nil
	}
	defer e.locks.Unlock(tradeID)

	exists, err := e.billing.SettlementExists(tradeID)
	if err != nil {
		return fmt.Errorf("settlement check for trade %s: %w", tradeID, err)
	}
	if exists {
		return nil
	}

	fee := grossProfit * e.feeRate
	net := grossProfit - fee

	// The whole cascade commits or rolls back as one unit. A settlement
	// row without its fee deduction (or vice versa) would be unrecoverable:
	// the idempotency check above turns every retry into a no-op.
	var commissionsPaid float64
	err = e.billing.Transaction(func(tx *store.BillingStore) error {
		if err := tx.CreateSettlement(&models.ProfitSettlement{
			TradeID:     tradeID,
			UserID:      userID,
			Environment: environment,
			GrossProfit: grossProfit,
			FeeRate:     e.feeRate,
			FeeAmount:   fee,
			NetProfit:   net,
		}); err != nil {
			return err
		}

		if _, err := tx.ApplyTransaction(userID, environment, -fee, models.TxServiceFee, tradeID); err != nil {
			return err
		}

		paid, err := e.payReferrals(tx, userID, tradeID, grossProfit, environment)
		if err != nil {
			return err
		}
		commissionsPaid = paid

		return tx.CreateEarning(&models.AdminEarning{
			TradeID:         tradeID,
			UserID:          userID,
			GrossProfit:     grossProfit,
			FeeAmount:       fee,
			CommissionsPaid: commissionsPaid,
			AdminShare:      fee - commissionsPaid,
		})
	})
	if err != nil {
		return fmt.Errorf("settlement cascade for trade %s: %w", tradeID, err)
	}

	e.logger.Info("Trade settled",
		zap.String("trade_id", tradeID),
		zap.Uint("user_id", userID),
		zap.Float64("gross_profit", grossProfit),
		zap.Float64("fee", fee),
		zap.Float64("commissions", commissionsPaid))
	return nil
}

// payReferrals walks the referrer chain starting from the trading user and
// pays each ancestor its level's cut of the gross profit. The walk stops at
// the first user with no profile, no referrer, or a cycle back to a user
// already visited.
func (e *Engine) payReferrals(billing *store.BillingStore, userID uint, tradeID string, grossProfit float64, environment string) (float64, error) {
	visited := map[uint]bool{userID: true}
	current := userID
	total := 0.0

	for level := 1; level <= len(e.referralRates); level++ {
		profile, err := e.profiles.ByUserID(current)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return total, fmt.Errorf("referral walk at user %d: %w", current, err)
		}
		if profile.ReferrerID == nil {
			break
		}
		beneficiary := *profile.ReferrerID
		if visited[beneficiary] {
			e.logger.Warn("Referral cycle detected, stopping cascade",
				zap.Uint("user_id", beneficiary),
				zap.String("trade_id", tradeID))
			break
		}
		visited[beneficiary] = true

		rate := e.referralRates[level-1]
		amount := grossProfit * rate

		if _, err := billing.ApplyTransaction(beneficiary, environment, amount, models.TxReferralCommission, tradeID); err != nil {
			return total, err
		}
		if err := billing.CreateCommission(&models.ReferralCommission{
			BeneficiaryID: beneficiary,
			SourceUserID:  userID,
			TradeID:       tradeID,
			Level:         level,
			GrossProfit:   grossProfit,
			Rate:          rate,
			Amount:        amount,
			Status:        models.CommissionPaid,
		}); err != nil {
			return total, err
		}

		total += amount
		current = beneficiary
	}
	return total, nil
}
