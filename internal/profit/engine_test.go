package profit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"signal-trade-bot-go/internal/database"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/store"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupEngine(t *testing.T) (*Engine, *store.Stores, *gorm.DB) {
	t.Helper()
	db, err := database.NewDatabase(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	assert.NoError(t, err)

	stores := store.New(db)
	engine := NewEngine(stores.Billing, stores.Profiles, 0.30, []float64{0.005, 0.003, 0.002}, zap.NewNop())
	return engine, stores, db
}

// seedChain links trader 1 <- referrer 2 <- referrer 3.
func seedChain(t *testing.T, stores *store.Stores) {
	t.Helper()
	r1 := uint(2)
	r2 := uint(3)
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 1, ReferrerID: &r1}))
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 2, ReferrerID: &r2}))
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 3}))
}

func TestSettle_TwoLevelChain(t *testing.T) {
	engine, stores, _ := setupEngine(t)
	seedChain(t, stores)

	err := engine.Settle(context.Background(), 1, "trade-1", 1000, models.EnvMainnet)
	assert.NoError(t, err)

	// The trader is charged the 30% service fee.
	bal, err := stores.Billing.GetOrCreateBalance(1, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, -300.0, bal.Balance, 1e-9)

	// Level 1 referrer earns 0.5%, level 2 earns 0.3% of gross.
	bal2, err := stores.Billing.GetOrCreateBalance(2, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, 5.0, bal2.Balance, 1e-9)

	bal3, err := stores.Billing.GetOrCreateBalance(3, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, 3.0, bal3.Balance, 1e-9)

	commissions, err := stores.Billing.CommissionsForTrade("trade-1")
	assert.NoError(t, err)
	assert.Len(t, commissions, 2)
	assert.Equal(t, 1, commissions[0].Level)
	assert.InDelta(t, 5.0, commissions[0].Amount, 1e-9)
	assert.Equal(t, models.CommissionPaid, commissions[0].Status)
	assert.Equal(t, 2, commissions[1].Level)
	assert.InDelta(t, 3.0, commissions[1].Amount, 1e-9)

	// Admin keeps the fee minus the commissions paid out.
	earning, err := stores.Billing.EarningForTrade("trade-1")
	assert.NoError(t, err)
	assert.InDelta(t, 300.0, earning.FeeAmount, 1e-9)
	assert.InDelta(t, 8.0, earning.CommissionsPaid, 1e-9)
	assert.InDelta(t, 292.0, earning.AdminShare, 1e-9)
}

func TestSettle_Idempotent(t *testing.T) {
	engine, stores, _ := setupEngine(t)
	seedChain(t, stores)

	assert.NoError(t, engine.Settle(context.Background(), 1, "trade-1", 1000, models.EnvMainnet))
	assert.NoError(t, engine.Settle(context.Background(), 1, "trade-1", 1000, models.EnvMainnet))

	bal, err := stores.Billing.GetOrCreateBalance(1, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, -300.0, bal.Balance, 1e-9)

	txs, err := stores.Billing.Transactions(1, models.EnvMainnet, 10)
	assert.NoError(t, err)
	assert.Len(t, txs, 1)

	commissions, err := stores.Billing.CommissionsForTrade("trade-1")
	assert.NoError(t, err)
	assert.Len(t, commissions, 2)
}

func TestSettle_ConcurrentInvocationsChargeOnce(t *testing.T) {
	engine, stores, _ := setupEngine(t)
	seedChain(t, stores)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.Settle(context.Background(), 1, "trade-c", 1000, models.EnvMainnet)
		}()
	}
	wg.Wait()

	bal, err := stores.Billing.GetOrCreateBalance(1, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, -300.0, bal.Balance, 1e-9)
}

func TestSettle_SkipsNonProfit(t *testing.T) {
	engine, stores, _ := setupEngine(t)

	assert.NoError(t, engine.Settle(context.Background(), 1, "trade-loss", -50, models.EnvMainnet))
	assert.NoError(t, engine.Settle(context.Background(), 1, "trade-flat", 0, models.EnvMainnet))

	exists, err := stores.Billing.SettlementExists("trade-loss")
	assert.NoError(t, err)
	assert.False(t, exists)

	txs, err := stores.Billing.Transactions(1, models.EnvMainnet, 10)
	assert.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSettle_NoReferrer(t *testing.T) {
	engine, stores, _ := setupEngine(t)
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 7}))

	assert.NoError(t, engine.Settle(context.Background(), 7, "trade-solo", 200, models.EnvMainnet))

	commissions, err := stores.Billing.CommissionsForTrade("trade-solo")
	assert.NoError(t, err)
	assert.Empty(t, commissions)

	earning, err := stores.Billing.EarningForTrade("trade-solo")
	assert.NoError(t, err)
	assert.InDelta(t, 60.0, earning.FeeAmount, 1e-9)
	assert.InDelta(t, 60.0, earning.AdminShare, 1e-9)
}

func TestSettle_ThreeLevelChainCaps(t *testing.T) {
	engine, stores, _ := setupEngine(t)

	// trader 1 <- 2 <- 3 <- 4 <- 5: only the first three ancestors are paid.
	r2, r3, r4, r5 := uint(2), uint(3), uint(4), uint(5)
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 1, ReferrerID: &r2}))
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 2, ReferrerID: &r3}))
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 3, ReferrerID: &r4}))
	assert.NoError(t, stores.Profiles.Create(&models.UserProfile{UserID: 4, ReferrerID: &r5}))

	assert.NoError(t, engine.Settle(context.Background(), 1, "trade-deep", 1000, models.EnvMainnet))

	commissions, err := stores.Billing.CommissionsForTrade("trade-deep")
	assert.NoError(t, err)
	assert.Len(t, commissions, 3)
	assert.InDelta(t, 5.0, commissions[0].Amount, 1e-9)
	assert.InDelta(t, 3.0, commissions[1].Amount, 1e-9)
	assert.InDelta(t, 2.0, commissions[2].Amount, 1e-9)

	bal5, err := stores.Billing.GetOrCreateBalance(5, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, 0.0, bal5.Balance, 1e-9)
}

func TestSettle_CascadeRollsBackAtomically(t *testing.T) {
	engine, stores, db := setupEngine(t)
	seedChain(t, stores)

	// A pre-existing level-1 commission row for this trade violates the
	// unique index mid-cascade, after the settlement record and the fee
	// debit have already been written inside the transaction.
	conflict := models.ReferralCommission{
		BeneficiaryID: 99,
		SourceUserID:  1,
		TradeID:       "trade-1",
		Level:         1,
		Amount:        1,
		Status:        models.CommissionPaid,
	}
	assert.NoError(t, db.Create(&conflict).Error)

	err := engine.Settle(context.Background(), 1, "trade-1", 1000, models.EnvMainnet)
	assert.Error(t, err)

	// Nothing from the failed cascade may survive: no settlement marker,
	// no fee debit, so a retry is not turned into a no-op.
	exists, err := stores.Billing.SettlementExists("trade-1")
	assert.NoError(t, err)
	assert.False(t, exists)

	bal, err := stores.Billing.GetOrCreateBalance(1, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, 0.0, bal.Balance, 1e-9)

	txs, err := stores.Billing.Transactions(1, models.EnvMainnet, 10)
	assert.NoError(t, err)
	assert.Empty(t, txs)

	// Once the conflict is gone the same trade settles in full. Unscoped
	// delete, so the soft-delete marker does not keep the index row alive.
	assert.NoError(t, db.Unscoped().
		Where("trade_id = ? AND level = ?", "trade-1", 1).
		Delete(&models.ReferralCommission{}).Error)

	assert.NoError(t, engine.Settle(context.Background(), 1, "trade-1", 1000, models.EnvMainnet))

	exists, err = stores.Billing.SettlementExists("trade-1")
	assert.NoError(t, err)
	assert.True(t, exists)

	bal, err = stores.Billing.GetOrCreateBalance(1, models.EnvMainnet)
	assert.NoError(t, err)
	assert.InDelta(t, -300.0, bal.Balance, 1e-9)
}
