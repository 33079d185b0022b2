package models

import "gorm.io/gorm"

// Gas-fee transaction types.
const (
	TxDeposit            = "deposit"
	TxServiceFee         = "service_fee"
	TxRefund             = "refund"
	TxDemoDeposit        = "demo_deposit"
	TxReferralCommission = "referral_commission"
)

// GasFeeBalance is a user's prepaid service-fee credit for one environment.
// One row per (user, environment), created lazily on first reference.
type GasFeeBalance struct {
	gorm.Model
	UserID         uint   `gorm:"uniqueIndex:idx_balance_user_env"`
	Environment    string `gorm:"uniqueIndex:idx_balance_user_env"`
	Balance        float64
	TotalDeposited float64
	TotalDeducted  float64
}

// GasFeeTransaction is the append-only ledger. Every balance mutation writes
// exactly one row with BalanceAfter = BalanceBefore + Amount.
type GasFeeTransaction struct {
	gorm.Model
	UserID        uint   `gorm:"index"`
	Environment   string
	Amount        float64 // signed
	Type          string
	Reference     string // trade id for fee/commission rows
	BalanceBefore float64
	BalanceAfter  float64
}

// ReferralCommission statuses.
const (
	CommissionPaid = "paid"
)

// ReferralCommission records one payout of the referral cascade. The unique
// index guarantees a trade never pays the same level twice.
type ReferralCommission struct {
	gorm.Model
	BeneficiaryID uint   `gorm:"index"`
	SourceUserID  uint
	TradeID       string `gorm:"uniqueIndex:idx_commission_trade_level"`
	Level         int    `gorm:"uniqueIndex:idx_commission_trade_level"`
	GrossProfit   float64
	Rate          float64
	Amount        float64
	Status        string
}

// AdminEarning is written once per settled trade: the platform's share of
// the fee after referral commissions are paid out.
type AdminEarning struct {
	gorm.Model
	TradeID         string `gorm:"index"`
	UserID          uint
	GrossProfit     float64
	FeeAmount       float64
	CommissionsPaid float64
	AdminShare      float64
}

// ProfitSettlement is the idempotency anchor of the whole profit-sharing
// cascade: at most one row per trade id.
type ProfitSettlement struct {
	gorm.Model
	TradeID     string `gorm:"uniqueIndex"`
	UserID      uint   `gorm:"index"`
	Environment string
	GrossProfit float64
	FeeRate     float64
	FeeAmount   float64
	NetProfit   float64
}

// UserProfile links a trading user to the person who referred them. The
// referral chain is the transitive walk over ReferrerID, capped at three
// levels by the profit engine.
type UserProfile struct {
	gorm.Model
	UserID     uint `gorm:"uniqueIndex"`
	ReferrerID *uint
}

// APICredential holds a user's venue API key pair, encrypted at rest with
// the deployment key (AES-GCM).
type APICredential struct {
	gorm.Model
	UserID       uint   `gorm:"index"`
	Venue        string `gorm:"index"`
	ProductType  string
	Environment  string
	APIKeyEnc    string
	APISecretEnc string
	Active       bool `gorm:"default:true"`
}
