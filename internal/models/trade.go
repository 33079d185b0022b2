package models

import (
	"time"

	"gorm.io/gorm"
)

// Trade statuses and trigger sources.
const (
	TradeStatusFilled = "filled"
	TradeStatusFailed = "failed"
	TradeStatusClosed = "closed"

	TriggerAutoSignal      = "auto_signal"
	TriggerWebhook         = "webhook"
	TriggerPositionMonitor = "position_monitor"
)

// Trade is an immutable execution record. Rows are append-only; RealizedPnL
// is only ever set at creation time (closing trades written by the
// reconciler or a manual close).
type Trade struct {
	gorm.Model
	TradeID       string `gorm:"uniqueIndex"`
	UserID        uint   `gorm:"index"`
	StrategyID    uint   `gorm:"index"`
	Venue         string
	Environment   string
	Symbol        string
	Side          string // BUY or SELL
	Price         float64
	Quantity      float64
	RealizedPnL   *float64
	Status        string
	VenueOrderID  string
	TriggerSource string `gorm:"index"`
	ExecutedAt    time.Time
}

// Position is the locally-held view of an open venue position. It is created
// on entry fill and afterwards only touched by the reconciler (price/PnL
// refresh, close) or a manual close.
type Position struct {
	gorm.Model
	UserID        uint `gorm:"index"`
	StrategyID    uint `gorm:"index"`
	Venue         string
	ProductType   string
	Environment   string
	Symbol        string
	Side          string // LONG or SHORT
	Size          float64
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	Leverage      int
	StopLoss      float64
	TakeProfit    float64
	Open          bool `gorm:"index"`
}

// Position sides.
const (
	PositionLong  = "LONG"
	PositionShort = "SHORT"
)

// WebhookLog statuses.
const (
	WebhookExecuted = "executed"
	WebhookRejected = "rejected"
	WebhookFiltered = "filtered"
	WebhookFailed   = "failed"
)

// WebhookLog is the append-only audit trail for every signal that reached
// the pipeline, regardless of outcome.
type WebhookLog struct {
	gorm.Model
	StrategyID   uint   `gorm:"index"`
	Symbol       string
	Payload      string
	Status       string `gorm:"index"`
	ErrorMessage string
}
