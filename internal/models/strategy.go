package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// Supported venues and environments.
const (
	VenueBinance = "binance"
	VenueBybit   = "bybit"

	EnvTestnet = "testnet"
	EnvMainnet = "mainnet"
)

// Position sizing modes.
const (
	SizingFixedNotional  = "fixed_notional"
	SizingBalancePercent = "balance_percent"
	SizingRiskPercent    = "risk_percent"
)

// TakeProfitLeg is one partial take-profit target: a percent offset from the
// entry price and the fraction of the position to close when it is hit.
type TakeProfitLeg struct {
	Enabled       bool
	Percent       float64
	CloseFraction float64
}

// RiskTuning carries the optional admission-control settings of a strategy.
// Zero values mean "unlimited" / "disabled" for every cap.
type RiskTuning struct {
	MaxConcurrentPositions int
	MaxDailyTrades         int
	MaxDailyLoss           float64
	MaxConsecutiveLosses   int
	CooldownMinutes        int
	SessionEnabled         bool
	SessionStartMinute     int // minutes from UTC midnight
	SessionEndMinute       int
	MinConfidence          float64
	MaxSpreadPercent       float64
	MaxSlippagePercent     float64
	AdvisorEnabled         bool
}

// StrategyConfig is a user's trading configuration. The pipeline only ever
// mutates LastSignalAt; everything else changes through the owner's config
// screens.
type StrategyConfig struct {
	gorm.Model
	UserID      uint   `gorm:"index"`
	Name        string
	Secret      string `gorm:"index"` // webhook matching token
	Enabled     bool   `gorm:"default:true"`
	Venue       string // binance | bybit
	ProductType string // e.g. linear
	Environment string // testnet | mainnet
	Symbols     string // comma separated, e.g. "BTCUSDT,ETHUSDT"

	// Indicator parameters.
	Interval         string
	CandleLimit      int
	EMAFast          int
	EMASlow          int
	RSIPeriod        int
	RSIOversold      float64
	RSIOverbought    float64
	MACDFast         int
	MACDSlow         int
	MACDSignal       int
	VolumeMultiplier float64

	// Position sizing and leverage.
	SizingMode     string
	FixedNotional  float64
	BalancePercent float64
	RiskPercent    float64
	Leverage       int

	// Protective orders.
	StopLossPercent    float64
	TakeProfit1        TakeProfitLeg `gorm:"embedded;embeddedPrefix:tp1_"`
	TakeProfit2        TakeProfitLeg `gorm:"embedded;embeddedPrefix:tp2_"`
	TakeProfit3        TakeProfitLeg `gorm:"embedded;embeddedPrefix:tp3_"`
	TrailingEnabled    bool
	TrailingCallback   float64 // percent
	TrailingActivation float64 // percent offset from entry, 0 = immediate

	Risk RiskTuning `gorm:"embedded;embeddedPrefix:risk_"`

	AutoSignalIntervalMin int
	LastSignalAt          *time.Time
}

// SymbolList splits the comma-separated Symbols column.
func (s *StrategyConfig) SymbolList() []string {
	if s.Symbols == "" {
		return nil
	}
	parts := strings.Split(s.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// TakeProfitLegs returns the three legs in order.
func (s *StrategyConfig) TakeProfitLegs() []TakeProfitLeg {
	return []TakeProfitLeg{s.TakeProfit1, s.TakeProfit2, s.TakeProfit3}
}

// ApplyDefaults fills unset fields once at load time so the rest of the
// pipeline never has to default inline.
func (s *StrategyConfig) ApplyDefaults() {
	if s.Interval == "" {
		s.Interval = "15m"
	}
	if s.CandleLimit == 0 {
		s.CandleLimit = 100
	}
	if s.EMAFast == 0 {
		s.EMAFast = 9
	}
	if s.EMASlow == 0 {
		s.EMASlow = 21
	}
	if s.RSIPeriod == 0 {
		s.RSIPeriod = 14
	}
	if s.RSIOversold == 0 {
		s.RSIOversold = 30
	}
	if s.RSIOverbought == 0 {
		s.RSIOverbought = 70
	}
	if s.MACDFast == 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow == 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal == 0 {
		s.MACDSignal = 9
	}
	if s.SizingMode == "" {
		s.SizingMode = SizingFixedNotional
	}
	if s.Leverage == 0 {
		s.Leverage = 1
	}
	if s.ProductType == "" {
		s.ProductType = "linear"
	}
	if s.Risk.MinConfidence == 0 {
		s.Risk.MinConfidence = 0.8
	}
}
