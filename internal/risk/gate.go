// Package risk gates trade signals through an ordered sequence of
// admission checks. Rejections are values carrying a machine-readable
// reason, never errors: a rejected signal is a normal outcome, logged and
// dropped for that tick.
package risk

import (
	"context"
	"errors"
	"time"

	"signal-trade-bot-go/internal/advisor"
	"signal-trade-bot-go/internal/analyzer"
	"signal-trade-bot-go/internal/market"
	"signal-trade-bot-go/internal/models"
	"signal-trade-bot-go/internal/store"

	"go.uber.org/zap"
)

// Rejection reasons.
const (
	ReasonOutsideSession    = "outside_session_window"
	ReasonDailyTradeLimit   = "daily_trade_limit"
	ReasonDailyLossLimit    = "daily_loss_limit"
	ReasonConsecutiveLosses = "consecutive_losses"
	ReasonMaxPositions      = "max_positions"
	ReasonSpreadTooWide     = "spread_too_wide"
	ReasonSlippageTooHigh   = "slippage_too_high"
	ReasonLowConfidence     = "low_confidence"
	ReasonAdvisorDeclined   = "advisor_declined"
)

// Verdict is the gate's decision for one signal.
type Verdict struct {
	Allowed bool
	Reason  string
	Detail  string
}

func allow() Verdict {
	return Verdict{Allowed: true}
}

func reject(reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

// Gate evaluates a strategy's configuration and history against a signal.
type Gate struct {
	trades    *store.TradeStore
	positions *store.PositionStore
	gateway   market.Gateway
	advisor   advisor.Reviewer // nil disables the advisory filter
	logger    *zap.Logger
	now       func() time.Time
}

// NewGate wires the gate's collaborators. Pass a nil reviewer to run
// without the advisory filter.
func NewGate(trades *store.TradeStore, positions *store.PositionStore, gateway market.Gateway, reviewer advisor.Reviewer, logger *zap.Logger) *Gate {
	return &Gate{
		trades:    trades,
		positions: positions,
		gateway:   gateway,
		advisor:   reviewer,
		logger:    logger.Named("risk"),
		now:       time.Now,
	}
}

// Evaluate runs the checks in order and stops at the first rejection.
func (g *Gate) Evaluate(ctx context.Context, cfg *models.StrategyConfig, sig analyzer.Signal, triggerSource string) Verdict {
	now := g.now().UTC()

	if v := g.checkSession(cfg, now); !v.Allowed {
		return v
	}
	if v := g.checkDailyTrades(cfg, triggerSource, now); !v.Allowed {
		return v
	}
	if v := g.checkDailyLoss(cfg, now); !v.Allowed {
		return v
	}
	if v := g.checkConsecutiveLosses(cfg, now); !v.Allowed {
		return v
	}
	if v := g.checkOpenPositions(cfg); !v.Allowed {
		return v
	}
	if v := g.checkSpread(ctx, cfg, sig); !v.Allowed {
		return v
	}
	if sig.Confidence < cfg.Risk.MinConfidence {
		return reject(ReasonLowConfidence, "")
	}
	return g.checkAdvisor(ctx, cfg, sig)
}

// checkSession enforces the UTC time-of-day window, supporting overnight
// wraparound (start > end means the window crosses midnight).
func (g *Gate) checkSession(cfg *models.StrategyConfig, now time.Time) Verdict {
	if !cfg.Risk.SessionEnabled {
		return allow()
	}

	minute := now.Hour()*60 + now.Minute()
	start, end := cfg.Risk.SessionStartMinute, cfg.Risk.SessionEndMinute

	inWindow := false
	if start <= end {
		inWindow = minute >= start && minute <= end
	} else {
		inWindow = minute >= start || minute <= end
	}
	if !inWindow {
		return reject(ReasonOutsideSession, "")
	}
	return allow()
}

func (g *Gate) checkDailyTrades(cfg *models.StrategyConfig, triggerSource string, now time.Time) Verdict {
	if cfg.Risk.MaxDailyTrades <= 0 {
		return allow()
	}

	count, err := g.trades.CountSince(cfg.ID, triggerSource, startOfDay(now))
	if err != nil {
		g.logger.Error("Daily trade count query failed", zap.Error(err))
		return allow() // history unavailable is not a reason to block
	}
	if count >= int64(cfg.Risk.MaxDailyTrades) {
		return reject(ReasonDailyTradeLimit, "")
	}
	return allow()
}

func (g *Gate) checkDailyLoss(cfg *models.StrategyConfig, now time.Time) Verdict {
	if cfg.Risk.MaxDailyLoss <= 0 {
		return allow()
	}

	pnl, err := g.trades.RealizedPnLSince(cfg.ID, startOfDay(now))
	if err != nil {
		g.logger.Error("Daily pnl query failed", zap.Error(err))
		return allow()
	}
	if pnl <= -cfg.Risk.MaxDailyLoss {
		return reject(ReasonDailyLossLimit, "")
	}
	return allow()
}

// checkConsecutiveLosses scans settled trades newest first, stopping at the
// first profitable one. At or over the cap, a configured cooldown can
// re-admit the strategy once enough time has passed since the last loss.
func (g *Gate) checkConsecutiveLosses(cfg *models.StrategyConfig, now time.Time) Verdict {
	if cfg.Risk.MaxConsecutiveLosses <= 0 {
		return allow()
	}

	trades, err := g.trades.RecentSettled(cfg.ID, cfg.Risk.MaxConsecutiveLosses+1)
	if err != nil {
		g.logger.Error("Recent trades query failed", zap.Error(err))
		return allow()
	}

	streak := 0
	var lastLoss time.Time
	for _, t := range trades {
		if t.RealizedPnL == nil {
			continue
		}
		if *t.RealizedPnL >= 0 {
			break
		}
		if streak == 0 {
			lastLoss = t.ExecutedAt
		}
		streak++
	}

	if streak < cfg.Risk.MaxConsecutiveLosses {
		return allow()
	}
	if cfg.Risk.CooldownMinutes > 0 {
		cooldown := time.Duration(cfg.Risk.CooldownMinutes) * time.Minute
		if now.Sub(lastLoss) > cooldown {
			return allow()
		}
	}
	return reject(ReasonConsecutiveLosses, "")
}

func (g *Gate) checkOpenPositions(cfg *models.StrategyConfig) Verdict {
	if cfg.Risk.MaxConcurrentPositions <= 0 {
		return allow()
	}

	count, err := g.positions.OpenCount(cfg.UserID)
	if err != nil {
		g.logger.Error("Open position count query failed", zap.Error(err))
		return allow()
	}
	if count >= int64(cfg.Risk.MaxConcurrentPositions) {
		return reject(ReasonMaxPositions, "")
	}
	return allow()
}

func (g *Gate) checkSpread(ctx context.Context, cfg *models.StrategyConfig, sig analyzer.Signal) Verdict {
	if cfg.Risk.MaxSpreadPercent <= 0 && cfg.Risk.MaxSlippagePercent <= 0 {
		return allow()
	}

	bid, ask, err := g.gateway.BestBidAsk(ctx, cfg.Venue, sig.Symbol, cfg.Environment == models.EnvTestnet, cfg.ProductType)
	if err != nil || bid <= 0 || ask <= 0 {
		g.logger.Warn("Order book unavailable for spread check", zap.Error(err))
		return allow() // degrade like the market gateway does
	}

	mid := (bid + ask) / 2
	if cfg.Risk.MaxSpreadPercent > 0 {
		spread := (ask - bid) / mid * 100
		if spread > cfg.Risk.MaxSpreadPercent {
			return reject(ReasonSpreadTooWide, "")
		}
	}
	if cfg.Risk.MaxSlippagePercent > 0 && sig.Price > 0 {
		slippage := abs(sig.Price-mid) / mid * 100
		if slippage > cfg.Risk.MaxSlippagePercent {
			return reject(ReasonSlippageTooHigh, "")
		}
	}
	return allow()
}

// checkAdvisor consults the external filter. Unreachability fails open by
// policy: the engine's own confidence check has already passed.
func (g *Gate) checkAdvisor(ctx context.Context, cfg *models.StrategyConfig, sig analyzer.Signal) Verdict {
	if g.advisor == nil || !cfg.Risk.AdvisorEnabled {
		return allow()
	}

	verdict, err := g.advisor.Review(ctx, sig, cfg)
	if err != nil {
		if errors.Is(err, advisor.ErrUnavailable) {
			g.logger.Warn("Advisor unreachable, failing open", zap.Error(err))
			return allow()
		}
		g.logger.Error("Advisor review failed, failing open", zap.Error(err))
		return allow()
	}

	if !verdict.Execute {
		return reject(ReasonAdvisorDeclined, verdict.Reason)
	}
	return allow()
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
