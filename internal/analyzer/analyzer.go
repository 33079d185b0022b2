// Package analyzer turns a candle window into a directional trade signal.
// It combines EMA trend, RSI, MACD histogram and volume confirmation into a
// four-way confirmation score, then filters the result through a
// market-regime check so choppy or violent markets produce no action.
package analyzer

import (
	"math"

	"signal-trade-bot-go/internal/indicator"
	"signal-trade-bot-go/internal/market"
)

// Action is the direction a signal asks for.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionNone Action = "none"
)

// Trend / RSI / MACD classifications carried on the signal for logging.
const (
	StateBullish = "bullish"
	StateBearish = "bearish"
	StateNeutral = "neutral"

	RSIOversold   = "oversold"
	RSIOverbought = "overbought"
)

// Params are the per-strategy indicator settings.
type Params struct {
	EMAFast          int
	EMASlow          int
	RSIPeriod        int
	RSIOversold      float64
	RSIOverbought    float64
	MACDFast         int
	MACDSlow         int
	MACDSignal       int
	VolumeMultiplier float64
}

// Regime is a coarse snapshot of recent market behavior.
type Regime struct {
	Change20      float64 // percent move over the last 20 candles
	Change50      float64 // percent move over the last 50 candles
	VolatilityPct float64 // mean high-low range of the last 20 candles, percent of price
	Trending      bool
}

// Signal is the analyzer's verdict for one symbol at one instant. Signals
// are logged, never persisted.
type Signal struct {
	Action          Action
	Symbol          string
	Price           float64
	Confidence      float64
	Trend           string
	RSIState        string
	RSIValue        float64
	MACDState       string
	CurrentVolume   float64
	AverageVolume   float64
	VolumeConfirmed bool
	Regime          Regime
}

func neutralSignal(symbol string, price float64) Signal {
	return Signal{
		Action:    ActionNone,
		Symbol:    symbol,
		Price:     price,
		Trend:     StateNeutral,
		RSIState:  StateNeutral,
		MACDState: StateNeutral,
	}
}

// Analyze computes the signal for a candle window. Callers are expected to
// supply at least 50 candles; with less data the result degrades to a
// neutral no-action signal instead of an error.
func Analyze(candles []market.Candle, p Params, symbol string) Signal {
	if len(candles) == 0 {
		return neutralSignal(symbol, 0)
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	price := closes[len(closes)-1]

	emaFast := indicator.EMA(closes, p.EMAFast)
	emaSlow := indicator.EMA(closes, p.EMASlow)
	if len(emaFast) < 2 || len(emaSlow) < 2 {
		return neutralSignal(symbol, price)
	}

	regime := computeRegime(candles, price)
	trend := classifyTrend(emaFast, emaSlow)
	rsiState, rsiValue := classifyRSI(closes, p)
	macdState := classifyMACD(closes, p)

	avgVolume := indicator.AverageVolume(volumes, 20)
	currentVolume := volumes[len(volumes)-1]
	volumeConfirmed := currentVolume > avgVolume*volumeThreshold(p.VolumeMultiplier)

	bullish := score(trend == StateBullish, rsiState, StateBullish, trend, RSIOversold, macdState == StateBullish, volumeConfirmed)
	bearish := score(trend == StateBearish, rsiState, StateBearish, trend, RSIOverbought, macdState == StateBearish, volumeConfirmed)

	sig := Signal{
		Action:          ActionNone,
		Symbol:          symbol,
		Price:           price,
		Trend:           trend,
		RSIState:        rsiState,
		RSIValue:        rsiValue,
		MACDState:       macdState,
		CurrentVolume:   currentVolume,
		AverageVolume:   avgVolume,
		VolumeConfirmed: volumeConfirmed,
		Regime:          regime,
	}

	confirmations := 0
	if bullish >= 3 && bullish >= bearish {
		sig.Action = ActionBuy
		confirmations = bullish
	} else if bearish >= 3 {
		sig.Action = ActionSell
		confirmations = bearish
	}
	sig.Confidence = float64(confirmations) / 4.0

	// Regime filter: without a trend, or in violent markets, only a full
	// 4/4 signal survives. Calm trending markets earn a confidence boost.
	if sig.Action != ActionNone {
		if (!regime.Trending || regime.VolatilityPct > 5) && confirmations < 4 {
			sig.Action = ActionNone
		} else if regime.Trending && regime.VolatilityPct < 3 {
			sig.Confidence = math.Min(1.0, sig.Confidence*1.1)
		}
	}

	return sig
}

// score counts the four confirmations for one side. RSI also counts when it
// is neutral and the trend already agrees with that side.
func score(trendAgrees bool, rsiState, side, trend, favorableRSI string, macdAgrees, volumeConfirmed bool) int {
	n := 0
	if trendAgrees {
		n++
	}
	if rsiState == favorableRSI || (rsiState == StateNeutral && trend == side) {
		n++
	}
	if macdAgrees {
		n++
	}
	if volumeConfirmed {
		n++
	}
	return n
}

// volumeThreshold applies the floor rules: a configured multiplier below 1.5
// is ignored, and even a configured one can never drop below 2.0.
func volumeThreshold(configured float64) float64 {
	if configured >= 1.5 {
		return math.Max(2.0, configured)
	}
	return 2.0
}

func computeRegime(candles []market.Candle, price float64) Regime {
	var r Regime
	n := len(candles)

	if n >= 20 && candles[n-20].Close != 0 {
		r.Change20 = (price - candles[n-20].Close) / candles[n-20].Close * 100
	}
	if n >= 50 && candles[n-50].Close != 0 {
		r.Change50 = (price - candles[n-50].Close) / candles[n-50].Close * 100
	}

	if n >= 20 && price != 0 {
		var rangeSum float64
		for _, c := range candles[n-20:] {
			rangeSum += c.High - c.Low
		}
		r.VolatilityPct = rangeSum / 20 / price * 100
	}

	sameDirection := (r.Change20 >= 0) == (r.Change50 >= 0)
	r.Trending = math.Abs(r.Change20) > 1 && sameDirection
	return r
}

// classifyTrend checks for a fresh golden/death cross first and falls back
// to plain EMA ordering.
func classifyTrend(emaFast, emaSlow []float64) string {
	fPrev, fCur := last2(emaFast)
	sPrev, sCur := last2(emaSlow)

	switch {
	case fPrev <= sPrev && fCur > sCur:
		return StateBullish
	case fPrev >= sPrev && fCur < sCur:
		return StateBearish
	case fCur > sCur:
		return StateBullish
	case fCur < sCur:
		return StateBearish
	default:
		return StateNeutral
	}
}

// classifyRSI clamps the configured bands so they can only be stricter than
// the canonical 30/70, never looser.
func classifyRSI(closes []float64, p Params) (string, float64) {
	rsi := indicator.RSI(closes, p.RSIPeriod)
	if len(rsi) == 0 {
		return StateNeutral, 0
	}
	value := rsi[len(rsi)-1]

	oversold := math.Min(p.RSIOversold, 30)
	overbought := math.Max(p.RSIOverbought, 70)

	switch {
	case value <= oversold:
		return RSIOversold, value
	case value >= overbought:
		return RSIOverbought, value
	default:
		return StateNeutral, value
	}
}

// classifyMACD checks for a histogram zero crossing first, then falls back
// to the current sign.
func classifyMACD(closes []float64, p Params) string {
	_, _, hist := indicator.MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
	if len(hist) < 2 {
		return StateNeutral
	}

	prev, cur := last2(hist)
	switch {
	case prev <= 0 && cur > 0:
		return StateBullish
	case prev >= 0 && cur < 0:
		return StateBearish
	case cur > 0:
		return StateBullish
	case cur < 0:
		return StateBearish
	default:
		return StateNeutral
	}
}

func last2(s []float64) (prev, cur float64) {
	return s[len(s)-2], s[len(s)-1]
}
