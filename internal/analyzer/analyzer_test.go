package analyzer

import (
	"testing"

	"signal-trade-bot-go/internal/market"

	"github.com/stretchr/testify/assert"
)

func defaultParams() Params {
	return Params{
		EMAFast:       9,
		EMASlow:       21,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		MACDFast:      12,
		MACDSlow:      26,
		MACDSignal:    9,
	}
}

// trendingCandles builds a steady price drift with a tiny high-low range
// (low volatility) and a volume spike on the final bar.
func trendingCandles(n int, start, step float64) []market.Candle {
	candles := make([]market.Candle, n)
	price := start
	for i := range candles {
		candles[i] = market.Candle{
			Open:     price,
			High:     price + 0.1,
			Low:      price - 0.1,
			Close:    price,
			Volume:   10,
			OpenTime: int64(i) * 60_000,
		}
		price += step
	}
	candles[n-1].Volume = 100
	return candles
}

func TestAnalyze_UptrendProducesBuy(t *testing.T) {
	candles := trendingCandles(60, 100, 0.5)

	sig := Analyze(candles, defaultParams(), "BTCUSDT")

	// Trend, MACD and volume confirm; RSI is overbought in a straight
	// climb, so the score is 3/4 and the calm-trend boost applies.
	assert.Equal(t, ActionBuy, sig.Action)
	assert.Equal(t, StateBullish, sig.Trend)
	assert.Equal(t, StateBullish, sig.MACDState)
	assert.Equal(t, RSIOverbought, sig.RSIState)
	assert.True(t, sig.VolumeConfirmed)
	assert.True(t, sig.Regime.Trending)
	assert.InDelta(t, 0.825, sig.Confidence, 1e-9) // 0.75 boosted by 10%
}

func TestAnalyze_DowntrendProducesSell(t *testing.T) {
	candles := trendingCandles(60, 200, -0.5)

	sig := Analyze(candles, defaultParams(), "ETHUSDT")

	assert.Equal(t, ActionSell, sig.Action)
	assert.Equal(t, StateBearish, sig.Trend)
	assert.Equal(t, RSIOversold, sig.RSIState)
	assert.InDelta(t, 0.825, sig.Confidence, 1e-9)
}

func TestAnalyze_HighVolatilityDowngradesToNone(t *testing.T) {
	candles := trendingCandles(60, 100, 0.5)
	for i := range candles {
		// Widen every bar's range to ~9% of price.
		candles[i].High = candles[i].Close + 5
		candles[i].Low = candles[i].Close - 5
	}

	sig := Analyze(candles, defaultParams(), "BTCUSDT")

	assert.Equal(t, ActionNone, sig.Action)
	assert.Greater(t, sig.Regime.VolatilityPct, 5.0)
}

func TestAnalyze_NoVolumeSpikeMeansNoSignal(t *testing.T) {
	candles := trendingCandles(60, 100, 0.5)
	candles[len(candles)-1].Volume = 10 // 2/4 confirmations at best

	sig := Analyze(candles, defaultParams(), "BTCUSDT")

	assert.Equal(t, ActionNone, sig.Action)
	assert.False(t, sig.VolumeConfirmed)
}

func TestAnalyze_InsufficientDataIsNeutral(t *testing.T) {
	sig := Analyze(trendingCandles(5, 100, 0.5), defaultParams(), "BTCUSDT")

	assert.Equal(t, ActionNone, sig.Action)
	assert.Zero(t, sig.Confidence)
	assert.Equal(t, StateNeutral, sig.Trend)
}

func TestAnalyze_EmptyWindowIsNeutral(t *testing.T) {
	sig := Analyze(nil, defaultParams(), "BTCUSDT")
	assert.Equal(t, ActionNone, sig.Action)
}

func TestVolumeThreshold(t *testing.T) {
	assert.InDelta(t, 2.0, volumeThreshold(0), 1e-9)
	assert.InDelta(t, 2.0, volumeThreshold(1.0), 1e-9)  // below 1.5 ignored
	assert.InDelta(t, 2.0, volumeThreshold(1.5), 1e-9)  // floor at 2.0
	assert.InDelta(t, 3.0, volumeThreshold(3.0), 1e-9)
}

func TestAnalyze_RSIBandsOnlyTighten(t *testing.T) {
	p := defaultParams()
	p.RSIOverbought = 50 // looser than 70; must be clamped back to 70

	// Alternating +0.4/-0.2 steps keep RSI around 67: inside the loose
	// band but below the canonical 70.
	candles := make([]market.Candle, 60)
	price := 100.0
	for i := range candles {
		if i%2 == 0 {
			price += 0.4
		} else {
			price -= 0.2
		}
		candles[i] = market.Candle{Open: price, High: price + 0.1, Low: price - 0.1, Close: price, Volume: 10}
	}

	sig := Analyze(candles, p, "BTCUSDT")

	assert.Greater(t, sig.RSIValue, 50.0)
	assert.Less(t, sig.RSIValue, 70.0)
	assert.Equal(t, StateNeutral, sig.RSIState)
}
