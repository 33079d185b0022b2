package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEMA_KnownSequence(t *testing.T) {
	// Seed = mean(1,2,3) = 2; next = (4-2)*0.5 + 2 = 3; then (5-3)*0.5+3 = 4.
	out := EMA([]float64{1, 2, 3, 4, 5}, 3)

	assert.Len(t, out, 3)
	assert.InDelta(t, 2.0, out[0], 1e-9)
	assert.InDelta(t, 3.0, out[1], 1e-9)
	assert.InDelta(t, 4.0, out[2], 1e-9)
}

func TestEMA_InsufficientData(t *testing.T) {
	assert.Empty(t, EMA([]float64{1, 2}, 3))
	assert.Empty(t, EMA(nil, 5))
	assert.Empty(t, EMA([]float64{1, 2, 3}, 0))
}

func TestRSI_StrictlyIncreasingSaturates(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}

	out := RSI(prices, 14)
	assert.NotEmpty(t, out)
	assert.InDelta(t, 100.0, out[len(out)-1], 1e-9)
}

func TestRSI_StrictlyDecreasingApproachesZero(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 200 - float64(i)
	}

	out := RSI(prices, 14)
	assert.NotEmpty(t, out)
	assert.Less(t, out[len(out)-1], 1.0)
}

func TestRSI_InsufficientData(t *testing.T) {
	// Needs period+1 prices for the first value.
	assert.Empty(t, RSI(make([]float64, 14), 14))
}

func TestMACD_InsufficientData(t *testing.T) {
	macd, signal, hist := MACD(make([]float64, 10), 12, 26, 9)
	assert.Empty(t, macd)
	assert.Empty(t, signal)
	assert.Empty(t, hist)
}

func TestMACD_Alignment(t *testing.T) {
	prices := make([]float64, 120)
	for i := range prices {
		prices[i] = 100 + float64(i)*0.5
	}

	macd, signal, hist := MACD(prices, 12, 26, 9)
	assert.NotEmpty(t, macd)
	assert.NotEmpty(t, signal)
	assert.NotEmpty(t, hist)
	assert.Len(t, hist, len(signal))
	// A steadily rising series keeps the fast EMA above the slow one.
	assert.Greater(t, macd[len(macd)-1], 0.0)
}

func TestAverageVolume(t *testing.T) {
	assert.InDelta(t, 2.0, AverageVolume([]float64{1, 2, 3}, 20), 1e-9)
	assert.InDelta(t, 3.0, AverageVolume([]float64{1, 2, 3, 4}, 2), 1e-9)
	assert.Zero(t, AverageVolume(nil, 20))
}
