// Package indicator contains the pure numeric time-series functions the
// signal analyzer is built from. Nothing here does I/O; every function
// returns an empty slice when the input is too short for the requested
// period instead of erroring.
package indicator

// EMA computes an exponential moving average. The first value is seeded with
// the simple average of the first period prices, then the standard
// recurrence with multiplier 2/(period+1) is applied.
func EMA(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}

	out := make([]float64, 0, len(prices)-period+1)

	var sum float64
	for _, p := range prices[:period] {
		sum += p
	}
	ema := sum / float64(period)
	out = append(out, ema)

	k := 2.0 / float64(period+1)
	for _, p := range prices[period:] {
		ema = (p-ema)*k + ema
		out = append(out, ema)
	}
	return out
}

// RSI computes a Wilder-smoothed Relative Strength Index. The seed averages
// come from the first period deltas; subsequent values use
// avg = (avg*(period-1) + new) / period. An all-gain window saturates at 100.
func RSI(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period+1 {
		return nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(prices)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD computes the MACD line (fast EMA minus slow EMA, index-aligned on the
// slow series), its signal line, and the histogram. All three are empty when
// any stage has insufficient data.
func MACD(prices []float64, fast, slow, signalPeriod int) (macd, signal, histogram []float64) {
	if fast <= 0 || slow <= fast || signalPeriod <= 0 {
		return nil, nil, nil
	}

	emaFast := EMA(prices, fast)
	emaSlow := EMA(prices, slow)
	if len(emaSlow) == 0 {
		return nil, nil, nil
	}

	// emaFast starts (slow-fast) samples before emaSlow.
	offset := slow - fast
	macd = make([]float64, len(emaSlow))
	for i := range emaSlow {
		macd[i] = emaFast[i+offset] - emaSlow[i]
	}

	signal = EMA(macd, signalPeriod)
	if len(signal) == 0 {
		return macd, nil, nil
	}

	histogram = make([]float64, len(signal))
	align := signalPeriod - 1
	for i := range signal {
		histogram[i] = macd[i+align] - signal[i]
	}
	return macd, signal, histogram
}

// AverageVolume returns the mean of the last period samples, or of all
// samples when fewer are available.
func AverageVolume(volumes []float64, period int) float64 {
	if len(volumes) == 0 {
		return 0
	}
	if period <= 0 || period > len(volumes) {
		period = len(volumes)
	}
	var sum float64
	for _, v := range volumes[len(volumes)-period:] {
		sum += v
	}
	return sum / float64(period)
}
