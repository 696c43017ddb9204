// Package signal implements the Signal Generator: deterministic technical
// indicators and pair-level sub-signal composition (spec.md §4.3).
package signal

import "math"

// RSI computes the Relative Strength Index over period using Wilder's
// smoothing, grounded on the teacher's
// internal/domain/indicators/technical.go CalculateRSI. Returns the
// neutral value 50 when there is insufficient history (spec.md §7
// arithmetic-invariant policy).
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50.0
	}
	gains := make([]float64, 0, len(closes)-1)
	losses := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains = append(gains, d)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -d)
		}
	}
	avgGain, avgLoss := 0.0, 0.0
	for i := 0; i < period; i++ {
		avgGain += gains[i]
		avgLoss += losses[i]
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period; i < len(gains); i++ {
		avgGain = avgGain*(1-alpha) + gains[i]*alpha
		avgLoss = avgLoss*(1-alpha) + losses[i]*alpha
	}
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// EMA computes the exponential moving average series for period, seeded
// with the SMA of the first period points. Returns nil if there are fewer
// than period points.
func EMA(values []float64, period int) []float64 {
	if len(values) < period || period <= 0 {
		return nil
	}
	out := make([]float64, 0, len(values)-period+1)
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out = append(out, seed)
	k := 2.0 / (float64(period) + 1)
	prev := seed
	for i := period; i < len(values); i++ {
		prev = values[i]*k + prev*(1-k)
		out = append(out, prev)
	}
	return out
}

// emaLast returns only the final EMA value, or 0 if undefined.
func emaLast(values []float64, period int) float64 {
	e := EMA(values, period)
	if len(e) == 0 {
		return 0
	}
	return e[len(e)-1]
}

// MACD computes the MACD line, signal line and histogram. Per spec.md §9
// the signal line is a proper EMA(9) of the MACD-line series — not the
// `macd_line * 0.8` shortcut used by the source implementation.
func MACD(closes []float64, fast, slow, signalPeriod int) (macdLine, signalLine, histogram float64) {
	if len(closes) < slow+signalPeriod {
		return 0, 0, 0
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	// Align series: slowEMA is shorter (starts later); trim fastEMA's head.
	offset := len(fastEMA) - len(slowEMA)
	if offset < 0 {
		return 0, 0, 0
	}
	macdSeries := make([]float64, len(slowEMA))
	for i := range slowEMA {
		macdSeries[i] = fastEMA[i+offset] - slowEMA[i]
	}
	macdLine = macdSeries[len(macdSeries)-1]
	signalLine = emaLast(macdSeries, signalPeriod)
	histogram = macdLine - signalLine
	return macdLine, signalLine, histogram
}

// BollingerBands computes the middle/upper/lower bands and %B for the
// last point of a period-length window with the given std-dev multiple.
func BollingerBands(closes []float64, period int, numStd float64) (mid, upper, lower, percentB float64) {
	if len(closes) < period {
		return 0, 0, 0, 0.5
	}
	window := closes[len(closes)-period:]
	sum := 0.0
	for _, c := range window {
		sum += c
	}
	mid = sum / float64(period)
	var ss float64
	for _, c := range window {
		d := c - mid
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(period))
	upper = mid + numStd*sd
	lower = mid - numStd*sd
	last := closes[len(closes)-1]
	if upper == lower {
		return mid, upper, lower, 0.5
	}
	percentB = (last - lower) / (upper - lower)
	return mid, upper, lower, percentB
}

// VWAP computes the volume-weighted average price over the full window.
func VWAP(closes, volumes []float64) float64 {
	if len(closes) == 0 || len(closes) != len(volumes) {
		return 0
	}
	var num, den float64
	for i := range closes {
		num += closes[i] * volumes[i]
		den += volumes[i]
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// OBV computes On-Balance Volume over the series.
func OBV(closes, volumes []float64) float64 {
	if len(closes) < 2 || len(closes) != len(volumes) {
		return 0
	}
	obv := 0.0
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			obv += volumes[i]
		case closes[i] < closes[i-1]:
			obv -= volumes[i]
		}
	}
	return obv
}

// Stochastic computes %K over period using high/low/close series.
func Stochastic(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period {
		return 50.0
	}
	h := highs[len(highs)-period:]
	l := lows[len(lows)-period:]
	hh, ll := h[0], l[0]
	for i := range h {
		if h[i] > hh {
			hh = h[i]
		}
		if l[i] < ll {
			ll = l[i]
		}
	}
	if hh == ll {
		return 50.0
	}
	last := closes[len(closes)-1]
	return (last - ll) / (hh - ll) * 100
}

// WilliamsR computes Williams %R over period.
func WilliamsR(highs, lows, closes []float64, period int) float64 {
	if len(closes) < period {
		return -50.0
	}
	h := highs[len(highs)-period:]
	l := lows[len(lows)-period:]
	hh, ll := h[0], l[0]
	for i := range h {
		if h[i] > hh {
			hh = h[i]
		}
		if l[i] < ll {
			ll = l[i]
		}
	}
	if hh == ll {
		return -50.0
	}
	last := closes[len(closes)-1]
	return (hh - last) / (hh - ll) * -100
}
