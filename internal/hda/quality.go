package hda

import (
	"math"
	"time"
)

// detectAnomalies implements spec.md §4.2 step 3 over a centred window that
// reaches min(20, n/2) bars (at least 2) on each side of the bar being
// checked, the bar itself included, mutating Quality/Anomaly in place. Returns, per bar,
// whether the volume-deviation trigger (as opposed to the price trigger)
// fired, so callers can report the two anomaly kinds separately.
func detectAnomalies(bars []OHLCV) []bool {
	n := len(bars)
	volAnomaly := make([]bool, n)
	if n < 3 {
		return volAnomaly
	}
	window := 20
	if n/2 < window {
		window = n / 2
	}
	if window < 2 {
		window = 2
	}

	for i := range bars {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > n {
			hi = n
		}

		closeMean, closeSigma := windowStats(bars, lo, hi, func(b OHLCV) float64 { return b.Close })
		volMean, _ := windowStats(bars, lo, hi, func(b OHLCV) float64 { return b.Volume })

		anomalous := false
		if closeSigma > 0 && math.Abs(bars[i].Close-closeMean) > 3*closeSigma {
			bars[i].Quality *= 0.5
			anomalous = true
		}
		if volMean > 0 {
			ratio := bars[i].Volume / volMean
			if ratio > 5 || ratio < 0.1 {
				bars[i].Quality *= 0.7
				anomalous = true
				volAnomaly[i] = true
			}
		}
		if anomalous {
			bars[i].Anomaly = true
		}
	}
	return volAnomaly
}

func windowStats(bars []OHLCV, lo, hi int, get func(OHLCV) float64) (mean, sigma float64) {
	count := hi - lo
	if count <= 0 {
		return 0, 0
	}
	sum := 0.0
	for i := lo; i < hi; i++ {
		sum += get(bars[i])
	}
	mean = sum / float64(count)

	if count < 2 {
		return mean, 0
	}
	variance := 0.0
	for i := lo; i < hi; i++ {
		d := get(bars[i]) - mean
		variance += d * d
	}
	variance /= float64(count)
	return mean, math.Sqrt(variance)
}

// interpolateGaps implements spec.md §4.2 step 4: linear interpolation
// from neighbors for any bar with quality < 0.3 or close == 0.
func interpolateGaps(bars []OHLCV) {
	n := len(bars)
	for i := range bars {
		if bars[i].Quality >= 0.3 && bars[i].Close != 0 {
			continue
		}
		prevIdx := -1
		for j := i - 1; j >= 0; j-- {
			if bars[j].Quality >= 0.3 && bars[j].Close != 0 {
				prevIdx = j
				break
			}
		}
		nextIdx := -1
		for j := i + 1; j < n; j++ {
			if bars[j].Quality >= 0.3 && bars[j].Close != 0 {
				nextIdx = j
				break
			}
		}

		ts, symbol, source := bars[i].TS, bars[i].Symbol, bars[i].Source
		switch {
		case prevIdx >= 0 && nextIdx >= 0:
			frac := float64(i-prevIdx) / float64(nextIdx-prevIdx)
			bars[i] = lerp(bars[prevIdx], bars[nextIdx], frac, ts, symbol, source)
		case prevIdx >= 0:
			bars[i] = carryForward(bars[prevIdx], ts, symbol, source)
		case nextIdx >= 0:
			bars[i] = carryForward(bars[nextIdx], ts, symbol, source)
		}
		bars[i].Interpolated = true
		bars[i].Quality = 0.7
	}
}

func lerp(a, b OHLCV, frac float64, ts time.Time, symbol, source string) OHLCV {
	mix := func(x, y float64) float64 { return x + (y-x)*frac }
	return OHLCV{
		TS:        ts,
		Symbol:    symbol,
		Open:      mix(a.Open, b.Open),
		High:      mix(a.High, b.High),
		Low:       mix(a.Low, b.Low),
		Close:     mix(a.Close, b.Close),
		Volume:    mix(a.Volume, b.Volume),
		VolumeUSD: mix(a.VolumeUSD, b.VolumeUSD),
		MarketCap: mix(a.MarketCap, b.MarketCap),
		Source:    source,
	}
}

func carryForward(src OHLCV, ts time.Time, symbol, source string) OHLCV {
	out := src
	out.TS = ts
	out.Symbol = symbol
	out.Source = source
	return out
}

// qualityReport implements spec.md §4.2's per-series summary.
func qualityReport(bars []OHLCV, volAnomaly []bool, expected int) QualityReport {
	n := len(bars)
	if n == 0 {
		return QualityReport{}
	}

	completeness := 1.0
	if expected > 0 {
		completeness = float64(n) / float64(expected)
	}

	sumQuality := 0.0
	interpolated := 0
	anomalies := 0
	volAnomalies := 0
	priceGaps := 0

	for i, b := range bars {
		sumQuality += b.Quality
		if b.Interpolated {
			interpolated++
		}
		if b.Anomaly {
			anomalies++
		}
		if i < len(volAnomaly) && volAnomaly[i] {
			volAnomalies++
		}
		if i > 0 && bars[i-1].Close > 0 {
			jump := math.Abs(b.Close-bars[i-1].Close) / bars[i-1].Close
			if jump > 0.20 {
				priceGaps++
			}
		}
	}

	meanQuality := sumQuality / float64(n)
	interpolatedRatio := float64(interpolated) / float64(n)
	anomalyRatio := float64(anomalies) / float64(n)

	consistency := completeness * meanQuality * (1 - interpolatedRatio) * (1 - anomalyRatio)

	return QualityReport{
		Completeness:      completeness,
		MeanQuality:       meanQuality,
		InterpolatedRatio: interpolatedRatio,
		AnomalyRatio:      anomalyRatio,
		PriceGapCount:     priceGaps,
		VolumeAnomalies:   volAnomalies,
		ConsistencyScore:  consistency,
	}
}
