package mdf

// classifyRegime implements the spec.md §4.1 regime classification from
// the recent tick window of consolidated mid prices (oldest first). At
// least 50 points are required; fewer yields Unknown with confidence 0.
func classifyRegime(mids []float64, spreadsBps []float64) RegimeReport {
	if len(mids) < 50 {
		return RegimeReport{
			Regime:      RegimeUnknown,
			Confidence:  0,
			Description: "insufficient tick history for regime classification",
			Indicators:  map[string]float64{"sample_size": float64(len(mids))},
		}
	}

	rets := simpleReturns(mids)
	sigma := stdev(rets)

	first, last := mids[0], mids[len(mids)-1]
	trend := 0.0
	if first != 0 {
		trend = absf((last - first) / first)
	}

	avgSpread := 0.0
	if len(spreadsBps) > 0 {
		sum := 0.0
		for _, s := range spreadsBps {
			sum += s
		}
		avgSpread = sum / float64(len(spreadsBps))
	}

	ind := map[string]float64{
		"sigma":      sigma,
		"trend":      trend,
		"avg_spread": avgSpread,
	}

	switch {
	case sigma > 0.02:
		return RegimeReport{Regime: RegimeVolatile, Confidence: clamp01(sigma * 50), Description: "elevated return volatility", Indicators: ind}
	case trend > 0.015:
		return RegimeReport{Regime: RegimeTrending, Confidence: clamp01(trend * 67), Description: "sustained directional move", Indicators: ind}
	case avgSpread > 30:
		return RegimeReport{Regime: RegimeIlliquid, Confidence: clamp01((avgSpread - 10) / 40), Description: "wide cross-venue spreads", Indicators: ind}
	case sigma < 0.005 && trend < 0.005:
		return RegimeReport{Regime: RegimeRanging, Confidence: clamp01(1 - 200*maxf(sigma, trend)), Description: "low volatility, no trend", Indicators: ind}
	default:
		return RegimeReport{Regime: RegimeNormal, Confidence: 0.8, Description: "no dominant regime signal", Indicators: ind}
	}
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
