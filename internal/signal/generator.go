package signal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/mdf"
)

// Generator produces a Signal per pair from an aggregated view pair plus
// history (spec.md §4.3).
type Generator struct {
	mu  sync.RWMutex
	cfg config.SGConfig
}

func NewGenerator(cfg config.SGConfig) *Generator {
	return &Generator{cfg: cfg}
}

// SetConfig hot-swaps SG's config, the counterpart to engine.SwapConfig.
func (g *Generator) SetConfig(cfg config.SGConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
}

// Input bundles everything the generator needs for one pair evaluation.
type Input struct {
	Pair        string // "BASE/QUOTE"
	Base        mdf.AggregatedView
	Quote       mdf.AggregatedView
	BaseRegime  mdf.RegimeReport
	BaseHistory History
	QuoteHistory History
	RatioHistory []float64 // base_price/quote_price rolling window, oldest first
	Now         time.Time
}

// regimeAdjust is the spec.md §4.3 regime multiplier table.
type regimeAdjust struct {
	strengthFactor   float64
	confidenceFactor float64
	positiveOnly     bool
}

var regimeTable = map[mdf.Regime]regimeAdjust{
	mdf.RegimeBull:     {1.1, 1.0, true},
	mdf.RegimeBear:     {0.8, 1.0, true},
	mdf.RegimeVolatile: {0.8, 0.9, false},
	mdf.RegimeIlliquid: {0.7, 0.85, false},
	mdf.RegimeCrisis:   {0.3, 0.5, false},
	mdf.RegimeTrending: {1.1, 1.05, false},
	mdf.RegimeNormal:   {1.0, 1.0, false},
	mdf.RegimeRanging:  {1.0, 1.0, false},
}

// Generate produces a Signal for one pair, or a NoAction signal with a
// diagnostic reason when quality gates fail (spec.md §4.3 quality filter).
func (g *Generator) Generate(in Input) Signal {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	dataQuality := math.Min(in.Base.ConsensusQuality, in.Quote.ConsensusQuality)
	participating := in.Base.ParticipatingVenues
	if in.Quote.ParticipatingVenues < participating {
		participating = in.Quote.ParticipatingVenues
	}
	latencyMs := 0.0
	if in.Base.Freshness > 0 {
		latencyMs = (1 - in.Base.Freshness) * 5000
	} else {
		latencyMs = math.Inf(1)
	}

	if dataQuality < cfg.MinDataQuality {
		return diagnosticSignal(in.Pair, in.Now, "Insufficient data quality")
	}
	if latencyMs > cfg.MaxDataLatency {
		return diagnosticSignal(in.Pair, in.Now, "Data latency exceeds maximum")
	}
	if participating < cfg.MinVenues {
		return diagnosticSignal(in.Pair, in.Now, "Insufficient participating venues")
	}

	technical, technicalConf, reasons, contrib := g.technicalSubSignal(in)
	momentum, momentumConf, momReasons := g.momentumSubSignal(in)
	meanRev, meanRevConf, mrReasons := g.meanReversionSubSignal(in)
	reasons = append(reasons, momReasons...)
	reasons = append(reasons, mrReasons...)

	confSum := technicalConf + momentumConf + meanRevConf
	if confSum == 0 {
		return diagnosticSignal(in.Pair, in.Now, "No sub-signal confidence available")
	}

	strength := (technical*technicalConf + momentum*momentumConf + meanRev*meanRevConf) / confSum
	confidence := confSum / 3
	confidence = clamp01(confidence)
	strength = clampRange(strength, -1, 1)

	contrib["technical"] = technicalConf / confSum
	contrib["momentum"] = momentumConf / confSum
	contrib["mean_reversion"] = meanRevConf / confSum

	adj := regimeTable[in.BaseRegime.Regime]
	if adj.strengthFactor == 0 && adj.confidenceFactor == 0 {
		adj = regimeAdjust{1.0, 1.0, false}
	}
	if !adj.positiveOnly || strength > 0 {
		strength *= adj.strengthFactor
	}
	if adj.confidenceFactor != 0 {
		confidence *= adj.confidenceFactor
	}
	strength = clampRange(strength, -1, 1)
	confidence = clamp01(confidence)

	if confidence < cfg.MinConfidence {
		return diagnosticSignal(in.Pair, in.Now, "Confidence below minimum threshold")
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "composite signal from technical/momentum/mean-reversion sub-signals")
	}

	return Signal{
		ID:                      uuid.NewString(),
		Pair:                    in.Pair,
		TS:                      in.Now,
		Strength:                strength,
		Confidence:              confidence,
		PredictedReturn:         strength * 0.02,
		PredictedVolatility:     stdevOf(in.RatioHistory),
		Horizon:                 24 * time.Hour,
		RiskScore:               clamp01(1 - dataQuality),
		DataQuality:             dataQuality,
		Regime:                  in.BaseRegime.Regime,
		Reasons:                 reasons,
		IndicatorContributions:  contrib,
		IsLive:                  true,
	}
}

func diagnosticSignal(pair string, now time.Time, reason string) Signal {
	return Signal{
		ID:         uuid.NewString(),
		Pair:       pair,
		TS:         now,
		Strength:   0,
		Confidence: 0,
		Reasons:    []string{reason},
	}
}

// technicalSubSignal implements spec.md §4.3's RSI-divergence, MACD
// histogram divergence, Bollinger %B extremes and volume-ratio multiplier.
func (g *Generator) technicalSubSignal(in Input) (strength, confidence float64, reasons []string, contrib map[string]float64) {
	baseCloses := in.BaseHistory.closes()
	quoteCloses := in.QuoteHistory.closes()
	contrib = map[string]float64{}

	if len(baseCloses) < 15 || len(quoteCloses) < 15 {
		return 0, 0, nil, contrib
	}

	baseRSI := RSI(baseCloses, 14)
	quoteRSI := RSI(quoteCloses, 14)
	rsiDivergence := clampRange((baseRSI-quoteRSI)/50, -1, 1)
	strength += rsiDivergence * 0.3
	if math.Abs(rsiDivergence) > 0.2 {
		if rsiDivergence > 0 {
			reasons = append(reasons, "RSI divergence favors base")
		} else {
			reasons = append(reasons, "RSI divergence favors quote")
		}
	}

	_, _, baseHist := MACD(baseCloses, 12, 26, 9)
	_, _, quoteHist := MACD(quoteCloses, 12, 26, 9)
	if baseHist > 0 && quoteHist < 0 {
		strength += 0.2
		reasons = append(reasons, "MACD bullish crossover divergence")
	} else if baseHist < 0 && quoteHist > 0 {
		strength -= 0.2
		reasons = append(reasons, "MACD bearish crossover divergence")
	}

	_, _, _, baseB := BollingerBands(baseCloses, 20, 2)
	if baseB > 1 {
		strength += 0.25
		reasons = append(reasons, "Bollinger %B overbought extreme on base")
	} else if baseB < 0 {
		strength -= 0.25
		reasons = append(reasons, "Bollinger %B oversold extreme on base")
	}

	baseVolumes := in.BaseHistory.volumes()
	if len(baseVolumes) >= 20 {
		recent := avg(baseVolumes[len(baseVolumes)-5:])
		base := avg(baseVolumes[len(baseVolumes)-20:])
		if base > 0 && recent/base > 1.2 {
			strength *= 1.1
			reasons = append(reasons, "elevated volume ratio")
		}
	}

	strength = clampRange(strength, -1, 1)
	confidence = clamp01(0.6)
	contrib["technical"] = 0 // filled relative to total confidence by caller
	contrib["rsi_divergence"] = rsiDivergence
	contrib["macd_histogram_base"] = baseHist
	contrib["bollinger_percent_b"] = baseB
	return strength, confidence, reasons, contrib
}

// momentumSubSignal requires at least MinHistoryDays of history.
func (g *Generator) momentumSubSignal(in Input) (strength, confidence float64, reasons []string) {
	if len(in.BaseHistory.Bars) < g.cfg.MinHistoryDays || len(in.QuoteHistory.Bars) < g.cfg.MinHistoryDays {
		return 0, 0, nil
	}
	baseReturn24h := periodReturn(in.BaseHistory.closes(), 1)
	baseReturn7d := periodReturn(in.BaseHistory.closes(), 7)
	quoteReturn24h := periodReturn(in.QuoteHistory.closes(), 1)
	quoteReturn7d := periodReturn(in.QuoteHistory.closes(), 7)

	rel24 := baseReturn24h - quoteReturn24h
	rel7 := baseReturn7d - quoteReturn7d

	strength = clampRange(rel24*5+rel7*2, -1, 1)
	confidence = clamp01(0.5)
	if strength > 0.2 {
		reasons = append(reasons, "relative momentum favors base over the horizon")
	} else if strength < -0.2 {
		reasons = append(reasons, "relative momentum favors quote over the horizon")
	}
	return strength, confidence, reasons
}

// meanReversionSubSignal compares the base/quote ratio to its rolling
// mean per spec.md §4.3.
func (g *Generator) meanReversionSubSignal(in Input) (strength, confidence float64, reasons []string) {
	if len(in.RatioHistory) < 10 {
		return 0, 0, nil
	}
	current := in.RatioHistory[len(in.RatioHistory)-1]
	mean := avg(in.RatioHistory)
	sigma := stdevOf(in.RatioHistory)
	if mean == 0 {
		return 0, 0, nil
	}
	deviation := (current - mean) / mean
	strength = -math.Tanh(5 * deviation)
	confidence = clampRangeLow(math.Exp(-50*sigma), 0.1, 0.95)
	if math.Abs(deviation) > 0.02 {
		reasons = append(reasons, fmt.Sprintf("mean-reversion: ratio deviates %.2f%% from rolling mean", deviation*100))
	}
	return strength, confidence, reasons
}

func periodReturn(closes []float64, days int) float64 {
	if len(closes) <= days || closes[len(closes)-1-days] == 0 {
		return 0
	}
	return (closes[len(closes)-1] - closes[len(closes)-1-days]) / closes[len(closes)-1-days]
}

func avg(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stdevOf(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := avg(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func clamp01(x float64) float64 { return clampRange(x, 0, 1) }

func clampRange(x, lo, hi float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func clampRangeLow(x, lo, hi float64) float64 {
	if math.IsNaN(x) {
		return lo
	}
	return clampRange(x, lo, hi)
}
