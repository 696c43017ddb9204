package decision

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/pairtrader/internal/config"
)

// Engine transforms Signal x PortfolioContext into a Decision (spec.md
// §4.4), grounded on the original source's AlgorithmDecisionEngine and
// re-expressed in the teacher's guard-evaluator idiom: build a details
// map, compute thresholds, emit a reasoned result.
type Engine struct {
	cfg config.DEConfig

	mu       sync.Mutex
	lastByPair map[string]time.Time
}

func NewEngine(cfg config.DEConfig) *Engine {
	return &Engine{cfg: cfg, lastByPair: make(map[string]time.Time)}
}

// SetConfig hot-swaps DE's config without disturbing the per-pair throttle
// state, the counterpart to engine.SwapConfig (spec.md §6.3).
func (e *Engine) SetConfig(cfg config.DEConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Decide produces a Decision for one pair. now is the evaluation instant;
// it must be >= sig.TS (spec.md §5 ordering guarantee enforced by caller).
func (e *Engine) Decide(sig SignalInput, pc PortfolioContext, now time.Time) Decision {
	e.mu.Lock()
	cfg := e.cfg
	throttleWindow := time.Duration(cfg.ThrottleWindowSeconds) * time.Second
	if throttleWindow <= 0 {
		throttleWindow = time.Hour
	}
	last, seen := e.lastByPair[sig.Pair]
	tooSoon := seen && now.Sub(last) < throttleWindow
	if !tooSoon {
		e.lastByPair[sig.Pair] = now
	}
	e.mu.Unlock()

	if tooSoon {
		return noAction(sig.Pair, now, []string{"too soon"})
	}

	adj := sig.Strength * sig.DataQuality * sig.Freshness
	if sig.PredictedVolatility > 0.2 {
		adj *= 0.8
	}
	if sig.RSI > 80 || sig.RSI < 20 {
		adj *= 1.1
	}
	if math.Abs(sig.MACDHistogram) > 0.01 {
		adj *= 1.05
	}
	adj = clampRange(adj, -1, 1)

	scale := math.Max(0.5, sig.Confidence)
	action := classifyAction(adj, scale)

	correlationRisk := computeCorrelationRisk(sig, pc)

	var positionRisk, recommendedWeight float64
	var requiredCash float64
	reasons := append([]string{}, sig.Reasons...)

	if action == Hold || action == NoAction {
		positionRisk = computePositionRisk(sig, 0, cfg.MaxPositionSize)
		recommendedWeight = 0
	} else {
		// position_risk depends on the sized weight and vice versa
		// (spec.md §4.4); bootstrap with sig.RiskScore standing in for
		// position_risk on the first pass, the way the original source's
		// calculateRecommendedWeight -> calculatePositionRisk ->
		// calculateRecommendedWeight chain does, then resize with the
		// real position_risk once it's known.
		bootstrapSize := recommendedWeightFor(adj, cfg, pc, sig.RiskScore)
		positionRisk = computePositionRisk(sig, bootstrapSize, cfg.MaxPositionSize)
		sized := recommendedWeightFor(adj, cfg, pc, positionRisk)
		if correlationRisk > cfg.CorrelationThreshold {
			sized *= 1 - correlationRisk
			reasons = append(reasons, "correlation risk elevated")
		}
		if sized < 0 {
			sized = 0
		}
		recommendedWeight = sized
		requiredCash = sized * pc.TotalValue
	}

	if sig.RSI > 70 {
		reasons = append(reasons, "RSI overbought")
	} else if sig.RSI < 30 {
		reasons = append(reasons, "RSI oversold")
	}
	if sig.MACDHistogram > 0.01 {
		reasons = append(reasons, "MACD bullish crossover")
	} else if sig.MACDHistogram < -0.01 {
		reasons = append(reasons, "MACD bearish crossover")
	}
	if sig.Regime == "crisis" {
		reasons = append(reasons, "crisis regime — minimal size")
	}

	factorContributions := map[string]float64{
		"technical":        0.4,
		"momentum":         0.2,
		"volatility":       0.2,
		"risk_adjustment":  0.2,
	}

	isBuyFamily := action == Buy || action == StrongBuy
	rejected := ""
	switch {
	case sig.Confidence < cfg.MinSignalConfidence:
		rejected = "confidence below minimum"
	case recommendedWeight > cfg.MaxPositionSize+1e-9:
		rejected = "recommended weight exceeds max position size"
	case positionRisk > 0.9:
		rejected = "position risk exceeds 0.9"
	case isBuyFamily && requiredCash > pc.Cash:
		rejected = "required cash exceeds available cash"
	}
	if rejected != "" {
		d := noAction(sig.Pair, now, append(reasons, rejected))
		d.Confidence = sig.Confidence
		return d
	}

	if action == Hold {
		recommendedWeight = 0
	}

	return Decision{
		ID:                       uuid.NewString(),
		Pair:                     sig.Pair,
		TS:                       now,
		Action:                   action,
		RecommendedWeight:        recommendedWeight,
		Confidence:               sig.Confidence,
		SignalStrength:           sig.Strength,
		RiskAdjustedStrength:     adj,
		PositionRisk:             positionRisk,
		CorrelationRisk:          correlationRisk,
		PortfolioImpact:          recommendedWeight,
		ExpectedReturn:           sig.PredictedReturn,
		ExpectedVolatility:       sig.PredictedVolatility,
		Reasons:                  reasons,
		FactorContributions:      factorContributions,
		RecommendedHoldingPeriod: 24 * time.Hour,
	}
}

func noAction(pair string, now time.Time, reasons []string) Decision {
	return Decision{
		ID:                  uuid.NewString(),
		Pair:                pair,
		TS:                  now,
		Action:              NoAction,
		RecommendedWeight:   0,
		Reasons:             reasons,
		FactorContributions: map[string]float64{"technical": 0.25, "momentum": 0.25, "volatility": 0.25, "risk_adjustment": 0.25},
	}
}

func classifyAction(adj, scale float64) Action {
	switch {
	case adj >= 0.8*scale:
		return StrongBuy
	case adj >= 0.6*scale:
		return Buy
	case adj <= -0.8*scale:
		return StrongSell
	case adj <= -0.6*scale:
		return Sell
	default:
		return Hold
	}
}

// computePositionRisk implements spec.md §4.4's position_risk formula:
// min(1, 0.4*vol/0.3 + 0.3*(1-quality) + 0.2*size/max_size + 0.1*[spread>0.005]).
// size is the recommended weight from the sizing pass that produced it
// (a bootstrap estimate on the first pass, the real weight on the second).
func computePositionRisk(sig SignalInput, size, maxSize float64) float64 {
	spreadPenalty := 0.0
	if sig.SpreadBps/10000 > 0.005 {
		spreadPenalty = 1
	}
	sizeRatio := 0.0
	if maxSize > 0 {
		sizeRatio = size / maxSize
	}
	risk := 0.4*(sig.PredictedVolatility/0.3) + 0.3*(1-sig.DataQuality) + 0.2*sizeRatio + 0.1*spreadPenalty
	return clampRange(risk, 0, 1)
}

// recommendedWeightFor implements spec.md §4.4's position-sizing formula
// for a given position_risk estimate; called twice per Decide (bootstrap,
// then with the real position_risk) since the two are mutually dependent.
func recommendedWeightFor(adj float64, cfg config.DEConfig, pc PortfolioContext, positionRisk float64) float64 {
	base := math.Abs(adj) * cfg.MaxPositionSize
	sized := base * (1 - positionRisk*0.5)
	if pc.TotalValue > 0 {
		cashBuffer := pc.Cash / pc.TotalValue * 0.8
		sized = math.Min(sized, cashBuffer)
	}
	if cfg.VolatilityScaling {
		sized *= math.Min(2, 0.15/math.Max(0.05, pc.Volatility))
	}
	return math.Min(sized, cfg.MaxPositionSize)
}

// computeCorrelationRisk implements spec.md §4.4's correlation_risk
// formula: max over existing positions of sim * position.weight.
func computeCorrelationRisk(sig SignalInput, pc PortfolioContext) float64 {
	max := 0.0
	for _, p := range pc.Positions {
		sim := 0.2
		sharedBase := p.BaseSymbol != "" && p.BaseSymbol == sig.BaseSymbol
		sharedQuote := p.QuoteSymbol != "" && p.QuoteSymbol == sig.QuoteSymbol
		inverseShared := (p.BaseSymbol != "" && p.BaseSymbol == sig.QuoteSymbol) || (p.QuoteSymbol != "" && p.QuoteSymbol == sig.BaseSymbol)
		switch {
		case sharedBase || sharedQuote:
			sim = 0.7
		case inverseShared:
			sim = 0.5
		}
		v := sim * p.Weight
		if v > max {
			max = v
		}
	}
	return max
}

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

// Batch applies spec.md §4.4 batch-level risk management across a set of
// decisions produced in one cycle.
type BatchResult struct {
	Decisions      []Decision
	Warnings       []string
	BatchApproved  bool
}

func Batch(decisions []Decision, cfg config.DEConfig) BatchResult {
	var warnings []string
	total := 0.0
	for _, d := range decisions {
		total += d.RecommendedWeight
	}
	if total > 0.8 {
		scale := 0.8 / total
		for i := range decisions {
			decisions[i].RecommendedWeight *= scale
			decisions[i].PortfolioImpact *= scale
		}
		warnings = append(warnings, fmt.Sprintf("batch weight %.4f exceeded 0.8, scaled down", total))
	}

	sectorTotals := map[string]float64{}
	for _, d := range decisions {
		// Sector attribution is carried by the caller via Decision.Pair's
		// base symbol mapping; DE has no sector taxonomy of its own, so
		// this loop only flags when the caller pre-populates totals via
		// FactorContributions["sector_exposure"].
		if v, ok := d.FactorContributions["sector_exposure"]; ok {
			sectorTotals[d.Pair] += v
		}
	}
	for sector, total := range sectorTotals {
		if total > cfg.MaxSectorExposure {
			warnings = append(warnings, fmt.Sprintf("sector %s exposure %.4f exceeds max %.4f", sector, total, cfg.MaxSectorExposure))
		}
	}

	return BatchResult{
		Decisions:     decisions,
		Warnings:      warnings,
		BatchApproved: len(warnings) < 3,
	}
}
