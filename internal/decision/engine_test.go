package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairtrader/internal/config"
)

func defaultCfg() config.DEConfig {
	return config.Default().DE
}

func TestDecisionHoldWeightZero(t *testing.T) {
	e := NewEngine(defaultCfg())
	sig := SignalInput{Pair: "BTC/ETH", Strength: 0.05, Confidence: 0.9, DataQuality: 1, Freshness: 1}
	pc := PortfolioContext{TotalValue: 100000, Cash: 50000}
	d := e.Decide(sig, pc, time.Now())
	assert.Equal(t, Hold, d.Action)
	assert.Equal(t, 0.0, d.RecommendedWeight)
}

func TestDecisionThrottlesWithinHour(t *testing.T) {
	e := NewEngine(defaultCfg())
	sig := SignalInput{Pair: "BTC/ETH", Strength: 0.9, Confidence: 0.9, DataQuality: 1, Freshness: 1}
	pc := PortfolioContext{TotalValue: 100000, Cash: 50000}
	now := time.Now()
	d1 := e.Decide(sig, pc, now)
	require.NotEqual(t, NoAction, d1.Action)
	d2 := e.Decide(sig, pc, now.Add(10*time.Minute))
	assert.Equal(t, NoAction, d2.Action)
	assert.Contains(t, d2.Reasons, "too soon")
}

func TestDecisionFactorContributionsSumToOne(t *testing.T) {
	e := NewEngine(defaultCfg())
	sig := SignalInput{Pair: "BTC/ETH", Strength: 0.9, Confidence: 0.9, DataQuality: 1, Freshness: 1}
	pc := PortfolioContext{TotalValue: 100000, Cash: 50000}
	d := e.Decide(sig, pc, time.Now())
	sum := 0.0
	for _, v := range d.FactorContributions {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestDecisionWeightCappedAtMaxPositionSize(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxPositionSize = 0.1
	cfg.VolatilityScaling = false
	e := NewEngine(cfg)
	sig := SignalInput{Pair: "BTC/ETH", Strength: 1.0, Confidence: 1.0, DataQuality: 1, Freshness: 1}
	pc := PortfolioContext{TotalValue: 1000000, Cash: 1000000}
	d := e.Decide(sig, pc, time.Now())
	assert.LessOrEqual(t, d.RecommendedWeight, cfg.MaxPositionSize+1e-9)
}

func TestDecisionSizingNeverExceedsAvailableCash(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxPositionSize = 0.5
	cfg.VolatilityScaling = false
	cfg.MinSignalConfidence = 0.1
	e := NewEngine(cfg)
	sig := SignalInput{Pair: "BTC/ETH", Strength: 1.0, Confidence: 1.0, DataQuality: 1, Freshness: 1}
	pc := PortfolioContext{TotalValue: 1000000, Cash: 1}
	d := e.Decide(sig, pc, time.Now())
	requiredCash := d.RecommendedWeight * pc.TotalValue
	assert.LessOrEqual(t, requiredCash, pc.Cash+1e-6)
}

func TestBatchScalesDownOverweightBatch(t *testing.T) {
	decisions := []Decision{
		{Pair: "A/B", RecommendedWeight: 0.5, FactorContributions: map[string]float64{}},
		{Pair: "C/D", RecommendedWeight: 0.5, FactorContributions: map[string]float64{}},
	}
	res := Batch(decisions, defaultCfg())
	total := 0.0
	for _, d := range res.Decisions {
		total += d.RecommendedWeight
	}
	assert.InDelta(t, 0.8, total, 1e-9)
	assert.True(t, res.BatchApproved)
}

func TestPositionRiskGrowsWithSize(t *testing.T) {
	sig := SignalInput{DataQuality: 1, PredictedVolatility: 0}
	small := computePositionRisk(sig, 0, 0.2)
	large := computePositionRisk(sig, 0.2, 0.2)
	assert.InDelta(t, 0.0, small, 1e-9)
	assert.InDelta(t, 0.2, large, 1e-9)
}

func TestCorrelationRiskSharedSymbol(t *testing.T) {
	sig := SignalInput{BaseSymbol: "BTC", QuoteSymbol: "ETH"}
	pc := PortfolioContext{Positions: []Position{{BaseSymbol: "BTC", QuoteSymbol: "SOL", Weight: 0.1}}}
	risk := computeCorrelationRisk(sig, pc)
	assert.InDelta(t, 0.07, risk, 1e-9)
}
