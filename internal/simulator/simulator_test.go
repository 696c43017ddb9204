package simulator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/correlation"
)

type approveAllGate struct{}

func (approveAllGate) Evaluate(symbol string, qty, price float64, isLong bool, totalCapital, availableCapital, currentExposure float64, openPositions int) RiskDecision {
	return RiskDecision{Approved: true, MaxAllowedQty: qty}
}

type rejectGate struct{}

func (rejectGate) Evaluate(symbol string, qty, price float64, isLong bool, totalCapital, availableCapital, currentExposure float64, openPositions int) RiskDecision {
	return RiskDecision{Approved: false}
}

type recordingSink struct {
	pairs []correlation.PredictionOutcomePair
}

func (r *recordingSink) Push(pairID string, p correlation.PredictionOutcomePair) {
	r.pairs = append(r.pairs, p)
}

func defaultLSCfg() config.LSConfig {
	return config.Default().LS
}

// TestS4StopLossTriggersClose mirrors spec.md §8.3 scenario S4.
func TestS4StopLossTriggersClose(t *testing.T) {
	sink := &recordingSink{}
	cfg := defaultLSCfg()
	cfg.StopLossPct = 0.05
	cfg.TakeProfitPct = 10 // effectively unreachable in this scenario
	cfg.TransactionCostBps = 0
	sim := New(cfg, approveAllGate{}, sink).WithRand(rand.New(rand.NewSource(0)))

	now := time.Now()
	cand := SignalCandidate{ID: "sig-1", Pair: "BTC/ETH", Direction: Long, Confidence: 0.9, PredictedReturn: 0.02}
	pos, reason := sim.TryOpen(cand, 10, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)
	require.Equal(t, "", reason)
	require.NotNil(t, pos)

	// Pin the entry price and stop to the spec narrative exactly: the
	// simulated fill perturbs price by a random slippage factor, but the
	// scenario is defined in terms of a clean entry at 100.
	sim.mu.Lock()
	pos.ExecutedPrice = 100
	pos.EntryPrice = 100
	pos.StopLoss = 95
	pos.TakeProfit = 1000
	sim.mu.Unlock()

	ticks := []float64{99, 97, 95, 94, 96}
	var rec *PositionRecord
	for _, mid := range ticks {
		r := sim.Update(Tick{Pair: "BTC/ETH", Mid: mid}, 0, now)
		if r != nil {
			rec = r
			break
		}
	}

	require.NotNil(t, rec, "expected a close on the 95 tick")
	assert.Equal(t, "stop_loss", rec.ExitReason)
	assert.InDelta(t, 95.0, rec.ExitPrice, 1e-9)
	assert.InDelta(t, (95-100)*10, rec.RealizedPnL, 1e-6)
	require.Len(t, sink.pairs, 1)
	assert.Equal(t, now, sink.pairs[0].TSPredicted)
}

func TestTryOpenRejectsSecondPositionSamePair(t *testing.T) {
	sim := New(defaultLSCfg(), approveAllGate{}, nil)
	now := time.Now()
	cand := SignalCandidate{ID: "s1", Pair: "BTC/ETH", Direction: Long, Confidence: 0.9}
	pos, reason := sim.TryOpen(cand, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)
	require.NotNil(t, pos)
	require.Equal(t, "", reason)

	pos2, reason2 := sim.TryOpen(cand, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)
	assert.Nil(t, pos2)
	assert.Equal(t, "position already open for pair", reason2)
}

func TestTryOpenRejectedByRiskGate(t *testing.T) {
	sim := New(defaultLSCfg(), rejectGate{}, nil)
	cand := SignalCandidate{ID: "s1", Pair: "BTC/ETH", Direction: Long, Confidence: 0.9}
	pos, reason := sim.TryOpen(cand, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, time.Now())
	assert.Nil(t, pos)
	assert.Equal(t, "rejected by risk manager", reason)
}

func TestTryOpenRejectsBelowMinConfidence(t *testing.T) {
	sim := New(defaultLSCfg(), approveAllGate{}, nil)
	cand := SignalCandidate{ID: "s1", Pair: "BTC/ETH", Direction: Long, Confidence: 0.1}
	pos, reason := sim.TryOpen(cand, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, time.Now())
	assert.Nil(t, pos)
	assert.Equal(t, "confidence below minimum", reason)
}

func TestTakeProfitTriggersClose(t *testing.T) {
	sink := &recordingSink{}
	cfg := defaultLSCfg()
	cfg.TransactionCostBps = 0
	sim := New(cfg, approveAllGate{}, sink)
	now := time.Now()
	cand := SignalCandidate{ID: "s1", Pair: "BTC/ETH", Direction: Long, Confidence: 0.9}
	pos, _ := sim.TryOpen(cand, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)
	require.NotNil(t, pos)
	sim.mu.Lock()
	pos.ExecutedPrice = 100
	pos.TakeProfit = 110
	pos.StopLoss = 50
	sim.mu.Unlock()

	rec := sim.Update(Tick{Pair: "BTC/ETH", Mid: 111}, 0, now)
	require.NotNil(t, rec)
	assert.Equal(t, "take_profit", rec.ExitReason)
}

func TestPositionTimeoutCloses(t *testing.T) {
	sim := New(defaultLSCfg(), approveAllGate{}, nil)
	now := time.Now()
	cand := SignalCandidate{ID: "s1", Pair: "BTC/ETH", Direction: Long, Confidence: 0.9}
	pos, _ := sim.TryOpen(cand, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)
	require.NotNil(t, pos)

	later := now.Add(25 * time.Hour)
	rec := sim.Update(Tick{Pair: "BTC/ETH", Mid: 100}, 24*time.Hour, later)
	require.NotNil(t, rec)
	assert.Equal(t, "timeout", rec.ExitReason)
}

func TestCloseAllEmitsOneRecordPerPosition(t *testing.T) {
	sim := New(defaultLSCfg(), approveAllGate{}, nil)
	now := time.Now()
	sim.TryOpen(SignalCandidate{ID: "s1", Pair: "A/B", Direction: Long, Confidence: 0.9}, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)
	sim.TryOpen(SignalCandidate{ID: "s2", Pair: "C/D", Direction: Short, Confidence: 0.9}, 1, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)

	recs := sim.CloseAll("manual shutdown", now.Add(time.Minute))
	assert.Len(t, recs, 2)
	assert.False(t, sim.HasOpenPosition("A/B"))
	assert.False(t, sim.HasOpenPosition("C/D"))
}

func TestSnapshotDrawdownMonotonicPeak(t *testing.T) {
	sim := New(defaultLSCfg(), approveAllGate{}, nil)
	now := time.Now()
	sim.TryOpen(SignalCandidate{ID: "s1", Pair: "A/B", Direction: Long, Confidence: 0.9}, 10, 100, 0, 1_000_000, 1_000_000, 0, 0.5, now)
	snap1 := sim.Snapshot(now, "compliant")
	assert.GreaterOrEqual(t, snap1.PortfolioValue, 0.0)

	sim.Update(Tick{Pair: "A/B", Mid: 50}, 0, now.Add(time.Second))
	snap2 := sim.Snapshot(now.Add(time.Second), "compliant")
	assert.GreaterOrEqual(t, snap2.Drawdown, 0.0)
}
