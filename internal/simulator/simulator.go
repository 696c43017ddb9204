package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/correlation"
)

// RiskGate is RM's pre-trade capability, narrowed to what LS needs (spec.md
// §9 Design Notes: no back-pointer from LS into the risk package).
type RiskGate interface {
	Evaluate(symbol string, qty, price float64, isLong bool, totalCapital, availableCapital, currentExposure float64, openPositions int) RiskDecision
}

// RiskDecision mirrors risk.EvaluateResult's fields LS consumes.
type RiskDecision struct {
	Approved      bool
	MaxAllowedQty float64
}

// OutcomeSink receives realized prediction/outcome pairs on every close,
// feeding the Correlation Validator (spec.md §4.7 step 6).
type OutcomeSink interface {
	Push(pairID string, pair correlation.PredictionOutcomePair)
}

// Simulator implements the Live Simulator (spec.md §4.7), grounded on the
// teacher's cooperative poll/act/sleep loop shape in
// cmd/cryptorun/scan_main.go, re-expressed around position lifecycle
// instead of a scan cycle.
type Simulator struct {
	cfg config.LSConfig

	mu        sync.Mutex
	positions map[string]*Position // keyed by Pair; at most one open per pair
	records   []PositionRecord
	rng       *rand.Rand
	peakValue float64
	paused    bool
	accelerated bool

	gate    RiskGate
	sink    OutcomeSink
}

// New constructs a Simulator. rng defaults to a time-seeded source;
// callers needing determinism (tests) pass their own via WithRand.
func New(cfg config.LSConfig, gate RiskGate, sink OutcomeSink) *Simulator {
	return &Simulator{
		cfg:       cfg,
		positions: make(map[string]*Position),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		gate:      gate,
		sink:      sink,
	}
}

// WithRand overrides the random source, used by tests to pin
// execution_delay/slippage_factor draws.
func (s *Simulator) WithRand(r *rand.Rand) *Simulator {
	s.rng = r
	return s
}

// SetConfig hot-swaps LS's config without disturbing open positions, the
// counterpart to engine.SwapConfig.
func (s *Simulator) SetConfig(cfg config.LSConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
}

// HasOpenPosition reports whether pair already has an open position
// (spec.md §4.7 step 2: at most one per pair).
func (s *Simulator) HasOpenPosition(pair string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.positions[pair]
	return ok
}

// TryOpen implements spec.md §4.7 steps 2-4: gate through RM, simulate the
// fill, and open a Position. Returns (nil, reason) when rejected.
func (s *Simulator) TryOpen(cand SignalCandidate, size, mid, venueVolume, totalCapital, cash, currentExposure float64, minConfidence float64, now time.Time) (*Position, string) {
	if cand.Confidence < minConfidence {
		return nil, "confidence below minimum"
	}
	if s.HasOpenPosition(cand.Pair) {
		return nil, "position already open for pair"
	}

	value := size * mid
	s.mu.Lock()
	openCount := len(s.positions)
	s.mu.Unlock()

	decision := s.gate.Evaluate(cand.Pair, size, mid, cand.Direction == Long, totalCapital, cash, currentExposure, openCount)
	if !decision.Approved {
		return nil, "rejected by risk manager"
	}
	if decision.MaxAllowedQty > 0 && size > decision.MaxAllowedQty {
		size = decision.MaxAllowedQty
		value = size * mid
	}

	fill := s.simulateFill(mid, venueVolume, value, cand.Direction)

	pos := &Position{
		ID:             uuid.NewString(),
		Pair:           cand.Pair,
		BaseSymbol:     cand.BaseSymbol,
		QuoteSymbol:    cand.QuoteSymbol,
		OpenedAt:       now,
		Direction:      cand.Direction,
		Size:           size,
		EntryPrice:     mid,
		ExecutedPrice:  fill.ExecutedPrice,
		CurrentPrice:   fill.ExecutedPrice,
		ValueUSD:       size * fill.ExecutedPrice,
		TransactionCost: fill.TransactionCost,
		Slippage:       fill.SlippageFactor,
		StopLoss:       stopLossPrice(cand.Direction, fill.ExecutedPrice, s.cfg.StopLossPct),
		TakeProfit:     takeProfitPrice(cand.Direction, fill.ExecutedPrice, s.cfg.TakeProfitPct),
		SignalIDOrigin: cand.ID,
		PredictedReturn: cand.PredictedReturn,
		State:          Open,
	}

	s.mu.Lock()
	s.positions[cand.Pair] = pos
	s.mu.Unlock()

	return pos, ""
}

// simulateFill implements spec.md §4.7 step 3's order-simulation formulas.
func (s *Simulator) simulateFill(mid, venueVolume, value float64, dir Direction) OrderFill {
	delayMs := 50 + s.rng.Float64()*150
	slippageFactor := s.rng.NormFloat64() * 0.0005

	executed := mid
	adverse := math.Abs(slippageFactor) * mid
	if dir == Long {
		executed = mid + adverse
	} else {
		executed = mid - adverse
	}

	txCost := value * s.cfg.TransactionCostBps / 10_000

	impact := 0.0
	if venueVolume > 0 {
		impact = value * (value / venueVolume) * s.cfg.ImpactCoefficient
	}

	return OrderFill{
		ExecutionDelay:  time.Duration(delayMs * float64(time.Millisecond)),
		SlippageFactor:  slippageFactor,
		ExecutedPrice:   executed,
		TransactionCost: txCost,
		MarketImpact:    impact,
	}
}

func stopLossPrice(dir Direction, entry, pct float64) float64 {
	if dir == Long {
		return entry * (1 - pct)
	}
	return entry * (1 + pct)
}

func takeProfitPrice(dir Direction, entry, pct float64) float64 {
	if dir == Long {
		return entry * (1 + pct)
	}
	return entry * (1 - pct)
}

// Update implements spec.md §4.7 step 5-6: refresh one pair's open position
// on a new tick, evaluate stop/take/timeout, and close when triggered.
// Returns the PositionRecord when a close happened, nil otherwise.
func (s *Simulator) Update(tick Tick, timeout time.Duration, now time.Time) *PositionRecord {
	s.mu.Lock()
	pos, ok := s.positions[tick.Pair]
	s.mu.Unlock()
	if !ok || pos.State == Closed {
		return nil
	}

	pos.CurrentPrice = tick.Mid
	pos.ValueUSD = pos.Size * tick.Mid

	sign := 1.0
	if pos.Direction == Short {
		sign = -1.0
	}
	pos.UnrealizedPnL = sign * pos.Size * (tick.Mid - pos.ExecutedPrice)
	if pos.ExecutedPrice != 0 {
		pos.UnrealizedReturnPct = sign * (tick.Mid - pos.ExecutedPrice) / pos.ExecutedPrice * 100
	}

	if pos.UnrealizedPnL > pos.MaxFavorableExcursion {
		pos.MaxFavorableExcursion = pos.UnrealizedPnL
	}
	if -pos.UnrealizedPnL > pos.MaxAdverseExcursion {
		pos.MaxAdverseExcursion = -pos.UnrealizedPnL
	}

	exitReason := ""
	switch {
	case pos.Direction == Long && tick.Mid <= pos.StopLoss:
		exitReason = "stop_loss"
	case pos.Direction == Short && tick.Mid >= pos.StopLoss:
		exitReason = "stop_loss"
	case pos.Direction == Long && tick.Mid >= pos.TakeProfit:
		exitReason = "take_profit"
	case pos.Direction == Short && tick.Mid <= pos.TakeProfit:
		exitReason = "take_profit"
	case timeout > 0 && now.Sub(pos.OpenedAt) > timeout:
		exitReason = "timeout"
	}

	if exitReason == "" {
		return nil
	}

	return s.closePosition(pos, exitReason, now)
}

// CloseByID implements the manual "close position" control (spec.md §4.7).
func (s *Simulator) CloseByID(id, reason string, now time.Time) *PositionRecord {
	s.mu.Lock()
	var found *Position
	for _, p := range s.positions {
		if p.ID == id {
			found = p
			break
		}
	}
	s.mu.Unlock()
	if found == nil {
		return nil
	}
	return s.closePosition(found, reason, now)
}

// CloseAll implements the manual "close all" control.
func (s *Simulator) CloseAll(reason string, now time.Time) []PositionRecord {
	s.mu.Lock()
	all := make([]*Position, 0, len(s.positions))
	for _, p := range s.positions {
		all = append(all, p)
	}
	s.mu.Unlock()

	var records []PositionRecord
	for _, p := range all {
		if rec := s.closePosition(p, reason, now); rec != nil {
			records = append(records, *rec)
		}
	}
	return records
}

func (s *Simulator) closePosition(pos *Position, reason string, now time.Time) *PositionRecord {
	exitValue := pos.Size * pos.CurrentPrice
	exitTxCost := exitValue * s.cfg.TransactionCostBps / 10_000
	realizedPnL := pos.UnrealizedPnL - exitTxCost

	pos.State = Closed
	pos.ClosedAt = now
	pos.ExitReason = reason
	pos.RealizedPnL = realizedPnL
	pos.HoldingPeriod = now.Sub(pos.OpenedAt)
	if pos.ExecutedPrice != 0 {
		pos.RealizedReturnPct = realizedPnL / (pos.Size * pos.ExecutedPrice) * 100
	}

	rec := PositionRecord{
		ID:                    pos.ID,
		Pair:                  pos.Pair,
		OpenedAt:              pos.OpenedAt,
		ClosedAt:              pos.ClosedAt,
		HoldingPeriod:         pos.HoldingPeriod,
		EntryPrice:            pos.EntryPrice,
		ExecutedPrice:         pos.ExecutedPrice,
		ExitPrice:             pos.CurrentPrice,
		ExitReason:            reason,
		Direction:             pos.Direction,
		PositionSize:          pos.Size,
		RealizedPnL:           realizedPnL,
		RealizedReturnPct:     pos.RealizedReturnPct,
		TransactionCost:       pos.TransactionCost + exitTxCost,
		Slippage:              pos.Slippage,
		MaxFavorableExcursion: pos.MaxFavorableExcursion,
		MaxAdverseExcursion:   pos.MaxAdverseExcursion,
		SignalID:              pos.SignalIDOrigin,
		PredictedReturn:       pos.PredictedReturn,
	}

	s.mu.Lock()
	delete(s.positions, pos.Pair)
	s.records = append(s.records, rec)
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.Push(pos.Pair, correlation.PredictionOutcomePair{
			Prediction:  pos.PredictedReturn,
			Realized:    pos.RealizedReturnPct / 100,
			TSPredicted: pos.OpenedAt,
			TSRealized:  pos.ClosedAt,
		})
	}

	return &rec
}

// Snapshot implements spec.md §4.7's periodic (10s) portfolio snapshot.
func (s *Simulator) Snapshot(now time.Time, trsStatus string) PortfolioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value, gross, netExp float64
	var longCount, shortCount int

	for _, p := range s.positions {
		value += p.ValueUSD
		gross += math.Abs(p.ValueUSD)
		if p.Direction == Long {
			netExp += p.ValueUSD
			longCount++
		} else {
			netExp -= p.ValueUSD
			shortCount++
		}
	}

	if value > s.peakValue {
		s.peakValue = value
	}
	drawdown := 0.0
	if s.peakValue > 0 {
		drawdown = (s.peakValue - value) / s.peakValue
	}

	// LS has no per-position regime taxonomy of its own; dominant regime
	// is attributed by the caller (engine), which has access to MDF's
	// RegimeReport per symbol. Left "unknown" here by design.
	dominant := "unknown"

	return PortfolioSnapshot{
		TS:             now,
		PortfolioValue: value,
		Drawdown:       drawdown,
		OpenCount:      len(s.positions),
		LongCount:      longCount,
		ShortCount:     shortCount,
		GrossExposure:  gross,
		NetExposure:    netExp,
		Leverage:       gross,
		DominantRegime: dominant,
		TRSStatus:      trsStatus,
	}
}

// Pause/Resume/SetAccelerated implement LS's manual mode controls.
func (s *Simulator) Pause()  { s.mu.Lock(); s.paused = true; s.mu.Unlock() }
func (s *Simulator) Resume() { s.mu.Lock(); s.paused = false; s.mu.Unlock() }
func (s *Simulator) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Simulator) SetAccelerated(on bool) { s.mu.Lock(); s.accelerated = on; s.mu.Unlock() }

// CycleInterval returns the main-loop cadence for the current mode
// (spec.md §4.7: paper ~2Hz, accelerated scaled by acceleration_factor).
func (s *Simulator) CycleInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	hz := s.cfg.PaperHz
	if hz <= 0 {
		hz = 2
	}
	if s.accelerated && s.cfg.AccelerationFactor > 0 {
		hz *= s.cfg.AccelerationFactor
	}
	return time.Duration(float64(time.Second) / hz)
}

// OpenPositions returns a value-copy snapshot of every currently open
// position, for callers (the engine) that need to project them into
// another package's read-only view without holding a reference into LS.
func (s *Simulator) OpenPositions() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// Records returns all PositionRecords emitted so far (append-only).
func (s *Simulator) Records() []PositionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PositionRecord, len(s.records))
	copy(out, s.records)
	return out
}

func (s *Simulator) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("simulator(open=%d closed=%d)", len(s.positions), len(s.records))
}
