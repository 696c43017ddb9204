package risk

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/correlation"
)

// Manager implements the Risk Manager (spec.md §4.6). The emergency-stop
// flag is grounded on the teacher's infra/breakers.go circuit-breaker
// idiom: trip on threshold breach, stay tripped until an explicit,
// out-of-band reset.
type Manager struct {
	cfg config.RMConfig

	mu             sync.Mutex
	emergencyStop  bool
	peakValue      float64
	openPositions  int
	currentExposure float64
}

func NewManager(cfg config.RMConfig) *Manager {
	return &Manager{cfg: cfg}
}

// SetConfig hot-swaps RM's config without disturbing emergency-stop state
// or the tracked peak value, the counterpart to engine.SwapConfig.
func (m *Manager) SetConfig(cfg config.RMConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Evaluate implements the spec.md §4.6 pre-trade check, fail-fast on the
// first violated rule.
func (m *Manager) Evaluate(symbol string, qty, price float64, isLong bool, totalCapital, availableCapital, currentExposure float64, openPositions int) EvaluateResult {
	m.mu.Lock()
	stopped := m.emergencyStop
	cfg := m.cfg
	m.mu.Unlock()

	if stopped {
		return EvaluateResult{Approved: false, RejectionReason: "Emergency stop is active"}
	}

	positionValue := qty * price

	if totalCapital > 0 && positionValue/totalCapital > cfg.MaxPositionSizePct {
		maxQty := (cfg.MaxPositionSizePct * totalCapital) / price
		return EvaluateResult{Approved: false, MaxAllowedQty: maxQty, RejectionReason: fmt.Sprintf("position size %.4f exceeds max_position_size_pct %.4f", positionValue/totalCapital, cfg.MaxPositionSizePct)}
	}

	if positionValue > availableCapital {
		maxQty := availableCapital / price
		return EvaluateResult{Approved: false, MaxAllowedQty: maxQty, RejectionReason: "position value exceeds available capital"}
	}

	if openPositions >= cfg.MaxConcurrentPositions {
		return EvaluateResult{Approved: false, MaxAllowedQty: 0, RejectionReason: "max concurrent positions reached"}
	}

	if totalCapital > 0 && (currentExposure+positionValue)/totalCapital > cfg.MaxPortfolioExposurePct {
		maxQty := (cfg.MaxPortfolioExposurePct*totalCapital - currentExposure) / price
		if maxQty < 0 {
			maxQty = 0
		}
		return EvaluateResult{Approved: false, MaxAllowedQty: maxQty, RejectionReason: "portfolio exposure limit exceeded"}
	}

	return EvaluateResult{Approved: true, MaxAllowedQty: qty, Confidence: 1.0}
}

// Assess implements the spec.md §4.6 periodic real-time risk assessment
// (every 30s in production; callers choose the cadence).
func (m *Manager) Assess(portfolioValue, unrealizedPnL, largestPositionValue, invested, available float64, now time.Time) PortfolioSnapshot {
	m.mu.Lock()
	if portfolioValue > m.peakValue {
		m.peakValue = portfolioValue
	}
	peak := m.peakValue
	cfg := m.cfg
	m.mu.Unlock()

	drawdown := 0.0
	if peak > 0 {
		drawdown = (peak - portfolioValue) / peak
	}
	if drawdown < 0 {
		drawdown = 0
	}

	largestPct := 0.0
	if portfolioValue > 0 {
		largestPct = largestPositionValue / portfolioValue
	}

	leverage := 0.0
	if available > 0 {
		leverage = invested / available
	}

	sigma := cfg.DailyVolatility
	if sigma == 0 {
		sigma = 0.015
	}
	varEst := portfolioValue * sigma * 2.33

	level := Green
	switch {
	case drawdown > cfg.MaxDrawdownLimit:
		level = Red
	case drawdown > 0.8*cfg.MaxDrawdownLimit || leverage > 2.0:
		level = Orange
	case drawdown > 0.5*cfg.MaxDrawdownLimit || largestPct > 0.8*cfg.MaxPositionSizePct:
		level = Yellow
	}

	return PortfolioSnapshot{
		TS:                 now,
		PortfolioValue:     portfolioValue,
		TotalUnrealizedPnL: unrealizedPnL,
		LargestPositionPct: largestPct,
		CurrentDrawdown:    drawdown,
		EffectiveLeverage:  leverage,
		VaR99:              varEst,
		RiskLevel:          level,
	}
}

// CheckDrawdown triggers emergency stop when current_drawdown exceeds
// max_drawdown_limit (spec.md §4.6). Idempotent: triggering an
// already-stopped system is a no-op (spec.md §8.2).
func (m *Manager) CheckDrawdown(drawdown float64, now time.Time) *Violation {
	if drawdown <= m.cfg.MaxDrawdownLimit {
		return nil
	}
	m.mu.Lock()
	alreadyStopped := m.emergencyStop
	m.emergencyStop = true
	m.mu.Unlock()

	v := &Violation{
		ID:               uuid.NewString(),
		DetectedAt:       now,
		Kind:             DrawdownLimit,
		Severity:         1.0,
		CurrentValue:     drawdown,
		LimitValue:       m.cfg.MaxDrawdownLimit,
		AutomatedActions: []string{"emergency_stop"},
	}
	if alreadyStopped {
		v.AutomatedActions = []string{"emergency_stop (no-op, already active)"}
	}
	return v
}

// CheckVar implements the PortfolioVarLimit violation (log + size-down
// suggestion, no emergency stop).
func (m *Manager) CheckVar(varValue, totalCapital float64, now time.Time) *Violation {
	limit := m.cfg.VarLimitPct * totalCapital
	if varValue <= limit {
		return nil
	}
	return &Violation{
		ID:               uuid.NewString(),
		DetectedAt:       now,
		Kind:             VarLimit,
		Severity:         0.6,
		CurrentValue:     varValue,
		LimitValue:       limit,
		AutomatedActions: []string{"log", "suggest size-down"},
	}
}

// CheckPositionTimeout implements the PositionTimeout violation.
func (m *Manager) CheckPositionTimeout(positionID string, openedAt, now time.Time) *Violation {
	timeout := time.Duration(m.cfg.PositionTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	if now.Sub(openedAt) <= timeout {
		return nil
	}
	return &Violation{
		ID:                 uuid.NewString(),
		DetectedAt:         now,
		Kind:               PositionTimeout,
		Severity:           0.5,
		AffectedPositionID: positionID,
		AutomatedActions:   []string{"close position: timeout"},
	}
}

// CheckTRSCompliance implements the TRSCompliance violation (spec.md §4.6):
// once CV's TRS status degrades to Critical or Failed, RM closes the
// top-quartile riskiest open positions. positions is ranked by the caller's
// RiskScore; the quartile boundary is recomputed here so callers don't need
// to pre-sort. Returns nil, nil when status is still acceptable.
func (m *Manager) CheckTRSCompliance(status correlation.Status, positions []PositionSnapshot, now time.Time) (*Violation, []string) {
	if status != correlation.Critical && status != correlation.Failed {
		return nil, nil
	}

	ranked := append([]PositionSnapshot{}, positions...)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].RiskScore > ranked[j].RiskScore })

	quartile := len(ranked) / 4
	if quartile == 0 && len(ranked) > 0 {
		quartile = 1
	}
	ids := make([]string, 0, quartile)
	for i := 0; i < quartile; i++ {
		ids = append(ids, ranked[i].ID)
	}

	v := &Violation{
		ID:               uuid.NewString(),
		DetectedAt:       now,
		Kind:             TRSCompliance,
		Severity:         0.8,
		AutomatedActions: []string{"close top-quartile riskiest positions"},
	}
	return v, ids
}

// IsEmergencyStopped reports the current emergency-stop state.
func (m *Manager) IsEmergencyStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergencyStop
}

// ResetEmergencyStop clears the emergency stop. Requires an explicit
// authorization token supplied out-of-band (spec.md §4.6); the token
// itself is opaque to RM — callers are responsible for authorizing it.
func (m *Manager) ResetEmergencyStop(authToken string) error {
	if authToken == "" {
		return fmt.Errorf("reset requires a non-empty authorization token")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = false
	return nil
}
