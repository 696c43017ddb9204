package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/correlation"
)

func defaultCfg() config.RMConfig {
	return config.Default().RM
}

// TestS3PreTradeExposureCap mirrors spec.md §8.3 scenario S3.
func TestS3PreTradeExposureCap(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxPortfolioExposurePct = 0.25
	cfg.MaxPositionSizePct = 1.0 // isolate rule (4): exposure cap
	m := NewManager(cfg)

	// available_capital here is capital not already committed to open
	// positions (total - current_exposure = 800,000), distinct from the
	// portfolio's raw cash balance, so the test isolates rule (4) as
	// spec.md's S3 narrative intends.
	res := m.Evaluate("SYM", 4000, 200, true, 1_000_000, 800_000, 200_000, 0)
	require.False(t, res.Approved)
	assert.Contains(t, res.RejectionReason, "exposure")
	assert.InDelta(t, 250.0, res.MaxAllowedQty, 1e-6)
}

// TestS5DrawdownEmergencyStop mirrors spec.md §8.3 scenario S5.
func TestS5DrawdownEmergencyStop(t *testing.T) {
	cfg := defaultCfg()
	cfg.MaxDrawdownLimit = 0.10
	m := NewManager(cfg)

	now := time.Now()
	snap := m.Assess(1_000_000, 0, 0, 0, 1, now)
	_ = snap
	snap2 := m.Assess(850_000, 0, 0, 0, 1, now.Add(time.Minute))
	assert.InDelta(t, 0.15, snap2.CurrentDrawdown, 1e-9)

	v := m.CheckDrawdown(snap2.CurrentDrawdown, now.Add(time.Minute))
	require.NotNil(t, v)
	assert.Equal(t, DrawdownLimit, v.Kind)
	assert.True(t, m.IsEmergencyStopped())

	res := m.Evaluate("SYM", 1, 100, true, 1_000_000, 500_000, 0, 0)
	assert.False(t, res.Approved)
	assert.Equal(t, "Emergency stop is active", res.RejectionReason)
}

func TestEmergencyStopIdempotent(t *testing.T) {
	m := NewManager(defaultCfg())
	now := time.Now()
	v1 := m.CheckDrawdown(0.5, now)
	require.NotNil(t, v1)
	v2 := m.CheckDrawdown(0.5, now)
	require.NotNil(t, v2)
	assert.True(t, m.IsEmergencyStopped())
}

func TestRiskMonotonicityLooseningLimitNeverNewlyRejects(t *testing.T) {
	// qty=600, price=100 against totalCapital=1_000_000 is a 6% position;
	// the tight config's 5% cap must reject it while the loosened config's
	// 50% cap approves the identical trade (spec.md §8.2 risk monotonicity).
	tightCfg := defaultCfg()
	tightCfg.MaxPositionSizePct = 0.05
	tight := NewManager(tightCfg)
	tightRes := tight.Evaluate("SYM", 600, 100, true, 1_000_000, 1_000_000, 0, 0)
	require.False(t, tightRes.Approved)

	looseCfg := defaultCfg()
	looseCfg.MaxPositionSizePct = 0.5
	loose := NewManager(looseCfg)
	looseRes := loose.Evaluate("SYM", 600, 100, true, 1_000_000, 1_000_000, 0, 0)
	assert.True(t, looseRes.Approved)
}

func TestDrawdownNeverNegative(t *testing.T) {
	m := NewManager(defaultCfg())
	now := time.Now()
	m.Assess(100, 0, 0, 0, 1, now)
	snap := m.Assess(150, 0, 0, 0, 1, now.Add(time.Minute))
	assert.GreaterOrEqual(t, snap.CurrentDrawdown, 0.0)
	assert.LessOrEqual(t, snap.PortfolioValue, 150.0)
}

func TestResetEmergencyStopRequiresToken(t *testing.T) {
	m := NewManager(defaultCfg())
	m.CheckDrawdown(1.0, time.Now())
	err := m.ResetEmergencyStop("")
	assert.Error(t, err)
	assert.True(t, m.IsEmergencyStopped())

	err = m.ResetEmergencyStop("ops-token-123")
	assert.NoError(t, err)
	assert.False(t, m.IsEmergencyStopped())
}

func TestCheckTRSComplianceClosesRiskiestQuartile(t *testing.T) {
	m := NewManager(defaultCfg())
	now := time.Now()

	positions := []PositionSnapshot{
		{ID: "low", RiskScore: 0.1},
		{ID: "mid", RiskScore: 0.5},
		{ID: "high", RiskScore: 0.9},
		{ID: "highest", RiskScore: 1.0},
	}

	v, ids := m.CheckTRSCompliance(correlation.Warning, positions, now)
	assert.Nil(t, v)
	assert.Nil(t, ids)

	v, ids = m.CheckTRSCompliance(correlation.Critical, positions, now)
	require.NotNil(t, v)
	assert.Equal(t, TRSCompliance, v.Kind)
	require.Len(t, ids, 1)
	assert.Equal(t, "highest", ids[0])
}

func TestCheckTRSComplianceClosesAtLeastOneWithFewPositions(t *testing.T) {
	m := NewManager(defaultCfg())
	positions := []PositionSnapshot{{ID: "only", RiskScore: 0.5}}

	v, ids := m.CheckTRSCompliance(correlation.Failed, positions, time.Now())
	require.NotNil(t, v)
	require.Len(t, ids, 1)
	assert.Equal(t, "only", ids[0])
}
