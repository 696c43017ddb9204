// Package risk implements the Risk Manager: pre-trade gating, periodic
// portfolio/position risk assessment, violation detection and automated
// responses including emergency stop (spec.md §4.6).
package risk

import "time"

type ViolationKind string

const (
	PositionLimit      ViolationKind = "position_limit"
	PortfolioExposure  ViolationKind = "portfolio_exposure"
	DrawdownLimit      ViolationKind = "drawdown_limit"
	VarLimit           ViolationKind = "var_limit"
	Concentration      ViolationKind = "concentration"
	Leverage           ViolationKind = "leverage"
	TRSCompliance      ViolationKind = "trs_compliance"
	DataQuality        ViolationKind = "data_quality"
	PositionTimeout    ViolationKind = "position_timeout"
)

type Violation struct {
	ID                 string
	DetectedAt         time.Time
	Kind               ViolationKind
	Severity           float64
	CurrentValue       float64
	LimitValue         float64
	AffectedPositionID string
	Resolved           bool
	AutomatedActions   []string
}

type RiskLevel string

const (
	Green  RiskLevel = "green"
	Yellow RiskLevel = "yellow"
	Orange RiskLevel = "orange"
	Red    RiskLevel = "red"
)

// EvaluateResult is RM's pre-trade check output.
type EvaluateResult struct {
	Approved        bool
	MaxAllowedQty   float64
	RejectionReason string
	Warnings        []string
	Confidence      float64
}

// PositionSnapshot is the subset of Position data RM needs for monitoring.
// RiskScore is a caller-computed ranking proxy (e.g. max adverse excursion)
// used to pick the riskiest positions for TRSCompliance closes.
type PositionSnapshot struct {
	ID          string
	Value       float64
	OpenedAt    time.Time
	Sector      string
	RiskScore   float64
}

// PortfolioSnapshot is RM's periodic assessment output (also emitted by LS
// per spec.md §6.4).
type PortfolioSnapshot struct {
	TS                  time.Time
	PortfolioValue      float64
	TotalUnrealizedPnL  float64
	LargestPositionPct  float64
	CurrentDrawdown     float64
	EffectiveLeverage   float64
	VaR99               float64
	RiskLevel           RiskLevel
}
