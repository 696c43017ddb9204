// Package decision implements the Decision Engine: transforms a Signal and
// a PortfolioContext snapshot into a risk-adjusted, sized, justified
// Decision (spec.md §4.4).
package decision

import "time"

type Action string

const (
	StrongBuy  Action = "strong_buy"
	Buy        Action = "buy"
	Hold       Action = "hold"
	Sell       Action = "sell"
	StrongSell Action = "strong_sell"
	NoAction   Action = "no_action"
)

// Position is DE's read-only view of one open position (owned by the Live
// Simulator).
type Position struct {
	ID        string
	Pair      string
	Direction string // "long" | "short"
	Weight    float64
	BaseSymbol, QuoteSymbol string
}

// PortfolioContext is DE's input snapshot (spec.md §3.1).
type PortfolioContext struct {
	TotalValue       float64
	Cash             float64
	Positions        []Position
	Volatility       float64
	VaR              float64
	Correlation      float64
	SectorExposures  map[string]float64
	RecentReturns7d  float64
	RecentReturns30d float64
	MaxDrawdown      float64
}

// Decision is DE's output for one pair (spec.md §3.1).
type Decision struct {
	ID                      string
	Pair                    string
	TS                      time.Time
	Action                  Action
	RecommendedWeight       float64
	Confidence              float64
	SignalStrength          float64
	RiskAdjustedStrength    float64
	PositionRisk            float64
	CorrelationRisk         float64
	PortfolioImpact         float64
	ExpectedReturn          float64
	ExpectedVolatility      float64
	Reasons                 []string
	FactorContributions     map[string]float64
	RecommendedHoldingPeriod time.Duration
}

// SignalInput is the subset of a Signal that DE consumes, decoupled from
// the signal package to keep DE's capability surface narrow per spec.md §9.
type SignalInput struct {
	Pair                string
	TS                  time.Time
	Strength            float64
	Confidence          float64
	PredictedReturn     float64
	PredictedVolatility float64
	RiskScore           float64
	DataQuality         float64
	Freshness           float64
	Regime              string
	RSI                 float64
	MACDHistogram       float64
	SpreadBps           float64
	Reasons             []string
	BaseSymbol, QuoteSymbol string
}
