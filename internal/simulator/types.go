// Package simulator implements the Live Simulator: drives the end-to-end
// paper-trading loop, owns Position lifecycle, simulates realistic fills
// with slippage/transaction-cost/market-impact, and feeds realized
// outcomes back to the Correlation Validator (spec.md §4.7).
package simulator

import "time"

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

type PositionState string

const (
	Open    PositionState = "open"
	Closing PositionState = "closing"
	Closed  PositionState = "closed"
)

// Position is owned exclusively by LS; DE and RM only ever see read-only
// snapshots derived from it (spec.md §3.1).
type Position struct {
	ID                    string
	Pair                  string
	BaseSymbol            string
	QuoteSymbol           string
	OpenedAt              time.Time
	Direction             Direction
	Size                  float64
	EntryPrice            float64
	ExecutedPrice         float64
	CurrentPrice          float64
	ValueUSD              float64
	UnrealizedPnL         float64
	UnrealizedReturnPct   float64
	StopLoss              float64
	TakeProfit            float64
	MaxFavorableExcursion float64
	MaxAdverseExcursion   float64
	TransactionCost       float64
	Slippage              float64
	SignalIDOrigin        string
	PredictedReturn       float64
	State                 PositionState
	ClosedAt              time.Time
	ExitReason            string
	RealizedPnL           float64
	RealizedReturnPct     float64
	HoldingPeriod         time.Duration
}

// PositionRecord is LS's append-only emission on every position close
// (spec.md §6.4).
type PositionRecord struct {
	ID                    string
	Pair                  string
	OpenedAt              time.Time
	ClosedAt              time.Time
	HoldingPeriod         time.Duration
	EntryPrice            float64
	ExecutedPrice         float64
	ExitPrice             float64
	ExitReason            string
	Direction             Direction
	PositionSize          float64
	RealizedPnL           float64
	RealizedReturnPct     float64
	TransactionCost       float64
	Slippage              float64
	MarketImpact          float64
	MaxFavorableExcursion float64
	MaxAdverseExcursion   float64
	SignalID              string
	PredictedReturn       float64
	PredictionConfidence  float64
}

// PortfolioSnapshot is LS's periodic (10s) emission (spec.md §4.7).
type PortfolioSnapshot struct {
	TS              time.Time
	PortfolioValue  float64
	Drawdown        float64
	SumWeights      float64
	OpenCount       int
	LongCount       int
	ShortCount      int
	GrossExposure   float64
	NetExposure     float64
	Leverage        float64
	DominantRegime  string
	TRSStatus       string
}

// OrderFill is the result of simulating one entry order (spec.md §4.7 step 3).
type OrderFill struct {
	ExecutionDelay  time.Duration
	SlippageFactor  float64
	ExecutedPrice   float64
	TransactionCost float64
	MarketImpact    float64
}

// SignalCandidate is the subset of a Signal LS needs to consider opening a
// position, decoupled from the signal package per spec.md §9 Design Notes.
type SignalCandidate struct {
	ID                  string
	Pair                string
	BaseSymbol          string
	QuoteSymbol         string
	Confidence          float64
	PredictedReturn     float64
	Direction           Direction
	Regime              string
}

// Tick is the minimal price update LS needs per symbol per cycle.
type Tick struct {
	Pair      string
	Mid       float64
	VenueVol  float64
	TS        time.Time
}
