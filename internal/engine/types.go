// Package engine is the top-level composition root: it wires MDF, HDA, SG,
// DE, CV, RM and LS behind narrow capability interfaces and drives the
// per-pair decision cycle (spec.md §9 Design Notes). No component here
// holds a back-pointer to another. Engine itself holds the concrete
// components it builds in New; the interfaces below name the capabilities
// Engine exposes (SignalSource, PortfolioView) and those its parts satisfy
// (PriceSource by *mdf.Fabric, OutcomeSink by *correlation.Validator).
package engine

import (
	"time"

	"github.com/sawpanic/pairtrader/internal/correlation"
	"github.com/sawpanic/pairtrader/internal/decision"
	"github.com/sawpanic/pairtrader/internal/mdf"
	"github.com/sawpanic/pairtrader/internal/signal"
)

// Pair names a tradeable base/quote symbol pair, e.g. "BTC/ETH".
type Pair struct {
	Symbol string // "BASE/QUOTE"
	Base   string
	Quote  string
}

// SignalSource is the capability DE and LS need to obtain a pair's current
// Signal, without depending on the concrete signal.Generator or on MDF.
type SignalSource interface {
	SignalFor(pair Pair, now time.Time) signal.Signal
}

// PortfolioView is the read-only capability DE and RM need over LS's
// owned portfolio state, without depending on the concrete
// simulator.Simulator or its Position type.
type PortfolioView interface {
	Context() decision.PortfolioContext
	Snapshot(now time.Time, trsStatus string) PortfolioSnapshotView
}

// PortfolioSnapshotView is the capability-level projection of
// simulator.PortfolioSnapshot (spec.md §4.7), decoupled so callers outside
// internal/simulator never import its Position type.
type PortfolioSnapshotView struct {
	TS             time.Time
	PortfolioValue float64
	Drawdown       float64
	OpenCount      int
	LongCount      int
	ShortCount     int
	GrossExposure  float64
	NetExposure    float64
	Leverage       float64
	DominantRegime string
	TRSStatus      string
}

// PriceSource is the capability LS needs to read current mid/venue-volume,
// narrowed from mdf.Fabric.
type PriceSource interface {
	Mid(symbol string) (float64, bool)
	VenueVolume(symbol string) float64
}

// OutcomeSink is CV's ingestion capability, consumed by LS on every
// position close (spec.md §4.7 step 6).
type OutcomeSink interface {
	Push(pairID string, pair correlation.PredictionOutcomePair)
}

// regimeFor exposes MDF's regime classification without handing out the
// whole *mdf.Fabric to consumers that only need one symbol's regime.
type regimeFor interface {
	RegimeFor(symbol string) mdf.RegimeReport
}
