// Package mdf implements the Market Data Fabric: multi-venue tick
// ingestion, per-venue health tracking, cross-venue aggregation and
// market-regime classification (spec.md §4.1).
package mdf

import "time"

// Tick is a single venue quote, ephemeral once consumed by the aggregator.
type Tick struct {
	Symbol     string
	Venue      string
	TS         time.Time
	Bid        float64
	Ask        float64
	Last       float64
	BidSize    float64
	AskSize    float64
	Volume24h  float64
	Quality    float64
	LatencyMs  float64
	Stale      bool
}

// Mid returns the tick's mid price.
func (t Tick) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// SpreadBps returns the bid/ask spread in basis points of the mid price.
func (t Tick) SpreadBps() float64 {
	mid := t.Mid()
	if mid == 0 {
		return 0
	}
	return (t.Ask - t.Bid) / mid * 10_000
}

// AggregatedView is MDF's point-in-time cross-venue synthesis for one
// symbol, overwritten each aggregation cycle.
type AggregatedView struct {
	Symbol               string
	TS                    time.Time
	BestBid               float64
	BestBidVenue          string
	BestAsk               float64
	BestAskVenue          string
	ConsolidatedPrice     float64
	TotalVolume24h        float64
	VolumeByVenue         map[string]float64
	ParticipatingVenues   int
	ConsensusQuality      float64
	Freshness             float64
	SpreadAcrossVenuesBps float64
	ArbitrageOpportunity  bool
}

// Regime is MDF/HDA's discrete market-condition classification.
type Regime string

const (
	RegimeNormal    Regime = "normal"
	RegimeVolatile  Regime = "volatile"
	RegimeTrending  Regime = "trending"
	RegimeRanging   Regime = "ranging"
	RegimeIlliquid  Regime = "illiquid"
	RegimeDisrupted Regime = "disrupted"
	RegimeBull      Regime = "bull"
	RegimeBear      Regime = "bear"
	RegimeSideways  Regime = "sideways"
	RegimeCrisis    Regime = "crisis"
	RegimeUnknown   Regime = "unknown"
)

// RegimeReport is the output of regime classification.
type RegimeReport struct {
	Regime      Regime
	Confidence  float64
	Description string
	Indicators  map[string]float64
}

// Health is per-venue connection and data-quality health.
type Health struct {
	Venue              string
	Connected          bool
	Healthy            bool
	ReconnectionCount  int
	AverageLatencyMs   float64
	MessageRate        float64
	QualityScore       float64
	RecentErrors       []string
	LastUpdate         time.Time
	ErrorCount24h      int
}
