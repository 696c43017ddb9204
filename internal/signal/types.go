package signal

import (
	"time"

	"github.com/sawpanic/pairtrader/internal/mdf"
)

// Signal is SG's immutable output for one pair (spec.md §3.1).
type Signal struct {
	ID                     string
	Pair                   string
	TS                     time.Time
	Strength               float64
	Confidence             float64
	PredictedReturn        float64
	PredictedVolatility    float64
	Horizon                time.Duration
	RiskScore              float64
	DataQuality            float64
	Regime                 mdf.Regime
	Reasons                []string
	IndicatorContributions map[string]float64
	IsLive                 bool
}

// PricePoint is one OHLCV bar consumed by the sub-signal computations.
type PricePoint struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// History is the minimal per-symbol history SG needs: closes/highs/lows
// and volumes, oldest first.
type History struct {
	Symbol string
	Bars   []PricePoint
}

func (h History) closes() []float64 {
	out := make([]float64, len(h.Bars))
	for i, b := range h.Bars {
		out[i] = b.Close
	}
	return out
}

func (h History) highs() []float64 {
	out := make([]float64, len(h.Bars))
	for i, b := range h.Bars {
		out[i] = b.High
	}
	return out
}

func (h History) lows() []float64 {
	out := make([]float64, len(h.Bars))
	for i, b := range h.Bars {
		out[i] = b.Low
	}
	return out
}

func (h History) volumes() []float64 {
	out := make([]float64, len(h.Bars))
	for i, b := range h.Bars {
		out[i] = b.Volume
	}
	return out
}
