package mdf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndScoreCrossedMarket(t *testing.T) {
	tk := Tick{Bid: 101, Ask: 100, Last: 100.5, TS: time.Now()}
	got := validateAndScore(tk, 500)
	assert.InDelta(t, 0.7, got.Quality, 1e-9)
	assert.False(t, got.Stale)
}

func TestValidateAndScoreStaleBelowHalf(t *testing.T) {
	tk := Tick{Bid: 100, Ask: 100.5, Last: 200, LatencyMs: 10000, TS: time.Now()}
	got := validateAndScore(tk, 500)
	assert.Less(t, got.Quality, 0.5)
	assert.True(t, got.Stale)
}

func TestAggregateFallbackToMidWhenNoWeight(t *testing.T) {
	now := time.Now()
	byVenue := map[string]Tick{
		"v1": {Symbol: "BTC", Venue: "v1", Bid: 99, Ask: 101, Quality: 0.9, Volume24h: 0, TS: now},
	}
	view := aggregate("BTC", byVenue, now)
	require.Equal(t, 1, view.ParticipatingVenues)
	assert.InDelta(t, 100, view.ConsolidatedPrice, 1e-9)
}

func TestAggregateVolumeWeighted(t *testing.T) {
	now := time.Now()
	byVenue := map[string]Tick{
		"v1": {Symbol: "BTC", Venue: "v1", Bid: 99, Ask: 101, Quality: 1, Volume24h: 100, TS: now},
		"v2": {Symbol: "BTC", Venue: "v2", Bid: 109, Ask: 111, Quality: 1, Volume24h: 300, TS: now},
	}
	view := aggregate("BTC", byVenue, now)
	// mid(v1)=100 w=100, mid(v2)=110 w=300 => (100*100+110*300)/400=107.5
	assert.InDelta(t, 107.5, view.ConsolidatedPrice, 1e-9)
	assert.True(t, view.ArbitrageOpportunity)
}

func TestAggregateAllStaleReturnsEmpty(t *testing.T) {
	now := time.Now()
	byVenue := map[string]Tick{
		"v1": {Symbol: "BTC", Venue: "v1", Stale: true, TS: now},
	}
	view := aggregate("BTC", byVenue, now)
	assert.Equal(t, 0, view.ParticipatingVenues)
}

func TestClassifyRegimeInsufficientHistory(t *testing.T) {
	r := classifyRegime([]float64{1, 2, 3}, nil)
	assert.Equal(t, RegimeUnknown, r.Regime)
	assert.Equal(t, 0.0, r.Confidence)
}

func TestClassifyRegimeRanging(t *testing.T) {
	mids := make([]float64, 60)
	for i := range mids {
		mids[i] = 100.0
	}
	spreads := make([]float64, 60)
	r := classifyRegime(mids, spreads)
	assert.Equal(t, RegimeRanging, r.Regime)
}

func TestClassifyRegimeVolatile(t *testing.T) {
	mids := make([]float64, 60)
	price := 100.0
	for i := range mids {
		if i%2 == 0 {
			price *= 1.05
		} else {
			price *= 0.95
		}
		mids[i] = price
	}
	r := classifyRegime(mids, make([]float64, 60))
	assert.Equal(t, RegimeVolatile, r.Regime)
}

func TestRingBufferRecentOrder(t *testing.T) {
	rb := newRingBuffer(3)
	for i := 1; i <= 5; i++ {
		rb.push(Tick{Last: float64(i)})
	}
	recent := rb.recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, []float64{3, 4, 5}, []float64{recent[0].Last, recent[1].Last, recent[2].Last})
}

func TestHealthTrackerUnhealthyOnErrorBurst(t *testing.T) {
	ht := newHealthTracker()
	now := time.Now()
	ht.recordTick("v1", 10, 0.95, now)
	for i := 0; i < 11; i++ {
		ht.recordError("v1", "boom", now)
	}
	h := ht.get("v1")
	assert.False(t, h.Healthy)
	assert.Equal(t, 11, h.ErrorCount24h)
}
