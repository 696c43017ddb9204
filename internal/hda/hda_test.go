package hda

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairtrader/internal/config"
)

type fakeSource struct {
	name string
	bars []RawBar
	err  error
}

func (f *fakeSource) Name() string { return f.name }
func (f *fakeSource) Fetch(symbol string, from, to time.Time) ([]RawBar, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bars, nil
}

func baseTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestReconcileWeightsByReliability(t *testing.T) {
	ts := baseTime()
	raws := []RawBar{
		{TS: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Source: "a"},
		{TS: ts, Open: 110, High: 111, Low: 109, Close: 110, Volume: 10, Source: "b"},
	}
	rel := map[string]float64{"a": 3, "b": 1}
	out := reconcile("BTC/USD", raws, rel)
	assert.InDelta(t, 102.5, out.Close, 1e-9) // (3*100+1*110)/4
}

func TestOHLCVInvariantEnforced(t *testing.T) {
	ts := baseTime()
	raws := []RawBar{
		{TS: ts, Open: 100, High: 90, Low: 120, Close: 105, Source: "a"},
	}
	out := reconcile("BTC/USD", raws, map[string]float64{"a": 1})
	assert.LessOrEqual(t, out.Low, out.Open)
	assert.LessOrEqual(t, out.Low, out.Close)
	assert.GreaterOrEqual(t, out.High, out.Open)
	assert.GreaterOrEqual(t, out.High, out.Close)
}

func TestDetectAnomaliesFlagsPriceSpike(t *testing.T) {
	ts := baseTime()
	bars := make([]OHLCV, 0, 25)
	for i := 0; i < 24; i++ {
		bars = append(bars, OHLCV{TS: ts.Add(time.Duration(i) * time.Hour), Close: 100, Volume: 1000, Quality: 1.0})
	}
	bars = append(bars, OHLCV{TS: ts.Add(24 * time.Hour), Close: 500, Volume: 1000, Quality: 1.0})

	volAnomaly := detectAnomalies(bars)
	last := bars[len(bars)-1]
	assert.True(t, last.Anomaly)
	assert.Less(t, last.Quality, 1.0)
	assert.False(t, volAnomaly[len(bars)-1])
}

func TestDetectAnomaliesFlagsVolumeSpike(t *testing.T) {
	ts := baseTime()
	bars := make([]OHLCV, 0, 25)
	for i := 0; i < 24; i++ {
		bars = append(bars, OHLCV{TS: ts.Add(time.Duration(i) * time.Hour), Close: 100, Volume: 1000, Quality: 1.0})
	}
	bars = append(bars, OHLCV{TS: ts.Add(24 * time.Hour), Close: 100, Volume: 10000, Quality: 1.0})

	volAnomaly := detectAnomalies(bars)
	assert.True(t, bars[len(bars)-1].Anomaly)
	assert.True(t, volAnomaly[len(bars)-1])
}

func TestInterpolateGapsFillsZeroClose(t *testing.T) {
	ts := baseTime()
	bars := []OHLCV{
		{TS: ts, Close: 100, Quality: 1.0},
		{TS: ts.Add(time.Hour), Close: 0, Quality: 1.0},
		{TS: ts.Add(2 * time.Hour), Close: 120, Quality: 1.0},
	}
	interpolateGaps(bars)
	assert.True(t, bars[1].Interpolated)
	assert.InDelta(t, 0.7, bars[1].Quality, 1e-9)
	assert.InDelta(t, 110, bars[1].Close, 1e-9)
}

func TestQualityReportMeetsMinimumStandards(t *testing.T) {
	bars := make([]OHLCV, 30)
	for i := range bars {
		bars[i] = OHLCV{Close: 100, Quality: 0.95}
	}
	report := qualityReport(bars, make([]bool, len(bars)), 30)
	assert.True(t, report.MeetsMinimumStandards())
}

func TestQualityReportFailsOnLowCompleteness(t *testing.T) {
	bars := make([]OHLCV, 10)
	for i := range bars {
		bars[i] = OHLCV{Close: 100, Quality: 1.0}
	}
	report := qualityReport(bars, make([]bool, len(bars)), 30)
	assert.False(t, report.MeetsMinimumStandards())
}

func TestAdapterFetchReconcilesAcrossSources(t *testing.T) {
	ts := baseTime()
	srcA := &fakeSource{name: "a", bars: []RawBar{{TS: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Source: "a"}}}
	srcB := &fakeSource{name: "b", bars: []RawBar{{TS: ts, Open: 102, High: 103, Low: 101, Close: 102, Volume: 10, Source: "b"}}}

	cfg := config.Default().HDA
	sources := []SourceConfig{{Name: "a", Reliability: 1, RateLimitQPS: 100}, {Name: "b", Reliability: 1, RateLimitQPS: 100}}
	clients := map[string]Source{"a": srcA, "b": srcB}
	adapter := NewAdapter(cfg, sources, clients, nil)

	bars, _, err := adapter.Fetch(context.Background(), "BTC/USD", ts, ts.Add(time.Hour), "1h", 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 101, bars[0].Close, 1e-9)
}

func TestAdapterFetchDegradesGracefullyOnSourceFailure(t *testing.T) {
	ts := baseTime()
	srcA := &fakeSource{name: "a", err: assertErr{}}
	srcB := &fakeSource{name: "b", bars: []RawBar{{TS: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 10, Source: "b"}}}

	cfg := config.Default().HDA
	cfg.MaxRetries = 1
	sources := []SourceConfig{{Name: "a", Reliability: 1, RateLimitQPS: 100}, {Name: "b", Reliability: 1, RateLimitQPS: 100}}
	clients := map[string]Source{"a": srcA, "b": srcB}
	adapter := NewAdapter(cfg, sources, clients, nil)

	bars, _, err := adapter.Fetch(context.Background(), "BTC/USD", ts, ts.Add(time.Hour), "1h", 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 100, bars[0].Close, 1e-9)
}

type assertErr struct{}

func (assertErr) Error() string { return "source unavailable" }

func TestCacheEvictsStaleEntries(t *testing.T) {
	cache := NewCache(nil, time.Second)
	ts := baseTime()
	cache.Set("BTC/USD", ts, ts.Add(time.Hour), "1h", []OHLCV{{Close: 100}})

	removed := cache.Evict(time.Now().Add(10 * time.Second))
	assert.Equal(t, 1, removed)
	_, ok := cache.Get("BTC/USD", ts, ts.Add(time.Hour), "1h")
	assert.False(t, ok)
}
