package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/hda"
	"github.com/sawpanic/pairtrader/internal/mdf"
	"github.com/sawpanic/pairtrader/internal/simulator"
)

// fakeStream is a mdf.VenueStream test double that emits one fixed tick
// per symbol as soon as Run starts, then blocks until ctx is cancelled.
type fakeStream struct {
	venue string
	ticks []mdf.Tick
}

func (f *fakeStream) Venue() string { return f.venue }

func (f *fakeStream) Run(ctx context.Context, out chan<- mdf.Tick, onError func(venue, msg string)) error {
	for _, t := range f.ticks {
		t.Venue = f.venue
		out <- t
	}
	<-ctx.Done()
	return nil
}

// fakeSource is an hda.Source test double returning a fixed flat series.
type fakeSource struct{ name string }

func (s fakeSource) Name() string { return s.name }

func (s fakeSource) Fetch(symbol string, from, to time.Time) ([]hda.RawBar, error) {
	bars := make([]hda.RawBar, 0, 40)
	ts := from
	for ts.Before(to) {
		bars = append(bars, hda.RawBar{TS: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000, Source: s.name})
		ts = ts.Add(time.Hour)
	}
	return bars, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.DE.MinSignalConfidence = 0
	cfg.SG.MinConfidence = 0
	cfg.SG.MinDataQuality = 0
	cfg.SG.MaxDataLatency = 1e9
	cfg.SG.MinVenues = 1
	cfg.SG.MinHistoryDays = 5
	return cfg
}

func newTestFabric(now time.Time) *mdf.Fabric {
	cfg := config.MDFConfig{AggregationHz: 200, MaxLatencyMs: 5000, TickBufferSize: 100}
	streams := []mdf.VenueStream{
		&fakeStream{venue: "v1", ticks: []mdf.Tick{
			{Symbol: "BTC", Bid: 99, Ask: 101, Quality: 1, Volume24h: 1_000_000, TS: now},
			{Symbol: "ETH", Bid: 9.9, Ask: 10.1, Quality: 1, Volume24h: 1_000_000, TS: now},
		}},
	}
	return mdf.New(cfg, streams, zerolog.Nop())
}

// waitForMid polls f.Mid until it reports a value or the deadline passes,
// avoiding a fixed sleep against the aggregator's async ticker.
func waitForMid(t *testing.T, f *mdf.Fabric, symbol string) float64 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if mid, ok := f.Mid(symbol); ok {
			return mid
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no mid reported for %s before deadline", symbol)
	return 0
}

func TestPairMidIsBaseQuoteRatio(t *testing.T) {
	now := time.Now()
	fabric := newTestFabric(now)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fabric.Run(ctx)

	pairs := []Pair{{Symbol: "BTC/ETH", Base: "BTC", Quote: "ETH"}}
	hdaAdapter := hda.NewAdapter(config.HDAConfig{MaxRetries: 1}, []hda.SourceConfig{{Name: "s1", Reliability: 1}}, map[string]hda.Source{"s1": fakeSource{"s1"}}, nil)

	e := New(testConfig(), fabric, hdaAdapter, pairs, 1_000_000, zerolog.Nop())

	waitForMid(t, fabric, "BTC")
	waitForMid(t, fabric, "ETH")

	mid, ok := e.pairMid(pairs[0])
	require.True(t, ok)
	assert.InDelta(t, 100.0/10.0, mid, 1e-6)
}

func TestSwapConfigPropagatesToAllComponents(t *testing.T) {
	now := time.Now()
	fabric := newTestFabric(now)
	pairs := []Pair{{Symbol: "BTC/ETH", Base: "BTC", Quote: "ETH"}}
	hdaAdapter := hda.NewAdapter(config.HDAConfig{MaxRetries: 1}, nil, nil, nil)
	e := New(testConfig(), fabric, hdaAdapter, pairs, 1_000_000, zerolog.Nop())

	next := testConfig()
	next.DE.MaxPositionSize = 0.01
	e.SwapConfig(next)

	assert.Equal(t, 0.01, e.snapshotConfig().DE.MaxPositionSize)
}

func TestContextReflectsCashAndOpenPositions(t *testing.T) {
	now := time.Now()
	fabric := newTestFabric(now)
	pairs := []Pair{{Symbol: "BTC/ETH", Base: "BTC", Quote: "ETH"}}
	hdaAdapter := hda.NewAdapter(config.HDAConfig{MaxRetries: 1}, nil, nil, nil)
	e := New(testConfig(), fabric, hdaAdapter, pairs, 500_000, zerolog.Nop())

	pc := e.Context()
	assert.Equal(t, 500_000.0, pc.Cash)
	assert.Equal(t, 500_000.0, pc.TotalValue)
	assert.Empty(t, pc.Positions)
}

func TestRefreshHistoryPopulatesCache(t *testing.T) {
	now := time.Now()
	fabric := newTestFabric(now)
	pairs := []Pair{{Symbol: "BTC/ETH", Base: "BTC", Quote: "ETH"}}
	hdaAdapter := hda.NewAdapter(config.HDAConfig{MaxRetries: 1}, []hda.SourceConfig{{Name: "s1", Reliability: 1}}, map[string]hda.Source{"s1": fakeSource{"s1"}}, nil)
	e := New(testConfig(), fabric, hdaAdapter, pairs, 1_000_000, zerolog.Nop())

	from := now.Add(-48 * time.Hour)
	e.RefreshHistory(context.Background(), from, now, "1h", 48)

	baseHist := e.historyFor("BTC")
	require.NotEmpty(t, baseHist.Bars)
	assert.Equal(t, "BTC", baseHist.Symbol)
}

// TestAssessRiskEmergencyStopClosesAllPositions mirrors spec.md §8.3
// scenario S5: once drawdown trips the emergency stop, RM's violation
// must close every open LS position within one assessment.
func TestAssessRiskEmergencyStopClosesAllPositions(t *testing.T) {
	now := time.Now()
	fabric := newTestFabric(now)
	pairs := []Pair{{Symbol: "BTC/ETH", Base: "BTC", Quote: "ETH"}}
	hdaAdapter := hda.NewAdapter(config.HDAConfig{MaxRetries: 1}, nil, nil, nil)
	e := New(testConfig(), fabric, hdaAdapter, pairs, 1_000_000, zerolog.Nop())

	cand := simulator.SignalCandidate{ID: "sig1", Pair: "BTC/ETH", BaseSymbol: "BTC", QuoteSymbol: "ETH", Confidence: 1, Direction: simulator.Long}
	_, reason := e.ls.TryOpen(cand, 10, 100, 1_000_000, 1_000_000, 1_000_000, 0, 0, now)
	require.Empty(t, reason)
	require.Len(t, e.ls.OpenPositions(), 1)

	e.AssessRisk(now) // establishes the peak at initial capital, no breach yet

	e.bookMu.Lock()
	e.capital = 100_000 // simulate a 90% drawdown against the tracked peak
	e.bookMu.Unlock()

	e.AssessRisk(now.Add(time.Second))

	assert.Empty(t, e.ls.OpenPositions())
	assert.True(t, e.rm.IsEmergencyStopped())
}
