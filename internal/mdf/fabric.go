package mdf

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/pairtrader/internal/config"
)

// Fabric is the Market Data Fabric (spec.md §4.1). It owns per-symbol tick
// buffers (single writer per venue producer) and the aggregated-view map
// (single writer: the aggregator). Readers receive value copies.
type Fabric struct {
	cfg config.MDFConfig
	log zerolog.Logger

	mu      sync.RWMutex
	buffers map[string]*ringBuffer // symbol -> ring buffer of all venues interleaved
	venues  map[string][]Tick      // symbol -> latest tick per venue, keyed by index matching venueIdx
	venueIdx map[string]map[string]int

	aggMu sync.RWMutex
	views map[string]AggregatedView

	regimeMu sync.RWMutex
	regimes  map[string]RegimeReport

	health *healthTracker

	streams []VenueStream

	onTick      func(Tick)
	onAggregate func(AggregatedView)
	onError     func(venue, msg string)

	subscribed map[string]bool
}

// New constructs a Fabric over the given venue streams.
func New(cfg config.MDFConfig, streams []VenueStream, log zerolog.Logger) *Fabric {
	return &Fabric{
		cfg:        cfg,
		log:        log.With().Str("component", "mdf").Logger(),
		buffers:    make(map[string]*ringBuffer),
		venues:     make(map[string][]Tick),
		venueIdx:   make(map[string]map[string]int),
		views:      make(map[string]AggregatedView),
		regimes:    make(map[string]RegimeReport),
		health:     newHealthTracker(),
		streams:    streams,
		subscribed: make(map[string]bool),
		onTick:      func(Tick) {},
		onAggregate: func(AggregatedView) {},
		onError:     func(string, string) {},
	}
}

// SetConfig hot-swaps the subset of MDF's config read per-tick
// (max latency); tick_buffer_size and aggregation_hz only take effect for
// symbols subscribed, or aggregation cycles started, after the swap.
func (f *Fabric) SetConfig(cfg config.MDFConfig) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
}

// OnTick registers a tick callback. Not safe to call concurrently with Run.
func (f *Fabric) OnTick(cb func(Tick)) { f.onTick = cb }

// OnAggregate registers an aggregation callback.
func (f *Fabric) OnAggregate(cb func(AggregatedView)) { f.onAggregate = cb }

// OnError registers a venue error callback.
func (f *Fabric) OnError(cb func(venue, msg string)) { f.onError = cb }

// Subscribe marks symbols as tracked. Idempotent.
func (f *Fabric) Subscribe(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		if f.subscribed[s] {
			continue
		}
		f.subscribed[s] = true
		f.buffers[s] = newRingBuffer(f.cfg.TickBufferSize)
		f.venueIdx[s] = make(map[string]int)
	}
}

// Run starts one producer goroutine per venue stream plus the periodic
// aggregator, and blocks until ctx is cancelled. This is the only
// suspension point inside MDF besides the venue streams' own I/O.
func (f *Fabric) Run(ctx context.Context) {
	tickCh := make(chan Tick, 4096)

	var wg sync.WaitGroup
	for _, s := range f.streams {
		wg.Add(1)
		go func(s VenueStream) {
			defer wg.Done()
			if err := s.Run(ctx, tickCh, f.recordError); err != nil && ctx.Err() == nil {
				f.log.Error().Err(err).Str("venue", s.Venue()).Msg("venue stream terminated")
			}
		}(s)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-tickCh:
				f.ingest(t)
			}
		}
	}()

	hz := f.cfg.AggregationHz
	if hz <= 0 {
		hz = 10
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / hz))
	defer ticker.Stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.aggregationCycle()
			}
		}
	}()

	wg.Wait()
}

func (f *Fabric) recordError(venue, msg string) {
	f.health.recordError(venue, msg, time.Now())
	f.onError(venue, msg)
}

func (f *Fabric) ingest(raw Tick) {
	t := validateAndScore(raw, f.cfg.MaxLatencyMs)

	f.mu.Lock()
	buf, ok := f.buffers[t.Symbol]
	if !ok {
		buf = newRingBuffer(f.cfg.TickBufferSize)
		f.buffers[t.Symbol] = buf
		f.venueIdx[t.Symbol] = make(map[string]int)
		f.subscribed[t.Symbol] = true
	}
	latest := f.venues[t.Symbol]
	idx, ok := f.venueIdx[t.Symbol][t.Venue]
	if !ok {
		idx = len(latest)
		f.venueIdx[t.Symbol][t.Venue] = idx
		latest = append(latest, t)
	} else {
		latest[idx] = t
	}
	f.venues[t.Symbol] = latest
	f.mu.Unlock()

	buf.push(t)
	f.health.recordTick(t.Venue, t.LatencyMs, t.Quality, t.TS)
	f.onTick(t)
}

// aggregationCycle recomputes AggregatedView and RegimeReport for every
// subscribed symbol. Single writer; readers get copy-on-read.
func (f *Fabric) aggregationCycle() {
	f.mu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.mu.RUnlock()

	now := time.Now()
	healthy := f.health.all()

	for _, symbol := range symbols {
		f.mu.RLock()
		latest := append([]Tick(nil), f.venues[symbol]...)
		buf := f.buffers[symbol]
		f.mu.RUnlock()

		byVenue := make(map[string]Tick, len(latest))
		for _, t := range latest {
			if h, ok := healthy[t.Venue]; ok && !h.Healthy {
				continue
			}
			byVenue[t.Venue] = t
		}

		view := aggregate(symbol, byVenue, now)

		f.aggMu.Lock()
		if view.ParticipatingVenues == 0 {
			if prev, ok := f.views[symbol]; ok {
				prev.Freshness = 0
				f.views[symbol] = prev
				view = prev
			} else {
				f.views[symbol] = view
			}
		} else {
			f.views[symbol] = view
		}
		f.aggMu.Unlock()
		f.onAggregate(view)

		var window []Tick
		if buf != nil {
			window = buf.recent(1000)
		}
		mids := make([]float64, 0, len(window))
		spreads := make([]float64, 0, len(window))
		for _, t := range window {
			if t.Stale {
				continue
			}
			mids = append(mids, t.Mid())
			spreads = append(spreads, t.SpreadBps())
		}
		report := classifyRegime(mids, spreads)
		f.regimeMu.Lock()
		f.regimes[symbol] = report
		f.regimeMu.Unlock()
	}
}

// LatestTick returns the most recent tick for symbol across any venue.
func (f *Fabric) LatestTick(symbol string) (Tick, bool) {
	f.mu.RLock()
	buf, ok := f.buffers[symbol]
	f.mu.RUnlock()
	if !ok {
		return Tick{}, false
	}
	return buf.latest()
}

// RecentTicks returns up to n most recent ticks for symbol, oldest first.
func (f *Fabric) RecentTicks(symbol string, n int) []Tick {
	f.mu.RLock()
	buf, ok := f.buffers[symbol]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	return buf.recent(n)
}

// Aggregated returns the current AggregatedView for symbol.
func (f *Fabric) Aggregated(symbol string) AggregatedView {
	f.aggMu.RLock()
	defer f.aggMu.RUnlock()
	return f.views[symbol]
}

// RegimeFor returns the current regime classification for symbol.
func (f *Fabric) RegimeFor(symbol string) RegimeReport {
	f.regimeMu.RLock()
	defer f.regimeMu.RUnlock()
	r, ok := f.regimes[symbol]
	if !ok {
		return RegimeReport{Regime: RegimeUnknown, Description: "no classification yet"}
	}
	return r
}

// Mid returns the consolidated mid price for symbol from its current
// AggregatedView, or false if no venue has reported yet.
func (f *Fabric) Mid(symbol string) (float64, bool) {
	f.aggMu.RLock()
	view, ok := f.views[symbol]
	f.aggMu.RUnlock()
	if !ok || view.ConsolidatedPrice == 0 {
		return 0, false
	}
	return view.ConsolidatedPrice, true
}

// VenueVolume returns symbol's total 24h volume across participating
// venues, the denominator LS's market-impact formula needs (spec.md §4.7
// step 3).
func (f *Fabric) VenueVolume(symbol string) float64 {
	f.aggMu.RLock()
	defer f.aggMu.RUnlock()
	return f.views[symbol].TotalVolume24h
}

// VenueHealth returns the Health snapshot for one venue.
func (f *Fabric) VenueHealth(venue string) Health {
	return f.health.get(venue)
}

// OverallHealth returns a venue->Health snapshot map.
func (f *Fabric) OverallHealth() map[string]Health {
	return f.health.all()
}
