package hda

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/sawpanic/pairtrader/internal/config"
)

// Adapter implements the Historical Data Adapter (spec.md §4.2): fetch
// from configured sources under per-source rate limiting, reconcile into
// one series, detect anomalies, interpolate gaps, and report quality.
// Grounded on the teacher's internal/config/providers.go (per-source
// reliability/weight config) and golang.org/x/time/rate for the
// rate-limited fetch loop.
type Adapter struct {
	cfg     config.HDAConfig
	sources []SourceConfig
	byName  map[string]Source
	limiters map[string]*rate.Limiter
	cache   *Cache
}

func NewAdapter(cfg config.HDAConfig, sources []SourceConfig, clients map[string]Source, cache *Cache) *Adapter {
	limiters := make(map[string]*rate.Limiter, len(sources))
	byName := make(map[string]Source, len(sources))
	for _, sc := range sources {
		qps := sc.RateLimitQPS
		if qps <= 0 {
			qps = 5
		}
		limiters[sc.Name] = rate.NewLimiter(rate.Limit(qps), 1)
		if c, ok := clients[sc.Name]; ok {
			byName[sc.Name] = c
		}
	}
	return &Adapter{cfg: cfg, sources: sources, byName: byName, limiters: limiters, cache: cache}
}

// Fetch implements the full spec.md §4.2 pipeline for one
// (symbol, range, timeframe) request.
func (a *Adapter) Fetch(ctx context.Context, symbol string, from, to time.Time, timeframe string, expectedBars int) ([]OHLCV, QualityReport, error) {
	if a.cache != nil {
		if cached, ok := a.cache.Get(symbol, from, to, timeframe); ok {
			return cached, qualityReport(cached, make([]bool, len(cached)), expectedBars), nil
		}
	}

	bucketed := map[int64][]RawBar{}
	bucketOrder := []int64{}

	for _, sc := range a.sources {
		src, ok := a.byName[sc.Name]
		if !ok {
			continue
		}
		bars, err := a.fetchWithRetry(ctx, src, symbol, from, to)
		if err != nil {
			continue // a failed source degrades reconciliation, not a hard error
		}
		for _, b := range bars {
			key := b.TS.Unix()
			if _, seen := bucketed[key]; !seen {
				bucketOrder = append(bucketOrder, key)
			}
			bucketed[key] = append(bucketed[key], b)
		}
	}

	if len(bucketed) == 0 {
		return nil, QualityReport{}, fmt.Errorf("hda: no source produced data for %s [%s, %s)", symbol, from, to)
	}

	sort.Slice(bucketOrder, func(i, j int) bool { return bucketOrder[i] < bucketOrder[j] })

	reliability := make(map[string]float64, len(a.sources))
	for _, sc := range a.sources {
		r := sc.Reliability
		if r <= 0 {
			r = 1
		}
		reliability[sc.Name] = r
	}

	bars := make([]OHLCV, 0, len(bucketOrder))
	for _, key := range bucketOrder {
		bars = append(bars, reconcile(symbol, bucketed[key], reliability))
	}

	volAnomaly := detectAnomalies(bars)
	interpolateGaps(bars)
	report := qualityReport(bars, volAnomaly, expectedBars)

	if a.cache != nil {
		a.cache.Set(symbol, from, to, timeframe, bars)
	}

	return bars, report, nil
}

func (a *Adapter) fetchWithRetry(ctx context.Context, src Source, symbol string, from, to time.Time) ([]RawBar, error) {
	maxRetries := a.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	limiter := a.limiters[src.Name()]

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		bars, err := src.Fetch(symbol, from, to)
		if err == nil {
			return bars, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// reconcile implements spec.md §4.2 step 2: source-reliability weighted
// mean across all sources reporting the same timestamp bucket.
func reconcile(symbol string, raws []RawBar, reliability map[string]float64) OHLCV {
	var wSum, o, h, l, c, vol, volUSD, mcap float64
	for _, r := range raws {
		w := reliability[r.Source]
		if w <= 0 {
			w = 1
		}
		wSum += w
		o += w * r.Open
		h += w * r.High
		l += w * r.Low
		c += w * r.Close
		vol += w * r.Volume
		volUSD += w * r.VolumeUSD
		mcap += w * r.MarketCap
	}
	if wSum == 0 {
		wSum = 1
	}

	out := OHLCV{
		TS:        raws[0].TS,
		Symbol:    symbol,
		Open:      o / wSum,
		High:      h / wSum,
		Low:       l / wSum,
		Close:     c / wSum,
		Volume:    vol / wSum,
		VolumeUSD: volUSD / wSum,
		MarketCap: mcap / wSum,
		Source:    "reconciled",
		Quality:   1.0,
	}

	// enforce l <= min(o,c) <= max(o,c) <= h (spec.md §3.1 OHLCV invariant)
	if out.Low > out.Open {
		out.Low = out.Open
	}
	if out.Low > out.Close {
		out.Low = out.Close
	}
	if out.High < out.Open {
		out.High = out.Open
	}
	if out.High < out.Close {
		out.High = out.Close
	}

	return out
}
