package mdf

import (
	"time"
)

// aggregate implements the spec.md §4.1 aggregation cycle for one symbol
// over its participating (non-stale) ticks, one per venue (latest known).
func aggregate(symbol string, latestByVenue map[string]Tick, now time.Time) AggregatedView {
	view := AggregatedView{
		Symbol:        symbol,
		TS:            now,
		VolumeByVenue: make(map[string]float64, len(latestByVenue)),
	}

	var (
		bestBid, bestAsk         float64
		bestBidVenue, bestAskVenue string
		haveBid, haveAsk         bool
		numWeight, denWeight     float64
		qualitySum               float64
		midMin, midMax           float64
		haveMid                  bool
		oldest                   time.Time
	)

	for venue, t := range latestByVenue {
		view.VolumeByVenue[venue] = t.Volume24h
		if t.Stale {
			continue
		}
		view.ParticipatingVenues++
		view.TotalVolume24h += t.Volume24h
		qualitySum += t.Quality

		if oldest.IsZero() || t.TS.Before(oldest) {
			oldest = t.TS
		}

		mid := t.Mid()
		if !haveMid || mid < midMin {
			midMin = mid
		}
		if !haveMid || mid > midMax {
			midMax = mid
		}
		haveMid = true

		if t.Quality > 0.7 {
			if !haveBid || t.Bid > bestBid {
				bestBid, bestBidVenue, haveBid = t.Bid, venue, true
			}
			if !haveAsk || t.Ask < bestAsk {
				bestAsk, bestAskVenue, haveAsk = t.Ask, venue, true
			}
		}

		w := t.Volume24h * t.Quality
		numWeight += mid * w
		denWeight += w
	}

	if view.ParticipatingVenues == 0 {
		return AggregatedView{Symbol: symbol, TS: now, VolumeByVenue: view.VolumeByVenue}
	}

	view.BestBid, view.BestBidVenue = bestBid, bestBidVenue
	view.BestAsk, view.BestAskVenue = bestAsk, bestAskVenue
	view.ConsensusQuality = qualitySum / float64(view.ParticipatingVenues)

	if denWeight > 0 {
		view.ConsolidatedPrice = numWeight / denWeight
	} else if haveBid && haveAsk {
		view.ConsolidatedPrice = (bestBid + bestAsk) / 2
	} else if haveMid {
		view.ConsolidatedPrice = (midMin + midMax) / 2
	}

	if !oldest.IsZero() {
		ageMs := float64(now.Sub(oldest).Milliseconds())
		freshness := 1 - ageMs/5000
		if freshness < 0 {
			freshness = 0
		}
		if freshness > 1 {
			freshness = 1
		}
		view.Freshness = freshness
	}

	if haveMid && view.ConsolidatedPrice > 0 {
		view.SpreadAcrossVenuesBps = (midMax - midMin) / view.ConsolidatedPrice * 10_000
		view.ArbitrageOpportunity = (midMax-midMin)/view.ConsolidatedPrice > 0.005
	}

	return view
}
