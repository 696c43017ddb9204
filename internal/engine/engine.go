package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/pairtrader/internal/config"
	"github.com/sawpanic/pairtrader/internal/correlation"
	"github.com/sawpanic/pairtrader/internal/decision"
	"github.com/sawpanic/pairtrader/internal/hda"
	"github.com/sawpanic/pairtrader/internal/mdf"
	"github.com/sawpanic/pairtrader/internal/persist"
	"github.com/sawpanic/pairtrader/internal/risk"
	"github.com/sawpanic/pairtrader/internal/signal"
	"github.com/sawpanic/pairtrader/internal/simulator"
	"github.com/sawpanic/pairtrader/internal/telemetry"
)

// riskGateAdapter narrows *risk.Manager to simulator.RiskGate so LS never
// imports the risk package directly (spec.md §9 Design Notes).
type riskGateAdapter struct {
	rm *risk.Manager
}

func (a riskGateAdapter) Evaluate(symbol string, qty, price float64, isLong bool, totalCapital, availableCapital, currentExposure float64, openPositions int) simulator.RiskDecision {
	res := a.rm.Evaluate(symbol, qty, price, isLong, totalCapital, availableCapital, currentExposure, openPositions)
	return simulator.RiskDecision{Approved: res.Approved, MaxAllowedQty: res.MaxAllowedQty}
}

// Engine is the composition root wiring MDF, HDA, SG, DE, CV, RM and LS
// (spec.md §9 Design Notes), grounded on the teacher's single unified
// pipeline entry point in cmd/cryptorun/scan_main.go, re-expressed around
// a continuously running per-pair cycle instead of a one-shot scan.
type Engine struct {
	log zerolog.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	fabric *mdf.Fabric
	hdaSrc *hda.Adapter
	sg     *signal.Generator
	de     *decision.Engine
	cv     *correlation.Validator
	rm     *risk.Manager
	ls     *simulator.Simulator

	pairs []Pair

	historyMu sync.RWMutex
	history   map[string]signal.History // symbol -> cached bar history

	bookMu    sync.Mutex
	cash      float64
	capital   float64
	lastRMSnap risk.PortfolioSnapshot

	metrics *telemetry.Registry // optional; nil disables metric recording
	store   *persist.Store      // optional; nil disables persistence
	instance string             // algorithm-instance label for CV/telemetry/persist
}

// New constructs an Engine over the given pairs, an already-running MDF
// Fabric, and an HDA Adapter. initialCapital seeds LS's notional book.
func New(cfg *config.Config, fabric *mdf.Fabric, hdaSrc *hda.Adapter, pairs []Pair, initialCapital float64, log zerolog.Logger) *Engine {
	rm := risk.NewManager(cfg.RM)
	cv := correlation.NewValidator(cfg.CV)
	e := &Engine{
		log:     log.With().Str("component", "engine").Logger(),
		cfg:     cfg,
		fabric:  fabric,
		hdaSrc:  hdaSrc,
		sg:      signal.NewGenerator(cfg.SG),
		de:      decision.NewEngine(cfg.DE),
		cv:      cv,
		rm:      rm,
		pairs:   pairs,
		history: make(map[string]signal.History),
		cash:    initialCapital,
		capital: initialCapital,
		instance: "pairtrader",
	}
	e.ls = simulator.New(cfg.LS, riskGateAdapter{rm}, cv)

	symbols := make([]string, 0, len(pairs)*2)
	for _, p := range pairs {
		symbols = append(symbols, p.Base, p.Quote)
	}
	fabric.Subscribe(symbols)
	return e
}

// SwapConfig atomically replaces the live configuration and propagates it
// to every wired component via their own SetConfig, preserving each
// component's internal state (spec.md §6.3 hot-reload).
func (e *Engine) SwapConfig(cfg *config.Config) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	e.fabric.SetConfig(cfg.MDF)
	e.sg.SetConfig(cfg.SG)
	e.de.SetConfig(cfg.DE)
	e.rm.SetConfig(cfg.RM)
	e.ls.SetConfig(cfg.LS)
}

// SetMetrics attaches a telemetry.Registry; Run and TickAll report
// through it once set. Safe to call once before Run starts.
func (e *Engine) SetMetrics(m *telemetry.Registry) { e.metrics = m }

// SetStore attaches a persist.Store; closes/violations/snapshots are
// written through it once set. Safe to call once before Run starts.
func (e *Engine) SetStore(s *persist.Store) { e.store = s }

func (e *Engine) snapshotConfig() *config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// RefreshHistory pulls the latest HDA bars for every symbol the engine's
// pairs reference and replaces the in-process history cache used by SG
// (spec.md §4.2 feeds §4.3).
func (e *Engine) RefreshHistory(ctx context.Context, from, to time.Time, timeframe string, expectedBars int) {
	seen := make(map[string]bool)
	next := make(map[string]signal.History, len(e.history))
	for _, p := range e.pairs {
		for _, sym := range []string{p.Base, p.Quote} {
			if seen[sym] {
				continue
			}
			seen[sym] = true
			bars, qr, err := e.hdaSrc.Fetch(ctx, sym, from, to, timeframe, expectedBars)
			if err != nil {
				e.log.Warn().Err(err).Str("symbol", sym).Msg("history refresh failed, keeping stale cache")
				e.historyMu.RLock()
				if h, ok := e.history[sym]; ok {
					next[sym] = h
				}
				e.historyMu.RUnlock()
				continue
			}
			if e.metrics != nil {
				e.metrics.SetDataQuality(sym, qr.ConsistencyScore)
			}
			points := make([]signal.PricePoint, len(bars))
			for i, b := range bars {
				points[i] = signal.PricePoint{TS: b.TS, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			}
			next[sym] = signal.History{Symbol: sym, Bars: points}
		}
	}
	e.historyMu.Lock()
	e.history = next
	e.historyMu.Unlock()
}

func (e *Engine) historyFor(symbol string) signal.History {
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()
	return e.history[symbol]
}

// ratioHistory builds the base/quote price ratio series from both
// symbols' cached closes, the series SG's mean-reversion sub-signal needs.
func ratioHistory(base, quote signal.History) []float64 {
	n := len(base.Bars)
	if len(quote.Bars) < n {
		n = len(quote.Bars)
	}
	out := make([]float64, 0, n)
	bOff := len(base.Bars) - n
	qOff := len(quote.Bars) - n
	for i := 0; i < n; i++ {
		qc := quote.Bars[qOff+i].Close
		if qc == 0 {
			continue
		}
		out = append(out, base.Bars[bOff+i].Close/qc)
	}
	return out
}

// SignalFor implements SignalSource: builds SG's Input from MDF's
// aggregated views plus the cached history and produces one Signal.
func (e *Engine) SignalFor(pair Pair, now time.Time) signal.Signal {
	baseView := e.fabric.Aggregated(pair.Base)
	quoteView := e.fabric.Aggregated(pair.Quote)
	baseRegime := e.fabric.RegimeFor(pair.Base)
	baseHist := e.historyFor(pair.Base)
	quoteHist := e.historyFor(pair.Quote)

	return e.sg.Generate(signal.Input{
		Pair:         pair.Symbol,
		Base:         baseView,
		Quote:        quoteView,
		BaseRegime:   baseRegime,
		BaseHistory:  baseHist,
		QuoteHistory: quoteHist,
		RatioHistory: ratioHistory(baseHist, quoteHist),
		Now:          now,
	})
}

// Context implements PortfolioView: builds DE and RM's read-only
// portfolio snapshot from LS's open positions plus the engine's own cash
// book-keeping (LS tracks position value only, not the cash side).
func (e *Engine) Context() decision.PortfolioContext {
	e.bookMu.Lock()
	cash, capital, rmSnap := e.cash, e.capital, e.lastRMSnap
	e.bookMu.Unlock()

	open := e.ls.OpenPositions()
	positions := make([]decision.Position, len(open))
	sectors := make(map[string]float64)
	var grossValue float64
	for i, p := range open {
		weight := 0.0
		if capital > 0 {
			weight = p.ValueUSD / capital
		}
		positions[i] = decision.Position{
			ID:          p.ID,
			Pair:        p.Pair,
			Direction:   string(p.Direction),
			Weight:      weight,
			BaseSymbol:  p.BaseSymbol,
			QuoteSymbol: p.QuoteSymbol,
		}
		grossValue += p.ValueUSD
		if p.BaseSymbol != "" {
			sectors[p.BaseSymbol] += weight
		}
	}

	cfg := e.snapshotConfig()

	return decision.PortfolioContext{
		TotalValue:      cash + grossValue,
		Cash:            cash,
		Positions:       positions,
		Volatility:      cfg.RM.DailyVolatility,
		VaR:             rmSnap.VaR99,
		Correlation:     e.averageTRS(),
		SectorExposures: sectors,
		MaxDrawdown:     rmSnap.CurrentDrawdown,
	}
}

// averageTRS folds every pair's current correlation coefficient into one
// portfolio-level figure DE can use as a crude diversification signal.
func (e *Engine) averageTRS() float64 {
	var sum float64
	var n int
	for _, p := range e.pairs {
		res := e.cv.Evaluate(p.Symbol, p.Symbol, correlation.Pearson)
		if res.SampleSize < 2 {
			continue
		}
		sum += res.Coefficient
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Snapshot implements PortfolioView: LS's periodic portfolio snapshot
// (spec.md §4.7), with dominant regime attributed from MDF since LS has
// no regime taxonomy of its own.
func (e *Engine) Snapshot(now time.Time, trsStatus string) PortfolioSnapshotView {
	snap := e.ls.Snapshot(now, trsStatus)
	snap.DominantRegime = e.dominantRegime()
	return PortfolioSnapshotView{
		TS:             snap.TS,
		PortfolioValue: snap.PortfolioValue,
		Drawdown:       snap.Drawdown,
		OpenCount:      snap.OpenCount,
		LongCount:      snap.LongCount,
		ShortCount:     snap.ShortCount,
		GrossExposure:  snap.GrossExposure,
		NetExposure:    snap.NetExposure,
		Leverage:       snap.Leverage,
		DominantRegime: snap.DominantRegime,
		TRSStatus:      snap.TRSStatus,
	}
}

func (e *Engine) dominantRegime() string {
	counts := make(map[mdf.Regime]int)
	for _, p := range e.pairs {
		counts[e.fabric.RegimeFor(p.Base).Regime]++
	}
	var best mdf.Regime = mdf.RegimeUnknown
	bestN := 0
	for r, n := range counts {
		if n > bestN {
			best, bestN = r, n
		}
	}
	return string(best)
}

// Cycle runs one full pass for a single pair: generate a Signal, turn it
// into a Decision, and (when the Decision recommends opening) attempt to
// size and open a position through LS (spec.md §5's per-pair ordering:
// MDF/HDA feed SG, SG feeds DE, DE's approval feeds LS).
func (e *Engine) Cycle(pair Pair, now time.Time) {
	sig := e.SignalFor(pair, now)
	pc := e.Context()

	baseHist := e.historyFor(pair.Base)
	var rsi, macdHist float64
	if closes := baseHist.Bars; len(closes) >= 35 {
		cs := make([]float64, len(closes))
		for i, b := range closes {
			cs[i] = b.Close
		}
		rsi = signal.RSI(cs, 14)
		_, _, macdHist = signal.MACD(cs, 12, 26, 9)
	}

	baseView := e.fabric.Aggregated(pair.Base)
	spreadBps := baseView.SpreadAcrossVenuesBps

	dec := e.de.Decide(decision.SignalInput{
		Pair:                sig.Pair,
		TS:                  sig.TS,
		Strength:            sig.Strength,
		Confidence:          sig.Confidence,
		PredictedReturn:     sig.PredictedReturn,
		PredictedVolatility: sig.PredictedVolatility,
		RiskScore:           sig.RiskScore,
		DataQuality:         sig.DataQuality,
		Freshness:           baseView.Freshness,
		Regime:              string(sig.Regime),
		RSI:                 rsi,
		MACDHistogram:       macdHist,
		SpreadBps:           spreadBps,
		Reasons:             sig.Reasons,
		BaseSymbol:          pair.Base,
		QuoteSymbol:         pair.Quote,
	}, pc, now)

	if dec.Action == decision.NoAction || dec.Action == decision.Hold || dec.RecommendedWeight <= 0 {
		return
	}
	if e.ls.HasOpenPosition(pair.Symbol) {
		return
	}

	mid, ok := e.pairMid(pair)
	if !ok {
		return
	}

	dir := simulator.Long
	if dec.Action == decision.Sell || dec.Action == decision.StrongSell {
		dir = simulator.Short
	}

	e.bookMu.Lock()
	cash, capital := e.cash, e.capital
	e.bookMu.Unlock()

	size := dec.RecommendedWeight * capital / mid

	cfg := e.snapshotConfig()
	opened, reason := e.ls.TryOpen(simulator.SignalCandidate{
		ID:              sig.ID,
		Pair:            pair.Symbol,
		BaseSymbol:      pair.Base,
		QuoteSymbol:     pair.Quote,
		Confidence:      sig.Confidence,
		PredictedReturn: sig.PredictedReturn,
		Direction:       dir,
		Regime:          string(sig.Regime),
	}, size, mid, e.pairVenueVolume(pair), capital, cash, pc.TotalValue-cash, cfg.DE.MinSignalConfidence, now)

	if reason != "" {
		e.log.Debug().Str("pair", pair.Symbol).Str("reason", reason).Msg("position not opened")
		return
	}
	if opened != nil && e.metrics != nil {
		e.metrics.RecordPositionOpened(pair.Symbol)
	}
}

// bookClosedPosition applies one closed position's realized PnL to the
// engine's cash book and reports/persists it, shared by TickAll's
// per-position closes and AssessRisk's emergency-stop CloseAll.
func (e *Engine) bookClosedPosition(rec simulator.PositionRecord) {
	e.bookMu.Lock()
	e.cash += rec.RealizedPnL
	e.bookMu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordPositionClosed(rec.Pair, rec.ExitReason)
	}
	if e.store != nil {
		if err := e.store.SavePositionRecord(context.Background(), e.instance, rec); err != nil {
			e.log.Error().Err(err).Str("pair", rec.Pair).Msg("failed to persist position record")
		}
	}
}

// TickAll feeds the current MDF mid for every pair into LS's update loop,
// closing positions whose stop/take/timeout has triggered, and books the
// realized PnL against the engine's cash (spec.md §4.7 steps 5-6).
func (e *Engine) TickAll(now time.Time) {
	cfg := e.snapshotConfig()
	timeout := time.Duration(cfg.RM.PositionTimeoutSeconds) * time.Second
	for _, p := range e.pairs {
		mid, ok := e.pairMid(p)
		if !ok {
			continue
		}
		rec := e.ls.Update(simulator.Tick{
			Pair:     p.Symbol,
			Mid:      mid,
			VenueVol: e.pairVenueVolume(p),
			TS:       now,
		}, timeout, now)
		if rec != nil {
			e.bookClosedPosition(*rec)
		}
	}

	if e.metrics != nil {
		snap := e.Snapshot(now, string(e.worstTRSStatus()))
		e.metrics.RecordPortfolioSnapshot(snap.PortfolioValue, snap.Drawdown, snap.OpenCount)
		for venue, h := range e.fabric.OverallHealth() {
			e.metrics.SetVenueHealth(venue, h.Healthy)
		}
	}
}

func (e *Engine) recordViolation(v risk.Violation) {
	if e.metrics != nil {
		e.metrics.RecordRiskViolation(string(v.Kind))
	}
	if e.store != nil {
		if err := e.store.SaveViolation(context.Background(), e.instance, v); err != nil {
			e.log.Error().Err(err).Str("kind", string(v.Kind)).Msg("failed to persist risk violation")
		}
	}
}

func (e *Engine) lastRMLevel() risk.RiskLevel {
	e.bookMu.Lock()
	defer e.bookMu.Unlock()
	return e.lastRMSnap.RiskLevel
}

// AssessRisk implements RM's periodic assessment (spec.md §4.6, every
// assessment_interval_seconds), and retains the result for Context().
func (e *Engine) AssessRisk(now time.Time) risk.PortfolioSnapshot {
	open := e.ls.OpenPositions()
	var unrealized, largest, invested float64
	for _, p := range open {
		unrealized += p.UnrealizedPnL
		invested += p.ValueUSD
		if p.ValueUSD > largest {
			largest = p.ValueUSD
		}
	}
	e.bookMu.Lock()
	cash, capital := e.cash, e.capital
	e.bookMu.Unlock()

	snap := e.rm.Assess(capital, unrealized, largest, invested, cash, now)

	e.bookMu.Lock()
	e.lastRMSnap = snap
	e.bookMu.Unlock()

	if v := e.rm.CheckDrawdown(snap.CurrentDrawdown, now); v != nil {
		e.recordViolation(*v)
		// spec.md §4.6/§5: an emergency stop must close every open
		// position within one LS iteration (scenario S5).
		for _, rec := range e.ls.CloseAll("emergency_stop", now) {
			e.bookClosedPosition(rec)
		}
	}
	if v := e.rm.CheckVar(snap.VaR99, capital, now); v != nil {
		e.recordViolation(*v)
	}
	for _, p := range open {
		if v := e.rm.CheckPositionTimeout(p.ID, p.OpenedAt, now); v != nil {
			e.recordViolation(*v)
		}
	}

	if e.metrics != nil {
		e.metrics.SetEmergencyStopped(e.rm.IsEmergencyStopped())
		for _, p := range e.pairs {
			res := e.cv.Evaluate(p.Symbol, p.Symbol, correlation.Pearson)
			if res.SampleSize >= 2 {
				e.metrics.SetTRSCoefficient(p.Symbol, res.Coefficient)
			}
		}
	}
	if e.store != nil {
		portfolioSnap := e.ls.Snapshot(now, string(e.worstTRSStatus()))
		portfolioSnap.DominantRegime = e.dominantRegime()
		if err := e.store.SavePortfolioSnapshot(context.Background(), e.instance, "risk_manager", portfolioSnap); err != nil {
			e.log.Error().Err(err).Msg("failed to persist portfolio snapshot")
		}
	}
	return snap
}

// Run drives the engine's cooperative cycles until ctx is cancelled,
// grounded on the teacher's ticker-driven goroutine shape (spec.md §5):
// the LS main loop runs at LS's configured cadence, position monitoring
// and RM assessment run on their own slower tickers.
func (e *Engine) Run(ctx context.Context) {
	mainTicker := time.NewTicker(e.ls.CycleInterval())
	defer mainTicker.Stop()

	cfg := e.snapshotConfig()
	monitorEvery := time.Duration(cfg.RM.PositionMonitorIntervalSec * float64(time.Second))
	if monitorEvery <= 0 {
		monitorEvery = 10 * time.Second
	}
	assessEvery := time.Duration(cfg.RM.AssessmentIntervalSec * float64(time.Second))
	if assessEvery <= 0 {
		assessEvery = 30 * time.Second
	}

	monitorTicker := time.NewTicker(monitorEvery)
	defer monitorTicker.Stop()

	assessTicker := time.NewTicker(assessEvery)
	defer assessTicker.Stop()

	complianceTicker := time.NewTicker(60 * time.Second)
	defer complianceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-mainTicker.C:
			if e.ls.IsPaused() {
				continue
			}
			for _, p := range e.pairs {
				e.Cycle(p, now)
			}
		case now := <-monitorTicker.C:
			e.TickAll(now)
		case now := <-assessTicker.C:
			e.AssessRisk(now)
		case now := <-complianceTicker.C:
			e.CheckCompliance(now)
		}
	}
}

// worstTRSStatus reports the worst (closest to Failed) TRS status across
// every traded pair, so a single compliance decision can be made per tick
// instead of one per pair.
func (e *Engine) worstTRSStatus() correlation.Status {
	rank := map[correlation.Status]int{
		correlation.Compliant:        0,
		correlation.InsufficientData: 0,
		correlation.Warning:          1,
		correlation.Critical:         2,
		correlation.Failed:          3,
	}
	worst := correlation.Compliant
	for _, p := range e.pairs {
		res := e.cv.Evaluate(p.Symbol, p.Symbol, correlation.Pearson)
		if res.SampleSize < 2 {
			continue
		}
		if rank[res.TRSStatus] > rank[worst] {
			worst = res.TRSStatus
		}
	}
	return worst
}

// CheckCompliance implements RM's 60s compliance loop (spec.md §5): once
// CV's TRS status degrades to Critical or Failed, close the top-quartile
// riskiest open positions (spec.md §4.6 TRSCompliance), ranked by realized
// max adverse excursion.
func (e *Engine) CheckCompliance(now time.Time) {
	status := e.worstTRSStatus()
	open := e.ls.OpenPositions()
	snaps := make([]risk.PositionSnapshot, len(open))
	for i, p := range open {
		snaps[i] = risk.PositionSnapshot{
			ID:        p.ID,
			Value:     p.ValueUSD,
			OpenedAt:  p.OpenedAt,
			Sector:    p.BaseSymbol,
			RiskScore: p.MaxAdverseExcursion,
		}
	}

	v, ids := e.rm.CheckTRSCompliance(status, snaps, now)
	if v == nil {
		return
	}
	e.recordViolation(*v)
	for _, id := range ids {
		if rec := e.ls.CloseByID(id, "trs_compliance", now); rec != nil {
			e.bookClosedPosition(*rec)
		}
	}
}

// pairMid derives a pair's price as the base/quote consolidated-price
// ratio; MDF aggregates per-asset tickers, never pair tickers directly.
func (e *Engine) pairMid(pair Pair) (float64, bool) {
	baseMid, ok := e.fabric.Mid(pair.Base)
	if !ok || baseMid <= 0 {
		return 0, false
	}
	quoteMid, ok := e.fabric.Mid(pair.Quote)
	if !ok || quoteMid <= 0 {
		return 0, false
	}
	return baseMid / quoteMid, true
}

// pairVenueVolume takes the smaller of the two legs' 24h volume as the
// conservative denominator for LS's market-impact formula (spec.md §4.7
// step 3): a pair trade is as illiquid as its thinner leg.
func (e *Engine) pairVenueVolume(pair Pair) float64 {
	bv := e.fabric.VenueVolume(pair.Base)
	qv := e.fabric.VenueVolume(pair.Quote)
	if qv < bv {
		return qv
	}
	return bv
}

// PairSymbol derives the canonical "BASE/QUOTE" symbol for a Pair.
func PairSymbol(base, quote string) string {
	return strings.ToUpper(base) + "/" + strings.ToUpper(quote)
}
