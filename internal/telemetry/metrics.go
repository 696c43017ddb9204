// Package telemetry exposes the pair-trading engine's runtime health and
// performance as Prometheus metrics plus a small JSON status endpoint,
// grounded on the teacher's internal/interfaces/http/metrics.go registry
// shape (spec.md §6.5 observability).
package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds every metric the engine reports, registered against its
// own prometheus.Registry so multiple Engines (tests, multiple books)
// never collide on the global default registry.
type Registry struct {
	reg *prometheus.Registry

	VenueHealth      *prometheus.GaugeVec
	TRSCoefficient   *prometheus.GaugeVec
	PortfolioValue   prometheus.Gauge
	Drawdown         prometheus.Gauge
	OpenPositions    prometheus.Gauge
	PositionsOpened  *prometheus.CounterVec
	PositionsClosed  *prometheus.CounterVec
	RiskViolations   *prometheus.CounterVec
	EmergencyStopped prometheus.Gauge
	CycleDuration    *prometheus.HistogramVec
	DataQuality      *prometheus.GaugeVec
}

// New constructs a Registry with every metric registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		VenueHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pairtrader_venue_health",
			Help: "Per-venue health (1=healthy, 0=unhealthy)",
		}, []string{"venue"}),

		TRSCoefficient: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pairtrader_trs_coefficient",
			Help: "Correlation Validator's current TRS coefficient per algorithm instance",
		}, []string{"instance"}),

		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairtrader_portfolio_value_usd",
			Help: "Live Simulator's current total portfolio value",
		}),

		Drawdown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairtrader_drawdown_ratio",
			Help: "Current drawdown from peak portfolio value",
		}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairtrader_open_positions",
			Help: "Number of currently open positions",
		}),

		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_positions_opened_total",
			Help: "Total positions opened by pair",
		}, []string{"pair"}),

		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_positions_closed_total",
			Help: "Total positions closed by pair and exit reason",
		}, []string{"pair", "exit_reason"}),

		RiskViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pairtrader_risk_violations_total",
			Help: "Total risk violations detected by kind",
		}, []string{"kind"}),

		EmergencyStopped: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pairtrader_emergency_stopped",
			Help: "1 when the Risk Manager's emergency stop is latched",
		}),

		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pairtrader_cycle_duration_seconds",
			Help:    "Duration of one engine cycle by stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"stage"}),

		DataQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pairtrader_data_quality",
			Help: "HDA's consistency_score per symbol",
		}, []string{"symbol"}),
	}

	r.reg.MustRegister(
		r.VenueHealth,
		r.TRSCoefficient,
		r.PortfolioValue,
		r.Drawdown,
		r.OpenPositions,
		r.PositionsOpened,
		r.PositionsClosed,
		r.RiskViolations,
		r.EmergencyStopped,
		r.CycleDuration,
		r.DataQuality,
	)
	return r
}

// RecordPortfolioSnapshot mirrors LS/RM's periodic snapshot into gauges.
func (r *Registry) RecordPortfolioSnapshot(value, drawdown float64, openCount int) {
	r.PortfolioValue.Set(value)
	r.Drawdown.Set(drawdown)
	r.OpenPositions.Set(float64(openCount))
}

// RecordPositionOpened increments the per-pair open counter.
func (r *Registry) RecordPositionOpened(pair string) {
	r.PositionsOpened.WithLabelValues(pair).Inc()
}

// RecordPositionClosed increments the per-pair/exit-reason close counter.
func (r *Registry) RecordPositionClosed(pair, exitReason string) {
	r.PositionsClosed.WithLabelValues(pair, exitReason).Inc()
}

// RecordRiskViolation increments the violation counter for kind.
func (r *Registry) RecordRiskViolation(kind string) {
	r.RiskViolations.WithLabelValues(kind).Inc()
}

// SetEmergencyStopped reports RM's current latch state.
func (r *Registry) SetEmergencyStopped(stopped bool) {
	v := 0.0
	if stopped {
		v = 1.0
	}
	r.EmergencyStopped.Set(v)
}

// SetVenueHealth reports one venue's health as a 0/1 gauge.
func (r *Registry) SetVenueHealth(venue string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.VenueHealth.WithLabelValues(venue).Set(v)
}

// SetTRSCoefficient records the Correlation Validator's latest reading.
func (r *Registry) SetTRSCoefficient(instance string, coefficient float64) {
	r.TRSCoefficient.WithLabelValues(instance).Set(coefficient)
}

// SetDataQuality records HDA's consistency_score for symbol.
func (r *Registry) SetDataQuality(symbol string, score float64) {
	r.DataQuality.WithLabelValues(symbol).Set(score)
}

// StageTimer times one named cycle stage and records it on Stop.
type StageTimer struct {
	r     *Registry
	stage string
	start time.Time
}

// StartStage begins timing a named cycle stage (e.g. "signal", "decision").
func (r *Registry) StartStage(stage string) *StageTimer {
	return &StageTimer{r: r, stage: stage, start: time.Now()}
}

// Stop records the elapsed duration against CycleDuration.
func (t *StageTimer) Stop() {
	t.r.CycleDuration.WithLabelValues(t.stage).Observe(time.Since(t.start).Seconds())
}

// Handler returns an HTTP handler serving this registry's metrics in the
// Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// HealthStatus is the JSON body served by HealthHandler.
type HealthStatus struct {
	Timestamp        time.Time `json:"timestamp"`
	PortfolioValue   float64   `json:"portfolio_value"`
	Drawdown         float64   `json:"drawdown"`
	OpenPositions    int       `json:"open_positions"`
	EmergencyStopped bool      `json:"emergency_stopped"`
	DominantRegime   string    `json:"dominant_regime"`
}

// HealthHandler serves a point-in-time JSON health summary, the REST
// analogue of the teacher's RegimeStatusHandler.
func (r *Registry) HealthHandler(status func() HealthStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			log.Error().Err(err).Msg("failed to encode health status")
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}
