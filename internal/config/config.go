// Package config holds the immutable runtime configuration for every
// component of the pair-trading core. A Config is constructed once and
// swapped atomically via Engine.SwapConfig; no component mutates it in
// place.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the recognized option set from spec.md §6.3, grouped by the
// component that consumes each field.
type Config struct {
	MDF   MDFConfig   `yaml:"mdf"`
	HDA   HDAConfig   `yaml:"hda"`
	SG    SGConfig    `yaml:"signal"`
	DE    DEConfig    `yaml:"decision"`
	CV    CVConfig    `yaml:"correlation"`
	RM    RMConfig    `yaml:"risk"`
	LS    LSConfig    `yaml:"simulator"`
}

type MDFConfig struct {
	AggregationHz     float64 `yaml:"aggregation_hz"`
	MaxLatencyMs      float64 `yaml:"max_latency_ms"`
	ReconnectAttempts int     `yaml:"reconnect_attempts"`
	TickBufferSize    int     `yaml:"tick_buffer_size"`
}

type HDAConfig struct {
	MaxRetries   int     `yaml:"max_retries"`
	MaxCacheAge  float64 `yaml:"max_cache_age_seconds"`
	RateLimitMs  int     `yaml:"rate_limit_ms"`
}

type SGConfig struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	MinDataQuality  float64 `yaml:"min_data_quality"`
	MaxDataLatency  float64 `yaml:"max_data_latency_ms"`
	MinHistoryDays  int     `yaml:"min_history_days"`
	MinVenues       int     `yaml:"min_venues"`
}

type DEConfig struct {
	MaxPositionSize       float64 `yaml:"max_position_size"`
	MaxSectorExposure     float64 `yaml:"max_sector_exposure"`
	CorrelationThreshold  float64 `yaml:"correlation_threshold"`
	MinSignalConfidence   float64 `yaml:"min_signal_confidence"`
	VolatilityScaling     bool    `yaml:"volatility_scaling"`
	ThrottleWindowSeconds float64 `yaml:"throttle_window_seconds"`
}

type CVConfig struct {
	TRSTarget         float64 `yaml:"trs_target_correlation"`
	TRSWarning        float64 `yaml:"trs_warning_threshold"`
	TRSCritical       float64 `yaml:"trs_critical_threshold"`
	RollingWindowSize int     `yaml:"rolling_window_size"`
	RollingStepSize   int     `yaml:"rolling_step_size"`
	OutlierZ          float64 `yaml:"outlier_z_threshold"`
	RemoveOutliers    bool    `yaml:"remove_outliers"`
	MinSampleSize     int     `yaml:"min_sample_size"`
	ConfidenceLevel   float64 `yaml:"confidence_level"`
}

type RMConfig struct {
	MaxPositionSizePct      float64 `yaml:"max_position_size_pct"`
	MaxPortfolioExposurePct float64 `yaml:"max_portfolio_exposure_pct"`
	MaxConcurrentPositions  int     `yaml:"max_concurrent_positions"`
	MaxDrawdownLimit        float64 `yaml:"max_drawdown_limit"`
	DailyVolatility         float64 `yaml:"daily_volatility"`
	VarLimitPct             float64 `yaml:"var_limit_pct"`
	PositionTimeoutSeconds  float64 `yaml:"position_timeout_seconds"`
	AssessmentIntervalSec   float64 `yaml:"assessment_interval_seconds"`
	PositionMonitorIntervalSec float64 `yaml:"position_monitor_interval_seconds"`
}

type LSConfig struct {
	TransactionCostBps  float64 `yaml:"transaction_cost_bps"`
	SlippageImpactFactor float64 `yaml:"slippage_impact_factor"`
	StopLossPct         float64 `yaml:"stop_loss_percentage"`
	TakeProfitPct       float64 `yaml:"take_profit_percentage"`
	ImpactCoefficient   float64 `yaml:"market_impact_coefficient"`
	PaperHz             float64 `yaml:"paper_hz"`
	AccelerationFactor  float64 `yaml:"acceleration_factor"`
}

// Default returns the spec.md nominal defaults.
func Default() *Config {
	return &Config{
		MDF: MDFConfig{
			AggregationHz:     10,
			MaxLatencyMs:      500,
			ReconnectAttempts: 5,
			TickBufferSize:    1000,
		},
		HDA: HDAConfig{
			MaxRetries:  3,
			MaxCacheAge: 3600,
			RateLimitMs: 200,
		},
		SG: SGConfig{
			MinConfidence:  0.5,
			MinDataQuality: 0.6,
			MaxDataLatency: 2000,
			MinHistoryDays: 30,
			MinVenues:      1,
		},
		DE: DEConfig{
			MaxPositionSize:       0.15,
			MaxSectorExposure:     0.25,
			CorrelationThreshold:  0.8,
			MinSignalConfidence:   0.5,
			VolatilityScaling:     true,
			ThrottleWindowSeconds: 3600,
		},
		CV: CVConfig{
			TRSTarget:         0.85,
			TRSWarning:        0.80,
			TRSCritical:       0.75,
			RollingWindowSize: 30,
			RollingStepSize:   1,
			OutlierZ:          3.0,
			RemoveOutliers:    true,
			MinSampleSize:     30,
			ConfidenceLevel:   0.95,
		},
		RM: RMConfig{
			MaxPositionSizePct:         0.15,
			MaxPortfolioExposurePct:    0.60,
			MaxConcurrentPositions:     10,
			MaxDrawdownLimit:           0.10,
			DailyVolatility:            0.015,
			VarLimitPct:                0.05,
			PositionTimeoutSeconds:     86400,
			AssessmentIntervalSec:      30,
			PositionMonitorIntervalSec: 10,
		},
		LS: LSConfig{
			TransactionCostBps:  10,
			SlippageImpactFactor: 0.0005,
			StopLossPct:         0.05,
			TakeProfitPct:       0.10,
			ImpactCoefficient:   0.1,
			PaperHz:             2,
			AccelerationFactor:  1,
		},
	}
}

// Load reads a YAML config file and overlays it onto Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}
