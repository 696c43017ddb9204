// Package correlation implements the Correlation Validator: Pearson/
// Spearman/Kendall coefficients with significance, confidence intervals,
// rolling stability and TRS compliance classification (spec.md §4.5).
package correlation

import "time"

// Method identifies which coefficient a CorrelationResult was computed with.
type Method string

const (
	Pearson  Method = "pearson"
	Spearman Method = "spearman"
	Kendall  Method = "kendall"
)

// Status is the TRS compliance classification.
type Status string

const (
	Compliant         Status = "compliant"
	Warning           Status = "warning"
	Critical          Status = "critical"
	Failed            Status = "failed"
	InsufficientData  Status = "insufficient_data"
)

// PredictionOutcomePair is one aligned prediction/outcome observation
// (spec.md §3.1). ts_realized must be strictly after ts_predicted.
type PredictionOutcomePair struct {
	Prediction  float64
	Realized    float64
	Weight      float64
	TSPredicted time.Time
	TSRealized  time.Time
}

// Result is CV's output for one pair_id/method evaluation.
type Result struct {
	PairID          string
	Method          Method
	Coefficient     float64
	PValue          float64
	SampleSize      int
	DOF             int
	CILower         float64
	CIUpper         float64
	ConfidenceLevel float64
	Rolling         []float64
	Stability       float64
	Trend           float64
	TRSStatus       Status
	TRSGap          float64
}
