package correlation

import (
	"math"
	"sync"

	"github.com/sawpanic/pairtrader/internal/config"
)

// Validator computes CorrelationResults from aligned prediction/outcome
// pairs and maintains a bounded ring buffer per algorithm instance for
// real-time monitoring (spec.md §4.5).
type Validator struct {
	cfg config.CVConfig

	mu      sync.Mutex
	buffers map[string][]PredictionOutcomePair
	cap     int
}

func NewValidator(cfg config.CVConfig) *Validator {
	return &Validator{cfg: cfg, buffers: make(map[string][]PredictionOutcomePair), cap: 1000}
}

// Push appends a prediction/outcome pair to the named algorithm instance's
// ring buffer (bounded, append-only per spec.md §5).
func (v *Validator) Push(instance string, pair PredictionOutcomePair) {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf := v.buffers[instance]
	buf = append(buf, pair)
	if len(buf) > v.cap {
		buf = buf[len(buf)-v.cap:]
	}
	v.buffers[instance] = buf
}

// Evaluate recomputes the named algorithm instance's correlation on demand.
func (v *Validator) Evaluate(instance, pairID string, method Method) Result {
	v.mu.Lock()
	pairs := append([]PredictionOutcomePair(nil), v.buffers[instance]...)
	v.mu.Unlock()
	return Evaluate(pairID, pairs, method, v.cfg)
}

// MeetsTRS reports whether the named instance currently satisfies
// meets_trs(min_r, alpha) per spec.md §4.5.
func (v *Validator) MeetsTRS(instance, pairID string, minR, alpha float64) bool {
	res := v.Evaluate(instance, pairID, Pearson)
	return res.SampleSize >= 30 && res.Coefficient >= minR && res.PValue <= alpha
}

// Evaluate computes a CorrelationResult from raw (possibly unaligned,
// outlier-contaminated) prediction/outcome pairs.
func Evaluate(pairID string, pairs []PredictionOutcomePair, method Method, cfg config.CVConfig) Result {
	predictions := make([]float64, len(pairs))
	outcomes := make([]float64, len(pairs))
	for i, p := range pairs {
		predictions[i] = p.Prediction
		outcomes[i] = p.Realized
	}

	valid := make([]bool, len(pairs))
	for i := range pairs {
		valid[i] = true
	}
	if cfg.RemoveOutliers {
		markOutliers(predictions, valid, cfg.OutlierZ)
		markOutliers(outcomes, valid, cfg.OutlierZ)
	}

	var x, y []float64
	for i, ok := range valid {
		if ok {
			x = append(x, predictions[i])
			y = append(y, outcomes[i])
		}
	}

	n := len(x)
	minSample := cfg.MinSampleSize
	if minSample <= 0 {
		minSample = 30
	}
	if n < minSample {
		return Result{
			PairID:     pairID,
			Method:     method,
			SampleSize: n,
			TRSStatus:  InsufficientData,
		}
	}

	var coeff float64
	switch method {
	case Spearman:
		coeff = spearman(x, y)
	case Kendall:
		coeff = kendall(x, y)
	default:
		coeff = pearson(x, y)
	}

	dof := n - 2
	var pValue float64
	if dof > 0 && coeff > -1 && coeff < 1 {
		t := coeff * math.Sqrt(float64(dof)/(1-coeff*coeff))
		pValue = studentTPValue(t, dof)
	}

	ciLower, ciUpper := fisherCI(coeff, n, cfg.ConfidenceLevel)

	rolling := rollingCorrelations(x, y, cfg.RollingWindowSize, cfg.RollingStepSize)
	stability := stddev(rolling)
	trend := slope(rolling)

	target := cfg.TRSTarget
	if target == 0 {
		target = 0.85
	}
	warn := cfg.TRSWarning
	if warn == 0 {
		warn = 0.80
	}
	crit := cfg.TRSCritical
	if crit == 0 {
		crit = 0.75
	}

	status := classifyTRS(coeff, target, warn, crit)

	return Result{
		PairID:          pairID,
		Method:          method,
		Coefficient:     coeff,
		PValue:          pValue,
		SampleSize:      n,
		DOF:             dof,
		CILower:         ciLower,
		CIUpper:         ciUpper,
		ConfidenceLevel: cfg.ConfidenceLevel,
		Rolling:         rolling,
		Stability:       stability,
		Trend:           trend,
		TRSStatus:       status,
		TRSGap:          target - coeff,
	}
}

func classifyTRS(r, target, warn, crit float64) Status {
	switch {
	case r >= target:
		return Compliant
	case r >= warn:
		return Warning
	case r >= crit:
		return Critical
	default:
		return Failed
	}
}

// markOutliers zero-scores entries whose |z| exceeds threshold by marking
// valid=false; values already invalid are left alone.
func markOutliers(xs []float64, valid []bool, z float64) {
	if z <= 0 {
		return
	}
	var sample []float64
	for i, ok := range valid {
		if ok {
			sample = append(sample, xs[i])
		}
	}
	m := mean(sample)
	sd := stddev(sample)
	if sd == 0 {
		return
	}
	for i, ok := range valid {
		if !ok {
			continue
		}
		if math.Abs((xs[i]-m)/sd) > z {
			valid[i] = false
		}
	}
}

// fisherCI computes the spec.md §4.5 Fisher z-transform confidence
// interval for the correlation coefficient r over n samples.
func fisherCI(r float64, n int, confidenceLevel float64) (lower, upper float64) {
	if n < 4 || r <= -1 || r >= 1 {
		return r, r
	}
	z := 0.5 * math.Log((1+r)/(1-r))
	se := 1 / math.Sqrt(float64(n-3))
	zCrit := 1.96
	if confidenceLevel >= 0.99 {
		zCrit = 2.58
	}
	loZ := z - zCrit*se
	hiZ := z + zCrit*se
	lower = math.Tanh(loZ)
	upper = math.Tanh(hiZ)
	return lower, upper
}

// rollingCorrelations computes windowed Pearson correlations over aligned
// x/y, window size W, step S (spec.md §4.5).
func rollingCorrelations(x, y []float64, window, step int) []float64 {
	if window <= 0 {
		window = 30
	}
	if step <= 0 {
		step = 1
	}
	n := len(x)
	if n < window {
		return nil
	}
	var out []float64
	for start := 0; start+window <= n; start += step {
		out = append(out, pearson(x[start:start+window], y[start:start+window]))
	}
	return out
}
