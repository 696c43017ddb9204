package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/pairtrader/internal/config"
)

func defaultCfg() config.CVConfig {
	c := config.Default()
	return c.CV
}

func buildPairs(x, y []float64) []PredictionOutcomePair {
	pairs := make([]PredictionOutcomePair, len(x))
	base := time.Now()
	for i := range x {
		pairs[i] = PredictionOutcomePair{
			Prediction:  x[i],
			Realized:    y[i],
			TSPredicted: base.Add(time.Duration(i) * time.Minute),
			TSRealized:  base.Add(time.Duration(i)*time.Minute + time.Hour),
		}
	}
	return pairs
}

func TestS1PearsonPerfectCorrelation(t *testing.T) {
	x := make([]float64, 40)
	y := make([]float64, 40)
	for i := range x {
		x[i] = float64(i + 1)
		y[i] = float64(i+1) * 2
	}
	res := Evaluate("pair-1", buildPairs(x, y), Pearson, defaultCfg())
	assert.InDelta(t, 1.0, res.Coefficient, 1e-9)
	assert.Greater(t, res.CILower, 0.95)
	assert.Equal(t, Compliant, res.TRSStatus)
}

func TestS2InsufficientData(t *testing.T) {
	n := 25
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = float64(i)
		y[i] = float64(i) * 0.9
	}
	res := Evaluate("pair-2", buildPairs(x, y), Pearson, defaultCfg())
	assert.Equal(t, InsufficientData, res.TRSStatus)
}

func TestPearsonSymmetry(t *testing.T) {
	x := []float64{1, 5, 2, 8, 3, 9, 4, 7, 6, 10, 2, 3, 4, 5, 6, 7, 8, 9, 10, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 1}
	y := []float64{2, 3, 1, 9, 2, 10, 5, 6, 7, 8, 1, 2, 3, 4, 5, 6, 7, 8, 9, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 2}
	require.Equal(t, len(x), len(y))
	assert.InDelta(t, pearson(x, y), pearson(y, x), 1e-12)
}

func TestPearsonLinearInvariance(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	y := []float64{2, 1, 4, 3, 6, 5, 8, 7}
	a, b, c, d := 2.0, 3.0, -4.0, 1.0
	ax := make([]float64, len(x))
	cy := make([]float64, len(y))
	for i := range x {
		ax[i] = a*x[i] + b
		cy[i] = c*y[i] + d
	}
	orig := pearson(x, y)
	transformed := pearson(ax, cy)
	sign := 1.0
	if a*c < 0 {
		sign = -1.0
	}
	assert.InDelta(t, sign*orig, transformed, 1e-9)
}

func TestCorrelationBoundsInvariant(t *testing.T) {
	x := []float64{1, 7, 3, 9, 2, 8, 4, 6, 5, 0, 1, 7, 3, 9, 2, 8, 4, 6, 5, 0, 1, 7, 3, 9, 2, 8, 4, 6, 5, 0, 1, 2}
	y := []float64{9, 1, 7, 3, 8, 2, 6, 4, 5, 10, 9, 1, 7, 3, 8, 2, 6, 4, 5, 10, 9, 1, 7, 3, 8, 2, 6, 4, 5, 10, 9, 8}
	res := Evaluate("pair-3", buildPairs(x, y), Pearson, defaultCfg())
	assert.GreaterOrEqual(t, res.Coefficient, -1.0)
	assert.LessOrEqual(t, res.Coefficient, 1.0)
	assert.GreaterOrEqual(t, res.PValue, 0.0)
	assert.LessOrEqual(t, res.PValue, 1.0)
	assert.LessOrEqual(t, res.CILower, res.Coefficient+1e-9)
	assert.GreaterOrEqual(t, res.CIUpper, res.Coefficient-1e-9)
}

func TestPValueThresholds(t *testing.T) {
	p1 := studentTPValue(1.96, 100)
	assert.Less(t, p1, 0.05)
	p2 := studentTPValue(2.58, 100)
	assert.Less(t, p2, 0.01)
}

func TestTSRealizedAfterTSPredictedInvariant(t *testing.T) {
	pairs := buildPairs([]float64{1, 2, 3}, []float64{1, 2, 3})
	for _, p := range pairs {
		assert.True(t, p.TSRealized.After(p.TSPredicted))
	}
}

func TestKendallTauKnownSeries(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{1, 2, 3, 4, 5}
	assert.InDelta(t, 1.0, kendall(x, y), 1e-9)
}

func TestSpearmanHandlesTies(t *testing.T) {
	x := []float64{1, 2, 2, 3}
	y := []float64{1, 2, 2, 3}
	assert.InDelta(t, 1.0, spearman(x, y), 1e-9)
}

func TestValidatorMeetsTRS(t *testing.T) {
	v := NewValidator(defaultCfg())
	base := time.Now()
	for i := 0; i < 40; i++ {
		v.Push("algo-1", PredictionOutcomePair{
			Prediction:  float64(i),
			Realized:    float64(i) * 2,
			TSPredicted: base.Add(time.Duration(i) * time.Minute),
			TSRealized:  base.Add(time.Duration(i)*time.Minute + time.Hour),
		})
	}
	assert.True(t, v.MeetsTRS("algo-1", "pair-1", 0.85, 0.05))
}
