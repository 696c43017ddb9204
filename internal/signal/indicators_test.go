package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRSINeutralOnInsufficientData(t *testing.T) {
	assert.Equal(t, 50.0, RSI([]float64{1, 2, 3}, 14))
}

func TestRSIMonotonicUptrend(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	r := RSI(closes, 14)
	assert.Equal(t, 100.0, r)
}

func TestRSIDeterministic(t *testing.T) {
	closes := []float64{44, 44.3, 44.1, 44.5, 43.9, 44.6, 45.1, 44.8, 45.3, 45.0, 45.6, 46.1, 45.8, 46.3, 46.0}
	r1 := RSI(closes, 14)
	r2 := RSI(closes, 14)
	assert.Equal(t, r1, r2)
}

func TestMACDProperEMANotShortcut(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	macdLine, signalLine, _ := MACD(closes, 12, 26, 9)
	assert.NotEqual(t, macdLine*0.8, signalLine, "signal line must not be the macd*0.8 shortcut")
}

func TestBollingerBandsPercentBRange(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100
	}
	_, _, _, pb := BollingerBands(closes, 20, 2)
	assert.InDelta(t, 0.5, pb, 1e-6)
}

func TestStochasticBounds(t *testing.T) {
	highs := []float64{10, 11, 12, 13, 14}
	lows := []float64{9, 10, 11, 12, 13}
	closes := []float64{9.5, 10.5, 11.5, 12.5, 14}
	k := Stochastic(highs, lows, closes, 5)
	assert.GreaterOrEqual(t, k, 0.0)
	assert.LessOrEqual(t, k, 100.0)
}

func TestOBVDirection(t *testing.T) {
	closes := []float64{10, 11, 10, 9}
	volumes := []float64{100, 100, 100, 100}
	assert.Equal(t, -100.0, OBV(closes, volumes))
}
