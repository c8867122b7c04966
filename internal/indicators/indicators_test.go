package indicators_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/strategy-verdict/internal/indicators"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	got := indicators.SMA([]float64{1, 2, 3, 4, 5}, 3)
	if !math.IsNaN(got[0]) || !math.IsNaN(got[1]) {
		t.Fatalf("expected NaN warmup, got %v", got[:2])
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if !approx(got[i+2], w) {
			t.Errorf("SMA[%d] = %v, want %v", i+2, got[i+2], w)
		}
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	got := indicators.EMA([]float64{2, 4, 6, 8}, 3)
	if !approx(got[2], 4) {
		t.Fatalf("seed = %v, want 4", got[2])
	}
	// k = 0.5
	if !approx(got[3], 6) {
		t.Errorf("EMA[3] = %v, want 6", got[3])
	}
}

func TestRSIExtremes(t *testing.T) {
	up := make([]float64, 30)
	flat := make([]float64, 30)
	for i := range up {
		up[i] = float64(100 + i)
		flat[i] = 100
	}
	if got := indicators.Last(indicators.RSI(up, 14)); got != 100 {
		t.Errorf("RSI of rising series = %v, want 100", got)
	}
	if got := indicators.Last(indicators.RSI(flat, 14)); got != 50 {
		t.Errorf("RSI of flat series = %v, want 50", got)
	}
}

func TestATRConstantRange(t *testing.T) {
	n := 40
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		high[i], low[i], closes[i] = 102, 98, 100
	}
	atr := indicators.ATR(high, low, closes, 14)
	if !math.IsNaN(atr[12]) {
		t.Errorf("ATR should be NaN before period, got %v", atr[12])
	}
	if !approx(indicators.Last(atr), 4) {
		t.Errorf("ATR = %v, want 4", indicators.Last(atr))
	}
}

func TestHighestExcludesCurrentBar(t *testing.T) {
	x := []float64{1, 5, 3, 9}
	got := indicators.Highest(x, 3)
	if got[3] != 5 {
		t.Errorf("Highest[3] = %v, want 5", got[3])
	}
	low := indicators.Lowest(x, 2)
	if low[3] != 3 {
		t.Errorf("Lowest[3] = %v, want 3", low[3])
	}
}

func TestBollingerBands(t *testing.T) {
	mid, up, lo := indicators.Bollinger([]float64{1, 2, 3, 4, 5}, 5, 2)
	if !approx(mid[4], 3) {
		t.Fatalf("middle = %v", mid[4])
	}
	sd := math.Sqrt(2)
	if !approx(up[4], 3+2*sd) || !approx(lo[4], 3-2*sd) {
		t.Errorf("bands = %v / %v", up[4], lo[4])
	}
}

func TestMACDFlatSeriesIsZero(t *testing.T) {
	x := make([]float64, 60)
	for i := range x {
		x[i] = 50
	}
	line, sig, hist := indicators.MACD(x, 12, 26, 9)
	if !approx(indicators.Last(line), 0) || !approx(indicators.Last(sig), 0) || !approx(indicators.Last(hist), 0) {
		t.Errorf("MACD of flat series should be zero: %v %v %v",
			indicators.Last(line), indicators.Last(sig), indicators.Last(hist))
	}
}

func TestROC(t *testing.T) {
	got := indicators.ROC([]float64{100, 105, 110}, 2)
	if !approx(got[2], 10) {
		t.Errorf("ROC = %v, want 10", got[2])
	}
}

// Indicator values on a prefix must match the full-series values at the same index.
func TestIndicatorsAreCausal(t *testing.T) {
	n := 80
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		closes[i] = 100 + 10*math.Sin(float64(i)/5)
		high[i] = closes[i] + 1.5
		low[i] = closes[i] - 1.5
	}
	// spike the tail
	closes[n-1] *= 3

	full := map[string][]float64{
		"ema": indicators.EMA(closes, 10),
		"rsi": indicators.RSI(closes, 14),
		"atr": indicators.ATR(high, low, closes, 14),
		"roc": indicators.ROC(closes, 5),
	}
	cut := 50
	prefix := map[string][]float64{
		"ema": indicators.EMA(closes[:cut+1], 10),
		"rsi": indicators.RSI(closes[:cut+1], 14),
		"atr": indicators.ATR(high[:cut+1], low[:cut+1], closes[:cut+1], 14),
		"roc": indicators.ROC(closes[:cut+1], 5),
	}
	for name, series := range full {
		if !approx(series[cut], prefix[name][cut]) {
			t.Errorf("%s[%d] full=%v prefix=%v", name, cut, series[cut], prefix[name][cut])
		}
	}
}
