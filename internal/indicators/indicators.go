// Package indicators computes technical indicator series.
//
// Every function returns a slice aligned to its input with NaN during warmup.
// Values at index i depend only on inputs at indices <= i.
package indicators

import "math"

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// SMA over the last p points.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nanSeries(len(x))
	}
	out := make([]float64, len(x))
	var sum float64
	for i := range x {
		sum += x[i]
		if i >= p {
			sum -= x[i-p]
		}
		if i < p-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(p)
	}
	return out
}

// EMA with smoothing 2/(p+1), seeded with SMA(p).
func EMA(x []float64, p int) []float64 {
	return smooth(x, p, 2.0/float64(p+1))
}

// Wilder smoothing (alpha 1/p), seeded with SMA(p).
func Wilder(x []float64, p int) []float64 {
	return smooth(x, p, 1.0/float64(p))
}

func smooth(x []float64, p int, k float64) []float64 {
	out := nanSeries(len(x))
	if p <= 0 {
		return out
	}

	// seed at the first index with p consecutive finite values
	start := -1
	run := 0
	for i := range x {
		if math.IsNaN(x[i]) {
			run = 0
			continue
		}
		run++
		if run == p {
			start = i
			break
		}
	}
	if start < 0 {
		return out
	}

	var seed float64
	for i := start - p + 1; i <= start; i++ {
		seed += x[i]
	}
	out[start] = seed / float64(p)
	for i := start + 1; i < len(x); i++ {
		out[i] = (x[i]-out[i-1])*k + out[i-1]
	}
	return out
}

// RSI using Wilder's average gain and loss.
func RSI(closes []float64, p int) []float64 {
	n := len(closes)
	out := nanSeries(n)
	if p <= 0 || n <= p {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= p; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(p)
	avgLoss /= float64(p)
	out[p] = rsiValue(avgGain, avgLoss)

	for i := p + 1; i < n; i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(p-1) + gain) / float64(p)
		avgLoss = (avgLoss*float64(p-1) + loss) / float64(p)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// TrueRange = max(high-low, |high-prevClose|, |low-prevClose|); the first bar uses high-low.
func TrueRange(high, low, closes []float64) []float64 {
	out := make([]float64, len(closes))
	for i := range closes {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Max(math.Abs(high[i]-closes[i-1]), math.Abs(low[i]-closes[i-1])))
		}
		out[i] = tr
	}
	return out
}

// ATR is the Wilder-smoothed true range.
func ATR(high, low, closes []float64, p int) []float64 {
	return Wilder(TrueRange(high, low, closes), p)
}

// MACD returns the MACD line, its signal line and the histogram.
func MACD(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fastEMA[i] - slowEMA[i]
	}
	sig = EMA(line, signal)
	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - sig[i]
	}
	return line, sig, hist
}

// Bollinger returns middle, upper and lower bands using population deviation.
func Bollinger(closes []float64, p int, mult float64) (middle, upper, lower []float64) {
	n := len(closes)
	middle = SMA(closes, p)
	upper = nanSeries(n)
	lower = nanSeries(n)
	for i := p - 1; i < n && p > 0; i++ {
		var sumSq float64
		for j := i - p + 1; j <= i; j++ {
			d := closes[j] - middle[i]
			sumSq += d * d
		}
		sd := math.Sqrt(sumSq / float64(p))
		upper[i] = middle[i] + mult*sd
		lower[i] = middle[i] - mult*sd
	}
	return middle, upper, lower
}

// Highest is the maximum of the p values before i, excluding i itself,
// so a close above it is a breakout.
func Highest(x []float64, p int) []float64 {
	return extreme(x, p, math.Max)
}

// Lowest is the minimum of the p values before i, excluding i itself.
func Lowest(x []float64, p int) []float64 {
	return extreme(x, p, math.Min)
}

func extreme(x []float64, p int, pick func(a, b float64) float64) []float64 {
	out := nanSeries(len(x))
	if p <= 0 {
		return out
	}
	for i := p; i < len(x); i++ {
		v := x[i-p]
		for j := i - p + 1; j < i; j++ {
			v = pick(v, x[j])
		}
		out[i] = v
	}
	return out
}

// ROC is the percent rate of change over p bars.
func ROC(x []float64, p int) []float64 {
	out := nanSeries(len(x))
	if p <= 0 {
		return out
	}
	for i := p; i < len(x); i++ {
		if x[i-p] != 0 {
			out[i] = (x[i] - x[i-p]) / x[i-p] * 100
		}
	}
	return out
}

// Last returns the final value of a series, NaN when empty.
func Last(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return x[len(x)-1]
}
