package indicators

import "math"

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|); the first
// bar uses high-low.
func TrueRange(high, low, close []float64) []float64 {
	n := min(len(high), len(low), len(close))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(high[i]-close[i-1]))
			tr = math.Max(tr, math.Abs(low[i]-close[i-1]))
		}
		out[i] = tr
	}
	return out
}

// ATR is the rolling mean of the true range.
func ATR(high, low, close []float64, period int) ([]float64, error) {
	if len(high) != len(low) || len(low) != len(close) {
		return nil, ErrInsufficientData
	}
	return SMA(TrueRange(high, low, close), period)
}
