package indicators

import "math"

// VortexResult holds the positive and negative vortex indicator lines.
type VortexResult struct {
	Plus  []float64
	Minus []float64
}

// Vortex computes VI+ and VI- over period bars. The first value appears at
// index period.
func Vortex(high, low, close []float64, period int) (VortexResult, error) {
	n := len(close)
	if len(high) != n || len(low) != n || period <= 0 || n < period+1 {
		return VortexResult{}, ErrInsufficientData
	}
	tr := TrueRange(high, low, close)
	vmPlus := make([]float64, n)
	vmMinus := make([]float64, n)
	for i := 1; i < n; i++ {
		vmPlus[i] = math.Abs(high[i] - low[i-1])
		vmMinus[i] = math.Abs(low[i] - high[i-1])
	}

	res := VortexResult{Plus: nanSeries(n), Minus: nanSeries(n)}
	for i := period; i < n; i++ {
		var sumTR, sumPlus, sumMinus float64
		for k := i - period + 1; k <= i; k++ {
			sumTR += tr[k]
			sumPlus += vmPlus[k]
			sumMinus += vmMinus[k]
		}
		if sumTR == 0 {
			continue
		}
		res.Plus[i] = sumPlus / sumTR
		res.Minus[i] = sumMinus / sumTR
	}
	return res, nil
}
