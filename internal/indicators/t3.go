package indicators

import "math"

// T3 is Tillson's moving average: six chained EMAs blended with weights
// derived from the volume factor a. The first value appears at index
// 6*(period-1).
func T3(values []float64, period int, a float64) ([]float64, error) {
	if period <= 0 || len(values) < 6*(period-1)+1 {
		return nil, ErrInsufficientData
	}
	chain := make([][]float64, 6)
	src := values
	for k := range chain {
		e, err := emaOfTail(src, period)
		if err != nil {
			return nil, err
		}
		chain[k] = e
		src = e
	}

	a2, a3 := a*a, a*a*a
	c1 := -a3
	c2 := 3*a2 + 3*a3
	c3 := -6*a2 - 3*a - 3*a3
	c4 := 1 + 3*a + a3 + 3*a2

	out := nanSeries(len(values))
	for i := range out {
		e3, e4, e5, e6 := chain[2][i], chain[3][i], chain[4][i], chain[5][i]
		if Valid(e3, e4, e5, e6) {
			out[i] = c1*e6 + c2*e5 + c3*e4 + c4*e3
		}
	}
	return out, nil
}

// emaOfTail applies EMA to the series after its NaN warm-up, keeping the
// result aligned with the input.
func emaOfTail(values []float64, period int) ([]float64, error) {
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	tail, err := EMA(values[start:], period)
	if err != nil {
		return nil, err
	}
	out := nanSeries(len(values))
	copy(out[start:], tail)
	return out, nil
}
