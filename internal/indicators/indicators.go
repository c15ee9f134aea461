// Package indicators computes technical indicator series over candle data.
// Every function returns a series aligned with its input; warm-up positions
// hold NaN.
package indicators

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned when the input is shorter than the warm-up.
var ErrInsufficientData = errors.New("insufficient data for indicator")

// Last returns the final value of a series, or NaN for an empty one.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// At returns series[len-1-back], or NaN when out of range.
func At(series []float64, back int) float64 {
	i := len(series) - 1 - back
	if i < 0 || i >= len(series) {
		return math.NaN()
	}
	return series[i]
}

// Valid reports whether every value is a finite number.
func Valid(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
