package indicators

import "math"

// SMA is the simple moving average over period values.
func SMA(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, ErrInsufficientData
	}
	out := nanSeries(len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out, nil
}

// RollingMean is SMA under the name the strategies use for volume averages.
func RollingMean(values []float64, period int) ([]float64, error) {
	return SMA(values, period)
}

// EMA is the exponential moving average seeded with the SMA of the first
// period values, alpha = 2/(period+1).
func EMA(values []float64, period int) ([]float64, error) {
	if period <= 0 || len(values) < period {
		return nil, ErrInsufficientData
	}
	out := nanSeries(len(values))
	seed := 0.0
	for _, v := range values[:period] {
		seed += v
	}
	prev := seed / float64(period)
	out[period-1] = prev
	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out, nil
}

// RollingStd is the sample standard deviation (n-1) over period values.
func RollingStd(values []float64, period int) ([]float64, error) {
	if period <= 1 || len(values) < period {
		return nil, ErrInsufficientData
	}
	out := nanSeries(len(values))
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		ss := 0.0
		for _, v := range window {
			ss += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(ss / float64(period-1))
	}
	return out, nil
}
