package indicators

// Bands are Bollinger bands around a simple moving average.
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger computes SMA(period) +/- k sample standard deviations.
func Bollinger(values []float64, period int, k float64) (Bands, error) {
	mid, err := SMA(values, period)
	if err != nil {
		return Bands{}, err
	}
	std, err := RollingStd(values, period)
	if err != nil {
		return Bands{}, err
	}
	upper := nanSeries(len(values))
	lower := nanSeries(len(values))
	for i := period - 1; i < len(values); i++ {
		upper[i] = mid[i] + k*std[i]
		lower[i] = mid[i] - k*std[i]
	}
	return Bands{Middle: mid, Upper: upper, Lower: lower}, nil
}
