package indicators

// Gap flags a fair value gap completed at a bar.
type Gap struct {
	Bullish bool
	Bearish bool
}

// FairValueGaps marks bar i bullish when low[i] clears high[i-2] by at least
// threshold (as a fraction of high[i-2]), and bearish when high[i] sits below
// low[i-2] by at least threshold of low[i-2]. The first two bars never gap.
func FairValueGaps(high, low []float64, threshold float64) ([]Gap, error) {
	n := len(high)
	if len(low) != n || n < 3 {
		return nil, ErrInsufficientData
	}
	out := make([]Gap, n)
	for i := 2; i < n; i++ {
		if h := high[i-2]; h > 0 && h < low[i] && (low[i]-h)/h >= threshold {
			out[i].Bullish = true
		}
		if l := low[i-2]; l > 0 && l > high[i] && (l-high[i])/l >= threshold {
			out[i].Bearish = true
		}
	}
	return out, nil
}
