package indicators

// IchimokuLines are the five Ichimoku cloud lines. SenkouA and SenkouB are
// shifted forward by the kijun window so index i holds the cloud projected
// onto bar i; Chikou[i] is the close kijun bars later and is NaN at the tail.
type IchimokuLines struct {
	Tenkan  []float64
	Kijun   []float64
	SenkouA []float64
	SenkouB []float64
	Chikou  []float64
}

// Ichimoku computes the cloud from highs, lows and closes.
func Ichimoku(high, low, close []float64, tenkan, kijun, senkou int) (IchimokuLines, error) {
	n := len(close)
	if len(high) != n || len(low) != n || tenkan <= 0 || kijun <= 0 || senkou <= 0 {
		return IchimokuLines{}, ErrInsufficientData
	}
	if n < max(tenkan, senkou)+kijun {
		return IchimokuLines{}, ErrInsufficientData
	}

	conv := midpoint(high, low, tenkan)
	base := midpoint(high, low, kijun)
	span := midpoint(high, low, senkou)

	lines := IchimokuLines{
		Tenkan:  conv,
		Kijun:   base,
		SenkouA: nanSeries(n),
		SenkouB: nanSeries(n),
		Chikou:  nanSeries(n),
	}
	for i := kijun; i < n; i++ {
		j := i - kijun
		if Valid(conv[j], base[j]) {
			lines.SenkouA[i] = (conv[j] + base[j]) / 2
		}
		lines.SenkouB[i] = span[j]
	}
	for i := 0; i+kijun < n; i++ {
		lines.Chikou[i] = close[i+kijun]
	}
	return lines, nil
}

// midpoint is (highest high + lowest low) / 2 over a rolling window.
func midpoint(high, low []float64, period int) []float64 {
	out := nanSeries(len(high))
	for i := period - 1; i < len(high); i++ {
		hi, lo := high[i-period+1], low[i-period+1]
		for k := i - period + 2; k <= i; k++ {
			hi = max(hi, high[k])
			lo = min(lo, low[k])
		}
		out[i] = (hi + lo) / 2
	}
	return out
}
