package indicators

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes EMA(fast) - EMA(slow) and its EMA(signal).
func MACD(values []float64, fast, slow, signal int) (MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || len(values) < max(fast, slow)+signal {
		return MACDResult{}, ErrInsufficientData
	}
	fastEMA, err := EMA(values, fast)
	if err != nil {
		return MACDResult{}, err
	}
	slowEMA, err := EMA(values, slow)
	if err != nil {
		return MACDResult{}, err
	}

	start := max(fast, slow) - 1
	line := nanSeries(len(values))
	for i := start; i < len(values); i++ {
		line[i] = fastEMA[i] - slowEMA[i]
	}

	sig, err := EMA(line[start:], signal)
	if err != nil {
		return MACDResult{}, err
	}
	signalLine := nanSeries(len(values))
	hist := nanSeries(len(values))
	for i, v := range sig {
		signalLine[start+i] = v
		if Valid(v) {
			hist[start+i] = line[start+i] - v
		}
	}
	return MACDResult{MACD: line, Signal: signalLine, Histogram: hist}, nil
}
