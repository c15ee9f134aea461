package strategy

import "spot-trader/internal/indicators"

// EMAMACD is flat whenever MACD is below its signal line. In a bullish MACD
// regime it follows EMA crossovers, falling back to the current EMA order.
//
// Params: ema_fast_period (7), ema_slow_period (21), macd_fast_period (12),
// macd_slow_period (26), signal_window (9), long_window (99).
func EMAMACD(f Frame, p Params) (Decision, error) {
	emaFast := p.Int("ema_fast_period", 7)
	emaSlow := p.Int("ema_slow_period", 21)
	macdFast := p.Int("macd_fast_period", 12)
	macdSlow := p.Int("macd_slow_period", 26)
	signal := p.Int("signal_window", 9)
	long := p.Int("long_window", 99)

	if f.Len() < max(emaFast, emaSlow, macdSlow, long) {
		return Indeterminate, indicators.ErrInsufficientData
	}
	closes := f.Closes()
	fastEMA, err := indicators.EMA(closes, emaFast)
	if err != nil {
		return Indeterminate, err
	}
	slowEMA, err := indicators.EMA(closes, emaSlow)
	if err != nil {
		return Indeterminate, err
	}
	longEMA, err := indicators.EMA(closes, long)
	if err != nil {
		return Indeterminate, err
	}
	macd, err := indicators.MACD(closes, macdFast, macdSlow, signal)
	if err != nil {
		return Indeterminate, err
	}

	for back := 0; back < 2; back++ {
		if !indicators.Valid(indicators.At(fastEMA, back), indicators.At(slowEMA, back), indicators.At(longEMA, back),
			indicators.At(macd.MACD, back), indicators.At(macd.Signal, back)) {
			return Indeterminate, indicators.ErrInsufficientData
		}
	}

	if indicators.Last(macd.MACD) < indicators.Last(macd.Signal) {
		return Flat, nil
	}

	prevFast, prevSlow := indicators.At(fastEMA, 1), indicators.At(slowEMA, 1)
	lastFast, lastSlow := indicators.Last(fastEMA), indicators.Last(slowEMA)
	switch {
	case prevFast < prevSlow && lastFast > lastSlow:
		return Long, nil
	case prevFast > prevSlow && lastFast < lastSlow:
		return Flat, nil
	case lastFast > lastSlow:
		return Long, nil
	default:
		return Flat, nil
	}
}
