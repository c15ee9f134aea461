package strategy

import "spot-trader/internal/indicators"

// MARSIVolume goes long when the fast EMA is above the slow EMA, RSI sits
// between the oversold and overbought levels and volume exceeds
// volume_multiplier times its average. It goes flat on a bearish EMA stack
// or an overbought RSI.
//
// Params: fast_window (9), slow_window (21), rsi_window (14),
// rsi_overbought (70), rsi_oversold (30), volume_multiplier (1.5).
func MARSIVolume(f Frame, p Params) (Decision, error) {
	fast := p.Int("fast_window", 9)
	slow := p.Int("slow_window", 21)
	rsiWindow := p.Int("rsi_window", 14)
	overbought := p.Float("rsi_overbought", 70)
	oversold := p.Float("rsi_oversold", 30)
	volMult := p.Float("volume_multiplier", 1.5)

	closes := f.Closes()
	fastEMA, err := indicators.EMA(closes, fast)
	if err != nil {
		return Indeterminate, err
	}
	slowEMA, err := indicators.EMA(closes, slow)
	if err != nil {
		return Indeterminate, err
	}
	rsi, err := indicators.RSI(closes, rsiWindow)
	if err != nil {
		return Indeterminate, err
	}
	volumes := f.Volumes()
	volAvg, err := indicators.RollingMean(volumes, min(slow, 14))
	if err != nil {
		return Indeterminate, err
	}

	// two complete rows are required
	for back := 0; back < 2; back++ {
		if !indicators.Valid(indicators.At(fastEMA, back), indicators.At(slowEMA, back),
			indicators.At(rsi, back), indicators.At(volAvg, back)) {
			return Indeterminate, indicators.ErrInsufficientData
		}
	}

	maFast, maSlow := indicators.Last(fastEMA), indicators.Last(slowEMA)
	lastRSI := indicators.Last(rsi)
	lastVol, lastVolAvg := indicators.Last(volumes), indicators.Last(volAvg)

	switch {
	case maFast > maSlow && lastRSI > oversold && lastRSI < overbought && lastVol > volMult*lastVolAvg:
		return Long, nil
	case maFast < maSlow || lastRSI > overbought:
		return Flat, nil
	default:
		return Indeterminate, nil
	}
}
