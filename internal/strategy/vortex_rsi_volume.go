package strategy

import "spot-trader/internal/indicators"

// VortexRSIVolume follows the EMA trend when RSI agrees with it, volume is
// above its average and the vortex lines point the same way. Long needs
// fast EMA > slow EMA, RSI > 50 and VI+ > VI-; Flat is the mirror image.
// Both require the last volume above its rolling mean.
//
// Params: fast_window (7), slow_window (25), rsi_period (14),
// volume_window (20), vortex_period (14).
func VortexRSIVolume(f Frame, p Params) (Decision, error) {
	fast := p.Int("fast_window", 7)
	slow := p.Int("slow_window", 25)
	rsiPeriod := p.Int("rsi_period", 14)
	volWindow := p.Int("volume_window", 20)
	vortexPeriod := p.Int("vortex_period", 14)

	closes := f.Closes()
	volumes := f.Volumes()
	// at least slow_window fully populated rows
	warmup := max(fast-1, slow-1, rsiPeriod, volWindow-1, vortexPeriod)
	if len(closes)-warmup < slow {
		return Indeterminate, indicators.ErrInsufficientData
	}

	fastEMA, err := indicators.EMA(closes, fast)
	if err != nil {
		return Indeterminate, err
	}
	slowEMA, err := indicators.EMA(closes, slow)
	if err != nil {
		return Indeterminate, err
	}
	rsi, err := indicators.RSI(closes, rsiPeriod)
	if err != nil {
		return Indeterminate, err
	}
	volAvg, err := indicators.RollingMean(volumes, volWindow)
	if err != nil {
		return Indeterminate, err
	}
	vi, err := indicators.Vortex(f.Highs(), f.Lows(), closes, vortexPeriod)
	if err != nil {
		return Indeterminate, err
	}

	emaFast, emaSlow := indicators.Last(fastEMA), indicators.Last(slowEMA)
	lastRSI := indicators.Last(rsi)
	plus, minus := indicators.Last(vi.Plus), indicators.Last(vi.Minus)
	if !indicators.Valid(emaFast, emaSlow, lastRSI, indicators.Last(volAvg), plus, minus) {
		return Indeterminate, indicators.ErrInsufficientData
	}
	if indicators.Last(volumes) <= indicators.Last(volAvg) {
		return Indeterminate, nil
	}

	switch {
	case emaFast > emaSlow && lastRSI > 50 && plus > minus:
		return Long, nil
	case emaFast < emaSlow && lastRSI < 50 && minus > plus:
		return Flat, nil
	default:
		return Indeterminate, nil
	}
}
