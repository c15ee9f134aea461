package strategy

import "spot-trader/internal/indicators"

// MACross compares a fast and a slow simple moving average.
// Long when fast > slow (golden cross side), Flat when fast < slow.
func MACross(f Frame, p Params) (Decision, error) {
	closes := f.Closes()
	fast, err := indicators.SMA(closes, p.Int("fast_period", 10))
	if err != nil {
		return Indeterminate, err
	}
	slow, err := indicators.SMA(closes, p.Int("slow_period", 30))
	if err != nil {
		return Indeterminate, err
	}
	lastFast, lastSlow := indicators.Last(fast), indicators.Last(slow)
	switch {
	case lastFast > lastSlow:
		return Long, nil
	case lastFast < lastSlow:
		return Flat, nil
	default:
		return Indeterminate, nil
	}
}
