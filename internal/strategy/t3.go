package strategy

import "spot-trader/internal/indicators"

// T3Cross compares a fast and a slow Tillson T3 average: Long when the fast
// line is above the slow one, Flat otherwise. The slow line must have at
// least slow_period values.
//
// Params: fast_period (7), slow_period (40), volume_factor (0.7).
func T3Cross(f Frame, p Params) (Decision, error) {
	fastPeriod := p.Int("fast_period", 7)
	slowPeriod := p.Int("slow_period", 40)
	vf := p.Float("volume_factor", 0.7)

	closes := f.Closes()
	fast, err := indicators.T3(closes, fastPeriod, vf)
	if err != nil {
		return Indeterminate, err
	}
	slow, err := indicators.T3(closes, slowPeriod, vf)
	if err != nil {
		return Indeterminate, err
	}
	if valid := len(closes) - 6*(max(fastPeriod, slowPeriod)-1); valid < slowPeriod {
		return Indeterminate, indicators.ErrInsufficientData
	}

	if indicators.Last(fast) > indicators.Last(slow) {
		return Long, nil
	}
	return Flat, nil
}
