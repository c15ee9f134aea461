package strategy

import "spot-trader/internal/indicators"

// FVG reacts to a fair value gap completed by the newest candle: a bullish
// gap is Long, a bearish gap is Flat, no gap is Indeterminate.
//
// Params: fvg_threshold (0.005).
func FVG(f Frame, p Params) (Decision, error) {
	gaps, err := indicators.FairValueGaps(f.Highs(), f.Lows(), p.Float("fvg_threshold", 0.005))
	if err != nil {
		return Indeterminate, err
	}
	switch last := gaps[len(gaps)-1]; {
	case last.Bullish:
		return Long, nil
	case last.Bearish:
		return Flat, nil
	default:
		return Indeterminate, nil
	}
}
