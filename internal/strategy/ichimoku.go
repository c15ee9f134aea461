package strategy

import "spot-trader/internal/indicators"

// Ichimoku goes long when the close is above both cloud spans and the
// conversion line is above the base line. Every other configuration reads
// as Flat.
//
// Params: tenkan_window (9), kijun_window (26), senkou_window (52).
func Ichimoku(f Frame, p Params) (Decision, error) {
	closes := f.Closes()
	lines, err := indicators.Ichimoku(f.Highs(), f.Lows(), closes,
		p.Int("tenkan_window", 9), p.Int("kijun_window", 26), p.Int("senkou_window", 52))
	if err != nil {
		return Indeterminate, err
	}

	tenkan, kijun := indicators.Last(lines.Tenkan), indicators.Last(lines.Kijun)
	spanA, spanB := indicators.Last(lines.SenkouA), indicators.Last(lines.SenkouB)
	if !indicators.Valid(tenkan, kijun, spanA, spanB) {
		return Indeterminate, indicators.ErrInsufficientData
	}

	last := indicators.Last(closes)
	if last > spanA && last > spanB && tenkan > kijun {
		return Long, nil
	}
	return Flat, nil
}
