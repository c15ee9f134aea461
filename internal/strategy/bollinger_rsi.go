package strategy

import (
	"math"

	"spot-trader/internal/indicators"
)

// BollingerRSI sells a close above the upper band with an overbought RSI,
// buys a close below the lower band with an oversold RSI, and otherwise
// follows the side of the middle band the close is on.
//
// Params: bollinger_window (20), bollinger_std (2), rsi_window (14),
// rsi_oversold (30), rsi_overbought (70).
func BollingerRSI(f Frame, p Params) (Decision, error) {
	window := p.Int("bollinger_window", 20)
	k := p.Float("bollinger_std", 2)
	rsiWindow := p.Int("rsi_window", 14)
	oversold := p.Float("rsi_oversold", 30)
	overbought := p.Float("rsi_overbought", 70)

	closes := f.Closes()
	bands, err := indicators.Bollinger(closes, window, k)
	if err != nil {
		return Indeterminate, err
	}
	rsi, err := indicators.RSI(closes, rsiWindow)
	if err != nil {
		return Indeterminate, err
	}

	first := 0
	for _, s := range [][]float64{bands.Middle, rsi} {
		for first < len(s) && math.IsNaN(s[first]) {
			first++
		}
	}
	if len(closes)-first < window {
		return Indeterminate, indicators.ErrInsufficientData
	}

	last := indicators.Last(closes)
	lastRSI := indicators.Last(rsi)
	switch {
	case last >= indicators.Last(bands.Upper) && lastRSI >= overbought:
		return Flat, nil
	case last <= indicators.Last(bands.Lower) && lastRSI <= oversold:
		return Long, nil
	case last > indicators.Last(bands.Middle):
		return Long, nil
	default:
		return Flat, nil
	}
}
