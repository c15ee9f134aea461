package strategy

import "spot-trader/internal/indicators"

// RSIThreshold implements RSI overbought/oversold.
// Long when RSI < oversold (default 30), Flat when RSI > overbought (default 70).
func RSIThreshold(f Frame, p Params) (Decision, error) {
	rsi, err := indicators.RSI(f.Closes(), p.Int("period", 14))
	if err != nil {
		return Indeterminate, err
	}
	last := indicators.Last(rsi)
	switch {
	case last < p.Float("oversold", 30):
		return Long, nil
	case last > p.Float("overbought", 70):
		return Flat, nil
	default:
		return Indeterminate, nil
	}
}
