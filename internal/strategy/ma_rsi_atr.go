package strategy

import (
	"math"

	"spot-trader/internal/indicators"
)

// MARSIATR extends MARSIVolume with a trend confirmation over the last
// trend_confirmation_periods bars and a candle-body price-action filter.
//
// Params: fast_window (9), slow_window (21), rsi_window (14),
// rsi_overbought (70), rsi_oversold (30), volume_multiplier (1.5),
// price_action_confirmation (1), trend_confirmation_periods (3),
// exit_rsi_buffer (5), atr_period (14).
func MARSIATR(f Frame, p Params) (Decision, error) {
	fast := p.Int("fast_window", 9)
	slow := p.Int("slow_window", 21)
	rsiWindow := p.Int("rsi_window", 14)
	overbought := p.Float("rsi_overbought", 70)
	oversold := p.Float("rsi_oversold", 30)
	volMult := p.Float("volume_multiplier", 1.5)
	usePA := p.Bool("price_action_confirmation", true)
	trendPeriods := p.Int("trend_confirmation_periods", 3)
	exitBuffer := p.Float("exit_rsi_buffer", 5)
	atrPeriod := p.Int("atr_period", 14)

	opens, highs, lows, closes, volumes := f.Opens(), f.Highs(), f.Lows(), f.Closes(), f.Volumes()

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
	atr, err := indicators.ATR(highs, lows, closes, atrPeriod)
	if err != nil {
		return Indeterminate, err
	}
	volAvg, err := indicators.RollingMean(volumes, min(slow, 14))
	if err != nil {
		return Indeterminate, err
	}

	// rows with every indicator defined
	first := 0
	for _, s := range [][]float64{fastEMA, slowEMA, rsi, atr, volAvg} {
		for first < len(s) && math.IsNaN(s[first]) {
			first++
		}
	}
	if len(closes)-first < slow {
		return Indeterminate, indicators.ErrInsufficientData
	}

	up, down := 0, 0
	for i := 1; i < min(trendPeriods+1, len(closes)-first); i++ {
		fi, si := indicators.At(fastEMA, i-1), indicators.At(slowEMA, i-1)
		if fi > si {
			up++
		} else if fi < si {
			down++
		}
	}
	strongUp := up >= trendPeriods
	strongDown := down >= trendPeriods

	n := len(closes) - 1
	body := make([]float64, len(closes))
	for i := range closes {
		body[i] = math.Abs(closes[i] - opens[i])
	}
	upperShadow := highs[n] - math.Max(opens[n], closes[n])
	lowerShadow := math.Min(opens[n], closes[n]) - lows[n]
	bullish := closes[n] > opens[n]

	paBuy, paSell := true, true
	if usePA {
		bodyAvg, err := indicators.RollingMean(body, 5)
		if err != nil {
			return Indeterminate, err
		}
		bigBody := body[n] > indicators.Last(bodyAvg)
		paBuy = bullish && bigBody && lowerShadow < body[n]*0.3
		paSell = !bullish && bigBody && upperShadow < body[n]*0.3
	}

	maFast, maSlow := indicators.Last(fastEMA), indicators.Last(slowEMA)
	lastRSI := indicators.Last(rsi)

	buy := strongUp && maFast > maSlow &&
		lastRSI > oversold && lastRSI < overbought-10 &&
		volumes[n] > volMult*indicators.Last(volAvg) &&
		paBuy
	sell := (maFast < maSlow && strongDown) ||
		lastRSI > overbought-exitBuffer ||
		(usePA && !paSell)

	switch {
	case buy:
		return Long, nil
	case sell:
		return Flat, nil
	default:
		return Indeterminate, nil
	}
}
