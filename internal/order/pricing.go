package order

import (
	"github.com/shopspring/decimal"

	"spot-trader/internal/indicators"
)

const (
	limitNudge  = 0.002
	limitChase  = 0.005
	volumeRange = 20
)

// momentum returns the latest RSI(14) and whether the last volume is below
// its 20-period average. Missing values read as neutral.
func momentum(closes, volumes []float64) (rsi float64, quiet bool) {
	rsi = 50
	if s, err := indicators.RSI(closes, 14); err == nil && indicators.Valid(indicators.Last(s)) {
		rsi = indicators.Last(s)
	}
	if avg, err := indicators.RollingMean(volumes, volumeRange); err == nil && indicators.Valid(indicators.Last(avg)) {
		quiet = indicators.Last(volumes) < indicators.Last(avg)
	}
	return rsi, quiet
}

// scale returns price*(1+frac) computed in decimal.
func scale(price, frac float64) float64 {
	out, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(frac))).Float64()
	return out
}

// LimitEntryPrice biases a buy below the close on an oversold RSI, slightly
// above it in quiet volume and further above it otherwise.
func LimitEntryPrice(closes, volumes []float64, tick float64) (float64, error) {
	last := indicators.Last(closes)
	if !indicators.Valid(last) || last <= 0 {
		return 0, ErrInvariant
	}
	rsi, quiet := momentum(closes, volumes)
	price := scale(last, limitChase)
	switch {
	case rsi < 30:
		price = scale(last, -limitNudge)
	case quiet:
		price = scale(last, limitNudge)
	}
	return Quantize(price, tick)
}

// LimitExitPrice mirrors LimitEntryPrice for sells and never prices below
// lastBuy*(1-acceptableLoss). acceptableLoss is a fraction.
func LimitExitPrice(closes, volumes []float64, tick, lastBuy, acceptableLoss float64) (float64, error) {
	last := indicators.Last(closes)
	if !indicators.Valid(last) || last <= 0 {
		return 0, ErrInvariant
	}
	rsi, quiet := momentum(closes, volumes)
	price := scale(last, -limitChase)
	switch {
	case rsi > 70:
		price = scale(last, limitNudge)
	case quiet:
		price = scale(last, -limitNudge)
	}
	price, err := Quantize(price, tick)
	if err != nil {
		return 0, err
	}
	// only a price that floors under the loss limit is rounded up to it
	if floor := scale(lastBuy, -acceptableLoss); lastBuy > 0 && price < floor {
		return QuantizeUp(floor, tick)
	}
	return price, nil
}
