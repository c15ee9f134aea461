package strategy

import (
	"fmt"

	"spot-trader/pkg/exchanges/common"
)

// Decision is the directional outcome of a strategy.
type Decision int

const (
	Indeterminate Decision = iota
	Long
	Flat
)

func (d Decision) String() string {
	switch d {
	case Long:
		return "Long"
	case Flat:
		return "Flat"
	default:
		return "Indeterminate"
	}
}

// Frame is the candle window a strategy decides on, oldest first.
type Frame struct {
	Symbol  string
	Candles []common.Candle
}

func (f Frame) Len() int { return len(f.Candles) }

func (f Frame) series(pick func(common.Candle) float64) []float64 {
	out := make([]float64, len(f.Candles))
	for i, c := range f.Candles {
		out[i] = pick(c)
	}
	return out
}

func (f Frame) Opens() []float64   { return f.series(func(c common.Candle) float64 { return c.Open }) }
func (f Frame) Highs() []float64   { return f.series(func(c common.Candle) float64 { return c.High }) }
func (f Frame) Lows() []float64    { return f.series(func(c common.Candle) float64 { return c.Low }) }
func (f Frame) Closes() []float64  { return f.series(func(c common.Candle) float64 { return c.Close }) }
func (f Frame) Volumes() []float64 { return f.series(func(c common.Candle) float64 { return c.Volume }) }

// LastClose returns the close of the newest candle, or 0 on an empty frame.
func (f Frame) LastClose() float64 {
	if len(f.Candles) == 0 {
		return 0
	}
	return f.Candles[len(f.Candles)-1].Close
}

// Params are numeric strategy parameters keyed by name.
type Params map[string]float64

// Float returns p[key] or def when absent.
func (p Params) Float(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int returns p[key] truncated to int, or def when absent or not positive.
func (p Params) Int(key string, def int) int {
	if v, ok := p[key]; ok && v >= 1 {
		return int(v)
	}
	return def
}

// Bool treats any non-zero value as true.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key]; ok {
		return v != 0
	}
	return def
}

// Func decides on a frame. Returning Indeterminate with a nil error means
// the strategy has no opinion.
type Func func(f Frame, p Params) (Decision, error)

// ErrUnknownStrategy is returned when a name is not registered.
type ErrUnknownStrategy struct{ Name string }

func (e ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("unknown strategy %q", e.Name)
}
