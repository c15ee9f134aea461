package order

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvariant marks inputs that make further trading on the pair unsafe.
var ErrInvariant = errors.New("invariant violation")

// ErrBelowMinimum is returned when a quantity floors to less than the venue minimum.
var ErrBelowMinimum = errors.New("quantity below minimum tradable size")

// Quantize floors value to a multiple of step.
func Quantize(value, step float64) (float64, error) {
	return quantize(value, step, false)
}

// QuantizeUp rounds value up to a multiple of step.
func QuantizeUp(value, step float64) (float64, error) {
	return quantize(value, step, true)
}

func quantize(value, step float64, up bool) (float64, error) {
	if !(step > 0) || math.IsInf(step, 0) {
		return 0, fmt.Errorf("%w: step %v must be positive", ErrInvariant, step)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: value %v is not finite", ErrInvariant, value)
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	n := v.Div(s)
	if up {
		n = n.Ceil()
	} else {
		n = n.Floor()
	}
	out, _ := n.Mul(s).Float64()
	return out, nil
}
