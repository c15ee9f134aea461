package order

import "spot-trader/pkg/exchanges/common"

// Summary condenses the open orders of one pair.
type Summary struct {
	OpenBuys  int
	OpenSells int
	// BuyPartialFill and SellPartialFill are the quantities already executed
	// on open orders of each side.
	BuyPartialFill  float64
	SellPartialFill float64
	// HighestPartialBuyPrice is the highest price among open buys with fills.
	HighestPartialBuyPrice float64
}

// Waiting reports whether any order is still open.
func (s Summary) Waiting() bool {
	return s.OpenBuys+s.OpenSells > 0
}

// Summarize counts open orders by side and accumulates their executed
// quantity per side.
func Summarize(open []common.Order) Summary {
	var s Summary
	for _, o := range open {
		if o.Status.Terminal() {
			continue
		}
		switch o.Side {
		case common.SideBuy:
			s.OpenBuys++
			s.BuyPartialFill += o.ExecutedQty
			if o.ExecutedQty > 0 && o.Price > s.HighestPartialBuyPrice {
				s.HighestPartialBuyPrice = o.Price
			}
		case common.SideSell:
			s.OpenSells++
			s.SellPartialFill += o.ExecutedQty
		}
	}
	return s
}
