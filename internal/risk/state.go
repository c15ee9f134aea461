package risk

import (
	"fmt"
	"math"
	"time"

	"spot-trader/internal/order"
	"spot-trader/pkg/exchanges/common"
)

// Phase is the lifecycle stage of one asset's position.
type Phase int

const (
	PhaseFlat Phase = iota
	PhaseEntering
	PhaseHolding
	PhaseExiting
)

func (p Phase) String() string {
	switch p {
	case PhaseEntering:
		return "Entering"
	case PhaseHolding:
		return "Holding"
	case PhaseExiting:
		return "Exiting"
	default:
		return "Flat"
	}
}

// Tier is one take-profit rung: sell SellPct% of holdings once the gain
// reaches TriggerPct%.
type Tier struct {
	TriggerPct float64
	SellPct    float64
}

// Ladder is an ascending list of take-profit tiers.
type Ladder []Tier

// NewLadder zips parallel trigger/amount lists (base-100).
func NewLadder(at, amount []float64) (Ladder, error) {
	if len(at) != len(amount) {
		return nil, fmt.Errorf("take-profit ladder: %d triggers vs %d amounts", len(at), len(amount))
	}
	l := make(Ladder, len(at))
	for i := range at {
		l[i] = Tier{TriggerPct: at[i], SellPct: amount[i]}
	}
	return l, nil
}

// Params are the risk settings of one asset. Percent fields are fractions
// (0.02 means 2%); ladder values stay base-100.
type Params struct {
	StopLoss           float64
	TrailingActivation float64
	TrailingGap        float64
	Ladder             Ladder
}

// Snapshot is the exchange truth read at the start of a cycle.
type Snapshot struct {
	Base       common.Balance
	Filters    common.SymbolFilters
	OpenOrders []common.Order
	History    []common.Order
	Close      float64
}

// State is the per-asset position view. Exchange-derived fields are
// recomputed every cycle; risk levels and tier carry over while a position
// stays open.
type State struct {
	InPosition    bool    `json:"inPosition"`
	Holdings      float64 `json:"holdings"`
	FreeHoldings  float64 `json:"freeHoldings"`
	LastBuyPrice  float64 `json:"lastBuyPrice"`
	LastSellPrice float64 `json:"lastSellPrice"`

	InitialStopPrice float64 `json:"initialStopPrice"`
	CurrentStopPrice float64 `json:"currentStopPrice"`
	PeakPrice        float64 `json:"peakPrice"`
	TierIndex        int     `json:"tierIndex"`

	// PartialFillDiscount is the executed quantity of open buys, subtracted
	// from the next entry.
	PartialFillDiscount float64 `json:"partialFillDiscount"`
	SellPartialFill     float64 `json:"sellPartialFill"`
	OpenBuyOrders       int     `json:"openBuyOrders"`
	OpenSellOrders      int     `json:"openSellOrders"`
	Phase               Phase   `json:"phase"`
}

// WaitingOnOrders reports whether any order is open.
func (s State) WaitingOnOrders() bool {
	return s.OpenBuyOrders+s.OpenSellOrders > 0
}

// Refresh derives the new state from the previous one and a snapshot. It
// performs no I/O.
func Refresh(prev State, snap Snapshot, p Params) (State, error) {
	if !(snap.Filters.LotStep > 0) {
		return prev, fmt.Errorf("%w: lot step %v for %s", order.ErrInvariant, snap.Filters.LotStep, snap.Filters.Symbol)
	}
	if !(snap.Filters.PriceTick > 0) {
		return prev, fmt.Errorf("%w: price tick %v for %s", order.ErrInvariant, snap.Filters.PriceTick, snap.Filters.Symbol)
	}
	if math.IsNaN(snap.Close) || math.IsInf(snap.Close, 0) || snap.Close <= 0 {
		return prev, fmt.Errorf("%w: close price %v for %s", order.ErrInvariant, snap.Close, snap.Filters.Symbol)
	}

	open := order.Summarize(snap.OpenOrders)
	s := State{
		Holdings:            snap.Base.Total(),
		FreeHoldings:        snap.Base.Free,
		PartialFillDiscount: open.BuyPartialFill,
		SellPartialFill:     open.SellPartialFill,
		OpenBuyOrders:       open.OpenBuys,
		OpenSellOrders:      open.OpenSells,
	}
	s.InPosition = s.Holdings >= math.Max(snap.Filters.LotStep, snap.Filters.MinQty)
	s.LastBuyPrice, s.LastSellPrice = lastFills(snap.History)
	if open.HighestPartialBuyPrice > 0 {
		s.LastBuyPrice = open.HighestPartialBuyPrice
	}

	switch {
	case !s.InPosition && open.OpenBuys > 0:
		s.Phase = PhaseEntering
	case s.InPosition && open.OpenSells > 0:
		s.Phase = PhaseExiting
	case s.InPosition:
		s.Phase = PhaseHolding
	default:
		s.Phase = PhaseFlat
	}

	if !s.InPosition {
		return s, nil
	}

	if prev.InPosition {
		s.InitialStopPrice = prev.InitialStopPrice
		s.CurrentStopPrice = prev.CurrentStopPrice
		s.PeakPrice = prev.PeakPrice
		s.TierIndex = prev.TierIndex
	}
	if s.CurrentStopPrice == 0 && s.LastBuyPrice > 0 {
		s.InitialStopPrice = s.LastBuyPrice * (1 - p.StopLoss)
		s.CurrentStopPrice = s.InitialStopPrice
		s.PeakPrice = s.LastBuyPrice
		s.TierIndex = 0
	}
	return s, nil
}

// lastFills returns the average price of the most recent FILLED buy and sell.
// Ties keep the later entry of the history.
func lastFills(history []common.Order) (buy, sell float64) {
	var buyAt, sellAt time.Time
	seenBuy, seenSell := false, false
	for _, o := range history {
		if o.Status != common.StatusFilled {
			continue
		}
		price := o.AvgFillPrice()
		if price <= 0 {
			price = o.Price
		}
		switch o.Side {
		case common.SideBuy:
			if !seenBuy || !o.Time.Before(buyAt) {
				buy, buyAt, seenBuy = price, o.Time, true
			}
		case common.SideSell:
			if !seenSell || !o.Time.Before(sellAt) {
				sell, sellAt, seenSell = price, o.Time, true
			}
		}
	}
	return buy, sell
}
