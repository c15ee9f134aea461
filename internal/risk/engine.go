package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ExitKind names the trigger behind an exit.
type ExitKind int

const (
	ExitStop ExitKind = iota + 1
	ExitTakeProfit
)

func (k ExitKind) String() string {
	switch k {
	case ExitStop:
		return "stop"
	case ExitTakeProfit:
		return "take_profit"
	default:
		return "none"
	}
}

// Exit is a risk-driven sell instruction.
type Exit struct {
	Kind ExitKind
	// Qty is the base quantity to sell before lot-step flooring.
	Qty float64
	// Tier is the ladder index a take-profit exit belongs to.
	Tier   int
	Price  float64
	Reason string
}

// UpdateTrailing ratchets the stop behind a new peak once the gain reaches
// the activation level. The stop never moves down.
func UpdateTrailing(s State, p Params, close float64) State {
	if !s.InPosition || s.LastBuyPrice <= 0 || s.CurrentStopPrice <= 0 {
		return s
	}
	if close < s.LastBuyPrice*(1+p.TrailingActivation) {
		return s
	}
	if close > s.PeakPrice {
		s.PeakPrice = close
		if candidate := s.PeakPrice * (1 - p.TrailingGap); candidate > s.CurrentStopPrice {
			s.CurrentStopPrice = candidate
		}
	}
	return s
}

// CheckStop fires a full exit when the close is below the current stop.
func CheckStop(s State, close float64) *Exit {
	if !s.InPosition || s.CurrentStopPrice <= 0 || close >= s.CurrentStopPrice {
		return nil
	}
	return &Exit{
		Kind:   ExitStop,
		Qty:    s.Holdings,
		Price:  close,
		Reason: fmt.Sprintf("close %.8g below stop %.8g", close, s.CurrentStopPrice),
	}
}

// CheckTakeProfit fires the current ladder tier once its gain is reached.
// Gains are compared at two decimals. Tiers with a non-positive trigger and
// cycles with resting sells never fire.
func CheckTakeProfit(s State, p Params, close float64) *Exit {
	if !s.InPosition || s.LastBuyPrice <= 0 || s.OpenSellOrders > 0 || s.TierIndex >= len(p.Ladder) {
		return nil
	}
	tier := p.Ladder[s.TierIndex]
	if tier.TriggerPct <= 0 {
		return nil
	}
	gain := decimal.NewFromFloat(close).Sub(decimal.NewFromFloat(s.LastBuyPrice)).
		Div(decimal.NewFromFloat(s.LastBuyPrice)).Mul(decimal.NewFromInt(100)).Round(2)
	if gain.LessThan(decimal.NewFromFloat(tier.TriggerPct).Round(2)) {
		return nil
	}
	return &Exit{
		Kind:   ExitTakeProfit,
		Qty:    s.Holdings * tier.SellPct / 100,
		Tier:   s.TierIndex,
		Price:  close,
		Reason: fmt.Sprintf("gain %s%% reached tier %d at %v%%", gain.String(), s.TierIndex, tier.TriggerPct),
	}
}

// Evaluate runs the trailing update, then the stop check, then the
// take-profit check, and returns at most one exit.
func Evaluate(s State, p Params, close float64) (State, *Exit) {
	s = UpdateTrailing(s, p, close)
	exit := CheckStop(s, close)
	if exit == nil {
		exit = CheckTakeProfit(s, p, close)
	}
	if exit != nil {
		s.Phase = PhaseExiting
	}
	return s, exit
}

// Engine owns the risk state of one asset. It is not safe for concurrent
// use; each asset loop has its own.
type Engine struct {
	params Params
	state  State
	log    *logrus.Entry
}

func NewEngine(params Params, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.WithField("component", "risk")
	}
	return &Engine{params: params, log: log}
}

// State returns a copy of the current state.
func (e *Engine) State() State { return e.state }

// Params returns the engine's settings.
func (e *Engine) Params() Params { return e.params }

// Refresh replaces the state with one derived from snap. On error the
// previous state is kept.
func (e *Engine) Refresh(snap Snapshot) (State, error) {
	next, err := Refresh(e.state, snap, e.params)
	if err != nil {
		return e.state, err
	}
	if next.InPosition && !e.state.InPosition && next.CurrentStopPrice > 0 {
		e.log.WithFields(logrus.Fields{
			"last_buy": next.LastBuyPrice, "stop": next.CurrentStopPrice, "holdings": next.Holdings,
		}).Info("position opened, stop armed")
	}
	if next.InPosition && next.LastBuyPrice <= 0 {
		e.log.WithField("holdings", next.Holdings).Warn("holding without buy history, risk levels undefined")
	}
	if !next.InPosition && e.state.InPosition {
		e.log.WithField("last_sell", next.LastSellPrice).Info("position closed")
	}
	e.state = next
	return e.state, nil
}

// Evaluate applies Evaluate to the owned state.
func (e *Engine) Evaluate(close float64) *Exit {
	prevStop := e.state.CurrentStopPrice
	next, exit := Evaluate(e.state, e.params, close)
	if next.CurrentStopPrice > prevStop && prevStop > 0 {
		e.log.WithFields(logrus.Fields{
			"peak": next.PeakPrice, "from": prevStop, "to": next.CurrentStopPrice,
		}).Info("trailing stop raised")
	}
	e.state = next
	if exit != nil {
		e.log.WithFields(logrus.Fields{
			"trigger": exit.Kind, "qty": exit.Qty, "tier": exit.Tier, "close": close,
		}).Warn(exit.Reason)
	}
	return exit
}

// ConfirmExit records the outcome of an exit order. A take-profit tier only
// advances on a confirmed fill; a filled stop clears the peak.
func (e *Engine) ConfirmExit(exit Exit, filled bool) {
	if !filled {
		e.log.WithField("trigger", exit.Kind).Warn("exit not confirmed, will re-evaluate next cycle")
		return
	}
	switch exit.Kind {
	case ExitStop:
		e.state.PeakPrice = 0
	case ExitTakeProfit:
		if exit.Tier == e.state.TierIndex && e.state.TierIndex < len(e.params.Ladder) {
			e.state.TierIndex++
		}
	}
}
