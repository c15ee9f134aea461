// Package trader runs the per-asset trading cycle and schedules one loop per
// configured asset.
package trader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"spot-trader/internal/events"
	"spot-trader/internal/order"
	"spot-trader/internal/risk"
	"spot-trader/internal/strategy"
	"spot-trader/pkg/config"
	"spot-trader/pkg/db"
	"spot-trader/pkg/exchanges/common"
)

// ErrInvariant marks corrupted inputs; the asset's loop stops on it.
var ErrInvariant = order.ErrInvariant

// historyLimit bounds the order history read to find the last fills.
const historyLimit = 50

// entryHeadroom keeps percentage-sized market buys clear of slippage.
const entryHeadroom = 0.998

// Journal persists orders and cycles.
type Journal interface {
	order.Journal
	RecordCycle(ctx context.Context, r db.CycleRecord) error
}

// Deps are the collaborators shared by every trader.
type Deps struct {
	Gateway  common.Gateway
	Resolver *strategy.Resolver
	Journal  Journal     // optional
	Bus      *events.Bus // optional
	DryRun   bool
}

// Trader owns one asset: its configuration, risk engine and order manager.
// RunCycle must not be called concurrently.
type Trader struct {
	cfg      config.AssetConfig
	gw       common.Gateway
	orders   *order.Manager
	risk     *risk.Engine
	resolver *strategy.Resolver
	journal  Journal
	bus      *events.Bus
	log      *logrus.Entry

	filters common.SymbolFilters
}

// RiskParams converts base-100 asset settings into risk engine parameters.
func RiskParams(cfg config.AssetConfig) (risk.Params, error) {
	ladder, err := risk.NewLadder(cfg.TakeProfitAt, cfg.TakeProfitAmount)
	if err != nil {
		return risk.Params{}, err
	}
	return risk.Params{
		StopLoss:           cfg.StopLossPct / 100,
		TrailingActivation: cfg.TrailingActivationPct / 100,
		TrailingGap:        cfg.TrailingGapPct / 100,
		Ladder:             ladder,
	}, nil
}

// New builds a trader for cfg. The config is cloned and normalized.
func New(cfg config.AssetConfig, deps Deps) (*Trader, error) {
	if deps.Gateway == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("trader: gateway and resolver are required")
	}
	cfg = cfg.Clone()
	cfg.Normalize()
	if err := cfg.Validate(nil); err != nil {
		return nil, err
	}
	params, err := RiskParams(cfg)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{"component": "trader", "symbol": cfg.OperationCode})
	t := &Trader{
		cfg:      cfg,
		gw:       deps.Gateway,
		risk:     risk.NewEngine(params, log.WithField("component", "risk")),
		resolver: deps.Resolver,
		journal:  deps.Journal,
		bus:      deps.Bus,
		log:      log,
	}
	t.orders = order.NewManager(deps.Gateway, orderSink{journal: deps.Journal, bus: deps.Bus}, deps.DryRun,
		log.WithField("component", "order"))
	return t, nil
}

// Config returns the asset configuration.
func (t *Trader) Config() config.AssetConfig { return t.cfg.Clone() }

// Symbol returns the traded pair.
func (t *Trader) Symbol() string { return t.cfg.OperationCode }

// RunCycle performs one cycle and returns its report. The report's Sleep is
// the delay before the next cycle. Errors are also recorded in the report.
func (t *Trader) RunCycle(ctx context.Context) (CycleReport, error) {
	rep := CycleReport{
		Symbol:    t.cfg.OperationCode,
		StockCode: t.cfg.StockCode,
		StartedAt: time.Now(),
		Decision:  strategy.Indeterminate.String(),
		Action:    ActionNone,
	}
	err := t.cycle(ctx, &rep)

	rep.State = t.risk.State()
	rep.Phase = rep.State.Phase.String()
	rep.Duration = time.Since(rep.StartedAt)
	rep.Sleep = t.nextSleep(rep, err)
	if err != nil {
		rep.Error = err.Error()
		rep.ErrorKind = ErrorKind(err)
	}
	t.finish(ctx, rep, err)
	return rep, err
}

func (t *Trader) nextSleep(rep CycleReport, err error) time.Duration {
	switch {
	case err != nil:
		return t.cfg.PollInterval
	case rep.Acted():
		return t.cfg.DelayAfterOrder
	case rep.State.WaitingOnOrders():
		return t.cfg.PollInterval / 2
	default:
		return t.cfg.PollInterval
	}
}

func (t *Trader) cycle(ctx context.Context, rep *CycleReport) error {
	sym := t.cfg.OperationCode
	if t.filters.Symbol == "" {
		f, err := t.gw.GetSymbolFilters(ctx, sym)
		if err != nil {
			return fmt.Errorf("symbol filters: %w", err)
		}
		t.filters = f
	}

	candles, err := t.gw.GetCandles(ctx, sym, t.cfg.CandleInterval, t.cfg.CandleLimit)
	if err != nil {
		return fmt.Errorf("candles: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("%w: no candles for %s", common.ErrTransient, sym)
	}
	frame := strategy.Frame{Symbol: sym, Candles: candles}
	rep.Close = frame.LastClose()

	balances, err := t.gw.GetAccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("balances: %w", err)
	}
	open, err := t.gw.GetOpenOrders(ctx, sym)
	if err != nil {
		return fmt.Errorf("open orders: %w", err)
	}
	history, err := t.gw.GetOrderHistory(ctx, sym, historyLimit)
	if err != nil {
		return fmt.Errorf("order history: %w", err)
	}

	state, err := t.risk.Refresh(risk.Snapshot{
		Base:       common.FindBalance(balances, t.cfg.StockCode),
		Filters:    t.filters,
		OpenOrders: open,
		History:    history,
		Close:      rep.Close,
	})
	if err != nil {
		return err
	}
	quote := common.FindBalance(balances, t.cfg.QuoteAsset)
	t.log.WithFields(logrus.Fields{
		"close":      rep.Close,
		"holdings":   state.Holdings,
		"quote_free": quote.Free,
		"last_buy":   state.LastBuyPrice,
		"last_sell":  state.LastSellPrice,
		"stop":       state.CurrentStopPrice,
		"tier":       state.TierIndex,
		"phase":      state.Phase,
	}).Debug("position refreshed")

	if state.InPosition {
		if exit := t.risk.Evaluate(rep.Close); exit != nil {
			return t.exit(ctx, *exit, state, open, rep)
		}
	}

	if state.WaitingOnOrders() {
		rep.Action = ActionWait
		t.log.WithFields(logrus.Fields{
			"open_buys": state.OpenBuyOrders, "open_sells": state.OpenSellOrders,
			"buy_partial": state.PartialFillDiscount, "sell_partial": state.SellPartialFill,
		}).Info("waiting on open orders")
		return nil
	}

	decision := t.resolver.Resolve(frame, t.cfg.MainStrategy, t.cfg.FallbackStrategy, t.cfg.FallbackEnabled)
	rep.Decision = decision.String()
	switch {
	case decision == strategy.Long && !state.InPosition:
		return t.enter(ctx, frame, quote, state, rep)
	case decision == strategy.Flat && state.InPosition && t.cfg.ExitsOnSignal():
		return t.signalExit(ctx, frame, state, rep)
	}
	return nil
}

// exit executes a risk-driven sell. A stop first cancels every open order and
// sells the released balance at market.
func (t *Trader) exit(ctx context.Context, exit risk.Exit, state risk.State, open []common.Order, rep *CycleReport) error {
	reason := order.ReasonTakeProfit
	rep.Action = ActionTakeProfit
	qty := min(exit.Qty, state.FreeHoldings)

	if exit.Kind == risk.ExitStop {
		reason = order.ReasonStop
		rep.Action = ActionStop
		qty = state.FreeHoldings
		if rep.Cancelled = t.orders.CancelAll(ctx, t.cfg.OperationCode, open); rep.Cancelled > 0 {
			balances, err := t.gw.GetAccountBalances(ctx)
			if err != nil {
				rep.Action = ActionNone
				t.risk.ConfirmExit(exit, false)
				return fmt.Errorf("balances after cancel: %w", err)
			}
			qty = common.FindBalance(balances, t.cfg.StockCode).Free
		}
	}

	t.bus.Publish(events.EventRiskExit, ExitNotice{
		Symbol: t.cfg.OperationCode, Trigger: exit.Kind.String(), Qty: qty,
		Tier: exit.Tier, Price: exit.Price, Reason: exit.Reason,
	})

	o, err := t.orders.MarketSell(ctx, t.filters, qty, reason)
	if err != nil {
		rep.Action = ActionNone
		t.risk.ConfirmExit(exit, false)
		if errors.Is(err, order.ErrBelowMinimum) {
			t.log.WithError(err).Warn("exit quantity below exchange minimum")
			return nil
		}
		return err
	}
	rep.OrdersPlaced++
	t.risk.ConfirmExit(exit, o.Status == common.StatusFilled)
	return nil
}

func (t *Trader) enter(ctx context.Context, frame strategy.Frame, quote common.Balance, state risk.State, rep *CycleReport) error {
	rep.Action = ActionBuy
	price := rep.Close
	limit := t.cfg.OrderStyle == config.OrderStyleLimit
	if limit {
		p, err := order.LimitEntryPrice(frame.Closes(), frame.Volumes(), t.filters.PriceTick)
		if err != nil {
			return err
		}
		price = p
	}

	qty := t.cfg.TradedQuantity
	if qty <= 0 {
		qty = percentageQty(quote.Free, t.cfg.TradedPercentage, price, !limit)
	}
	qty -= state.PartialFillDiscount

	var err error
	if limit {
		_, err = t.orders.LimitBuy(ctx, t.filters, qty, price, order.ReasonEntry)
	} else {
		_, err = t.orders.MarketBuy(ctx, t.filters, qty, order.ReasonEntry)
	}
	if err != nil {
		rep.Action = ActionNone
		if errors.Is(err, order.ErrBelowMinimum) {
			t.log.WithError(err).WithField("quote_free", quote.Free).Warn("entry quantity below exchange minimum")
			return nil
		}
		return err
	}
	rep.OrdersPlaced++
	return nil
}

// percentageQty sizes an entry as pct% of the free quote balance at price.
func percentageQty(free, pct, price float64, headroom bool) float64 {
	if price <= 0 {
		return 0
	}
	q := decimal.NewFromFloat(free).Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromFloat(price))
	if headroom {
		q = q.Mul(decimal.NewFromFloat(entryHeadroom))
	}
	out, _ := q.Float64()
	return out
}

func (t *Trader) signalExit(ctx context.Context, frame strategy.Frame, state risk.State, rep *CycleReport) error {
	rep.Action = ActionSell
	var err error
	if t.cfg.OrderStyle == config.OrderStyleLimit {
		price, perr := order.LimitExitPrice(frame.Closes(), frame.Volumes(), t.filters.PriceTick,
			state.LastBuyPrice, t.cfg.AcceptableLossPct/100)
		if perr != nil {
			return perr
		}
		_, err = t.orders.LimitSell(ctx, t.filters, state.FreeHoldings, price, order.ReasonSignalExit)
	} else {
		_, err = t.orders.MarketSell(ctx, t.filters, state.FreeHoldings, order.ReasonSignalExit)
	}
	if err != nil {
		rep.Action = ActionNone
		if errors.Is(err, order.ErrBelowMinimum) {
			t.log.WithError(err).Warn("holdings below exchange minimum")
			return nil
		}
		return err
	}
	rep.OrdersPlaced++
	return nil
}

func (t *Trader) finish(ctx context.Context, rep CycleReport, err error) {
	entry := t.log.WithFields(logrus.Fields{
		"phase":    rep.Phase,
		"decision": rep.Decision,
		"action":   rep.Action,
		"close":    rep.Close,
		"stop":     rep.State.CurrentStopPrice,
		"sleep":    rep.Sleep,
	})
	switch {
	case err == nil:
		entry.Info("cycle complete")
	case errors.Is(err, ErrInvariant):
		entry.WithError(err).Error("cycle aborted on invariant violation")
	case common.IsTransient(err):
		entry.WithError(err).Warn("cycle failed, retrying")
	default:
		entry.WithError(err).Error("cycle failed")
	}

	if t.journal != nil {
		if jerr := t.journal.RecordCycle(ctx, rep.record()); jerr != nil {
			t.log.WithError(jerr).Warn("journal cycle failed")
		}
	}
	t.bus.Publish(events.EventCycle, rep)
}

// orderSink journals orders and publishes them on the bus.
type orderSink struct {
	journal Journal
	bus     *events.Bus
}

func (s orderSink) RecordOrder(ctx context.Context, r db.OrderRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	s.bus.Publish(events.EventOrder, r)
	if s.journal == nil {
		return nil
	}
	return s.journal.RecordOrder(ctx, r)
}
