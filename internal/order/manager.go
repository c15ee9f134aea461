package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"spot-trader/pkg/db"
	"spot-trader/pkg/exchanges/common"
)

// Reason tags why an order was sent.
type Reason string

const (
	ReasonEntry      Reason = "entry"
	ReasonSignalExit Reason = "signal_exit"
	ReasonStop       Reason = "stop"
	ReasonTakeProfit Reason = "take_profit"
)

// Journal records submitted orders.
type Journal interface {
	RecordOrder(ctx context.Context, r db.OrderRecord) error
}

// Manager submits single orders and verifies their outcome.
type Manager struct {
	gw      common.Gateway
	journal Journal
	dryRun  bool
	log     *logrus.Entry
	newID   func() string
}

// NewManager builds a manager. journal may be nil.
func NewManager(gw common.Gateway, journal Journal, dryRun bool, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.WithField("component", "order")
	}
	return &Manager{
		gw:      gw,
		journal: journal,
		dryRun:  dryRun,
		log:     log,
		newID:   func() string { return "st-" + uuid.NewString()[:28] },
	}
}

// MarketBuy buys qty (floored to the lot step) at market.
func (m *Manager) MarketBuy(ctx context.Context, f common.SymbolFilters, qty float64, reason Reason) (common.Order, error) {
	return m.submit(ctx, f, common.SideBuy, common.OrderTypeMarket, qty, 0, reason)
}

// MarketSell sells qty (floored to the lot step) at market.
func (m *Manager) MarketSell(ctx context.Context, f common.SymbolFilters, qty float64, reason Reason) (common.Order, error) {
	return m.submit(ctx, f, common.SideSell, common.OrderTypeMarket, qty, 0, reason)
}

// LimitBuy rests a GTC buy at price.
func (m *Manager) LimitBuy(ctx context.Context, f common.SymbolFilters, qty, price float64, reason Reason) (common.Order, error) {
	return m.submit(ctx, f, common.SideBuy, common.OrderTypeLimit, qty, price, reason)
}

// LimitSell rests a GTC sell at price.
func (m *Manager) LimitSell(ctx context.Context, f common.SymbolFilters, qty, price float64, reason Reason) (common.Order, error) {
	return m.submit(ctx, f, common.SideSell, common.OrderTypeLimit, qty, price, reason)
}

func (m *Manager) submit(ctx context.Context, f common.SymbolFilters, side common.Side, typ common.OrderType, qty, price float64, reason Reason) (common.Order, error) {
	qty, err := Quantize(qty, f.LotStep)
	if err != nil {
		return common.Order{}, err
	}
	if qty <= 0 || qty < f.MinQty {
		return common.Order{}, fmt.Errorf("%w: %s %v (step %v, min %v)", ErrBelowMinimum, f.Symbol, qty, f.LotStep, f.MinQty)
	}
	if typ == common.OrderTypeLimit {
		if price, err = Quantize(price, f.PriceTick); err != nil {
			return common.Order{}, err
		}
		if price <= 0 {
			return common.Order{}, fmt.Errorf("%w: limit price %v", ErrInvariant, price)
		}
	}

	req := common.OrderRequest{
		Symbol:   f.Symbol,
		Side:     side,
		Type:     typ,
		Qty:      qty,
		Price:    price,
		ClientID: m.newID(),
	}
	if typ == common.OrderTypeLimit {
		req.TimeInForce = common.TIFGTC
	}
	entry := m.log.WithFields(logrus.Fields{
		"symbol": f.Symbol, "side": side, "type": typ, "qty": qty,
		"price": price, "reason": reason, "client_id": req.ClientID,
	})

	res, err := m.gw.PlaceOrder(ctx, req)
	if err != nil && common.IsTransient(err) {
		// The order may have reached the venue; look it up before giving up.
		if found, lookupErr := m.gw.GetOrder(ctx, f.Symbol, req.ClientID); lookupErr == nil {
			entry.WithError(err).Warn("submit failed in transit but order exists")
			res, err = found, nil
		} else if !errors.Is(lookupErr, common.ErrOrderNotFound) {
			entry.WithError(lookupErr).Error("order state unknown after failed submit")
		}
	}
	if err != nil {
		entry.WithError(err).Error("order failed")
		m.record(ctx, req, reason, common.Order{Status: common.StatusRejected}, err)
		return common.Order{}, err
	}

	if typ == common.OrderTypeMarket && !res.Status.Terminal() {
		if verified, verr := m.gw.GetOrder(ctx, f.Symbol, req.ClientID); verr == nil {
			res = verified
		} else {
			entry.WithError(verr).Warn("order verification failed")
		}
	}

	entry.WithFields(logrus.Fields{
		"order_id": res.OrderID, "status": res.Status,
		"executed": res.ExecutedQty, "avg_price": res.AvgFillPrice(),
	}).Info("order placed")
	m.record(ctx, req, reason, res, nil)
	return res, nil
}

func (m *Manager) record(ctx context.Context, req common.OrderRequest, reason Reason, res common.Order, err error) {
	if m.journal == nil {
		return
	}
	rec := db.OrderRecord{
		ClientID:   req.ClientID,
		ExchangeID: res.OrderID,
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Type:       string(req.Type),
		Reason:     string(reason),
		Price:      req.Price,
		Qty:        req.Qty,
		FilledQty:  res.ExecutedQty,
		AvgPrice:   res.AvgFillPrice(),
		Status:     string(res.Status),
		DryRun:     m.dryRun,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := m.journal.RecordOrder(ctx, rec); jerr != nil {
		m.log.WithError(jerr).Warn("journal order failed")
	}
}

// CancelAll cancels every open order; failures are logged and skipped.
// It returns how many cancels succeeded.
func (m *Manager) CancelAll(ctx context.Context, symbol string, open []common.Order) int {
	cancelled := 0
	for _, o := range open {
		if o.Status.Terminal() {
			continue
		}
		if err := m.gw.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			m.log.WithFields(logrus.Fields{"symbol": symbol, "order_id": o.OrderID}).WithError(err).Warn("cancel failed")
			continue
		}
		cancelled++
	}
	if cancelled > 0 {
		m.log.WithFields(logrus.Fields{"symbol": symbol, "cancelled": cancelled}).Info("open orders cancelled")
	}
	return cancelled
}
