// Package paper is an in-memory spot venue used for dry runs. Market data is
// read from a real feed; orders, balances and fills are simulated locally.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"spot-trader/pkg/exchanges/common"
)

// MarketData is the public half of a venue.
type MarketData interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error)
	GetSymbolFilters(ctx context.Context, symbol string) (common.SymbolFilters, error)
	GetServerTime(ctx context.Context) (int64, error)
}

// SimConfig tunes the fill simulation.
type SimConfig struct {
	FeeRate     float64 // decimal, e.g. 0.001 = 10 bps, charged in the asset received
	SlippageBps float64 // basis points of adverse slippage on market fills
}

type balance struct {
	free   float64
	locked float64
}

// Exchange simulates a spot account. It is safe for concurrent use.
type Exchange struct {
	market MarketData
	cfg    SimConfig
	log    *logrus.Entry

	mu       sync.Mutex
	rng      *rand.Rand
	balances map[string]*balance
	orders   map[string][]*common.Order // by symbol, oldest first
	prices   map[string]float64
	nextID   int64
}

var _ common.Gateway = (*Exchange)(nil)

// New creates a paper venue funded with initial balances (asset -> free amount).
func New(market MarketData, initial map[string]float64, cfg SimConfig) *Exchange {
	ex := &Exchange{
		market:   market,
		cfg:      cfg,
		log:      logrus.WithField("component", "paper"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		balances: make(map[string]*balance),
		orders:   make(map[string][]*common.Order),
		prices:   make(map[string]float64),
	}
	for asset, amount := range initial {
		ex.balances[asset] = &balance{free: amount}
	}
	return ex
}

// SetPrice overrides the last traded price of symbol and matches resting orders.
func (e *Exchange) SetPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
	e.matchLocked(symbol)
}

func (e *Exchange) GetServerTime(ctx context.Context) (int64, error) {
	if e.market == nil {
		return time.Now().UnixMilli(), nil
	}
	return e.market.GetServerTime(ctx)
}

// GetCandles reads the real feed and uses the last close as the simulated price.
func (e *Exchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]common.Candle, error) {
	if e.market == nil {
		return nil, fmt.Errorf("paper: no market data feed")
	}
	candles, err := e.market.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}
	if len(candles) > 0 {
		e.SetPrice(symbol, candles[len(candles)-1].Close)
	}
	return candles, nil
}

func (e *Exchange) GetSymbolFilters(ctx context.Context, symbol string) (common.SymbolFilters, error) {
	if e.market == nil {
		return common.SymbolFilters{Symbol: symbol, PriceTick: 0.01, LotStep: 0.00001}, nil
	}
	return e.market.GetSymbolFilters(ctx, symbol)
}

func (e *Exchange) GetAccountBalances(ctx context.Context) ([]common.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]common.Balance, 0, len(e.balances))
	for asset, b := range e.balances {
		out = append(out, common.Balance{Asset: asset, Free: b.free, Locked: b.locked})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []common.Order
	for _, o := range e.orders[symbol] {
		if !o.Status.Terminal() {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (e *Exchange) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]common.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	all := e.orders[symbol]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]common.Order, 0, len(all))
	for _, o := range all {
		out = append(out, *o)
	}
	return out, nil
}

func (e *Exchange) GetOrder(ctx context.Context, symbol, clientID string) (common.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.orders[symbol] {
		if o.ClientID == clientID {
			return *o, nil
		}
	}
	return common.Order{}, common.ErrOrderNotFound
}

// PlaceOrder fills market orders at the last price and rests limit orders
// until the price crosses them.
func (e *Exchange) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	base, quote, ok := common.SplitSymbol(req.Symbol)
	if !ok {
		return common.Order{}, fmt.Errorf("%w: unknown symbol %s", common.ErrOrderRejected, req.Symbol)
	}
	if req.Qty <= 0 {
		return common.Order{}, fmt.Errorf("%w: quantity must be positive", common.ErrOrderRejected)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	last := e.prices[req.Symbol]
	if last <= 0 {
		return common.Order{}, fmt.Errorf("%w: no price for %s", common.ErrTransient, req.Symbol)
	}

	e.nextID++
	o := &common.Order{
		Symbol:   req.Symbol,
		OrderID:  strconv.FormatInt(e.nextID, 10),
		ClientID: req.ClientID,
		Side:     req.Side,
		Type:     req.Type,
		Status:   common.StatusNew,
		Price:    req.Price,
		OrigQty:  req.Qty,
		Time:     time.Now(),
	}

	switch req.Type {
	case common.OrderTypeMarket:
		price := e.slip(last, req.Side)
		if err := e.reserve(o, base, quote, price); err != nil {
			return common.Order{}, err
		}
		e.fill(o, base, quote, price)
	case common.OrderTypeLimit:
		if req.Price <= 0 {
			return common.Order{}, fmt.Errorf("%w: limit price required", common.ErrOrderRejected)
		}
		if err := e.reserve(o, base, quote, req.Price); err != nil {
			return common.Order{}, err
		}
	default:
		return common.Order{}, fmt.Errorf("%w: unsupported type %s", common.ErrOrderRejected, req.Type)
	}

	e.orders[req.Symbol] = append(e.orders[req.Symbol], o)
	e.matchLocked(req.Symbol)
	e.log.WithFields(logrus.Fields{
		"symbol": req.Symbol, "side": req.Side, "type": req.Type,
		"qty": req.Qty, "price": o.Price, "status": o.Status,
	}).Info("paper order")
	return *o, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	base, quote, _ := common.SplitSymbol(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, o := range e.orders[symbol] {
		if o.OrderID != orderID {
			continue
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s already %s", common.ErrOrderRejected, orderID, o.Status)
		}
		remaining := o.OrigQty - o.ExecutedQty
		if o.Side == common.SideBuy {
			e.release(quote, remaining*o.Price)
		} else {
			e.release(base, remaining)
		}
		o.Status = common.StatusCanceled
		return nil
	}
	return common.ErrOrderNotFound
}

func (e *Exchange) slip(price float64, side common.Side) float64 {
	frac := e.cfg.SlippageBps / 10000.0
	if frac <= 0 {
		return price
	}
	noise := e.rng.Float64() * frac
	if side == common.SideBuy {
		return price * (1 + noise)
	}
	return price * (1 - noise)
}

func (e *Exchange) account(asset string) *balance {
	b, ok := e.balances[asset]
	if !ok {
		b = &balance{}
		e.balances[asset] = b
	}
	return b
}

// reserve moves the order's cost from free to locked.
func (e *Exchange) reserve(o *common.Order, base, quote string, price float64) error {
	if o.Side == common.SideBuy {
		cost := o.OrigQty * price
		b := e.account(quote)
		if cost > b.free+1e-12 {
			return fmt.Errorf("%w: insufficient %s balance: need %.8f, have %.8f", common.ErrOrderRejected, quote, cost, b.free)
		}
		b.free -= o.OrigQty * price
		b.locked += o.OrigQty * price
		return nil
	}
	b := e.account(base)
	if o.OrigQty > b.free+1e-12 {
		return fmt.Errorf("%w: insufficient %s balance: need %.8f, have %.8f", common.ErrOrderRejected, base, o.OrigQty, b.free)
	}
	b.free -= o.OrigQty
	b.locked += o.OrigQty
	return nil
}

func (e *Exchange) release(asset string, amount float64) {
	b := e.account(asset)
	b.locked -= amount
	b.free += amount
}

// fill executes the whole remaining quantity at price. The reservation made
// at submit time is consumed.
func (e *Exchange) fill(o *common.Order, base, quote string, price float64) {
	qty := o.OrigQty - o.ExecutedQty
	notional := qty * price
	fee := notional * e.cfg.FeeRate
	if o.Side == common.SideBuy {
		reserved := qty * o.Price
		if o.Type == common.OrderTypeMarket {
			reserved = notional
		}
		q := e.account(quote)
		q.locked -= reserved
		q.free += reserved - notional
		e.account(base).free += qty - qty*e.cfg.FeeRate
	} else {
		e.account(base).locked -= qty
		e.account(quote).free += notional - fee
	}
	o.ExecutedQty += qty
	o.CumulativeQuote += notional
	o.Status = common.StatusFilled
	if o.Type == common.OrderTypeMarket {
		o.Price = 0
	}
}

func (e *Exchange) matchLocked(symbol string) {
	last := e.prices[symbol]
	if last <= 0 {
		return
	}
	base, quote, _ := common.SplitSymbol(symbol)
	for _, o := range e.orders[symbol] {
		if o.Status.Terminal() || o.Type != common.OrderTypeLimit {
			continue
		}
		if (o.Side == common.SideBuy && last <= o.Price) || (o.Side == common.SideSell && last >= o.Price) {
			e.fill(o, base, quote, o.Price)
		}
	}
}
