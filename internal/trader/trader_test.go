package trader

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-trader/internal/events"
	"spot-trader/internal/strategy"
	"spot-trader/pkg/config"
	"spot-trader/pkg/db"
	"spot-trader/pkg/exchanges/common"
	"spot-trader/pkg/exchanges/paper"
)

// feed serves flat candles at a settable price.
type feed struct {
	mu      sync.Mutex
	prices  map[string]float64
	filters common.SymbolFilters
}

func newFeed() *feed {
	return &feed{
		prices:  map[string]float64{"BTCUSDT": 100, "ETHUSDT": 100},
		filters: common.SymbolFilters{PriceTick: 0.01, LotStep: 0.001, MinQty: 0.001},
	}
}

func (f *feed) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *feed) GetCandles(_ context.Context, symbol, _ string, _ int) ([]common.Candle, error) {
	f.mu.Lock()
	price := f.prices[symbol]
	f.mu.Unlock()
	out := make([]common.Candle, 60)
	for i := range out {
		out[i] = common.Candle{
			OpenTime: time.Unix(int64(i)*900, 0),
			Open:     price, High: price, Low: price, Close: price, Volume: 10,
		}
	}
	return out, nil
}

func (f *feed) GetSymbolFilters(_ context.Context, symbol string) (common.SymbolFilters, error) {
	out := f.filters
	out.Symbol = symbol
	return out, nil
}

func (f *feed) GetServerTime(context.Context) (int64, error) { return time.Now().UnixMilli(), nil }

// venue is a paper exchange that counts order calls and can fake open orders.
type venue struct {
	*paper.Exchange
	placed    atomic.Int32
	cancelled atomic.Int32
	open      []common.Order
}

func (v *venue) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.Order, error) {
	v.placed.Add(1)
	return v.Exchange.PlaceOrder(ctx, req)
}

func (v *venue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	v.cancelled.Add(1)
	return v.Exchange.CancelOrder(ctx, symbol, orderID)
}

func (v *venue) GetOpenOrders(ctx context.Context, symbol string) ([]common.Order, error) {
	if v.open != nil {
		return v.open, nil
	}
	return v.Exchange.GetOpenOrders(ctx, symbol)
}

func newVenue(f *feed, quote float64) *venue {
	return &venue{Exchange: paper.New(f, map[string]float64{"USDT": quote}, paper.SimConfig{})}
}

// signal is a strategy whose decision the test controls.
type signal struct {
	d     atomic.Int32
	calls atomic.Int32
}

func (s *signal) set(d strategy.Decision) { s.d.Store(int32(d)) }

func (s *signal) decide(strategy.Frame, strategy.Params) (strategy.Decision, error) {
	s.calls.Add(1)
	return strategy.Decision(s.d.Load()), nil
}

type memJournal struct {
	mu     sync.Mutex
	orders []db.OrderRecord
	cycles []db.CycleRecord
}

func (j *memJournal) RecordOrder(_ context.Context, r db.OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.orders = append(j.orders, r)
	return nil
}

func (j *memJournal) RecordCycle(_ context.Context, r db.CycleRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cycles = append(j.cycles, r)
	return nil
}

func testAsset(symbol string) config.AssetConfig {
	a := config.DefaultAsset()
	a.StockCode = symbol[:3]
	a.OperationCode = symbol
	a.TradedQuantity = 1
	a.StopLossPct = 2
	a.TakeProfitAt = []float64{2, 4}
	a.TakeProfitAmount = []float64{50, 50}
	a.PollInterval = 10 * time.Second
	a.DelayAfterOrder = 60 * time.Second
	a.MainStrategy = config.StrategySpec{Name: "signal"}
	a.FallbackStrategy = config.StrategySpec{Name: "signal"}
	a.FallbackEnabled = false
	return a
}

type harness struct {
	feed    *feed
	venue   *venue
	signal  *signal
	journal *memJournal
	bus     *events.Bus
	trader  *Trader
}

func newHarness(t *testing.T, mutate func(*config.AssetConfig)) *harness {
	t.Helper()
	h := &harness{feed: newFeed(), signal: &signal{}, journal: &memJournal{}, bus: events.NewBus()}
	h.venue = newVenue(h.feed, 1000)

	reg := strategy.NewRegistry()
	reg.Register("signal", h.signal.decide)
	cfg := testAsset("BTCUSDT")
	if mutate != nil {
		mutate(&cfg)
	}
	tr, err := New(cfg, Deps{
		Gateway:  h.venue,
		Resolver: strategy.NewResolver(reg, nil),
		Journal:  h.journal,
		Bus:      h.bus,
		DryRun:   true,
	})
	require.NoError(t, err)
	h.trader = tr
	return h
}

func (h *harness) cycle(t *testing.T) CycleReport {
	t.Helper()
	rep, err := h.trader.RunCycle(context.Background())
	require.NoError(t, err)
	return rep
}

func (h *harness) balance(t *testing.T, asset string) common.Balance {
	t.Helper()
	bs, err := h.venue.GetAccountBalances(context.Background())
	require.NoError(t, err)
	return common.FindBalance(bs, asset)
}

func (h *harness) buyIn(t *testing.T) {
	t.Helper()
	h.signal.set(strategy.Long)
	rep := h.cycle(t)
	require.Equal(t, ActionBuy, rep.Action)
	h.signal.set(strategy.Indeterminate)
}

func TestEntryArmsStopNextCycle(t *testing.T) {
	h := newHarness(t, nil)
	h.signal.set(strategy.Long)

	rep := h.cycle(t)
	assert.Equal(t, ActionBuy, rep.Action)
	assert.Equal(t, "Long", rep.Decision)
	assert.Equal(t, 1, rep.OrdersPlaced)
	assert.Equal(t, 60*time.Second, rep.Sleep)
	assert.EqualValues(t, 1, h.venue.placed.Load())

	rep = h.cycle(t)
	assert.Equal(t, ActionNone, rep.Action)
	assert.True(t, rep.State.InPosition)
	assert.Equal(t, "Holding", rep.Phase)
	assert.InDelta(t, 98, rep.State.InitialStopPrice, 1e-9)
	assert.InDelta(t, 98, rep.State.CurrentStopPrice, 1e-9)
	assert.Equal(t, 10*time.Second, rep.Sleep)
	assert.EqualValues(t, 1, h.venue.placed.Load(), "no second entry while holding")

	require.Len(t, h.journal.orders, 1)
	assert.Equal(t, "entry", h.journal.orders[0].Reason)
	assert.Len(t, h.journal.cycles, 2)
}

func TestIndeterminateIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	for range 5 {
		rep := h.cycle(t)
		assert.Equal(t, ActionNone, rep.Action)
		assert.Equal(t, 10*time.Second, rep.Sleep)
	}

	h.buyIn(t)
	before := h.venue.placed.Load()
	for range 5 {
		h.cycle(t)
	}
	assert.Equal(t, before, h.venue.placed.Load())
	assert.Zero(t, h.venue.cancelled.Load())
}

func TestStopCancelsOpenOrdersThenSells(t *testing.T) {
	h := newHarness(t, nil)
	h.buyIn(t)

	// a resting sell locks part of the position
	_, err := h.venue.Exchange.PlaceOrder(context.Background(), common.OrderRequest{
		Symbol: "BTCUSDT", Side: common.SideSell, Type: common.OrderTypeLimit, Qty: 0.5, Price: 120,
	})
	require.NoError(t, err)

	h.feed.set("BTCUSDT", 101)
	rep := h.cycle(t)
	assert.Equal(t, ActionWait, rep.Action)
	assert.Equal(t, "Exiting", rep.Phase)
	assert.Equal(t, 5*time.Second, rep.Sleep)
	assert.EqualValues(t, 1, h.signal.calls.Load(), "strategy skipped while orders are open")

	h.feed.set("BTCUSDT", 97)
	rep = h.cycle(t)
	assert.Equal(t, ActionStop, rep.Action)
	assert.Equal(t, 1, rep.Cancelled)
	assert.Equal(t, 1, rep.OrdersPlaced)
	assert.Equal(t, 60*time.Second, rep.Sleep)
	assert.InDelta(t, 0, h.balance(t, "BTC").Total(), 1e-9)

	last := h.journal.orders[len(h.journal.orders)-1]
	assert.Equal(t, "stop", last.Reason)
	assert.InDelta(t, 1, last.Qty, 1e-9)

	rep = h.cycle(t)
	assert.False(t, rep.State.InPosition)
	assert.Zero(t, rep.State.CurrentStopPrice)
}

func TestExitBelowMinimumIsNotAnAction(t *testing.T) {
	h := newHarness(t, func(a *config.AssetConfig) { a.TradedQuantity = 0.001 })
	h.buyIn(t)
	placed := h.venue.placed.Load()

	// half of 0.001 floors to zero lots
	h.feed.set("BTCUSDT", 102)
	rep := h.cycle(t)
	assert.Equal(t, ActionNone, rep.Action)
	assert.Zero(t, rep.OrdersPlaced)
	assert.Equal(t, 10*time.Second, rep.Sleep)
	assert.Zero(t, rep.State.TierIndex)
	assert.Equal(t, placed, h.venue.placed.Load())
	assert.InDelta(t, 0.001, h.balance(t, "BTC").Free, 1e-12)
}

func TestTakeProfitLadderThroughCycles(t *testing.T) {
	h := newHarness(t, nil)
	h.buyIn(t)

	h.feed.set("BTCUSDT", 102)
	rep := h.cycle(t)
	assert.Equal(t, ActionTakeProfit, rep.Action)
	assert.Equal(t, 1, rep.State.TierIndex)
	assert.InDelta(t, 0.5, h.balance(t, "BTC").Free, 1e-9)

	h.feed.set("BTCUSDT", 104)
	rep = h.cycle(t)
	assert.Equal(t, ActionTakeProfit, rep.Action)
	assert.Equal(t, 2, rep.State.TierIndex)
	assert.InDelta(t, 0.25, h.balance(t, "BTC").Free, 1e-9)

	placed := h.venue.placed.Load()
	for _, p := range []float64{106, 110, 120} {
		h.feed.set("BTCUSDT", p)
		rep = h.cycle(t)
		assert.Equal(t, ActionNone, rep.Action)
	}
	assert.Equal(t, placed, h.venue.placed.Load())
	assert.Equal(t, 2, rep.State.TierIndex)
}

func TestPartialBuySuppressesEntry(t *testing.T) {
	h := newHarness(t, nil)
	h.venue.open = []common.Order{{
		Symbol: "BTCUSDT", OrderID: "7", Side: common.SideBuy, Type: common.OrderTypeLimit,
		Status: common.StatusPartial, Price: 99, OrigQty: 1, ExecutedQty: 0.3,
	}}
	h.signal.set(strategy.Long)

	rep := h.cycle(t)
	assert.Equal(t, ActionWait, rep.Action)
	assert.Equal(t, "Entering", rep.Phase)
	assert.InDelta(t, 0.3, rep.State.PartialFillDiscount, 1e-12)
	assert.Equal(t, 99.0, rep.State.LastBuyPrice)
	assert.Equal(t, 5*time.Second, rep.Sleep)
	assert.Zero(t, h.venue.placed.Load())
	assert.Zero(t, h.signal.calls.Load())
}

func TestFlatSignalClosesPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.buyIn(t)

	h.signal.set(strategy.Flat)
	rep := h.cycle(t)
	assert.Equal(t, ActionSell, rep.Action)
	assert.InDelta(t, 0, h.balance(t, "BTC").Total(), 1e-9)
	assert.Equal(t, "signal_exit", h.journal.orders[len(h.journal.orders)-1].Reason)
}

func TestFlatSignalIgnoredWhenExitDisabled(t *testing.T) {
	off := false
	h := newHarness(t, func(a *config.AssetConfig) { a.ExitOnSignal = &off })
	h.buyIn(t)

	h.signal.set(strategy.Flat)
	rep := h.cycle(t)
	assert.Equal(t, ActionNone, rep.Action)
	assert.InDelta(t, 1, h.balance(t, "BTC").Total(), 1e-9)
}

func TestLimitStyleEntry(t *testing.T) {
	h := newHarness(t, func(a *config.AssetConfig) { a.OrderStyle = config.OrderStyleLimit })
	h.signal.set(strategy.Long)

	rep := h.cycle(t)
	assert.Equal(t, ActionBuy, rep.Action)
	last := h.journal.orders[len(h.journal.orders)-1]
	assert.Equal(t, "LIMIT", last.Type)
	assert.InDelta(t, 100.5, last.Price, 1e-9)
}

func TestPercentageSizing(t *testing.T) {
	h := newHarness(t, func(a *config.AssetConfig) {
		a.TradedQuantity = 0
		a.TradedPercentage = 50
	})
	h.signal.set(strategy.Long)

	h.cycle(t)
	require.NotEmpty(t, h.journal.orders)
	assert.InDelta(t, 4.99, h.journal.orders[0].Qty, 1e-9)
	assert.InDelta(t, 4.99, h.balance(t, "BTC").Free, 1e-9)
}

func TestRejectedOrderLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, func(a *config.AssetConfig) { a.TradedQuantity = 100 })
	h.signal.set(strategy.Long)

	rep, err := h.trader.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, common.IsRejected(err))
	assert.NotEmpty(t, rep.Error)
	assert.Equal(t, 10*time.Second, rep.Sleep)
	assert.False(t, rep.State.InPosition)
	assert.InDelta(t, 1000, h.balance(t, "USDT").Free, 1e-9)
}

func TestInvalidFiltersAbort(t *testing.T) {
	h := newHarness(t, nil)
	h.feed.filters.LotStep = 0

	_, err := h.trader.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestCycleReportsArePublished(t *testing.T) {
	h := newHarness(t, nil)
	reports, unsub := h.bus.Subscribe(events.EventCycle, 4)
	defer unsub()
	orders, unsubOrders := h.bus.Subscribe(events.EventOrder, 4)
	defer unsubOrders()

	h.buyIn(t)

	got := (<-reports).(CycleReport)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	rec := (<-orders).(db.OrderRecord)
	assert.Equal(t, "BUY", rec.Side)
}

func TestRiskParamsConvertsPercentages(t *testing.T) {
	p, err := RiskParams(testAsset("BTCUSDT"))
	require.NoError(t, err)
	assert.InDelta(t, 0.02, p.StopLoss, 1e-12)
	assert.InDelta(t, 0.03, p.TrailingActivation, 1e-12)
	assert.InDelta(t, 0.01, p.TrailingGap, 1e-12)
	assert.Len(t, p.Ladder, 2)
}
