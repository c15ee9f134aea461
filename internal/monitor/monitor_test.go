package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-trader/internal/events"
	"spot-trader/internal/risk"
	"spot-trader/internal/trader"
	"spot-trader/pkg/db"
)

type memSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *memSink) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func TestObserveCycle(t *testing.T) {
	m := NewMetrics("")
	m.ObserveCycle(trader.CycleReport{
		Symbol: "BTCUSDT", Action: trader.ActionBuy, Decision: "Long", Close: 101,
		StartedAt: time.Now(), Duration: 20 * time.Millisecond,
		State: risk.State{InPosition: true, Holdings: 1, CurrentStopPrice: 98, TierIndex: 1},
	})
	m.ObserveCycle(trader.CycleReport{Symbol: "BTCUSDT", Action: trader.ActionNone, ErrorKind: "transient"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("BTCUSDT", "buy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CycleErrors.WithLabelValues("BTCUSDT", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Decisions.WithLabelValues("BTCUSDT", "Long")))
	assert.Equal(t, 98.0, testutil.ToFloat64(m.StopPrice.WithLabelValues("BTCUSDT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InPosition.WithLabelValues("BTCUSDT")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveOrder(db.OrderRecord{Symbol: "BTCUSDT", Side: "BUY", Reason: "entry", Status: "FILLED"})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `test_order_submitted_total{reason="entry",side="BUY",status="FILLED",symbol="BTCUSDT"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}

func TestMonitorConsumesBus(t *testing.T) {
	bus := events.NewBus()
	sink := &memSink{}
	m := &Monitor{Bus: bus, Metrics: NewMetrics(""), Sink: sink}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventRiskExit, trader.ExitNotice{Symbol: "BTCUSDT", Trigger: "stop", Price: 97})
	bus.Publish(events.EventOrder, db.OrderRecord{Symbol: "BTCUSDT", Side: "SELL", Reason: "stop", Status: "FILLED"})
	bus.Publish(events.EventCycle, trader.CycleReport{Symbol: "ETHUSDT", ErrorKind: "invariant", Error: "lot step 0"})
	bus.Publish(events.EventTraderStopped, "ETHUSDT")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Metrics.TradersStopped.WithLabelValues("ETHUSDT")) == 1 &&
			testutil.ToFloat64(m.Metrics.RiskExits.WithLabelValues("BTCUSDT", "stop")) == 1 &&
			testutil.ToFloat64(m.Metrics.Orders.WithLabelValues("BTCUSDT", "SELL", "stop", "FILLED")) == 1 &&
			sink.count() == 3
	}, 2*time.Second, 5*time.Millisecond)
}
