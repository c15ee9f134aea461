package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spot-trader/internal/events"
	"spot-trader/internal/monitor"
	"spot-trader/internal/strategy"
	"spot-trader/internal/trader"
	"spot-trader/pkg/config"
	"spot-trader/pkg/db"
	"spot-trader/pkg/exchanges/common"
	"spot-trader/pkg/exchanges/paper"
)

// flatMarket serves constant candles for any symbol.
type flatMarket struct{}

func (flatMarket) GetCandles(context.Context, string, string, int) ([]common.Candle, error) {
	out := make([]common.Candle, 60)
	for i := range out {
		out[i] = common.Candle{OpenTime: time.Unix(int64(i)*900, 0), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1}
	}
	return out, nil
}

func (flatMarket) GetSymbolFilters(_ context.Context, symbol string) (common.SymbolFilters, error) {
	return common.SymbolFilters{Symbol: symbol, PriceTick: 0.01, LotStep: 0.001, MinQty: 0.001}, nil
}

func (flatMarket) GetServerTime(context.Context) (int64, error) { return time.Now().UnixMilli(), nil }

type testServer struct {
	*Server
	sched   *trader.Scheduler
	journal *db.Journal
	bus     *events.Bus
}

func newTestServer(t *testing.T, mutate func(*Options)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	journal := db.NewJournal(database)

	reg := strategy.DefaultRegistry()
	resolver := strategy.NewResolver(reg, nil)
	bus := events.NewBus()
	sched := trader.NewScheduler(trader.SchedulerConfig{Serialized: true, Bus: bus})
	gw := paper.New(flatMarket{}, map[string]float64{"USDT": 1000}, paper.SimConfig{})

	opts := Options{
		Scheduler: sched,
		Factory: func(cfg config.AssetConfig) (*trader.Trader, error) {
			return trader.New(cfg, trader.Deps{Gateway: gw, Resolver: resolver, Journal: journal, Bus: bus, DryRun: true})
		},
		Defaults:  config.DefaultAsset(),
		Known:     reg.Has,
		Orders:    journal,
		Metrics:   monitor.NewMetrics("test"),
		Bus:       bus,
		Meta:      SystemMeta{DryRun: true, Venue: "paper"},
		RateLimit: 1000,
		RateBurst: 1000,
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &testServer{Server: NewServer(opts), sched: sched, journal: journal, bus: bus}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t, nil)
	rec, body := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec, _ = s.do(t, http.MethodGet, "/health", nil, "X-Request-ID", "abc")
	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestGetConfigUsesPanelKeys(t *testing.T) {
	s := newTestServer(t, nil)
	rec, body := s.do(t, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ma_rsi_volume", body["MAIN_STRATEGY"])
	assert.Equal(t, 1.0, body["STOP_LOSS_PERCENTAGE"])
	assert.Equal(t, []any{2.0, 4.0, 8.0}, body["TP_AT_PERCENTAGE"])
	assert.Equal(t, true, body["THREAD_LOCK"])
	assert.Equal(t, 1800.0, body["TEMPO_ENTRE_TRADES"])
}

func TestUpdateConfigMergesRecognizedKeys(t *testing.T) {
	s := newTestServer(t, nil)
	rec, body := s.do(t, http.MethodPost, "/config", map[string]any{
		"STOP_LOSS_PERCENTAGE": 3.5,
		"TP_AT_PERCENTAGE":     []float64{2, 4},
		"TP_AMOUNT_PERCENTAGE": []float64{50, 50},
		"MAIN_STRATEGY":        "rsi",
		"MAIN_STRATEGY_ARGS":   map[string]float64{"period": 10},
		"THREAD_LOCK":          false,
		"SOMETHING_ELSE":       1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"SOMETHING_ELSE"}, body["ignored"])

	d := s.Tunables().Defaults()
	assert.Equal(t, 3.5, d.StopLossPct)
	assert.Equal(t, []float64{2, 4}, d.TakeProfitAt)
	assert.Equal(t, "rsi", d.MainStrategy.Name)
	assert.Equal(t, map[string]float64{"period": 10}, d.MainStrategy.Params)
	assert.False(t, s.sched.Serialized())
}

func TestUpdateConfigRejectsInvalidValues(t *testing.T) {
	s := newTestServer(t, nil)
	for name, update := range map[string]map[string]any{
		"ladder length":     {"TP_AT_PERCENTAGE": []float64{1, 2, 3, 4}},
		"unknown strategy":  {"MAIN_STRATEGY": "does_not_exist"},
		"wrong type":        {"STOP_LOSS_PERCENTAGE": "high"},
		"stop out of range": {"STOP_LOSS_PERCENTAGE": 150.0},
	} {
		t.Run(name, func(t *testing.T) {
			rec, body := s.do(t, http.MethodPost, "/config", update)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_VALUE", body["code"])
		})
	}
	assert.Equal(t, 1.0, s.Tunables().Defaults().StopLossPct)
}

func TestAddStockRequiresCodes(t *testing.T) {
	s := newTestServer(t, nil)
	rec, body := s.do(t, http.MethodPost, "/stocks", map[string]any{"stockCode": "ADA"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FIELDS", body["code"])
	assert.Empty(t, s.sched.Symbols())
}

func TestAddStockUsesCurrentTunables(t *testing.T) {
	s := newTestServer(t, nil)
	rec, _ := s.do(t, http.MethodPost, "/config", map[string]any{"STOP_LOSS_PERCENTAGE": 2.5})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := s.do(t, http.MethodPost, "/stocks", map[string]any{
		"stockCode": "ada", "operationCode": "adausdt", "tradedQuantity": 10,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"ADAUSDT"}, body["STOCKS_TRADED"])

	rec, body = s.do(t, http.MethodPost, "/stocks", map[string]any{"stockCode": "ADA", "operationCode": "ADAUSDT"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_TRADED", body["code"])
}

func TestRemoveStock(t *testing.T) {
	s := newTestServer(t, nil)
	for _, code := range []string{"ADA", "ETH"} {
		rec, _ := s.do(t, http.MethodPost, "/stocks", map[string]any{"stockCode": code, "operationCode": code + "USDT"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, body := s.do(t, http.MethodDelete, "/stocks", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FIELDS", body["code"])

	rec, body = s.do(t, http.MethodDelete, "/stocks?stockCode=ADA", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["removed"])
	assert.Equal(t, []string{"ETHUSDT"}, s.sched.Symbols())
}

func TestMutatingRoutesRequireTokenWhenSecretSet(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, func(o *Options) { o.JWTSecret = secret })
	stock := map[string]any{"stockCode": "ADA", "operationCode": "ADAUSDT"}

	rec, body := s.do(t, http.MethodPost, "/stocks", stock)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "MISSING_TOKEN", body["code"])

	rec, body = s.do(t, http.MethodPost, "/stocks", stock, "Authorization", "Token abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_AUTH_HEADER", body["code"])

	forged, err := IssueToken("ops", "other-secret", time.Hour)
	require.NoError(t, err)
	rec, body = s.do(t, http.MethodPost, "/stocks", stock, "Authorization", "Bearer "+forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_TOKEN", body["code"])

	hook := logtest.NewGlobal()
	defer hook.Reset()
	token, err := IssueToken("ops", secret, time.Hour)
	require.NoError(t, err)
	rec, _ = s.do(t, http.MethodPost, "/stocks", stock, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", operatorOf(hook, "stock added"))

	rec, _ = s.do(t, http.MethodDelete, "/stocks?stockCode=ADA", nil, "Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", operatorOf(hook, "stock removed"))

	// reads stay open
	rec, _ = s.do(t, http.MethodGet, "/config", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// operatorOf returns the operator field of the last entry logged with msg.
func operatorOf(hook *logtest.Hook, msg string) any {
	entries := hook.AllEntries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Message == msg {
			return entries[i].Data["operator"]
		}
	}
	return nil
}

func TestListOrdersReadsJournal(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := context.Background()
	require.NoError(t, s.journal.RecordOrder(ctx, db.OrderRecord{
		ClientID: "st-1", Symbol: "BTCUSDT", Side: "BUY", Type: "MARKET", Reason: "entry",
		Qty: 1, Status: "FILLED", DryRun: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, s.journal.RecordOrder(ctx, db.OrderRecord{
		ClientID: "st-2", Symbol: "ETHUSDT", Side: "BUY", Type: "MARKET", Reason: "entry",
		Qty: 1, Status: "FILLED", DryRun: true, CreatedAt: time.Now(),
	}))

	rec, body := s.do(t, http.MethodGet, "/orders?symbol=btcusdt", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := body["orders"].([]any)
	require.Len(t, orders, 1)
	assert.Equal(t, "st-1", orders[0].(map[string]any)["clientId"])

	rec, _ = s.do(t, http.MethodGet, "/orders?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	rec, body := s.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["serialized"])
	assert.Equal(t, "paper", body["meta"].(map[string]any)["venue"])
	assert.NotContains(t, body, "weight", "no reporter configured")

	rec, _ = s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `test_api_requests_total{method="GET",status="200"}`)
}

type fixedWeight common.WeightUsage

func (w fixedWeight) WeightUsage() common.WeightUsage { return common.WeightUsage(w) }

func TestStatusReportsVenueWeight(t *testing.T) {
	s := newTestServer(t, func(o *Options) {
		o.Weight = fixedWeight{Used: 960, Limit: 1200, Percent: 80}
	})
	rec, body := s.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	weight := body["weight"].(map[string]any)
	assert.Equal(t, 960.0, weight["used"])
	assert.Equal(t, 1200.0, weight["limit"])
	assert.Equal(t, 80.0, weight["percent"])
}

func TestCurrentOperatorWithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, CurrentOperator(c))
	c.Set(operatorContextKey, "ops")
	assert.Equal(t, "ops", CurrentOperator(c))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.RateLimit, o.RateBurst = 0.001, 2 })
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec, _ := s.do(t, http.MethodGet, "/health", nil)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, func(o *Options) { o.CORSOrigins = []string{"https://panel.example"} })
	rec, _ := s.do(t, http.MethodOptions, "/config", nil, "Origin", "https://panel.example")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://panel.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = s.do(t, http.MethodGet, "/health", nil, "Origin", "https://evil.example")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebsocketStreamsCycleReports(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return s.bus.Subscribers(events.EventCycle) == 1 }, 2*time.Second, 5*time.Millisecond)
	s.bus.Publish(events.EventCycle, trader.CycleReport{Symbol: "BTCUSDT", Action: trader.ActionWait})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "BTCUSDT", got["symbol"])
	assert.Equal(t, "wait", got["action"])

	conn.Close()
	require.Eventually(t, func() bool { return s.bus.Subscribers(events.EventCycle) == 0 }, 2*time.Second, 5*time.Millisecond)
}
