package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"spot-trader/internal/trader"
	"spot-trader/pkg/db"
)

// Metrics holds the Prometheus collectors of the bot. Collectors live on a
// private registry so tests and multiple instances do not collide.
type Metrics struct {
	registry *prometheus.Registry

	Cycles        *prometheus.CounterVec
	CycleErrors   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	Decisions     *prometheus.CounterVec
	Orders        *prometheus.CounterVec
	RiskExits     *prometheus.CounterVec

	ClosePrice *prometheus.GaugeVec
	StopPrice  *prometheus.GaugeVec
	Holdings   *prometheus.GaugeVec
	TierIndex  *prometheus.GaugeVec
	InPosition *prometheus.GaugeVec
	LastCycle  *prometheus.GaugeVec

	TradersStopped *prometheus.CounterVec

	APIRequests *prometheus.CounterVec
	APILatency  prometheus.Histogram
}

// NewMetrics creates the collectors under namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "spot_trader"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "total",
			Help: "Completed trading cycles by action",
		}, []string{"symbol", "action"}),
		CycleErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "errors_total",
			Help: "Failed trading cycles by error kind",
		}, []string{"symbol", "kind"}),
		CycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "duration_seconds",
			Help:    "Trading cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"symbol"}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "strategy", Name: "decisions_total",
			Help: "Resolved strategy decisions",
		}, []string{"symbol", "decision"}),
		Orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "order", Name: "submitted_total",
			Help: "Submitted orders by side, reason and resulting status",
		}, []string{"symbol", "side", "reason", "status"}),
		RiskExits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "risk", Name: "exits_total",
			Help: "Stop and take-profit triggers",
		}, []string{"symbol", "trigger"}),
		ClosePrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "position", Name: "close_price",
			Help: "Last observed close price",
		}, []string{"symbol"}),
		StopPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "position", Name: "stop_price",
			Help: "Current stop price, 0 when flat",
		}, []string{"symbol"}),
		Holdings: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "position", Name: "holdings",
			Help: "Base asset holdings, free plus locked",
		}, []string{"symbol"}),
		TierIndex: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "position", Name: "take_profit_tier",
			Help: "Next take-profit tier index",
		}, []string{"symbol"}),
		InPosition: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "position", Name: "open",
			Help: "1 while a position is held",
		}, []string{"symbol"}),
		LastCycle: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cycle", Name: "last_timestamp_seconds",
			Help: "Unix time of the last completed cycle",
		}, []string{"symbol"}),
		TradersStopped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scheduler", Name: "traders_stopped_total",
			Help: "Trader loops that exited",
		}, []string{"symbol"}),
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "requests_total",
			Help: "Control panel requests by method and status",
		}, []string{"method", "status"}),
		APILatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "latency_seconds",
			Help:    "Control panel request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one cycle report.
func (m *Metrics) ObserveCycle(r trader.CycleReport) {
	m.Cycles.WithLabelValues(r.Symbol, string(r.Action)).Inc()
	m.CycleDuration.WithLabelValues(r.Symbol).Observe(r.Duration.Seconds())
	m.LastCycle.WithLabelValues(r.Symbol).Set(float64(r.StartedAt.Add(r.Duration).Unix()))
	if r.ErrorKind != "" {
		m.CycleErrors.WithLabelValues(r.Symbol, r.ErrorKind).Inc()
		return
	}
	m.Decisions.WithLabelValues(r.Symbol, r.Decision).Inc()
	m.ClosePrice.WithLabelValues(r.Symbol).Set(r.Close)
	m.StopPrice.WithLabelValues(r.Symbol).Set(r.State.CurrentStopPrice)
	m.Holdings.WithLabelValues(r.Symbol).Set(r.State.Holdings)
	m.TierIndex.WithLabelValues(r.Symbol).Set(float64(r.State.TierIndex))
	open := 0.0
	if r.State.InPosition {
		open = 1
	}
	m.InPosition.WithLabelValues(r.Symbol).Set(open)
}

// ObserveOrder records one submitted order.
func (m *Metrics) ObserveOrder(r db.OrderRecord) {
	status := r.Status
	if status == "" {
		status = "UNKNOWN"
	}
	m.Orders.WithLabelValues(r.Symbol, r.Side, r.Reason, status).Inc()
}

// ObserveExit records a risk trigger.
func (m *Metrics) ObserveExit(n trader.ExitNotice) {
	m.RiskExits.WithLabelValues(n.Symbol, n.Trigger).Inc()
}

// ObserveRequest records one control panel request.
func (m *Metrics) ObserveRequest(method string, status int, latency time.Duration) {
	m.APIRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.APILatency.Observe(latency.Seconds())
}

// Forget drops the per-symbol series of a removed trader.
func (m *Metrics) Forget(symbol string) {
	for _, g := range []*prometheus.GaugeVec{m.ClosePrice, m.StopPrice, m.Holdings, m.TierIndex, m.InPosition} {
		g.DeleteLabelValues(symbol)
	}
}
