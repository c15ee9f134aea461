package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"spot-trader/internal/events"
	"spot-trader/internal/trader"
	"spot-trader/pkg/db"
)

// Monitor feeds bus events into metrics and raises alerts on risk exits,
// invariant failures and stopped loops.
type Monitor struct {
	Bus     *events.Bus
	Metrics *Metrics
	Sink    AlertSink
}

// Start consumes events until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	log := logrus.WithField("component", "monitor")
	if m.Bus == nil || m.Metrics == nil {
		log.Warn("monitor not fully configured; skipping")
		return
	}
	if m.Sink == nil {
		m.Sink = LogSink{Log: log}
	}
	cycles, unsubCycles := m.Bus.Subscribe(events.EventCycle, 256)
	orders, unsubOrders := m.Bus.Subscribe(events.EventOrder, 256)
	exits, unsubExits := m.Bus.Subscribe(events.EventRiskExit, 64)
	stopped, unsubStopped := m.Bus.Subscribe(events.EventTraderStopped, 16)

	go func() {
		defer unsubCycles()
		defer unsubOrders()
		defer unsubExits()
		defer unsubStopped()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-cycles:
				if r, ok := msg.(trader.CycleReport); ok {
					m.Metrics.ObserveCycle(r)
					if r.ErrorKind == "invariant" || r.ErrorKind == "panic" {
						m.alert(fmt.Sprintf("%s cycle failed (%s): %s", r.Symbol, r.ErrorKind, r.Error))
					}
				}
			case msg := <-orders:
				if r, ok := msg.(db.OrderRecord); ok {
					m.Metrics.ObserveOrder(r)
				}
			case msg := <-exits:
				if n, ok := msg.(trader.ExitNotice); ok {
					m.Metrics.ObserveExit(n)
					m.alert(fmt.Sprintf("%s %s triggered at %.8g: %s", n.Symbol, n.Trigger, n.Price, n.Reason))
				}
			case msg := <-stopped:
				if sym, ok := msg.(string); ok {
					m.Metrics.TradersStopped.WithLabelValues(sym).Inc()
					m.Metrics.Forget(sym)
					m.alert(sym + " trader stopped")
				}
			}
		}
	}()
}

func (m *Monitor) alert(msg string) {
	if err := m.Sink.Send(formatAlert(msg)); err != nil {
		logrus.WithField("component", "monitor").WithError(err).Warn("alert delivery failed")
	}
}

func formatAlert(msg string) string {
	return "[" + time.Now().Format(time.RFC3339) + "] " + msg
}
