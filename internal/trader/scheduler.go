package trader

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"spot-trader/internal/events"
)

// DefaultCycleTimeout bounds one cycle body, including order verification.
const DefaultCycleTimeout = 2 * time.Minute

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Serialized   bool
	CycleTimeout time.Duration
	Bus          *events.Bus
}

// ErrTraderStopping is returned by Add while a removed loop for the same
// pair is still finishing its cycle.
var ErrTraderStopping = errors.New("trader is still stopping")

type loop struct {
	trader *Trader
	cancel context.CancelFunc
}

// Scheduler runs one loop per trader. When serialized, cycle bodies of all
// traders run one at a time.
type Scheduler struct {
	gate       sync.Mutex
	serialized atomic.Bool
	timeout    time.Duration
	bus        *events.Bus
	log        *logrus.Entry

	mu       sync.Mutex
	ctx      context.Context
	loops    map[string]*loop
	stopping map[string]*loop // removed, cycle still in flight
	pending  []*Trader
	last    map[string]CycleReport
	wg      sync.WaitGroup

	// sleep waits d or until ctx is done; it reports whether to continue.
	sleep func(ctx context.Context, d time.Duration) bool
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	s := &Scheduler{
		timeout: cfg.CycleTimeout,
		bus:     cfg.Bus,
		log:     logrus.WithField("component", "scheduler"),
		loops:    make(map[string]*loop),
		stopping: make(map[string]*loop),
		last:     make(map[string]CycleReport),
		sleep:    sleepCtx,
	}
	s.serialized.Store(cfg.Serialized)
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// SetSerialized toggles the global gate. It takes effect from the next cycle.
func (s *Scheduler) SetSerialized(on bool) {
	if s.serialized.Swap(on) != on {
		s.log.WithField("serialized", on).Info("cycle gate changed")
	}
}

// Serialized reports whether the global gate is on.
func (s *Scheduler) Serialized() bool { return s.serialized.Load() }

// Start launches every added trader. Loops stop when ctx is cancelled; an
// in-flight cycle is allowed to finish first.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return
	}
	s.ctx = ctx
	for _, t := range s.pending {
		s.spawnLocked(t)
	}
	s.pending = nil
}

// Add registers a trader, starting it immediately when the scheduler runs.
// A pair whose removed loop has not exited yet is refused with
// ErrTraderStopping so two cycles never run for one pair.
func (s *Scheduler) Add(t *Trader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym := t.Symbol()
	if _, ok := s.loops[sym]; ok {
		return fmt.Errorf("trader for %s already running", sym)
	}
	if _, ok := s.stopping[sym]; ok {
		return fmt.Errorf("%s: %w", sym, ErrTraderStopping)
	}
	for _, p := range s.pending {
		if p.Symbol() == sym {
			return fmt.Errorf("trader for %s already added", sym)
		}
	}
	if s.ctx == nil {
		s.pending = append(s.pending, t)
		return nil
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler stopped")
	}
	s.spawnLocked(t)
	return nil
}

// Remove stops every trader whose stock code or pair matches code and
// returns how many were stopped.
func (s *Scheduler) Remove(code string) int {
	code = strings.ToUpper(strings.TrimSpace(code))
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	kept := s.pending[:0]
	for _, t := range s.pending {
		if t.cfg.StockCode == code || t.cfg.OperationCode == code {
			n++
			continue
		}
		kept = append(kept, t)
	}
	s.pending = kept

	for sym, l := range s.loops {
		if l.trader.cfg.StockCode == code || sym == code {
			l.cancel()
			delete(s.loops, sym)
			delete(s.last, sym)
			s.stopping[sym] = l
			n++
		}
	}
	if n > 0 {
		s.log.WithFields(logrus.Fields{"code": code, "stopped": n}).Info("traders removed")
	}
	return n
}

// Symbols lists the pairs with a running or pending loop. Removed loops
// that are still finishing a cycle are not listed.
func (s *Scheduler) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.loops)+len(s.pending))
	for sym := range s.loops {
		out = append(out, sym)
	}
	for _, t := range s.pending {
		out = append(out, t.Symbol())
	}
	sort.Strings(out)
	return out
}

// Status returns the latest report of every running trader, by symbol.
func (s *Scheduler) Status() []CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CycleReport, 0, len(s.last))
	for _, r := range s.last {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Wait blocks until every loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) spawnLocked(t *Trader) {
	ctx, cancel := context.WithCancel(s.ctx)
	l := &loop{trader: t, cancel: cancel}
	s.loops[t.Symbol()] = l
	s.wg.Add(1)
	go s.run(ctx, l)
	s.log.WithField("symbol", t.Symbol()).Info("trader started")
}

func (s *Scheduler) run(ctx context.Context, l *loop) {
	sym := l.trader.Symbol()
	defer func() {
		s.mu.Lock()
		if s.loops[sym] == l {
			delete(s.loops, sym)
		}
		if s.stopping[sym] == l {
			delete(s.stopping, sym)
		}
		s.mu.Unlock()
		l.cancel()
		s.bus.Publish(events.EventTraderStopped, sym)
		s.log.WithField("symbol", sym).Info("trader stopped")
		s.wg.Done()
	}()

	for ctx.Err() == nil {
		rep, err := s.runOnce(ctx, l.trader)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		if s.loops[sym] == l {
			s.last[sym] = rep
		}
		s.mu.Unlock()
		if errors.Is(err, ErrInvariant) {
			s.log.WithField("symbol", sym).WithError(err).Error("invariant violated, stopping trader")
			return
		}
		if !s.sleep(ctx, rep.Sleep) {
			return
		}
	}
}

// runOnce executes one cycle under the gate. The cycle context survives
// shutdown so in-flight exchange calls complete, bounded by the timeout.
func (s *Scheduler) runOnce(ctx context.Context, t *Trader) (rep CycleReport, err error) {
	if s.serialized.Load() {
		s.gate.Lock()
		defer s.gate.Unlock()
	}
	if ctx.Err() != nil {
		return CycleReport{Symbol: t.Symbol()}, ctx.Err()
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{"symbol": t.Symbol(), "panic": r}).
				Errorf("cycle panicked\n%s", debug.Stack())
			err = fmt.Errorf("cycle panicked: %v", r)
			rep = CycleReport{
				Symbol:    t.Symbol(),
				StockCode: t.cfg.StockCode,
				StartedAt: time.Now(),
				Action:    ActionNone,
				Sleep:     t.cfg.PollInterval,
				Error:     err.Error(),
				ErrorKind: "panic",
			}
		}
	}()
	return t.RunCycle(cctx)
}
