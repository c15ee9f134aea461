package strategy

import (
	"sort"
	"sync"
)

// Registry maps strategy names to decision functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// DefaultRegistry returns a registry holding every built-in strategy.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("ma_rsi_volume", MARSIVolume)
	r.Register("ma_rsi_atr", MARSIATR)
	r.Register("ema_macd", EMAMACD)
	r.Register("bollinger_rsi", BollingerRSI)
	r.Register("rsi", RSIThreshold)
	r.Register("ma_cross", MACross)
	r.Register("ichimoku", Ichimoku)
	r.Register("vortex_rsi_volume", VortexRSIVolume)
	r.Register("fvg", FVG)
	r.Register("t3", T3Cross)
	return r
}

// Register adds or replaces a strategy.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
}

// Lookup returns the strategy registered under name.
func (r *Registry) Lookup(name string) (Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, ErrUnknownStrategy{Name: name}
	}
	return fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Lookup(name)
	return err == nil
}

// Names lists registered strategies in alphabetical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
