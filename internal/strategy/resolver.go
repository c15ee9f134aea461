package strategy

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"spot-trader/internal/indicators"
	"spot-trader/pkg/config"
)

// Resolver runs a primary strategy and, when enabled, a fallback.
type Resolver struct {
	registry *Registry
	log      *logrus.Entry
}

func NewResolver(registry *Registry, log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.WithField("component", "strategy")
	}
	return &Resolver{registry: registry, log: log}
}

// Resolve returns the primary decision. Only a clean Indeterminate from the
// primary hands over to the fallback (if enabled); a failing strategy yields
// Indeterminate and the cycle is skipped. Errors never escape.
func (r *Resolver) Resolve(f Frame, primary, fallback config.StrategySpec, fallbackEnabled bool) Decision {
	d, err := r.run(f, primary)
	if err != nil {
		r.logFailure(f, primary.Name, err)
		return Indeterminate
	}
	if d != Indeterminate {
		r.log.WithFields(logrus.Fields{"symbol": f.Symbol, "strategy": primary.Name, "decision": d}).Info("strategy decision")
		return d
	}
	if !fallbackEnabled {
		return Indeterminate
	}

	d, err = r.run(f, fallback)
	if err != nil {
		r.logFailure(f, fallback.Name, err)
		return Indeterminate
	}
	r.log.WithFields(logrus.Fields{"symbol": f.Symbol, "strategy": fallback.Name, "decision": d}).Info("fallback decision")
	return d
}

func (r *Resolver) run(f Frame, spec config.StrategySpec) (d Decision, err error) {
	fn, err := r.registry.Lookup(spec.Name)
	if err != nil {
		return Indeterminate, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			d, err = Indeterminate, fmt.Errorf("strategy %s panicked: %v", spec.Name, rec)
		}
	}()
	d, err = fn(f, Params(spec.Params))
	if err != nil {
		return Indeterminate, err
	}
	return d, nil
}

func (r *Resolver) logFailure(f Frame, name string, err error) {
	entry := r.log.WithFields(logrus.Fields{"symbol": f.Symbol, "strategy": name}).WithError(err)
	if errors.Is(err, indicators.ErrInsufficientData) {
		entry.Debug("strategy skipped")
		return
	}
	entry.Warn("strategy failed")
}
