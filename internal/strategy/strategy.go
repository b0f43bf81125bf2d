// Package strategy provides trading strategy implementations for the
// backtesting engine.
//
// A strategy maps incoming bars to zero or more order intents. It may
// carry indicator state forward between bars, but never touches the
// wallet directly; sizing and execution belong to the engine. New
// strategies are added by registering a factory, without modifying the
// engine.
package strategy

import (
	"fmt"
	"sync"

	"github.com/quantdesk/trading-engine/pkg/types"
	"go.uber.org/zap"
)

// Strategy is the interface all strategies implement.
type Strategy interface {
	Name() string
	// OnBar consumes one bar for one symbol and returns the order
	// intents it produces, possibly none.
	OnBar(symbol string, bar types.OHLCV) ([]types.OrderIntent, error)
	// Reset discards all indicator state.
	Reset()
}

// Factory builds a strategy instance from a raw parameter mapping.
// Parameters are validated here, once, before a run starts.
type Factory func(params map[string]any) (Strategy, error)

// Registry manages available strategy factories.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in strategies
// registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger,
		factories: make(map[string]Factory),
	}

	r.Register("buyhold", func(params map[string]any) (Strategy, error) {
		return NewBuyHold(params)
	})
	r.Register("emacross", func(params map[string]any) (Strategy, error) {
		return NewEMACross(params)
	})

	return r
}

// Register adds a strategy factory under a name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Has reports whether a strategy name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Create builds a strategy instance by name.
func (r *Registry) Create(name string, params map[string]any) (Strategy, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
	return factory(params)
}

// List returns all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// floatParam reads a numeric parameter, accepting the types JSON and
// YAML decoding produce.
func floatParam(params map[string]any, name string, def float64) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("parameter %q: expected number, got %T", name, raw)
	}
}

// intParam reads an integer parameter.
func intParam(params map[string]any, name string, def int) (int, error) {
	f, err := floatParam(params, name, float64(def))
	if err != nil {
		return 0, err
	}
	n := int(f)
	if float64(n) != f {
		return 0, fmt.Errorf("parameter %q: expected integer, got %v", name, f)
	}
	return n, nil
}
