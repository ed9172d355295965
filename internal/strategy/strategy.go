// Package strategy registers decision plugins by name. Strategies are
// registered at build time and looked up by the STRATEGY config value;
// there is no runtime plugin discovery.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/coinwheel/internal/postpone"
	"github.com/aristath/coinwheel/internal/ratios"
	"github.com/aristath/coinwheel/internal/registry"
	"github.com/aristath/coinwheel/internal/trader"
)

// Strategy is one decision plugin, invoked once per scout period.
type Strategy interface {
	Scout(ctx context.Context) error
}

// Deps is everything a strategy may wire itself to.
type Deps struct {
	Manager    *trader.Manager
	Matrix     *ratios.Matrix
	Registry   *registry.CoinRegistry
	Controller *trader.Controller
	Store      trader.Store
	Defers     *postpone.Context

	Bridge      string
	ScoutMargin float64
	UseMargin   bool

	Log zerolog.Logger
}

// Factory builds a strategy from its dependencies.
type Factory func(deps Deps) Strategy

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a strategy available under a name. Registering the same
// name twice is a programming error.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	factories[name] = factory
}

// New builds the named strategy.
func New(name string, deps Deps) (Strategy, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q, available: %v", name, Names())
	}
	return factory(deps), nil
}

// Names lists the registered strategies in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("default", func(d Deps) Strategy {
		return trader.NewScoutEngine(d.Manager, d.Matrix, d.Registry, d.Controller, d.Store, d.Defers, d.Bridge, d.ScoutMargin, d.UseMargin, d.Log)
	})
}
