// Package engine provides cell engine implementations for the orchestrator.
// The CellEngine interface is defined in sim/ (parent package).
//
// register.go wires the engine registry into sim.NewCellEngineFunc. This
// init() runs when any package imports sim/engine, breaking the import cycle
// between sim/ (interface owner) and sim/engine/ (implementations).
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/neuron-sim/neuron-sim/sim"
)

// DefaultEngine is the engine used when none is named.
const DefaultEngine = "lif"

// Factory builds a fresh engine instance for one request.
type Factory func() sim.CellEngine

var (
	mu       sync.RWMutex
	registry = map[string]Factory{
		DefaultEngine: func() sim.CellEngine { return NewLIF(DefaultLIFParams()) },
	}
)

func init() {
	sim.NewCellEngineFunc = New
}

// Register makes an engine available by name. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// New builds a new instance of the named engine; "" selects DefaultEngine.
func New(name string) (sim.CellEngine, error) {
	if name == "" {
		name = DefaultEngine
	}
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown cell engine %q; valid: %v", name, Names())
	}
	return f(), nil
}

// Names lists registered engines, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
