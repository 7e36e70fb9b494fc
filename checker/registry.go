package checker

import (
	"sync"

	"github.com/yairfalse/vigil/history"
	"github.com/yairfalse/vigil/policy"
)

// Deps are the collaborators checkers may use
type Deps struct {
	History  history.Source
	Policies *policy.Engine
}

// constructors is the static ID to implementation table
var constructors = map[ID]func(Deps) Checker{
	SecurityWatchdog:      func(d Deps) Checker { return NewSecurity(d.History) },
	ComplianceSentinel:    func(d Deps) Checker { return NewCompliance(d.Policies) },
	CostAnalyst:           func(Deps) Checker { return NewCost() },
	ResourceWatcher:       func(Deps) Checker { return NewResources() },
	InfrastructureMonitor: func(Deps) Checker { return NewInfrastructure() },
	AnomalyDetector:       func(d Deps) Checker { return NewAnomaly(d.History) },
}

// Registry maps checker IDs to instances
type Registry struct {
	mu       sync.RWMutex
	checkers map[ID]Checker
}

// NewRegistry builds every checker from the static table
func NewRegistry(deps Deps) *Registry {
	if deps.History == nil {
		deps.History = history.Nop{}
	}

	r := &Registry{checkers: make(map[ID]Checker, len(constructors))}
	for id, build := range constructors {
		r.checkers[id] = build(deps)
	}
	return r
}

// Get returns the checker for id
func (r *Registry) Get(id ID) (Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[id]
	return c, ok
}

// Lookup returns the checker registered under a wire name. Names outside
// the ID set are not found.
func (r *Registry) Lookup(name string) (Checker, bool) {
	id, ok := ParseID(name)
	if !ok {
		return nil, false
	}
	return r.Get(id)
}

// Replace swaps the implementation for c.ID(). Used by tests to inject
// failing checkers; IDs outside the set are ignored.
func (r *Registry) Replace(c Checker) {
	if _, ok := idNames[c.ID()]; !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[c.ID()] = c
}
