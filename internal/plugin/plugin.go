// Package plugin defines the event source interface for vigil.
package plugin

import (
	"context"
	"sort"
	"sync"

	"github.com/yairfalse/vigil/types"
)

// Handler receives each decoded event. Returning an error leaves the
// message unacknowledged where the transport supports redelivery.
type Handler func(ctx context.Context, in types.EventInput) error

// Source is the interface every intake source implements.
// Keep it simple: Name + Run.
type Source interface {
	// Name returns the source identifier (e.g., "file", "kafka", "sqs")
	Name() string

	// Run delivers events to handle until ctx is done or the source is
	// exhausted. A finite source returns nil once drained.
	Run(ctx context.Context, handle Handler) error
}

// Registry holds registered sources.
var (
	registry = make(map[string]Source)
	mu       sync.RWMutex
)

// Register adds a source to the registry, replacing one with the same name.
func Register(s Source) {
	mu.Lock()
	defer mu.Unlock()
	registry[s.Name()] = s
}

// Get returns a source by name.
func Get(name string) (Source, bool) {
	mu.RLock()
	defer mu.RUnlock()
	s, ok := registry[name]
	return s, ok
}

// All returns all registered sources ordered by name.
func All() []Source {
	mu.RLock()
	defer mu.RUnlock()
	sources := make([]Source, 0, len(registry))
	for _, s := range registry {
		sources = append(sources, s)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name() < sources[j].Name() })
	return sources
}

// Names returns all registered source names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all sources from the registry. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Source)
}
