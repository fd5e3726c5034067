package plugin

import (
	"fmt"
	"sort"
	"sync"
)

type Factory func() Node

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a factory for nodeType, replacing any previous one.
func (r *Registry) Register(nodeType string, f Factory) error {
	if nodeType == "" {
		return fmt.Errorf("plugin: node type is required")
	}
	if f == nil {
		return fmt.Errorf("plugin: factory is required for %s", nodeType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[nodeType] = f
	return nil
}

// New constructs a fresh, uninitialised node.
func (r *Registry) New(nodeType string) (Node, bool) {
	r.mu.RLock()
	f, ok := r.factories[nodeType]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(), true
}

func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[nodeType]
	return ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var defaultRegistry = NewRegistry()

// Default is the process-wide registry node packages register into from init.
func Default() *Registry { return defaultRegistry }

func Register(nodeType string, f Factory) {
	if err := defaultRegistry.Register(nodeType, f); err != nil {
		panic(err)
	}
}

func New(nodeType string) (Node, bool) { return defaultRegistry.New(nodeType) }
