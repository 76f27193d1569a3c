package tracker

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a backend from its configuration.
type Factory func(cfg *Config) (Backend, error)

// Registry manages registered backends. Backends register themselves at
// init time and are looked up by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

var globalRegistry = NewRegistry()

// Register adds a backend factory to the global registry. The name should
// be lowercase (e.g. "github").
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// List returns the names of all globally registered backends.
func List() []string {
	return globalRegistry.List()
}

// NewBackend creates the named backend from the global registry.
func NewBackend(name string, cfg *Config) (Backend, error) {
	return globalRegistry.NewBackend(name, cfg)
}

// Register adds a backend factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns the factory for name, or nil.
func (r *Registry) Get(name string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[name]
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewBackend creates a new instance of the named backend.
func (r *Registry) NewBackend(name string, cfg *Config) (Backend, error) {
	factory := r.Get(name)
	if factory == nil {
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, r.List())
	}
	if cfg == nil {
		cfg = NewConfig(name, nil)
	}
	return factory(cfg)
}
