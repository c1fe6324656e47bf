package environment

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cwbudde/badger/internal/intf"
)

// Factory builds an environment from user parameters and an optional
// interface.
type Factory func(params map[string]any, iface intf.Interface) (Environment, error)

// Registry maps environment names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in environments.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("sphere_2d", NewSphere2D)
	r.Register("test", NewTest)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New instantiates the named environment. Each call yields an independent
// instance.
func (r *Registry) New(name string, params map[string]any, iface intf.Interface) (Environment, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEnvironmentNotFound, name)
	}
	env, err := f(params, iface)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInstantiation, name, err)
	}
	return env, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// floatParam reads a numeric parameter; YAML may decode it as int.
func floatParam(params map[string]any, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	f, err := AsFloat(v)
	if err != nil {
		return 0, fmt.Errorf("parameter %s: %w", key, err)
	}
	return f, nil
}
