// Package intf defines the channel-level access an environment delegates to.
package intf

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Interface reads and writes named control-system channels. Values are
// float64 or []float64.
type Interface interface {
	Name() string
	GetValues(ctx context.Context, channels []string) (map[string]any, error)
	SetValues(ctx context.Context, values map[string]any) error
	// Reset drops per-session state, e.g. cached connections.
	Reset(ctx context.Context) error
}

// ErrInterfaceNotFound is returned by Registry.New for unknown names.
var ErrInterfaceNotFound = errors.New("interface not found")

// Factory builds an interface from user parameters.
type Factory func(params map[string]any) (Interface, error)

// Registry maps interface names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in interfaces.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("test", NewTest)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New instantiates the named interface.
func (r *Registry) New(name string, params map[string]any) (Interface, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInterfaceNotFound, name)
	}
	return f(params)
}

// Names lists registered interfaces.
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
