// Package generator proposes candidate points for a routine. The run loop
// treats a Generator as opaque: it asks for candidates and feeds back
// evaluated rows.
package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

var (
	ErrGeneratorNotFound = errors.New("generator not found")
	// ErrExhausted means the generator has nothing more to propose.
	ErrExhausted = errors.New("generator exhausted")
	// ErrBatchUnsupported is returned for batch sizes a generator cannot serve.
	ErrBatchUnsupported = errors.New("batch size not supported")
)

// Generator is the opaque candidate source.
type Generator interface {
	Name() string
	Generate(ctx context.Context, n int) ([]map[string]float64, error)
	AddData(rows []table.Row) error
	// State is a serializable snapshot for dumps and progress events.
	State() map[string]any
}

// Closer is implemented by generators holding background resources.
type Closer interface {
	Close() error
}

// Close releases g if it implements Closer.
func Close(g Generator) error {
	if c, ok := g.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Factory builds a generator for a problem.
type Factory func(v vocs.VOCS, params map[string]any) (Generator, error)

// Registry maps generator names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in generators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("random", NewRandom)
	r.Register("mayfly", NewMayfly)
	return r
}

func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) New(name string, v vocs.VOCS, params map[string]any) (Generator, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGeneratorNotFound, name)
	}
	return f(v, params)
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

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("parameter %s must be an integer, got %v", key, v)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("parameter %s must be an integer, got %T", key, v)
}
