// Package environment defines how the optimizer talks to the system under
// optimization: reading and writing variables, reading observables, and
// querying variable bounds.
package environment

import (
	"context"
	"fmt"
	"sort"

	"github.com/cwbudde/badger/internal/intf"
	"github.com/cwbudde/badger/internal/vocs"
)

// Environment is the capability contract every environment implements.
// Observable values are float64 or []float64.
type Environment interface {
	Name() string
	VariableNames() []string
	ObservableNames() []string
	GetVariables(ctx context.Context, names []string) (map[string]float64, error)
	SetVariables(ctx context.Context, values map[string]float64) error
	GetObservables(ctx context.Context, names []string) (map[string]any, error)
	GetBounds(ctx context.Context, names []string) (map[string]vocs.Bounds, error)
}

// SystemStater is implemented by environments that snapshot extra machine
// state at the start of a run.
type SystemStater interface {
	GetSystemStates(ctx context.Context) (map[string]any, error)
}

// Resetter is implemented by environments that need to drop per-session
// state when a run starts.
type Resetter interface {
	ResetEnvironment(ctx context.Context) error
}

type unwrapper interface {
	Unwrap() Environment
}

// SystemStates calls the optional hook, returning nil when env lacks it.
func SystemStates(ctx context.Context, env Environment) (map[string]any, error) {
	for env != nil {
		if s, ok := env.(SystemStater); ok {
			return s.GetSystemStates(ctx)
		}
		u, ok := env.(unwrapper)
		if !ok {
			break
		}
		env = u.Unwrap()
	}
	return nil, nil
}

// Reset calls the optional hook; it is a no-op when env lacks it.
func Reset(ctx context.Context, env Environment) error {
	for env != nil {
		if r, ok := env.(Resetter); ok {
			return r.ResetEnvironment(ctx)
		}
		u, ok := env.(unwrapper)
		if !ok {
			break
		}
		env = u.Unwrap()
	}
	return nil
}

// Base implements Environment by delegating channel access to an Interface.
// Concrete environments embed it and override what they need.
type Base struct {
	EnvName     string
	Variables   map[string]vocs.Bounds
	Observables []string
	Interface   intf.Interface
}

func (b *Base) Name() string { return b.EnvName }

func (b *Base) VariableNames() []string {
	names := make([]string, 0, len(b.Variables))
	for n := range b.Variables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (b *Base) ObservableNames() []string {
	return append([]string(nil), b.Observables...)
}

func (b *Base) GetVariables(ctx context.Context, names []string) (map[string]float64, error) {
	if b.Interface == nil {
		return nil, ErrNoInterface
	}
	raw, err := b.Interface.GetValues(ctx, names)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for name, v := range raw {
		f, err := AsFloat(v)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		out[name] = f
	}
	return out, nil
}

func (b *Base) SetVariables(ctx context.Context, values map[string]float64) error {
	if b.Interface == nil {
		return ErrNoInterface
	}
	in := make(map[string]any, len(values))
	for k, v := range values {
		in[k] = v
	}
	return b.Interface.SetValues(ctx, in)
}

func (b *Base) GetObservables(ctx context.Context, names []string) (map[string]any, error) {
	if b.Interface == nil {
		return nil, ErrNoInterface
	}
	return b.Interface.GetValues(ctx, names)
}

// GetBounds serves the declared bounds.
func (b *Base) GetBounds(_ context.Context, names []string) (map[string]vocs.Bounds, error) {
	out := make(map[string]vocs.Bounds, len(names))
	for _, n := range names {
		bounds, ok := b.Variables[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrBoundsNotFound, n)
		}
		out[n] = bounds
	}
	return out, nil
}

// ResetEnvironment resets the interface, if any.
func (b *Base) ResetEnvironment(ctx context.Context) error {
	if b.Interface == nil {
		return nil
	}
	return b.Interface.Reset(ctx)
}

// AsFloat converts a scalar channel value to float64.
func AsFloat(v any) (float64, error) {
	switch v := v.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %T", ErrNonNumeric, v)
}
