package environment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cwbudde/badger/internal/intf"
	"github.com/cwbudde/badger/internal/vocs"
)

// Sphere2D is a self-contained two-variable test problem:
// f1 = x0² + x1², f2 = (x0 - 0.5)² + x1².
type Sphere2D struct {
	Base

	mu    sync.Mutex
	state map[string]float64
}

// NewSphere2D starts at x0 = x1 = 0.5. It ignores params and iface.
func NewSphere2D(map[string]any, intf.Interface) (Environment, error) {
	return &Sphere2D{
		Base: Base{
			EnvName:     "sphere_2d",
			Variables:   map[string]vocs.Bounds{"x0": {-1, 1}, "x1": {-1, 1}},
			Observables: []string{"f1", "f2"},
		},
		state: map[string]float64{"x0": 0.5, "x1": 0.5},
	}, nil
}

func (s *Sphere2D) GetVariables(_ context.Context, names []string) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(names))
	for _, n := range names {
		v, ok := s.state[n]
		if !ok {
			return nil, fmt.Errorf("unknown variable %s", n)
		}
		out[n] = v
	}
	return out, nil
}

func (s *Sphere2D) SetVariables(_ context.Context, values map[string]float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n, v := range values {
		s.state[n] = v
	}
	return nil
}

func (s *Sphere2D) GetObservables(_ context.Context, names []string) (map[string]any, error) {
	s.mu.Lock()
	x0, x1 := s.state["x0"], s.state["x1"]
	s.mu.Unlock()

	obs := map[string]float64{
		"f1": x0*x0 + x1*x1,
		"f2": (x0-0.5)*(x0-0.5) + x1*x1,
	}
	out := make(map[string]any, len(names))
	for _, n := range names {
		v, ok := obs[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrObservableNotFound, n)
		}
		out[n] = v
	}
	return out, nil
}

// TestVariables is the number of variables the test environment declares.
const TestVariables = 20

// Test has x0..x19 in [-1, 1] and observables f = c = Σx². Writes go through
// the interface, followed by an optional delay that simulates a slow machine.
type Test struct {
	Base
	Delay time.Duration
}

// NewTest accepts the parameter "delay" in seconds.
func NewTest(params map[string]any, iface intf.Interface) (Environment, error) {
	delay, err := floatParam(params, "delay", 0)
	if err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, fmt.Errorf("delay must be non-negative, got %g", delay)
	}
	vars := make(map[string]vocs.Bounds, TestVariables)
	for i := 0; i < TestVariables; i++ {
		vars[fmt.Sprintf("x%d", i)] = vocs.Bounds{-1, 1}
	}
	return &Test{
		Base: Base{
			EnvName:     "test",
			Variables:   vars,
			Observables: []string{"f", "c"},
			Interface:   iface,
		},
		Delay: time.Duration(delay * float64(time.Second)),
	}, nil
}

func (t *Test) SetVariables(ctx context.Context, values map[string]float64) error {
	if err := t.Base.SetVariables(ctx, values); err != nil {
		return err
	}
	full, err := t.Base.GetVariables(ctx, t.VariableNames())
	if err != nil {
		return err
	}
	var sum float64
	for _, x := range full {
		sum += x * x
	}
	if err := t.Interface.SetValues(ctx, map[string]any{"f": sum, "c": sum}); err != nil {
		return err
	}

	if t.Delay > 0 {
		timer := time.NewTimer(t.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// GetBounds reports [-1, 1] for any name, declared or not.
func (t *Test) GetBounds(_ context.Context, names []string) (map[string]vocs.Bounds, error) {
	out := make(map[string]vocs.Bounds, len(names))
	for _, n := range names {
		out[n] = vocs.Bounds{-1, 1}
	}
	return out, nil
}
