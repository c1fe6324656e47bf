package intf

import (
	"context"
	"sync"
)

// DefaultChannelValue is returned for channels that were never written.
const DefaultChannelValue = 0.5

// Test is an in-memory interface for simulations and tests.
type Test struct {
	mu     sync.Mutex
	states map[string]any
}

// NewTest is the Factory for the "test" interface. It takes no parameters.
func NewTest(map[string]any) (Interface, error) {
	return &Test{states: make(map[string]any)}, nil
}

func (t *Test) Name() string { return "test" }

func (t *Test) GetValues(_ context.Context, channels []string) (map[string]any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]any, len(channels))
	for _, ch := range channels {
		if v, ok := t.states[ch]; ok {
			out[ch] = v
		} else {
			out[ch] = DefaultChannelValue
		}
	}
	return out, nil
}

func (t *Test) SetValues(_ context.Context, values map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch, v := range values {
		t.states[ch] = v
	}
	return nil
}

func (t *Test) Reset(context.Context) error { return nil }
