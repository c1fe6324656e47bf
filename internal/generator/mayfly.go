package generator

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/cwbudde/badger/internal/opt"
	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

// Mayfly drives an opt.Optimizer from the run loop. The optimizer owns its
// own control flow, so it runs in a goroutine whose objective function blocks
// until the loop has evaluated the point: every objective call becomes one
// Generate(1) followed by one AddData.
//
// The search runs on the unit box and is mapped onto the variable bounds.
type Mayfly struct {
	vocs      vocs.VOCS
	names     []string
	cfg       opt.MayflyConfig
	optimizer opt.Optimizer

	asks     chan []float64
	tells    chan float64
	done     chan struct{}
	finished chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	mu       sync.Mutex
	pending  []float64
	evals    int
	observed int
	result   *opt.Result
}

// NewMayfly accepts "max_iterations", "population" and "seed".
func NewMayfly(v vocs.VOCS, params map[string]any) (Generator, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if len(v.Objectives) == 0 {
		return nil, fmt.Errorf("mayfly needs at least one objective")
	}
	cfg := opt.DefaultMayflyConfig()
	var err error
	if cfg.MaxIterations, err = intParam(params, "max_iterations", cfg.MaxIterations); err != nil {
		return nil, err
	}
	if cfg.Population, err = intParam(params, "population", cfg.Population); err != nil {
		return nil, err
	}
	seed, err := intParam(params, "seed", int(cfg.Seed))
	if err != nil {
		return nil, err
	}
	cfg.Seed = int64(seed)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Mayfly{
		vocs:      v,
		names:     v.VariableNames(),
		cfg:       cfg,
		optimizer: opt.NewMayfly(cfg),
		asks:      make(chan []float64),
		tells:     make(chan float64),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
	}, nil
}

func (m *Mayfly) Name() string { return "mayfly" }

func (m *Mayfly) run() {
	defer close(m.finished)

	dim := len(m.names)
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range upper {
		upper[i] = 1
	}
	abandoned := 10 * vocs.InfeasiblePenalty

	objective := func(x []float64) float64 {
		point := append([]float64(nil), x...)
		select {
		case m.asks <- point:
		case <-m.done:
			return abandoned
		}
		select {
		case cost := <-m.tells:
			return cost
		case <-m.done:
			return abandoned
		}
	}

	best, cost := m.optimizer.Run(objective, lower, upper, dim)

	m.mu.Lock()
	m.result = &opt.Result{Best: m.denormalize(best), Cost: cost, Evals: m.evals}
	m.mu.Unlock()
	close(m.asks)
}

// denormalize maps a unit-box position onto the variable bounds.
func (m *Mayfly) denormalize(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, name := range m.names {
		if i >= len(x) {
			break
		}
		b := m.vocs.Variables[name]
		u := math.Min(math.Max(x[i], 0), 1)
		out[i] = b[0] + u*b.Width()
	}
	return out
}

func (m *Mayfly) point(x []float64) map[string]float64 {
	values := m.denormalize(x)
	p := make(map[string]float64, len(values)+len(m.vocs.Constants))
	for i, name := range m.names {
		p[name] = values[i]
	}
	for name, c := range m.vocs.Constants {
		p[name] = c
	}
	return p
}

// Generate returns the point the optimizer is waiting on. Asking again before
// AddData returns the same point.
func (m *Mayfly) Generate(ctx context.Context, n int) ([]map[string]float64, error) {
	if n != 1 {
		return nil, fmt.Errorf("%w: mayfly proposes one point at a time, got %d", ErrBatchUnsupported, n)
	}
	m.startOnce.Do(func() { go m.run() })

	m.mu.Lock()
	if m.pending != nil {
		p := m.point(m.pending)
		m.mu.Unlock()
		return []map[string]float64{p}, nil
	}
	m.mu.Unlock()

	select {
	case x, ok := <-m.asks:
		if !ok {
			return nil, ErrExhausted
		}
		m.mu.Lock()
		m.pending = x
		m.mu.Unlock()
		return []map[string]float64{m.point(x)}, nil
	case <-m.done:
		return nil, ErrExhausted
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AddData answers the pending ask with the score of the last row. Rows that
// arrive with no pending ask (initial points, replayed data) are only counted.
func (m *Mayfly) AddData(rows []table.Row) error {
	if len(rows) == 0 {
		return nil
	}
	m.mu.Lock()
	m.observed += len(rows)
	pending := m.pending
	m.mu.Unlock()
	if pending == nil {
		return nil
	}

	score := m.vocs.Score(rows[len(rows)-1])
	select {
	case m.tells <- score:
	case <-m.done:
		return ErrExhausted
	}

	m.mu.Lock()
	m.pending = nil
	m.evals++
	m.mu.Unlock()
	return nil
}

// Close abandons the search. The optimizer goroutine drains quickly once
// its objective stops blocking.
func (m *Mayfly) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

// Wait blocks until the optimizer goroutine has returned.
func (m *Mayfly) Wait() {
	m.startOnce.Do(func() { close(m.finished) })
	<-m.finished
}

func (m *Mayfly) State() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := map[string]any{
		"name":           "mayfly",
		"max_iterations": m.cfg.MaxIterations,
		"population":     m.cfg.Population,
		"seed":           m.cfg.Seed,
		"evals":          m.evals,
		"observed":       m.observed,
	}
	if m.result != nil {
		state["best"] = m.result.Best
		state["best_cost"] = m.result.Cost
	}
	return state
}
