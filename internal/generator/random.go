package generator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

// Random samples uniformly inside the variable bounds.
type Random struct {
	vocs vocs.VOCS
	seed int64

	mu       sync.Mutex
	rng      *rand.Rand
	observed int
}

// NewRandom accepts the parameter "seed" (default 1).
func NewRandom(v vocs.VOCS, params map[string]any) (Generator, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	seed, err := intParam(params, "seed", 1)
	if err != nil {
		return nil, err
	}
	return &Random{vocs: v, seed: int64(seed), rng: rand.New(rand.NewSource(int64(seed)))}, nil
}

func (r *Random) Name() string { return "random" }

func (r *Random) Generate(ctx context.Context, n int) ([]map[string]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrBatchUnsupported, n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vocs.RandomInputs(r.rng, n, nil), nil
}

func (r *Random) AddData(rows []table.Row) error {
	r.mu.Lock()
	r.observed += len(rows)
	r.mu.Unlock()
	return nil
}

func (r *Random) State() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]any{"name": "random", "seed": r.seed, "observed": r.observed}
}
