package opt

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// MinPopulation is the smallest population mayfly v0.1.0 accepts.
const MinPopulation = 20

// MayflyConfig holds the tunables exposed to routines.
type MayflyConfig struct {
	MaxIterations int   `yaml:"max_iterations" json:"max_iterations"`
	Population    int   `yaml:"population" json:"population"`
	Seed          int64 `yaml:"seed" json:"seed"`
}

// DefaultMayflyConfig is used for any unset field.
func DefaultMayflyConfig() MayflyConfig {
	return MayflyConfig{MaxIterations: 100, Population: MinPopulation, Seed: 1}
}

// Validate rejects settings the library cannot run with.
func (c MayflyConfig) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if c.Population < MinPopulation {
		return fmt.Errorf("population must be at least %d, got %d", MinPopulation, c.Population)
	}
	return nil
}

// MayflyAdapter wraps the mayfly library to conform to the Optimizer interface.
type MayflyAdapter struct {
	cfg MayflyConfig
}

// NewMayfly creates a new Mayfly optimizer adapter.
func NewMayfly(cfg MayflyConfig) *MayflyAdapter {
	return &MayflyAdapter{cfg: cfg}
}

// Run executes the search. The library takes scalar bounds, so every
// dimension uses lower[0] and upper[0]; callers normalize to a common box.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64) {
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.cfg.MaxIterations
	config.NPop = m.cfg.Population
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.cfg.Seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		slog.Warn("Mayfly optimization failed, falling back to lower corner", "error", err)
		start := make([]float64, dim)
		for i := range start {
			start[i] = lower[0]
		}
		return start, eval(start)
	}

	return result.GlobalBest.Position, result.GlobalBest.Cost
}
