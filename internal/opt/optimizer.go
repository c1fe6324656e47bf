package opt

// Optimizer minimizes a black-box objective over a box.
type Optimizer interface {
	// Run executes the optimization
	// eval: objective function to minimize
	// lower, upper: parameter bounds
	// dim: dimensionality of parameter space
	// Returns: best parameters and best cost
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64)
}

// Result is the outcome of a finished optimizer run.
type Result struct {
	Best  []float64 `json:"best" yaml:"best"`
	Cost  float64   `json:"cost" yaml:"cost"`
	Evals int       `json:"evals" yaml:"evals"`
}
