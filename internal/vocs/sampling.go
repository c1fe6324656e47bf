package vocs

import (
	"math"
	"math/rand"
)

// InfeasiblePenalty is added to the score of a point that violates a constraint.
const InfeasiblePenalty = 1e9

// RandomInputs draws n uniform samples. custom, when non-nil, replaces the
// variable bounds for the names it contains.
func (v *VOCS) RandomInputs(rng *rand.Rand, n int, custom map[string]Bounds) []map[string]float64 {
	names := v.VariableNames()
	points := make([]map[string]float64, n)
	for i := range points {
		p := make(map[string]float64, len(names))
		for _, name := range names {
			b := v.Variables[name]
			if cb, ok := custom[name]; ok {
				b = cb
			}
			p[name] = b[0] + rng.Float64()*b.Width()
		}
		for name, c := range v.Constants {
			p[name] = c
		}
		points[i] = p
	}
	return points
}

// LocalRegion returns center ± fraction*(ub-lb)/2 per variable, clipped to the
// variable bounds. Variables missing from center are skipped.
func (v *VOCS) LocalRegion(center map[string]float64, fraction float64) map[string]Bounds {
	region := make(map[string]Bounds, len(v.Variables))
	for name, b := range v.Variables {
		c, ok := center[name]
		if !ok {
			continue
		}
		half := 0.5 * fraction * b.Width()
		region[name] = Bounds{math.Max(c-half, b[0]), math.Min(c+half, b[1])}
	}
	return region
}

// Feasibility maps each constraint name to whether row satisfies it.
func (v *VOCS) Feasibility(row map[string]float64) map[string]bool {
	out := make(map[string]bool, len(v.Constraints))
	for name, c := range v.Constraints {
		val, ok := row[name]
		out[name] = ok && c.Satisfied(val)
	}
	return out
}

// Feasible reports whether row satisfies every constraint.
func (v *VOCS) Feasible(row map[string]float64) bool {
	for _, ok := range v.Feasibility(row) {
		if !ok {
			return false
		}
	}
	return true
}

// ViolatedConstraints returns the entries of names that row violates, in the
// order given. Names that are not constraints are ignored.
func (v *VOCS) ViolatedConstraints(row map[string]float64, names []string) []string {
	var violated []string
	for _, name := range names {
		c, ok := v.Constraints[name]
		if !ok {
			continue
		}
		val, present := row[name]
		if !present || !c.Satisfied(val) {
			violated = append(violated, name)
		}
	}
	return violated
}

// Score collapses row to a single value to minimize. Only the first objective
// (by name) is used; maximized objectives are negated.
func (v *VOCS) Score(row map[string]float64) float64 {
	names := v.ObjectiveNames()
	if len(names) == 0 {
		return 0
	}
	val, ok := row[names[0]]
	if !ok || math.IsNaN(val) {
		return InfeasiblePenalty
	}
	if v.Objectives[names[0]] == Maximize {
		val = -val
	}
	if !v.Feasible(row) {
		val += InfeasiblePenalty
	}
	return val
}
