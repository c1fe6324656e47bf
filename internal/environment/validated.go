package environment

import (
	"context"
	"fmt"
	"sort"

	"github.com/cwbudde/badger/internal/formula"
	"github.com/cwbudde/badger/internal/vocs"
)

// Validated wraps an Environment with the checks the optimizer relies on:
// bounds sanity, all-or-nothing setpoint validation, observable name checks
// and formula observables.
type Validated struct {
	inner      Environment
	hardLimits map[string]vocs.Bounds
}

// NewValidated wraps inner. hardLimits overrides the bounds inner reports.
// Wrapping an already validated environment returns it unchanged.
func NewValidated(inner Environment, hardLimits map[string]vocs.Bounds) *Validated {
	if v, ok := inner.(*Validated); ok && len(hardLimits) == 0 {
		return v
	}
	limits := make(map[string]vocs.Bounds, len(hardLimits))
	for k, b := range hardLimits {
		limits[k] = b
	}
	return &Validated{inner: inner, hardLimits: limits}
}

// Unwrap returns the wrapped environment.
func (v *Validated) Unwrap() Environment { return v.inner }

func (v *Validated) Name() string              { return v.inner.Name() }
func (v *Validated) VariableNames() []string   { return v.inner.VariableNames() }
func (v *Validated) ObservableNames() []string { return v.inner.ObservableNames() }

func (v *Validated) GetVariables(ctx context.Context, names []string) (map[string]float64, error) {
	return v.inner.GetVariables(ctx, names)
}

// GetBounds resolves every name, hard limits first, and rejects malformed
// pairs.
func (v *Validated) GetBounds(ctx context.Context, names []string) (map[string]vocs.Bounds, error) {
	out := make(map[string]vocs.Bounds, len(names))
	var rest []string
	for _, n := range names {
		if b, ok := v.hardLimits[n]; ok {
			out[n] = b
		} else {
			rest = append(rest, n)
		}
	}
	if len(rest) > 0 {
		got, err := v.inner.GetBounds(ctx, rest)
		if err != nil {
			return nil, err
		}
		for _, n := range rest {
			b, ok := got[n]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrBoundsNotFound, n)
			}
			out[n] = b
		}
	}
	for _, n := range names {
		if b := out[n]; !b.Valid() {
			return nil, &InvalidBoundsError{Name: n, Bounds: b}
		}
	}
	return out, nil
}

// SetVariables writes nothing unless every value lies within its bounds.
func (v *Validated) SetVariables(ctx context.Context, values map[string]float64) error {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	bounds, err := v.GetBounds(ctx, names)
	if err != nil {
		return err
	}
	var violations []Violation
	for _, n := range sortedNames(values) {
		val := values[n]
		if b := bounds[n]; !b.Contains(val) {
			violations = append(violations, Violation{Name: n, Value: val, Bounds: b})
		}
	}
	if len(violations) > 0 {
		return &VariableRangeError{Violations: violations}
	}
	return v.inner.SetVariables(ctx, values)
}

// GetObservables fetches the literal names plus every key any formula
// references in a single call, then evaluates the formulas. The result holds
// exactly the requested names.
func (v *Validated) GetObservables(ctx context.Context, names []string) (map[string]any, error) {
	declared := make(map[string]bool)
	for _, n := range v.inner.ObservableNames() {
		declared[n] = true
	}

	seen := make(map[string]bool)
	var base, formulas []string
	addBase := func(n string) {
		if !seen[n] {
			seen[n] = true
			base = append(base, n)
		}
	}
	var invalid []string
	for _, n := range names {
		if formula.IsFormula(n) {
			formulas = append(formulas, n)
			for _, k := range formula.ExtractKeys(n) {
				addBase(k)
			}
			continue
		}
		if !declared[n] {
			invalid = append(invalid, n)
			continue
		}
		addBase(n)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrObservableNotFound, invalid)
	}

	values := map[string]any{}
	if len(base) > 0 {
		var err error
		values, err = v.inner.GetObservables(ctx, base)
		if err != nil {
			return nil, err
		}
	}

	out := make(map[string]any, len(names))
	for _, n := range names {
		if formula.IsFormula(n) {
			continue
		}
		val, ok := values[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s missing from reading", ErrObservableNotFound, n)
		}
		out[n] = val
	}
	for _, expr := range formulas {
		val, err := formula.Evaluate(expr, values)
		if err != nil {
			return nil, err
		}
		out[expr] = val
	}
	return out, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
