// Package vocs describes an optimization problem: its Variables, Objectives,
// Constraints and Observables.
package vocs

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"
)

// Bounds is a [lower, upper] pair.
type Bounds [2]float64

// Lower returns the lower bound.
func (b Bounds) Lower() float64 { return b[0] }

// Upper returns the upper bound.
func (b Bounds) Upper() float64 { return b[1] }

// Width returns upper - lower.
func (b Bounds) Width() float64 { return b[1] - b[0] }

// Valid reports whether both ends are finite and lower <= upper.
func (b Bounds) Valid() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b[0] <= b[1]
}

// Contains reports whether v lies inside the closed interval.
func (b Bounds) Contains(v float64) bool {
	return v >= b[0] && v <= b[1]
}

// Clip clamps v into the interval.
func (b Bounds) Clip(v float64) float64 {
	return math.Min(math.Max(v, b[0]), b[1])
}

// Direction is the optimization direction of an objective.
type Direction string

const (
	Minimize Direction = "MINIMIZE"
	Maximize Direction = "MAXIMIZE"
)

// ConstraintKind selects the comparison a constraint applies.
type ConstraintKind string

const (
	GreaterThan ConstraintKind = "GREATER_THAN"
	LessThan    ConstraintKind = "LESS_THAN"
)

// Constraint is serialized as the sequence [KIND, value].
type Constraint struct {
	Kind  ConstraintKind
	Value float64
}

// Satisfied reports whether v meets the constraint. NaN never does.
func (c Constraint) Satisfied(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	switch c.Kind {
	case GreaterThan:
		return v > c.Value
	case LessThan:
		return v < c.Value
	}
	return false
}

func (c Constraint) MarshalYAML() (any, error) {
	return []any{string(c.Kind), c.Value}, nil
}

func (c *Constraint) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode || len(node.Content) != 2 {
		return fmt.Errorf("constraint must be a [KIND, value] pair (line %d)", node.Line)
	}
	var kind string
	if err := node.Content[0].Decode(&kind); err != nil {
		return fmt.Errorf("constraint kind: %w", err)
	}
	var value float64
	if err := node.Content[1].Decode(&value); err != nil {
		return fmt.Errorf("constraint value: %w", err)
	}
	c.Kind = ConstraintKind(kind)
	c.Value = value
	return nil
}

func (c Constraint) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("[%q,%v]", c.Kind, c.Value)), nil
}

// ErrInvalidVOCS is wrapped by every Validate failure.
var ErrInvalidVOCS = errors.New("invalid vocs")

// VOCS is the problem schema shared by generators and environments.
type VOCS struct {
	Variables   map[string]Bounds     `yaml:"variables" json:"variables"`
	Objectives  map[string]Direction  `yaml:"objectives,omitempty" json:"objectives,omitempty"`
	Constraints map[string]Constraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Constants   map[string]float64    `yaml:"constants,omitempty" json:"constants,omitempty"`
	Observables []string              `yaml:"observables,omitempty" json:"observables,omitempty"`
}

// Validate checks the schema for structural errors.
func (v *VOCS) Validate() error {
	if len(v.Variables) == 0 {
		return fmt.Errorf("%w: no variables", ErrInvalidVOCS)
	}
	for _, name := range v.VariableNames() {
		if b := v.Variables[name]; !b.Valid() {
			return fmt.Errorf("%w: variable %q has bounds %v", ErrInvalidVOCS, name, b)
		}
	}
	for name, d := range v.Objectives {
		if d != Minimize && d != Maximize {
			return fmt.Errorf("%w: objective %q has direction %q", ErrInvalidVOCS, name, d)
		}
	}
	for name, c := range v.Constraints {
		if c.Kind != GreaterThan && c.Kind != LessThan {
			return fmt.Errorf("%w: constraint %q has kind %q", ErrInvalidVOCS, name, c.Kind)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (v VOCS) Clone() VOCS {
	out := VOCS{
		Variables:   make(map[string]Bounds, len(v.Variables)),
		Objectives:  make(map[string]Direction, len(v.Objectives)),
		Constraints: make(map[string]Constraint, len(v.Constraints)),
		Constants:   make(map[string]float64, len(v.Constants)),
		Observables: append([]string(nil), v.Observables...),
	}
	for k, b := range v.Variables {
		out.Variables[k] = b
	}
	for k, d := range v.Objectives {
		out.Objectives[k] = d
	}
	for k, c := range v.Constraints {
		out.Constraints[k] = c
	}
	for k, c := range v.Constants {
		out.Constants[k] = c
	}
	return out
}

func (v *VOCS) VariableNames() []string   { return sortedKeys(v.Variables) }
func (v *VOCS) ObjectiveNames() []string  { return sortedKeys(v.Objectives) }
func (v *VOCS) ConstraintNames() []string { return sortedKeys(v.Constraints) }

// OutputNames lists objectives, constraints and observables, deduplicated.
func (v *VOCS) OutputNames() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(names []string) {
		for _, n := range names {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	add(v.ObjectiveNames())
	add(v.ConstraintNames())
	obs := append([]string(nil), v.Observables...)
	sort.Strings(obs)
	add(obs)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
