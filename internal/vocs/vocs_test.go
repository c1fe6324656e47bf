package vocs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sphereVOCS() VOCS {
	return VOCS{
		Variables:   map[string]Bounds{"x0": {-1, 1}, "x1": {-1, 1}},
		Objectives:  map[string]Direction{"f1": Minimize},
		Constraints: map[string]Constraint{"c": {Kind: LessThan, Value: 0.5}},
		Observables: []string{"f2", "f1"},
	}
}

func TestValidate(t *testing.T) {
	v := sphereVOCS()
	require.NoError(t, v.Validate())

	tests := []struct {
		name   string
		mutate func(*VOCS)
	}{
		{"no variables", func(v *VOCS) { v.Variables = nil }},
		{"inverted bounds", func(v *VOCS) { v.Variables["x0"] = Bounds{1, -1} }},
		{"bad direction", func(v *VOCS) { v.Objectives["f1"] = "UP" }},
		{"bad constraint", func(v *VOCS) { v.Constraints["c"] = Constraint{Kind: "EQUAL"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := sphereVOCS()
			tt.mutate(&v)
			assert.ErrorIs(t, v.Validate(), ErrInvalidVOCS)
		})
	}
}

func TestOutputNamesDeduplicates(t *testing.T) {
	v := sphereVOCS()
	assert.Equal(t, []string{"f1", "c", "f2"}, v.OutputNames())
}

func TestRandomInputsRespectBounds(t *testing.T) {
	v := sphereVOCS()
	rng := rand.New(rand.NewSource(1))
	custom := map[string]Bounds{"x1": {0.2, 0.3}}
	for _, p := range v.RandomInputs(rng, 50, custom) {
		assert.True(t, v.Variables["x0"].Contains(p["x0"]))
		assert.True(t, custom["x1"].Contains(p["x1"]))
	}
}

func TestLocalRegionClipped(t *testing.T) {
	v := sphereVOCS()
	region := v.LocalRegion(map[string]float64{"x0": 0.95, "x1": 0}, 0.2)
	assert.InDelta(t, 0.75, region["x0"][0], 1e-12)
	assert.InDelta(t, 1.0, region["x0"][1], 1e-12)
	assert.InDelta(t, -0.2, region["x1"][0], 1e-12)
	assert.InDelta(t, 0.2, region["x1"][1], 1e-12)
}

func TestViolatedConstraints(t *testing.T) {
	v := sphereVOCS()
	assert.Empty(t, v.ViolatedConstraints(map[string]float64{"c": 0.1}, []string{"c"}))
	assert.Equal(t, []string{"c"}, v.ViolatedConstraints(map[string]float64{"c": 0.9}, []string{"c"}))
	assert.Equal(t, []string{"c"}, v.ViolatedConstraints(map[string]float64{}, []string{"c", "unknown"}))
}

func TestScore(t *testing.T) {
	v := sphereVOCS()
	assert.Equal(t, 0.25, v.Score(map[string]float64{"f1": 0.25, "c": 0}))
	assert.Greater(t, v.Score(map[string]float64{"f1": 0.25, "c": 1}), 1e8)

	v.Objectives["f1"] = Maximize
	assert.Equal(t, -0.25, v.Score(map[string]float64{"f1": 0.25, "c": 0}))
}

func TestConstraintYAML(t *testing.T) {
	src := "variables:\n  x: [0, 1]\nconstraints:\n  c: [GREATER_THAN, 2.5]\n"
	var v VOCS
	require.NoError(t, yaml.Unmarshal([]byte(src), &v))
	assert.Equal(t, Constraint{Kind: GreaterThan, Value: 2.5}, v.Constraints["c"])

	out, err := yaml.Marshal(v)
	require.NoError(t, err)
	var back VOCS
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, v.Constraints, back.Constraints)
}
