package routine

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/badger/internal/environment"
	"github.com/cwbudde/badger/internal/formula"
	"github.com/cwbudde/badger/internal/generator"
	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

const testRoutineYAML = `
name: four-var
vocs:
  variables:
    x0: [-1, 1]
    x1: [-1, 1]
    x2: [-1, 1]
    x3: [-1, 1]
  objectives:
    f: MINIMIZE
  constraints:
    c: [LESS_THAN, 0.9]
generator:
  name: random
  seed: 5
environment:
  name: test
  interface:
    name: test
critical_constraint_names: [c]
relative_to_current: true
vrange_limit_options:
  x0: {limit_option_idx: 0, ratio_curr: 0.1, ratio_full: 0.1}
  x1: {limit_option_idx: 0, ratio_curr: 0.1, ratio_full: 0.1}
  x2: {limit_option_idx: 0, ratio_curr: 0.1, ratio_full: 0.1}
  x3: {limit_option_idx: 0, ratio_curr: 0.1, ratio_full: 0.1}
initial_point_actions:
  - type: add_curr
  - type: add_rand
    config: {n_points: 3, fraction: 0.1}
`

func composeTest(t *testing.T) *Routine {
	t.Helper()
	doc, err := Parse([]byte(testRoutineYAML))
	require.NoError(t, err)
	r, err := Compose(doc, DefaultRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestComposeFillsDefaults(t *testing.T) {
	r := composeTest(t)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreationTS.IsZero())
	assert.Equal(t, Version, r.BadgerVersion)
	assert.Equal(t, 0, r.Data.Len())
	assert.NotNil(t, r.Recorder)
	assert.IsType(t, &environment.Validated{}, r.Env)
}

func TestComposeErrors(t *testing.T) {
	doc, err := Parse([]byte(testRoutineYAML))
	require.NoError(t, err)

	bad := doc
	bad.Environment.Name = "epics"
	_, err = Compose(bad, DefaultRegistry())
	assert.ErrorIs(t, err, environment.ErrEnvironmentNotFound)

	bad = doc
	bad.Generator.Name = "expected_improvement"
	_, err = Compose(bad, DefaultRegistry())
	assert.ErrorIs(t, err, generator.ErrGeneratorNotFound)

	bad = doc
	bad.CriticalConstraintNames = []string{"f"}
	_, err = Compose(bad, DefaultRegistry())
	assert.Error(t, err)
}

func TestComposeRejectsBadFormulaOutputs(t *testing.T) {
	for expr, want := range map[string]error{
		"meen(`f`)": formula.ErrUnknownName,
		"(`f` + ":   formula.ErrSyntax,
		"`f` ** ":   formula.ErrSyntax,
	} {
		t.Run(expr, func(t *testing.T) {
			src := strings.Replace(testRoutineYAML, "    f: MINIMIZE", "    f: MINIMIZE\n    '"+expr+"': MINIMIZE", 1)
			doc, err := Parse([]byte(src))
			require.NoError(t, err)
			_, err = Compose(doc, DefaultRegistry())
			assert.ErrorIs(t, err, want)
		})
	}

	src := strings.Replace(testRoutineYAML, "    f: MINIMIZE", "    f: MINIMIZE\n    'sqrt(`f`**2)': MINIMIZE", 1)
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	assert.NoError(t, doc.Validate())
}

func TestBoundsRelativeToCurrent(t *testing.T) {
	r := composeTest(t)
	bounds, err := CalculateVariableBounds(context.Background(), r.VrangeLimitOptions, r.VOCS, r.Env)
	require.NoError(t, err)
	require.Len(t, bounds, 4)
	for name, b := range bounds {
		assert.InDelta(t, 0.475, b[0], 1e-12, name)
		assert.InDelta(t, 0.525, b[1], 1e-12, name)
	}
}

func TestBoundsPolicies(t *testing.T) {
	ctx := context.Background()
	r := composeTest(t)
	require.NoError(t, r.Env.SetVariables(ctx, map[string]float64{"x0": 0.9, "x1": -0.4, "x2": 0, "x3": 0.5}))

	options := map[string]LimitOption{
		"x0": {LimitOptionIdx: LimitRatioFull, RatioFull: 0.5}, // 0.9 ± 0.5, clipped at 1
		"x1": {LimitOptionIdx: LimitRatioCurr, RatioCurr: 0.5}, // negative value
		"x2": {LimitOptionIdx: LimitRatioCurr, RatioCurr: 0.5}, // zero width
	}
	bounds, err := CalculateVariableBounds(ctx, options, r.VOCS, r.Env)
	require.NoError(t, err)

	assert.InDelta(t, 0.4, bounds["x0"][0], 1e-12)
	assert.InDelta(t, 1.0, bounds["x0"][1], 1e-12)
	assert.InDelta(t, -0.5, bounds["x1"][0], 1e-12)
	assert.InDelta(t, -0.3, bounds["x1"][1], 1e-12)
	assert.Equal(t, vocs.Bounds{0, 0}, bounds["x2"])
	assert.Equal(t, vocs.Bounds{-1, 1}, bounds["x3"], "variables without a policy are unchanged")
}

func TestBoundsAlwaysWithinHardLimits(t *testing.T) {
	ctx := context.Background()
	r := composeTest(t)
	for _, c := range []float64{-1, -0.99, -0.3, 0, 0.3, 0.99, 1} {
		require.NoError(t, r.Env.SetVariables(ctx, map[string]float64{"x0": c, "x1": c, "x2": c}))
		options := map[string]LimitOption{
			"x0": {LimitOptionIdx: LimitRatioCurr, RatioCurr: 3},
			"x1": {LimitOptionIdx: LimitRatioFull, RatioFull: 3},
			"x2": {LimitOptionIdx: LimitDelta, Delta: 5},
		}
		bounds, err := CalculateVariableBounds(ctx, options, r.VOCS, r.Env)
		require.NoError(t, err)
		for name, b := range bounds {
			assert.GreaterOrEqual(t, b[0], -1.0, name)
			assert.LessOrEqual(t, b[1], 1.0, name)
		}
	}
}

func TestInitialPointsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := composeTest(t)

	p1, err := CalculateInitialPoints(ctx, r.InitialPointActions, r.VOCS, r.Env)
	require.NoError(t, err)
	p2, err := CalculateInitialPoints(ctx, r.InitialPointActions, r.VOCS, r.Env)
	require.NoError(t, err)

	assert.Equal(t, 4, p1.Len())
	assert.Equal(t, p1.Rows(), p2.Rows())

	first := p1.Row(0)
	for _, n := range r.VOCS.VariableNames() {
		assert.Equal(t, 0.5, first[n], "add_curr records the current value")
	}
	// add_rand stays within fraction/2 of the full width around the current point
	for i := 1; i < p1.Len(); i++ {
		for _, n := range r.VOCS.VariableNames() {
			assert.InDelta(t, 0.5, p1.Row(i)[n], 0.1+1e-12)
		}
	}
}

func TestRefreshAppliesPolicies(t *testing.T) {
	r := composeTest(t)
	changed, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.InDelta(t, 0.475, r.VOCS.Variables["x0"][0], 1e-12)
	assert.Equal(t, 4, r.InitialPoints.Len())
}

func TestEvaluateRecordsRow(t *testing.T) {
	ctx := context.Background()
	r := composeTest(t)

	point := map[string]float64{"x0": 0.5, "x1": 0.5, "x2": 0, "x3": 0}
	row, err := r.Evaluate(ctx, point)
	require.NoError(t, err)

	// the test environment sums all twenty channels, untouched ones read 0.5
	want := 0.25 + 0.25 + 16*0.25
	assert.InDelta(t, want, row["f"], 1e-12)
	assert.Equal(t, 1.0, row[table.ColLive])
	assert.Contains(t, row, table.ColTimestamp)
	assert.Equal(t, 1, r.Data.Len())
	assert.Equal(t, 1, r.Gen.State()["observed"])

	assert.Equal(t, []string{"c"}, r.ViolatedCriticalConstraints(row))
}

func TestEvaluateRejectsOutOfRange(t *testing.T) {
	r := composeTest(t)
	_, err := r.Evaluate(context.Background(), map[string]float64{"x0": 2})
	assert.ErrorIs(t, err, environment.ErrVariableOutOfRange)
	assert.Equal(t, 0, r.Data.Len())
}

func TestDocumentRoundTrip(t *testing.T) {
	r := composeTest(t)
	_, err := r.Evaluate(context.Background(), map[string]float64{"x0": 0.1, "x1": 0.1, "x2": 0.1, "x3": 0.1})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "routine.yaml")
	snap, err := r.Snapshot()
	require.NoError(t, err)
	require.NoError(t, Save(path, &snap))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, r.ID, loaded.ID)
	assert.Equal(t, r.VOCS.Constraints, loaded.VOCS.Constraints)
	assert.Equal(t, 5, loaded.Generator.Params["seed"])
	assert.Equal(t, "test", loaded.Environment.Interface.Name)
	assert.Equal(t, r.Data.Rows(), loaded.Data.Rows())

	// replayed data reaches the generator
	again, err := Compose(loaded, DefaultRegistry())
	require.NoError(t, err)
	assert.Equal(t, 1, again.Gen.State()["observed"])
}
