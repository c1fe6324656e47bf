package routine

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/badger/internal/environment"
	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

// CalculateVariableBounds recomputes the search window of every variable that
// has a range policy, relative to its current value, and clips it to the hard
// bounds. Variables without a policy keep their VOCS bounds.
func CalculateVariableBounds(ctx context.Context, options map[string]LimitOption, v vocs.VOCS, env environment.Environment) (map[string]vocs.Bounds, error) {
	names := v.VariableNames()
	current, err := env.GetVariables(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to read current values: %w", err)
	}
	hard, err := env.GetBounds(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to read bounds: %w", err)
	}

	out := make(map[string]vocs.Bounds, len(names))
	for _, name := range names {
		out[name] = v.Variables[name]
		opt, ok := options[name]
		if !ok {
			continue
		}
		c, ok := current[name]
		if !ok {
			return nil, fmt.Errorf("no current value for %s", name)
		}
		hb := hard[name]

		var b vocs.Bounds
		switch opt.LimitOptionIdx {
		case LimitRatioCurr:
			s := sign(c)
			b = vocs.Bounds{c * (1 - 0.5*s*opt.RatioCurr), c * (1 + 0.5*s*opt.RatioCurr)}
		case LimitRatioFull:
			delta := 0.5 * opt.RatioFull * hb.Width()
			b = vocs.Bounds{c - delta, c + delta}
		case LimitDelta:
			b = vocs.Bounds{c - opt.Delta, c + opt.Delta}
		default:
			return nil, fmt.Errorf("variable %s: unknown limit option %d", name, opt.LimitOptionIdx)
		}
		out[name] = vocs.Bounds{hb.Clip(b[0]), hb.Clip(b[1])}
	}
	return out, nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// CalculateInitialPoints replays actions in order against the current machine
// state. Each add_rand action draws from its own RNG, seeded from its config
// or from its position, so replaying the same actions gives the same points.
func CalculateInitialPoints(ctx context.Context, actions []InitialPointAction, v vocs.VOCS, env environment.Environment) (*table.Table, error) {
	names := v.VariableNames()
	cols := make(map[string][]float64, len(names))
	for _, n := range names {
		cols[n] = []float64{}
	}

	for i, action := range actions {
		current, err := env.GetVariables(ctx, names)
		if err != nil {
			return nil, fmt.Errorf("action %d: failed to read current values: %w", i, err)
		}
		switch action.Type {
		case ActionAddCurrent:
			for _, n := range names {
				cols[n] = append(cols[n], current[n])
			}
		case ActionAddRandom:
			seed := int64(i + 1)
			if action.Config.Seed != nil {
				seed = *action.Config.Seed
			}
			rng := rand.New(rand.NewSource(seed))
			region := v.LocalRegion(current, action.Config.Fraction)
			for _, p := range v.RandomInputs(rng, action.Config.NPoints, region) {
				for _, n := range names {
					cols[n] = append(cols[n], p[n])
				}
			}
		default:
			return nil, fmt.Errorf("action %d: unknown type %q", i, action.Type)
		}
	}
	return table.FromColumns(cols)
}

// Refresh recomputes the variable bounds and initial points from the live
// environment when the routine is relative to current. It returns whether
// anything changed.
func (r *Routine) Refresh(ctx context.Context) (bool, error) {
	if !r.RelativeToCurrent {
		return false, nil
	}
	bounds, err := CalculateVariableBounds(ctx, r.VrangeLimitOptions, r.VOCS, r.Env)
	if err != nil {
		return false, err
	}
	for name, b := range bounds {
		if math.IsNaN(b[0]) || math.IsNaN(b[1]) {
			return false, fmt.Errorf("variable %s: computed bounds %v", name, b)
		}
		r.VOCS.Variables[name] = b
	}
	if len(r.InitialPointActions) > 0 {
		points, err := CalculateInitialPoints(ctx, r.InitialPointActions, r.VOCS, r.Env)
		if err != nil {
			return false, err
		}
		r.InitialPoints = points
	}
	return true, nil
}
