package formula

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
)

var builtins starlark.StringDict

func init() {
	builtins = starlark.StringDict{
		"pi":  starlark.Float(math.Pi),
		"e":   starlark.Float(math.E),
		"inf": starlark.Float(math.Inf(1)),
		"nan": starlark.Float(math.NaN()),

		"mean":       reducer("mean", mean),
		"median":     reducer("median", median),
		"std":        reducer("std", func(x []float64) float64 { return math.Sqrt(variance(x)) }),
		"var":        reducer("var", variance),
		"sum":        reducer("sum", sum),
		"rms":        reducer("rms", rms),
		"len":        starlark.NewBuiltin("len", builtinLen),
		"min":        starlark.NewBuiltin("min", extremum(math.Min)),
		"max":        starlark.NewBuiltin("max", extremum(math.Max)),
		"round":      starlark.NewBuiltin("round", builtinRound),
		"percentile": starlark.NewBuiltin("percentile", builtinPercentile),
		"clip":       starlark.NewBuiltin("clip", builtinClip),
		"pow":        binary("pow", math.Pow),
		"power":      binary("power", math.Pow),
		"arctan2":    binary("arctan2", math.Atan2),
		"hypot":      binary("hypot", math.Hypot),
	}
	unary := map[string]func(float64) float64{
		"abs":    math.Abs,
		"sqrt":   math.Sqrt,
		"exp":    math.Exp,
		"log":    math.Log,
		"log10":  math.Log10,
		"log2":   math.Log2,
		"sin":    math.Sin,
		"cos":    math.Cos,
		"tan":    math.Tan,
		"arcsin": math.Asin,
		"arccos": math.Acos,
		"arctan": math.Atan,
		"sinh":   math.Sinh,
		"cosh":   math.Cosh,
		"tanh":   math.Tanh,
		"floor":  math.Floor,
		"ceil":   math.Ceil,
		"square": func(x float64) float64 { return x * x },
	}
	for name, fn := range unary {
		builtins[name] = elementwise(name, fn)
	}
}

// Names returns the builtin namespace, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toStarlark(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case float64:
		return starlark.Float(v), nil
	case float32:
		return starlark.Float(v), nil
	case int:
		return starlark.Float(v), nil
	case int64:
		return starlark.Float(v), nil
	case bool:
		if v {
			return starlark.Float(1), nil
		}
		return starlark.Float(0), nil
	case []float64:
		return append(Array(nil), v...), nil
	case Array:
		return v, nil
	}
	return nil, fmt.Errorf("unsupported type %T", v)
}

func fromStarlark(v starlark.Value) (any, error) {
	switch v := v.(type) {
	case starlark.Float:
		return float64(v), nil
	case starlark.Int:
		f, _ := starlark.AsFloat(v)
		return f, nil
	case starlark.Bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	case Array:
		return []float64(append(Array(nil), v...)), nil
	case starlark.Tuple, *starlark.List:
		xs, err := floats(v)
		if err != nil {
			return nil, err
		}
		return xs, nil
	}
	return nil, fmt.Errorf("%w: got %s", ErrBadResult, v.Type())
}

// floats flattens a number or a sequence of numbers.
func floats(v starlark.Value) ([]float64, error) {
	if f, ok := starlark.AsFloat(v); ok {
		return []float64{f}, nil
	}
	if a, ok := v.(Array); ok {
		return a, nil
	}
	iter := starlark.Iterate(v)
	if iter == nil {
		return nil, fmt.Errorf("%w: got %s", ErrBadResult, v.Type())
	}
	defer iter.Done()
	var out []float64
	var x starlark.Value
	for iter.Next(&x) {
		f, ok := starlark.AsFloat(x)
		if !ok {
			return nil, fmt.Errorf("%w: element of type %s", ErrBadResult, x.Type())
		}
		out = append(out, f)
	}
	return out, nil
}

func isSequence(v starlark.Value) bool {
	switch v.(type) {
	case Array, starlark.Tuple, *starlark.List:
		return true
	}
	return false
}

func mapValue(v starlark.Value, fn func(float64) float64) (starlark.Value, error) {
	if isSequence(v) {
		xs, err := floats(v)
		if err != nil {
			return nil, err
		}
		out := make(Array, len(xs))
		for i, x := range xs {
			out[i] = fn(x)
		}
		return out, nil
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrBadResult, v.Type())
	}
	return starlark.Float(fn(f)), nil
}

func elementwise(name string, fn func(float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		return mapValue(x, fn)
	})
}

func binary(name string, fn func(a, b float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x, y starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &y); err != nil {
			return nil, err
		}
		return broadcast(b.Name(), x, y, fn)
	})
}

func reducer(name string, fn func([]float64) float64) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var x starlark.Value
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
			return nil, err
		}
		xs, err := floats(x)
		if err != nil {
			return nil, err
		}
		return starlark.Float(fn(xs)), nil
	})
}

func builtinLen(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x); err != nil {
		return nil, err
	}
	xs, err := floats(x)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(len(xs)), nil
}

// extremum accepts either one sequence or several numbers.
func extremum(pick func(a, b float64) float64) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(kwargs) > 0 {
			return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
		}
		var xs []float64
		for _, a := range args {
			fs, err := floats(a)
			if err != nil {
				return nil, err
			}
			xs = append(xs, fs...)
		}
		if len(xs) == 0 {
			return nil, fmt.Errorf("%s: empty sequence", b.Name())
		}
		out := xs[0]
		for _, x := range xs[1:] {
			out = pick(out, x)
		}
		return starlark.Float(out), nil
	}
}

func builtinRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x starlark.Value
	digits := 0
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &x, &digits); err != nil {
		return nil, err
	}
	scale := math.Pow(10, float64(digits))
	return mapValue(x, func(v float64) float64 { return math.RoundToEven(v*scale) / scale })
}

func builtinClip(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, loArg, hiArg starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &x, &loArg, &hiArg); err != nil {
		return nil, err
	}
	lo, err := scalar(b.Name(), 2, loArg)
	if err != nil {
		return nil, err
	}
	hi, err := scalar(b.Name(), 3, hiArg)
	if err != nil {
		return nil, err
	}
	return mapValue(x, func(v float64) float64 { return math.Min(math.Max(v, lo), hi) })
}

func builtinPercentile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var x, qArg starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &x, &qArg); err != nil {
		return nil, err
	}
	q, err := scalar(b.Name(), 2, qArg)
	if err != nil {
		return nil, err
	}
	xs, err := floats(x)
	if err != nil {
		return nil, err
	}
	if q < 0 || q > 100 {
		return nil, fmt.Errorf("percentile: q=%v outside [0, 100]", q)
	}
	return starlark.Float(percentile(xs, q)), nil
}

// scalar converts the n-th argument of a builtin, accepting int and float.
func scalar(name string, n int, v starlark.Value) (float64, error) {
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("%s: for parameter %d: got %s, want number", name, n, v.Type())
	}
	return f, nil
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return sum(xs) / float64(len(xs))
}

// variance is the population variance.
func variance(xs []float64) float64 {
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return s / float64(len(xs))
}

func rms(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	var s float64
	for _, x := range xs {
		s += x * x
	}
	return math.Sqrt(s / float64(len(xs)))
}

func median(xs []float64) float64 {
	return percentile(xs, 50)
}

// percentile interpolates linearly between closest ranks.
func percentile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
