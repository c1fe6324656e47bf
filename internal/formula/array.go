package formula

import (
	"fmt"
	"math"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Array is a sequence observable inside a formula. Arithmetic is element-wise
// and broadcasts scalars, so `x` * 2 doubles every element and `a` - `b`
// subtracts two equally long sequences.
type Array []float64

var (
	_ starlark.Indexable = Array(nil)
	_ starlark.Sequence  = Array(nil)
	_ starlark.HasBinary = Array(nil)
	_ starlark.HasUnary  = Array(nil)
)

func (a Array) String() string {
	var b strings.Builder
	b.WriteString("array([")
	for i, x := range a {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(starlark.Float(x).String())
	}
	b.WriteString("])")
	return b.String()
}

func (a Array) Type() string          { return "array" }
func (a Array) Freeze()               {}
func (a Array) Truth() starlark.Bool  { return len(a) > 0 }
func (a Array) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: array") }
func (a Array) Len() int              { return len(a) }

func (a Array) Index(i int) starlark.Value { return starlark.Float(a[i]) }

func (a Array) Iterate() starlark.Iterator { return &arrayIterator{a: a} }

type arrayIterator struct {
	a Array
	i int
}

func (it *arrayIterator) Next(p *starlark.Value) bool {
	if it.i >= len(it.a) {
		return false
	}
	*p = starlark.Float(it.a[it.i])
	it.i++
	return true
}

func (it *arrayIterator) Done() {}

func (a Array) Unary(op syntax.Token) (starlark.Value, error) {
	switch op {
	case syntax.PLUS:
		return a, nil
	case syntax.MINUS:
		out := make(Array, len(a))
		for i, x := range a {
			out[i] = -x
		}
		return out, nil
	}
	return nil, nil
}

// arithmetic holds the element operations behind the binary operators.
var arithmetic = map[syntax.Token]func(x, y float64) float64{
	syntax.PLUS:       func(x, y float64) float64 { return x + y },
	syntax.MINUS:      func(x, y float64) float64 { return x - y },
	syntax.STAR:       func(x, y float64) float64 { return x * y },
	syntax.SLASH:      func(x, y float64) float64 { return x / y },
	syntax.SLASHSLASH: func(x, y float64) float64 { return math.Floor(x / y) },
	syntax.PERCENT: func(x, y float64) float64 {
		return float64(starlark.Float(x).Mod(starlark.Float(y)))
	},
}

func (a Array) Binary(op syntax.Token, y starlark.Value, side starlark.Side) (starlark.Value, error) {
	fn, ok := arithmetic[op]
	if !ok {
		return nil, nil
	}
	if side == starlark.Left {
		return broadcast(op.String(), a, y, fn)
	}
	return broadcast(op.String(), y, a, fn)
}

// broadcast applies fn element-wise. A scalar operand is paired with every
// element of the other; two sequences must have the same length. The result
// is a Float when both operands are scalars.
func broadcast(name string, x, y starlark.Value, fn func(a, b float64) float64) (starlark.Value, error) {
	xs, xseq, err := operand(name, x)
	if err != nil {
		return nil, err
	}
	ys, yseq, err := operand(name, y)
	if err != nil {
		return nil, err
	}
	switch {
	case !xseq && !yseq:
		return starlark.Float(fn(xs[0], ys[0])), nil
	case xseq && yseq && len(xs) != len(ys):
		return nil, fmt.Errorf("%s: operands have different lengths %d and %d", name, len(xs), len(ys))
	}

	n := len(xs)
	if !xseq {
		n = len(ys)
	}
	out := make(Array, n)
	for i := range out {
		a, b := xs[0], ys[0]
		if xseq {
			a = xs[i]
		}
		if yseq {
			b = ys[i]
		}
		out[i] = fn(a, b)
	}
	return out, nil
}

func operand(name string, v starlark.Value) ([]float64, bool, error) {
	if isSequence(v) {
		xs, err := floats(v)
		return xs, true, err
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return nil, false, fmt.Errorf("%s: unsupported operand type %s", name, v.Type())
	}
	return []float64{f}, false, nil
}
