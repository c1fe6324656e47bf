// Package formula evaluates derived observables such as
//
//	mean(`BPM:X`) + 2 * `GDET:ENRC`
//
// Names quoted in backticks are resolved from a value map; everything else must
// come from a small numeric namespace. Expressions are parsed and run with
// Starlark, so there is no access to anything outside that namespace.
package formula

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

var (
	// ErrUnknownName is wrapped by UnknownNameError.
	ErrUnknownName = errors.New("unknown name in formula")
	// ErrMissingVariables is returned when a quoted key has no value.
	ErrMissingVariables = errors.New("missing variables for formula")
	// ErrSyntax wraps parse failures.
	ErrSyntax = errors.New("formula syntax error")
	// ErrBadResult is returned when an expression yields a non-numeric value.
	ErrBadResult = errors.New("formula result is not numeric")
)

// UnknownNameError lists names the expression uses but the namespace lacks.
type UnknownNameError struct {
	Expr        string
	Names       []string
	Suggestions map[string]string
}

func (e *UnknownNameError) Error() string {
	parts := make([]string, 0, len(e.Names))
	for _, n := range e.Names {
		if s, ok := e.Suggestions[n]; ok {
			parts = append(parts, fmt.Sprintf("%q (did you mean %q?)", n, s))
		} else {
			parts = append(parts, strconv.Quote(n))
		}
	}
	return fmt.Sprintf("unknown name(s) %s in formula %q", strings.Join(parts, ", "), e.Expr)
}

func (e *UnknownNameError) Unwrap() error { return ErrUnknownName }

var (
	keyPattern        = regexp.MustCompile("`([^`]+)`")
	unsafeChars       = regexp.MustCompile(`[^0-9a-zA-Z_]`)
	percentilePattern = regexp.MustCompile(`\bpercentile(\d+)\s*\(`)
)

// IsFormula reports whether name contains a backtick-quoted reference.
func IsFormula(name string) bool {
	return keyPattern.MatchString(name)
}

// ExtractKeys returns the backtick-quoted names in order of appearance.
func ExtractKeys(expr string) []string {
	var keys []string
	for _, m := range keyPattern.FindAllStringSubmatch(expr, -1) {
		keys = append(keys, m[1])
	}
	return keys
}

// SafeName maps name onto an identifier-safe string.
func SafeName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

var reserved = map[string]bool{
	"and": true, "as": true, "assert": true, "async": true, "await": true,
	"break": true, "class": true, "continue": true, "def": true, "del": true,
	"elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true,
	"is": true, "lambda": true, "load": true, "nonlocal": true, "not": true,
	"or": true, "pass": true, "raise": true, "return": true, "try": true,
	"while": true, "with": true, "yield": true,
	"True": true, "False": true, "None": true,
}

// aliases assigns every key an identifier that cannot collide with a builtin,
// a keyword or another key.
func aliases(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	used := make(map[string]bool)
	for _, key := range keys {
		if _, done := out[key]; done {
			continue
		}
		alias := SafeName(key)
		if reserved[alias] || builtins[alias] != nil || used[alias] || alias[0] >= '0' && alias[0] <= '9' {
			alias = fmt.Sprintf("v_%s_%d", alias, len(out))
		}
		used[alias] = true
		out[key] = alias
	}
	return out
}

// rewritePercentile turns percentileNN(x) into percentile(x, NN).
func rewritePercentile(expr string) string {
	for {
		loc := percentilePattern.FindStringSubmatchIndex(expr)
		if loc == nil {
			return expr
		}
		q := expr[loc[2]:loc[3]]
		open := loc[1] - 1
		depth, end := 0, -1
		for i := open; i < len(expr); i++ {
			switch expr[i] {
			case '(':
				depth++
			case ')':
				depth--
			}
			if depth == 0 {
				end = i
				break
			}
		}
		if end < 0 {
			// Unbalanced; leave it for the parser to report.
			return expr
		}
		expr = expr[:loc[0]] + "percentile(" + expr[open+1:end] + ", " + q + ")" + expr[end+1:]
	}
}

// rewritePower turns x ** y into pow(x, y), which Starlark lacks. The operator
// is right-associative and binds tighter than a unary sign on its left, so the
// rightmost occurrence is rewritten first and the left operand is a single
// primary (name, literal, call or bracketed group).
func rewritePower(expr string) (string, error) {
	for {
		i := strings.LastIndex(expr, "**")
		if i < 0 {
			return expr, nil
		}
		start, end := powerBase(expr, i), powerExponent(expr, i+2)
		if start < 0 || end < 0 {
			return "", errors.New("missing operand for **")
		}
		base := strings.TrimSpace(expr[start:i])
		exp := strings.TrimSpace(expr[i+2 : end])
		expr = expr[:start] + "pow(" + base + ", " + exp + ")" + expr[end:]
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// numericWord reports whether the word ending before i starts with a digit,
// which makes an 'e' in it an exponent rather than part of a name.
func numericWord(s string, i int) bool {
	k := i
	for k > 0 && isWordByte(s[k-1]) {
		k--
	}
	return k < i && s[k] >= '0' && s[k] <= '9'
}

// powerBase returns where the operand ending before i starts, or -1.
func powerBase(s string, i int) int {
	j := i
	for j > 0 && s[j-1] == ' ' {
		j--
	}
	end := j
	for j > 0 {
		c := s[j-1]
		switch {
		case c == ')' || c == ']':
			k := matchBracket(s, j-1, -1)
			if k < 0 {
				return -1
			}
			j = k
		case isWordByte(c):
			j--
		case (c == '+' || c == '-') && j >= 2 && (s[j-2] == 'e' || s[j-2] == 'E') && numericWord(s, j-1):
			j--
		default:
			if j == end {
				return -1
			}
			return j
		}
	}
	if j == end {
		return -1
	}
	return j
}

// powerExponent returns where the operand starting at i ends, or -1. The
// exponent may carry unary signs.
func powerExponent(s string, i int) int {
	j := i
	for j < len(s) && (s[j] == ' ' || s[j] == '-' || s[j] == '+') {
		j++
	}
	start := j
	if j < len(s) && (s[j] == '(' || s[j] == '[') {
		k := matchBracket(s, j, 1)
		if k < 0 {
			return -1
		}
		j = k + 1
	} else {
		for j < len(s) {
			if isWordByte(s[j]) {
				j++
				continue
			}
			if (s[j] == '+' || s[j] == '-') && j > start && (s[j-1] == 'e' || s[j-1] == 'E') && numericWord(s, j) {
				j++
				continue
			}
			break
		}
	}
	if j == start {
		return -1
	}
	for j < len(s) && (s[j] == '(' || s[j] == '[') {
		k := matchBracket(s, j, 1)
		if k < 0 {
			return -1
		}
		j = k + 1
	}
	return j
}

// matchBracket finds the bracket pairing with s[i], scanning in direction dir.
func matchBracket(s string, i, dir int) int {
	depth := 0
	for k := i; k >= 0 && k < len(s); k += dir {
		switch s[k] {
		case '(', '[':
			depth += dir
		case ')', ']':
			depth -= dir
		}
		if depth == 0 {
			return k
		}
	}
	return -1
}

// compiled is an expression ready to evaluate.
type compiled struct {
	source  string
	keys    []string
	aliases map[string]string
	expr    syntax.Expr
}

var fileOptions = &syntax.FileOptions{}

func compile(expr string) (*compiled, error) {
	keys := ExtractKeys(expr)
	al := aliases(keys)
	src := keyPattern.ReplaceAllStringFunc(expr, func(m string) string {
		return al[m[1:len(m)-1]]
	})
	src, err := rewritePower(rewritePercentile(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, expr, err)
	}

	parsed, err := fileOptions.ParseExpr("formula", src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrSyntax, expr, err)
	}
	return &compiled{source: expr, keys: keys, aliases: al, expr: parsed}, nil
}

// usedNames collects free identifiers, skipping keyword-argument names and
// attribute selectors.
func usedNames(e syntax.Expr) []string {
	skip := make(map[*syntax.Ident]bool)
	seen := make(map[string]bool)
	var names []string
	syntax.Walk(e, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.CallExpr:
			for _, arg := range n.Args {
				if kw, ok := arg.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
					if id, ok := kw.X.(*syntax.Ident); ok {
						skip[id] = true
					}
				}
			}
		case *syntax.DotExpr:
			skip[n.Name] = true
		case *syntax.Ident:
			if !skip[n] && !seen[n.Name] {
				seen[n.Name] = true
				names = append(names, n.Name)
			}
		}
		return true
	})
	return names
}

// UsedNames returns the identifiers expr references after key substitution.
func UsedNames(expr string) ([]string, error) {
	c, err := compile(expr)
	if err != nil {
		return nil, err
	}
	return usedNames(c.expr), nil
}

// Validate checks that expr parses and only uses known names. It does not
// need the key values.
func Validate(expr string) error {
	c, err := compile(expr)
	if err != nil {
		return err
	}
	return c.checkNames()
}

func (c *compiled) checkNames() error {
	known := make(map[string]bool, len(builtins)+len(c.aliases))
	for name := range builtins {
		known[name] = true
	}
	for _, a := range c.aliases {
		known[a] = true
	}
	known["True"], known["False"], known["None"] = true, true, true

	var unknown []string
	for _, n := range usedNames(c.expr) {
		if !known[n] {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	candidates := make([]string, 0, len(known)+len(c.keys))
	for name := range known {
		candidates = append(candidates, name)
	}
	candidates = append(candidates, c.keys...)
	sort.Strings(candidates)

	suggestions := make(map[string]string)
	for _, n := range unknown {
		if s, ok := Suggest(n, candidates); ok {
			suggestions[n] = s
		}
	}
	return &UnknownNameError{Expr: c.source, Names: unknown, Suggestions: suggestions}
}

// Evaluate computes expr with values supplying every quoted key. The result is
// a float64 for scalar expressions or a []float64 for sequences.
func Evaluate(expr string, values map[string]any) (any, error) {
	c, err := compile(expr)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, k := range c.keys {
		if _, ok := values[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingVariables, strings.Join(missing, ", "))
	}
	if err := c.checkNames(); err != nil {
		return nil, err
	}

	env := make(starlark.StringDict, len(builtins)+len(c.aliases))
	for name, v := range builtins {
		env[name] = v
	}
	for key, alias := range c.aliases {
		v, err := toStarlark(values[key])
		if err != nil {
			return nil, fmt.Errorf("value of %q: %w", key, err)
		}
		env[alias] = v
	}

	thread := &starlark.Thread{Name: "formula"}
	result, err := starlark.EvalExprOptions(fileOptions, thread, c.expr, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return fromStarlark(result)
}
