package environment

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cwbudde/badger/internal/vocs"
)

var (
	ErrNoInterface         = errors.New("environment has no interface")
	ErrBoundsNotFound      = errors.New("variable bounds not found")
	ErrInvalidBounds       = errors.New("invalid variable bounds")
	ErrVariableOutOfRange  = errors.New("variable value out of range")
	ErrObservableNotFound  = errors.New("observable not found in environment")
	ErrEnvironmentNotFound = errors.New("environment not found")
	ErrInstantiation       = errors.New("failed to instantiate environment")
	ErrNonNumeric          = errors.New("non-numeric channel value")
)

// Violation is one setpoint outside its bounds.
type Violation struct {
	Name   string
	Value  float64
	Bounds vocs.Bounds
}

// VariableRangeError rejects a whole SetVariables call.
type VariableRangeError struct {
	Violations []Violation
}

func (e *VariableRangeError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s=%g outside %v", v.Name, v.Value, v.Bounds)
	}
	return "input point rejected: " + strings.Join(parts, "; ")
}

func (e *VariableRangeError) Unwrap() error { return ErrVariableOutOfRange }

// InvalidBoundsError reports a malformed bounds pair.
type InvalidBoundsError struct {
	Name   string
	Bounds vocs.Bounds
}

func (e *InvalidBoundsError) Error() string {
	return fmt.Sprintf("invalid bounds for %s: %v", e.Name, e.Bounds)
}

func (e *InvalidBoundsError) Unwrap() error { return ErrInvalidBounds }
