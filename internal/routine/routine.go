// Package routine holds the Routine model: the problem definition, its
// environment and generator, and the data recorded while running it.
package routine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/badger/internal/environment"
	"github.com/cwbudde/badger/internal/generator"
	"github.com/cwbudde/badger/internal/intf"
	"github.com/cwbudde/badger/internal/table"
)

// ErrNonScalarOutput is returned when an objective, constraint or observable
// reads as a sequence. Reduce it with a formula such as mean(`name`).
var ErrNonScalarOutput = errors.New("output is not a scalar")

// Registry bundles the component registries a routine is composed from.
type Registry struct {
	Environments *environment.Registry
	Generators   *generator.Registry
	Interfaces   *intf.Registry
}

// DefaultRegistry holds the built-in components.
func DefaultRegistry() Registry {
	return Registry{
		Environments: environment.DefaultRegistry(),
		Generators:   generator.DefaultRegistry(),
		Interfaces:   intf.DefaultRegistry(),
	}
}

// Routine is a composed, runnable routine.
type Routine struct {
	Document

	Env      environment.Environment
	Gen      generator.Generator
	Recorder *intf.Recorder
}

// Compose instantiates the components doc names. Every call builds fresh
// environment, interface and generator instances.
func Compose(doc Document, reg Registry) (*Routine, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreationTS.IsZero() {
		doc.CreationTS = time.Now()
	}
	if doc.BadgerVersion == "" {
		doc.BadgerVersion = Version
	}

	var iface intf.Interface
	var recorder *intf.Recorder
	if spec := doc.Environment.Interface; spec != nil {
		inner, err := reg.Interfaces.New(spec.Name, spec.Params)
		if err != nil {
			return nil, err
		}
		recorder = intf.NewRecorder(inner)
		iface = recorder
	}

	env, err := reg.Environments.New(doc.Environment.Name, doc.Environment.Params, iface)
	if err != nil {
		return nil, err
	}

	gen, err := reg.Generators.New(doc.Generator.Name, doc.VOCS, doc.Generator.Params)
	if err != nil {
		return nil, err
	}

	if doc.Data == nil {
		doc.Data = table.New()
	} else if doc.Data.Len() > 0 {
		if err := gen.AddData(doc.Data.Rows()); err != nil {
			return nil, fmt.Errorf("failed to replay data into generator: %w", err)
		}
	}
	if doc.InitialPoints == nil {
		doc.InitialPoints = table.New()
	}

	return &Routine{
		Document: doc,
		Env:      environment.NewValidated(env, doc.VrangeHardLimit),
		Gen:      gen,
		Recorder: recorder,
	}, nil
}

// Snapshot returns a copy of the document including current data.
func (r *Routine) Snapshot() (Document, error) {
	return r.Document.Clone()
}

// Close releases generator resources.
func (r *Routine) Close() error {
	return generator.Close(r.Gen)
}

// CurrentVariables reads the live values of the routine's variables.
func (r *Routine) CurrentVariables(ctx context.Context) (map[string]float64, error) {
	return r.Env.GetVariables(ctx, r.VOCS.VariableNames())
}

// Evaluate sets point on the environment, reads every output and records the
// resulting row in Data and in the generator. Constants are recorded but not
// written.
func (r *Routine) Evaluate(ctx context.Context, point map[string]float64) (table.Row, error) {
	setpoints := make(map[string]float64, len(point))
	for k, v := range point {
		if _, isConst := r.VOCS.Constants[k]; !isConst {
			setpoints[k] = v
		}
	}
	if err := r.Env.SetVariables(ctx, setpoints); err != nil {
		return nil, err
	}

	outputs := r.VOCS.OutputNames()
	obs, err := r.Env.GetObservables(ctx, outputs)
	if err != nil {
		return nil, err
	}

	row := make(table.Row, len(point)+len(obs)+2)
	for k, v := range point {
		row[k] = v
	}
	for name, c := range r.VOCS.Constants {
		row[name] = c
	}
	for _, name := range outputs {
		val, err := environment.AsFloat(obs[name])
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrNonScalarOutput, name)
		}
		row[name] = val
	}
	row[table.ColTimestamp] = float64(time.Now().UnixNano()) / 1e9
	row[table.ColLive] = 1

	r.Data.Append(row)
	if err := r.Gen.AddData([]table.Row{row}); err != nil {
		return row, fmt.Errorf("generator rejected data: %w", err)
	}
	return row, nil
}

// ViolatedCriticalConstraints lists the critical constraints row violates.
func (r *Routine) ViolatedCriticalConstraints(row table.Row) []string {
	return r.VOCS.ViolatedConstraints(row, r.CriticalConstraintNames)
}
