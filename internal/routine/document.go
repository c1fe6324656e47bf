package routine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/badger/internal/formula"
	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

// Version is written into every routine document.
const Version = "0.1.0"

// ComponentSpec names a registered component and its parameters.
type ComponentSpec struct {
	Name   string         `yaml:"name" json:"name"`
	Params map[string]any `yaml:",inline" json:"params,omitempty"`
}

// EnvironmentSpec is a ComponentSpec with an optional interface.
type EnvironmentSpec struct {
	Name      string         `yaml:"name" json:"name"`
	Interface *ComponentSpec `yaml:"interface,omitempty" json:"interface,omitempty"`
	Params    map[string]any `yaml:",inline" json:"params,omitempty"`
}

// Variable-range policy kinds, stored as limit_option_idx.
const (
	LimitRatioCurr = 0
	LimitRatioFull = 1
	LimitDelta     = 2
)

// LimitOption is the recorded range policy for one variable.
type LimitOption struct {
	LimitOptionIdx int     `yaml:"limit_option_idx" json:"limit_option_idx"`
	RatioCurr      float64 `yaml:"ratio_curr" json:"ratio_curr"`
	RatioFull      float64 `yaml:"ratio_full" json:"ratio_full"`
	Delta          float64 `yaml:"delta,omitempty" json:"delta,omitempty"`
}

// Initial-point action types.
const (
	ActionAddCurrent = "add_curr"
	ActionAddRandom  = "add_rand"
)

// ActionConfig parameterizes add_rand.
type ActionConfig struct {
	NPoints  int     `yaml:"n_points,omitempty" json:"n_points,omitempty"`
	Fraction float64 `yaml:"fraction,omitempty" json:"fraction,omitempty"`
	Seed     *int64  `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// InitialPointAction is one recorded step for rebuilding initial points.
type InitialPointAction struct {
	Type   string       `yaml:"type" json:"type"`
	Config ActionConfig `yaml:"config,omitempty" json:"config,omitempty"`
}

// Document is the serializable form of a routine. Runs receive routines
// as documents, never as shared objects.
type Document struct {
	ID                      string                 `yaml:"id" json:"id"`
	Name                    string                 `yaml:"name" json:"name"`
	Description             string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Tags                    []string               `yaml:"tags,omitempty" json:"tags,omitempty"`
	VOCS                    vocs.VOCS              `yaml:"vocs" json:"vocs"`
	Generator               ComponentSpec          `yaml:"generator" json:"generator"`
	Environment             EnvironmentSpec        `yaml:"environment" json:"environment"`
	InitialPoints           *table.Table           `yaml:"initial_points,omitempty" json:"initial_points,omitempty"`
	CriticalConstraintNames []string               `yaml:"critical_constraint_names,omitempty" json:"critical_constraint_names,omitempty"`
	RelativeToCurrent       bool                   `yaml:"relative_to_current" json:"relative_to_current"`
	VrangeLimitOptions      map[string]LimitOption `yaml:"vrange_limit_options,omitempty" json:"vrange_limit_options,omitempty"`
	VrangeHardLimit         map[string]vocs.Bounds `yaml:"vrange_hard_limit,omitempty" json:"vrange_hard_limit,omitempty"`
	InitialPointActions     []InitialPointAction   `yaml:"initial_point_actions,omitempty" json:"initial_point_actions,omitempty"`
	AdditionalVariables     []string               `yaml:"additional_variables,omitempty" json:"additional_variables,omitempty"`
	Data                    *table.Table           `yaml:"data,omitempty" json:"data,omitempty"`
	CreationTS              time.Time              `yaml:"creation_ts" json:"creation_ts"`
	BadgerVersion           string                 `yaml:"badger_version,omitempty" json:"badger_version,omitempty"`
}

// Validate checks the parts of a document that need no registry.
func (d *Document) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("routine name is required")
	}
	if d.Generator.Name == "" {
		return fmt.Errorf("routine %q: generator name is required", d.Name)
	}
	if d.Environment.Name == "" {
		return fmt.Errorf("routine %q: environment name is required", d.Name)
	}
	if err := d.VOCS.Validate(); err != nil {
		return fmt.Errorf("routine %q: %w", d.Name, err)
	}
	for _, name := range d.VOCS.OutputNames() {
		if !formula.IsFormula(name) {
			continue
		}
		if err := formula.Validate(name); err != nil {
			return fmt.Errorf("routine %q: output %q: %w", d.Name, name, err)
		}
	}
	for _, name := range d.CriticalConstraintNames {
		if _, ok := d.VOCS.Constraints[name]; !ok {
			return fmt.Errorf("routine %q: critical constraint %q is not a constraint", d.Name, name)
		}
	}
	for name, opt := range d.VrangeLimitOptions {
		if opt.LimitOptionIdx < LimitRatioCurr || opt.LimitOptionIdx > LimitDelta {
			return fmt.Errorf("routine %q: variable %q has unknown limit option %d", d.Name, name, opt.LimitOptionIdx)
		}
	}
	for name, b := range d.VrangeHardLimit {
		if !b.Valid() {
			return fmt.Errorf("routine %q: hard limit for %q is invalid: %v", d.Name, name, b)
		}
	}
	for i, a := range d.InitialPointActions {
		switch a.Type {
		case ActionAddCurrent:
		case ActionAddRandom:
			if a.Config.NPoints < 1 {
				return fmt.Errorf("routine %q: action %d: n_points must be positive", d.Name, i)
			}
			if a.Config.Fraction < 0 || a.Config.Fraction > 1 {
				return fmt.Errorf("routine %q: action %d: fraction must be in [0, 1]", d.Name, i)
			}
		default:
			return fmt.Errorf("routine %q: action %d: unknown type %q", d.Name, i, a.Type)
		}
	}
	return nil
}

// Clone deep-copies the document through its YAML form.
func (d *Document) Clone() (Document, error) {
	data, err := Marshal(d)
	if err != nil {
		return Document{}, err
	}
	return Parse(data)
}

// Parse decodes a YAML routine document.
func Parse(data []byte) (Document, error) {
	var d Document
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Document{}, fmt.Errorf("failed to parse routine: %w", err)
	}
	return d, nil
}

// Marshal encodes a routine document as YAML.
func Marshal(d *Document) ([]byte, error) {
	data, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize routine: %w", err)
	}
	return data, nil
}

// Load reads a routine document from path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("failed to read routine file: %w", err)
	}
	return Parse(data)
}

// Save writes a routine document to path.
func Save(path string, d *Document) error {
	data, err := Marshal(d)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write routine file: %w", err)
	}
	return nil
}
