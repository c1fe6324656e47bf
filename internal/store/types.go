package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/cwbudde/badger/internal/routine"
)

// SuffixLayout formats the time suffix of archive file names.
const SuffixLayout = "2006-01-02-150405"

// RunRecord is one archived run: the routine document with its data, plus
// how the run ended and the machine state captured before it started.
//
// The document is inlined so an archive file also loads as a plain routine.
type RunRecord struct {
	Filename     string           `yaml:"filename" json:"filename"`
	Status       string           `yaml:"status" json:"status"`
	Routine      routine.Document `yaml:",inline" json:"routine"`
	SystemStates map[string]any   `yaml:"system_states,omitempty" json:"system_states,omitempty"`
	Timestamp    time.Time        `yaml:"archived_at" json:"archived_at"`
}

// RunInfo contains metadata about a run without its data.
// Used for listing runs without keeping every table in memory.
type RunInfo struct {
	Filename    string    `json:"filename"`
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Generator   string    `json:"generator"`
	Status      string    `json:"status"`
	Points      int       `json:"points"`
	Timestamp   time.Time `json:"timestamp"`
}

// ToInfo converts a full RunRecord to RunInfo.
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		Filename:    r.Filename,
		Name:        r.Routine.Name,
		Environment: r.Routine.Environment.Name,
		Generator:   r.Routine.Generator.Name,
		Status:      r.Status,
		Points:      r.Routine.Data.Len(),
		Timestamp:   r.Timestamp,
	}
}

// Validate checks the record before it is written.
func (r *RunRecord) Validate() error {
	if r.Filename == "" {
		return &ValidationError{Field: "Filename", Reason: "cannot be empty"}
	}
	if r.Routine.Environment.Name == "" {
		return &ValidationError{Field: "Routine.Environment", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// RunFilename returns the archive file name for env and created, e.g.
// "sphere_2d-2024-05-01-120000.yaml".
func RunFilename(env string, created time.Time) string {
	return fmt.Sprintf("%s-%s.yaml", env, created.Format(SuffixLayout))
}

// runDir returns the date path components of an archive file name. The
// environment name may itself contain hyphens, so the date is read from the
// end of the name.
func runDir(filename string) (year, month, day string, err error) {
	base := strings.TrimSuffix(filename, ".yaml")
	tokens := strings.Split(base, "-")
	if len(tokens) < 5 || base == filename {
		return "", "", "", fmt.Errorf("malformed run filename %q", filename)
	}
	t := tokens[len(tokens)-4:]
	if _, perr := time.Parse(SuffixLayout, strings.Join(t, "-")); perr != nil {
		return "", "", "", fmt.Errorf("malformed run filename %q: %w", filename, perr)
	}
	return t[0], t[0] + "-" + t[1], t[0] + "-" + t[1] + "-" + t[2], nil
}
