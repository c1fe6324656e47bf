package runner

import (
	"time"

	"github.com/cwbudde/badger/internal/table"
)

// TerminationCondition ends a run once either limit is reached. Zero values
// disable a limit.
type TerminationCondition struct {
	// MaxEval counts live rows, initial points included.
	MaxEval int `yaml:"max_eval,omitempty" json:"max_eval,omitempty"`
	// MaxTime is wall-clock seconds since the run started.
	MaxTime float64 `yaml:"max_time,omitempty" json:"max_time,omitempty"`
}

// Reached checks the limits against the live rows and the elapsed time.
func (tc *TerminationCondition) Reached(data *table.Table, start time.Time) bool {
	if tc == nil {
		return false
	}
	if tc.MaxEval > 0 && data.CountLive() >= tc.MaxEval {
		return true
	}
	if tc.MaxTime > 0 && time.Since(start).Seconds() >= tc.MaxTime {
		return true
	}
	return false
}
