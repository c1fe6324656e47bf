package runner

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyStarted = errors.New("run already started")
	ErrNotRunning     = errors.New("run is not active")

	// ErrRunTerminated signals a user-requested stop. It ends a run cleanly.
	ErrRunTerminated = errors.New("optimization run has been terminated")

	// ErrKilled marks a run abandoned after the stop grace period.
	ErrKilled = errors.New("run killed")
)

// Stage identifies where in the loop an error happened.
type Stage string

const (
	StageSetup    Stage = "setup"
	StageInitial  Stage = "initial_points"
	StageGenerate Stage = "generate"
	StageEvaluate Stage = "evaluate"
)

// RunError is a fatal error with the context needed to report it.
type RunError struct {
	Stage     Stage
	Iteration int
	Err       error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed at iteration %d: %v", e.Stage, e.Iteration, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// CrashError is a recovered panic in the worker.
type CrashError struct {
	Value any
	Stack []byte
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("worker crashed: %v", e.Value)
}
