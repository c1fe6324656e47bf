package store

import "github.com/cwbudde/badger/internal/routine"

// Store defines the interface for run archive operations.
// Implementations must be thread-safe.
//
// Error handling conventions:
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// ArchiveRun atomically writes a finished run and returns its file name.
	// The name encodes the environment and the routine creation time, so a
	// second archive of the same routine replaces the first.
	ArchiveRun(doc *routine.Document, status string, states map[string]any) (string, error)

	// LoadRun reads an archived run by file name. Names starting with
	// ".tmp" are resolved against the dump directory.
	LoadRun(filename string) (*RunRecord, error)

	// ListRuns returns metadata for all archived runs, newest first.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes an archived run.
	DeleteRun(filename string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	if e.Name != "" {
		return "run not found: " + e.Name
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
