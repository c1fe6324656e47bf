package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/badger/internal/db"
	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/runner"
	"github.com/cwbudde/badger/internal/store"
)

// ErrBadRoutine marks a routine that could not be composed.
var ErrBadRoutine = errors.New("invalid routine")

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Deps are the collaborators every run is wired to.
type Deps struct {
	Registry routine.Registry
	// Archive receives finished runs, dumps and traces. Nil disables all three.
	Archive *store.FSStore
	// NoDumps turns off crash-recovery dumps while keeping the archive.
	NoDumps bool
	// Index records archived runs. Optional.
	Index       *db.SQLiteStore
	AutoRefresh bool
	DumpPeriod  time.Duration
	Logger      *slog.Logger
}

// StartRequest describes one run.
type StartRequest struct {
	Routine           routine.Document
	Termination       *runner.TerminationCondition
	Save              bool
	KeepData          bool
	SkipInitialPoints bool
	Record            bool
}

// Run is a run owned by the manager.
type Run struct {
	ID        string
	RoutineID string
	CreatedAt time.Time

	controller *runner.Controller
}

// Controller returns the run's controller.
func (r *Run) Controller() *runner.Controller { return r.controller }

// Status summarizes the run.
func (r *Run) Status() runner.Status { return r.controller.Status() }

// RunManager owns every run started in this process.
type RunManager struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	broadcaster *EventBroadcaster
	deps        Deps
}

// NewRunManager creates a manager.
func NewRunManager(deps Deps) *RunManager {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &RunManager{
		runs:        make(map[string]*Run),
		broadcaster: NewEventBroadcaster(),
		deps:        deps,
	}
}

// Broadcaster returns the event fan-out all runs publish to.
func (m *RunManager) Broadcaster() *EventBroadcaster {
	return m.broadcaster
}

// Registry returns the component registry runs are composed from.
func (m *RunManager) Registry() routine.Registry {
	return m.deps.Registry
}

// StartRun composes the routine, wires the run and starts it. A composition
// failure wraps ErrBadRoutine.
func (m *RunManager) StartRun(ctx context.Context, req StartRequest) (*Run, error) {
	rt, err := routine.Compose(req.Routine, m.deps.Registry)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRoutine, err)
	}

	id := uuid.New().String()
	ctrl, err := m.newController(id, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	run := &Run{ID: id, RoutineID: rt.ID, CreatedAt: time.Now(), controller: ctrl}
	m.mu.Lock()
	m.runs[id] = run
	m.mu.Unlock()

	err = ctrl.Start(ctx, runner.StartOptions{
		Termination:       req.Termination,
		Save:              req.Save,
		KeepData:          req.KeepData,
		SkipInitialPoints: req.SkipInitialPoints,
		Record:            req.Record,
	})
	if err != nil {
		rt.Close()
		return run, err
	}
	go func() {
		<-ctrl.Done()
		rt.Close()
	}()
	return run, nil
}

// GetRun retrieves a run by ID.
func (m *RunManager) GetRun(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	return run, ok
}

// ListRuns returns all runs, oldest first.
func (m *RunManager) ListRuns() []*Run {
	m.mu.RLock()
	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, r)
	}
	m.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
	return runs
}

// ActiveRuns returns the runs that have not finished.
func (m *RunManager) ActiveRuns() []*Run {
	var active []*Run
	for _, r := range m.ListRuns() {
		if !r.controller.Phase().Terminal() {
			active = append(active, r)
		}
	}
	return active
}

// Shutdown kills every active run and waits for them to finish or for ctx.
func (m *RunManager) Shutdown(ctx context.Context) error {
	active := m.ActiveRuns()
	if len(active) > 0 {
		m.deps.Logger.Info("Stopping active runs", "count", len(active))
	}
	var wg sync.WaitGroup
	for _, r := range active {
		wg.Add(1)
		go func(r *Run) {
			defer wg.Done()
			r.controller.Kill()
		}(r)
	}
	wg.Wait()
	for _, r := range active {
		r.controller.Wait(ctx)
	}
	return ctx.Err()
}
