package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/badger/internal/environment"
	"github.com/cwbudde/badger/internal/generator"
	"github.com/cwbudde/badger/internal/intf"
	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/table"
)

// DefaultKillGrace is how long Kill waits for a cooperative stop.
const DefaultKillGrace = 100 * time.Millisecond

// Archiver persists a finished run and returns its archive name.
type Archiver interface {
	ArchiveRun(doc *routine.Document, status string, states map[string]any) (string, error)
}

// RecordingArchiver is an Archiver that keeps interface recordings alongside
// archived runs.
type RecordingArchiver interface {
	Archiver
	RecordingPath(archive string) (string, error)
}

// Dumper writes crash-recovery snapshots while a run is in flight.
type Dumper interface {
	Dump(doc *routine.Document) error
}

// TraceSink receives every evaluated row in order.
type TraceSink interface {
	WriteRow(index int, row table.Row) error
	Close() error
}

// Config wires a controller to its collaborators. Only Registry is required.
type Config struct {
	Registry    routine.Registry
	AutoRefresh bool
	DumpPeriod  time.Duration
	Dumper      Dumper
	Archiver    Archiver
	Trace       TraceSink
	KillGrace   time.Duration
	// OnEvent is called from the controller's and the worker's goroutines
	// and must be safe for concurrent use.
	OnEvent func(Event)
	Logger  *slog.Logger
}

// StartOptions are the per-run switches.
type StartOptions struct {
	Termination *TerminationCondition
	// Save archives the run when it completes or is stopped.
	Save bool
	// KeepData continues from the routine's existing data instead of
	// starting with an empty table.
	KeepData bool
	// SkipInitialPoints goes straight to the generator.
	SkipInitialPoints bool
	// Record logs every interface call of the run. The log is written next
	// to the archive when the run is saved.
	Record bool
}

// Status is a point-in-time summary of a run.
type Status struct {
	ID          string    `json:"id"`
	Routine     string    `json:"routine"`
	Phase       Phase     `json:"phase"`
	Outcome     Outcome   `json:"outcome,omitempty"`
	Evaluations int       `json:"evaluations"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	EndedAt     time.Time `json:"ended_at,omitempty"`
	Error       string    `json:"error,omitempty"`
	Archive     string    `json:"archive,omitempty"`
}

// Controller runs one routine in a worker goroutine and exposes its
// controls. A controller is single use.
type Controller struct {
	id      string
	cfg     Config
	routine *routine.Routine
	session *Session
	flags   *Flags
	log     *slog.Logger

	results chan Result
	exit    chan error
	done    chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc

	finishOnce sync.Once

	mu       sync.Mutex
	save     bool
	states   map[string]any
	outcome  Outcome
	err      error
	archive  string
	recorder *intf.Recorder
	lastDump time.Time
}

// New prepares a controller for rt. The controller reads and updates rt's
// data; the worker composes its own copy from rt's document.
func New(id string, rt *routine.Routine, cfg Config) *Controller {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:      id,
		cfg:     cfg,
		routine: rt,
		session: NewSession(),
		flags:   NewFlags(),
		log:     logger.With("run_id", id, "routine", rt.Name),
		results: make(chan Result),
		exit:    make(chan error, 1),
		done:    make(chan struct{}),
		runCtx:  runCtx,
		cancel:  cancel,
	}
	c.session.OnChange(func(p Phase) {
		c.emit(Event{Kind: EventPhase})
	})
	return c
}

func (c *Controller) ID() string { return c.id }

// Phase returns the current session phase.
func (c *Controller) Phase() Phase { return c.session.Phase() }

// Done is closed once the run has finished, successfully or not.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Start refreshes the routine against the live machine if configured,
// captures the initial state and launches the worker.
func (c *Controller) Start(ctx context.Context, opts StartOptions) error {
	if !c.session.TransitionFrom(PhaseNotStarted, PhaseRunning) {
		return ErrAlreadyStarted
	}
	start := c.session.StartedAt()
	c.log.Info("Run starting")

	if c.cfg.AutoRefresh {
		c.mu.Lock()
		_, err := c.routine.Refresh(ctx)
		c.mu.Unlock()
		if err != nil {
			err = &RunError{Stage: StageSetup, Err: fmt.Errorf("refresh routine: %w", err)}
			c.finish(err)
			return err
		}
	}

	vars, err := c.routine.CurrentVariables(ctx)
	if err != nil {
		err = &RunError{Stage: StageSetup, Err: fmt.Errorf("read initial variables: %w", err)}
		c.finish(err)
		return err
	}
	c.emit(Event{Kind: EventEnvReady, Variables: vars})

	states, err := environment.SystemStates(ctx, c.routine.Env)
	if err != nil {
		c.log.Warn("Failed to read system states", "error", err)
	}

	c.mu.Lock()
	c.save = opts.Save
	c.states = states
	if !opts.KeepData {
		c.routine.Data.Reset()
	}
	doc, err := c.routine.Snapshot()
	c.mu.Unlock()
	if err != nil {
		err = &RunError{Stage: StageSetup, Err: err}
		c.finish(err)
		return err
	}

	args := Args{
		RoutineID:            doc.ID,
		RoutineName:          doc.Name,
		VariableRanges:       doc.VOCS.Variables,
		InitialPoints:        doc.InitialPoints,
		Evaluate:             !opts.SkipInitialPoints,
		Archive:              opts.Save,
		RunData:              opts.KeepData,
		Record:               opts.Record,
		TerminationCondition: opts.Termination,
		StartTime:            start,
	}

	w := &worker{
		doc:           doc,
		args:          args,
		registry:      c.cfg.Registry,
		flags:         c.flags,
		session:       c.session,
		results:       c.results,
		afterEvaluate: c.afterEvaluate,
		onRecorder:    c.setRecorder,
		log:           c.log,
	}
	go func() {
		c.exit <- w.run(c.runCtx)
	}()
	go c.monitor()
	return nil
}

func (c *Controller) monitor() {
	for {
		select {
		case res := <-c.results:
			c.handleResult(res)
		case err := <-c.exit:
			c.finish(err)
			return
		case <-c.done:
			return
		}
	}
}

func (c *Controller) handleResult(res Result) {
	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	c.routine.Data = res.Data
	c.mu.Unlock()

	if c.cfg.Trace != nil {
		if err := c.cfg.Trace.WriteRow(res.Index, res.Row); err != nil {
			c.log.Warn("Failed to write trace", "error", err)
		}
	}
	c.log.Debug("Evaluation recorded", "index", res.Index, "initial", res.Initial)
	c.emit(Event{Kind: EventProgress, Result: &res})
	c.maybeDump(false)
}

// maybeDump writes a snapshot if the dump period has elapsed, or always when
// force is set.
func (c *Controller) maybeDump(force bool) {
	if c.cfg.Dumper == nil {
		return
	}
	c.mu.Lock()
	if !force && time.Since(c.lastDump) < c.cfg.DumpPeriod {
		c.mu.Unlock()
		return
	}
	c.lastDump = time.Now()
	doc, err := c.routine.Snapshot()
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("Failed to snapshot routine for dump", "error", err)
		return
	}
	if err := c.cfg.Dumper.Dump(&doc); err != nil {
		c.log.Warn("Failed to dump routine", "error", err)
	}
}

// afterEvaluate runs on the worker goroutine before its next iteration, so a
// pause requested here always lands before the next candidate.
func (c *Controller) afterEvaluate(row table.Row, violated []string) {
	if len(violated) == 0 {
		return
	}
	c.flags.Pause()
	c.log.Warn("Critical constraints violated, pausing run", "constraints", violated)
	c.emit(Event{Kind: EventCriticalViolation, Violated: violated})
}

// Pause closes the gate; the worker pauses after its current evaluation.
func (c *Controller) Pause() error {
	switch c.session.Phase() {
	case PhaseRunning, PhasePaused:
		c.flags.Pause()
		return nil
	}
	return ErrNotRunning
}

// Resume reopens the gate.
func (c *Controller) Resume() error {
	switch c.session.Phase() {
	case PhaseRunning, PhasePaused:
		c.flags.Resume()
		return nil
	}
	return ErrNotRunning
}

// Stop requests a clean stop at the next poll point.
func (c *Controller) Stop() error {
	phase := c.session.Phase()
	if phase != PhaseRunning && phase != PhasePaused && phase != PhaseStopping {
		return ErrNotRunning
	}
	c.flags.Stop()
	_ = c.session.Transition(PhaseStopping)
	c.log.Info("Stop requested")
	return nil
}

// Kill stops the run and, if the worker does not finish within the grace
// period, abandons it.
func (c *Controller) Kill() {
	if err := c.Stop(); err != nil {
		return
	}
	timer := time.NewTimer(c.cfg.KillGrace)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		c.log.Warn("Worker did not stop in time, abandoning it", "grace", c.cfg.KillGrace)
		c.cancel()
		c.finish(ErrKilled)
	}
}

// Wait blocks until the run finishes or ctx is done.
func (c *Controller) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return OutcomeNone, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome, c.err
}

// Data returns a copy of the data collected so far.
func (c *Controller) Data() *table.Table {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routine.Data.Clone()
}

// Status summarizes the run.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		ID:          c.id,
		Routine:     c.routine.Name,
		Phase:       c.session.Phase(),
		Outcome:     c.outcome,
		Evaluations: c.routine.Data.Len(),
		StartedAt:   c.session.StartedAt(),
		EndedAt:     c.session.EndedAt(),
		Archive:     c.archive,
	}
	if c.err != nil {
		s.Error = c.err.Error()
	}
	return s
}

func classify(err error) (Outcome, Phase, error) {
	var crash *CrashError
	switch {
	case err == nil, errors.Is(err, generator.ErrExhausted):
		return OutcomeCompleted, PhaseFinished, nil
	case errors.Is(err, ErrRunTerminated):
		return OutcomeTerminated, PhaseFinished, nil
	case errors.Is(err, ErrKilled):
		return OutcomeAborted, PhaseFinished, err
	case errors.As(err, &crash):
		return OutcomeAborted, PhaseErrored, err
	}
	return OutcomeErrored, PhaseErrored, err
}

func (c *Controller) finish(err error) {
	c.finishOnce.Do(func() {
		outcome, phase, runErr := classify(err)
		if terr := c.session.Transition(phase); terr != nil {
			c.log.Error("Unexpected phase transition", "error", terr)
		}

		c.mu.Lock()
		c.outcome = outcome
		c.err = runErr
		save := c.save
		states := c.states
		c.mu.Unlock()

		if runErr != nil {
			var crash *CrashError
			if errors.As(runErr, &crash) {
				c.log.Error("Run aborted", "error", runErr, "stack", string(crash.Stack))
			} else {
				c.log.Error("Run failed", "error", runErr)
			}
			c.maybeDump(true)
		} else {
			c.log.Info("Run finished", "outcome", outcome, "evaluations", c.Data().Len())
		}

		if save && c.cfg.Archiver != nil && (outcome == OutcomeCompleted || outcome == OutcomeTerminated) {
			c.mu.Lock()
			doc, serr := c.routine.Snapshot()
			c.mu.Unlock()
			if serr == nil {
				var name string
				name, serr = c.cfg.Archiver.ArchiveRun(&doc, string(outcome), states)
				c.mu.Lock()
				c.archive = name
				c.mu.Unlock()
			}
			if serr != nil {
				c.log.Error("Failed to archive run", "error", serr)
			} else {
				c.saveRecording()
			}
		}

		if c.cfg.Trace != nil {
			if err := c.cfg.Trace.Close(); err != nil {
				c.log.Warn("Failed to close trace", "error", err)
			}
		}

		ev := Event{Kind: EventFinished, Outcome: outcome}
		if runErr != nil {
			ev.Error = runErr.Error()
		}
		c.mu.Lock()
		ev.Archive = c.archive
		c.mu.Unlock()
		c.emit(ev)

		close(c.done)
		c.cancel()
	})
}

func (c *Controller) setRecorder(r *intf.Recorder) {
	c.mu.Lock()
	c.recorder = r
	c.mu.Unlock()
}

// saveRecording writes the interface recording of an archived run.
func (c *Controller) saveRecording() {
	c.mu.Lock()
	rec, archive := c.recorder, c.archive
	c.mu.Unlock()
	ra, ok := c.cfg.Archiver.(RecordingArchiver)
	if rec == nil || !ok || !rec.Recording() {
		return
	}
	path, err := ra.RecordingPath(archive)
	if err == nil {
		err = rec.StopRecording(path)
	}
	if err != nil {
		c.log.Warn("Failed to save interface recording", "error", err)
		return
	}
	c.log.Debug("Interface recording saved", "path", path)
}

// emit delivers ev. Nothing is delivered after the finished event.
func (c *Controller) emit(ev Event) {
	if c.cfg.OnEvent == nil {
		return
	}
	if ev.Kind != EventFinished {
		select {
		case <-c.done:
			return
		default:
		}
	}
	ev.RunID = c.id
	ev.Phase = c.session.Phase()
	ev.Timestamp = time.Now()
	c.cfg.OnEvent(ev)
}
