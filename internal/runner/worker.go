package runner

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cwbudde/badger/internal/environment"
	"github.com/cwbudde/badger/internal/generator"
	"github.com/cwbudde/badger/internal/intf"
	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

// Args is everything a worker needs to run a routine. The routine itself
// travels as a document and is recomposed on the worker side.
type Args struct {
	RoutineID            string
	RoutineName          string
	VariableRanges       map[string]vocs.Bounds
	InitialPoints        *table.Table
	Evaluate             bool
	Archive              bool
	RunData              bool
	Record               bool
	TerminationCondition *TerminationCondition
	StartTime            time.Time
}

// Result is pushed after every evaluation.
type Result struct {
	Index          int            `json:"index"`
	Initial        bool           `json:"initial"`
	Row            table.Row      `json:"row"`
	Data           *table.Table   `json:"-"`
	GeneratorState map[string]any `json:"generator_state,omitempty"`
}

type worker struct {
	doc      routine.Document
	args     Args
	registry routine.Registry
	flags    *Flags
	session  *Session
	results  chan<- Result
	// afterEvaluate runs synchronously on the worker before the next
	// iteration starts.
	afterEvaluate func(row table.Row, violated []string)
	// onRecorder receives the interface recorder once recording starts.
	onRecorder func(*intf.Recorder)
	log        *slog.Logger
}

// run executes the loop. A nil return or generator.ErrExhausted means the run
// completed; ErrRunTerminated means it was stopped.
func (w *worker) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CrashError{Value: r, Stack: debug.Stack()}
		}
	}()

	doc := w.doc
	if w.args.VariableRanges != nil {
		doc.VOCS.Variables = w.args.VariableRanges
	}
	if !w.args.RunData {
		doc.Data = nil
	}
	rt, err := routine.Compose(doc, w.registry)
	if err != nil {
		return &RunError{Stage: StageSetup, Err: err}
	}
	defer rt.Close()

	if w.args.Record && rt.Recorder != nil {
		rt.Recorder.StartRecording()
		if w.onRecorder != nil {
			w.onRecorder(rt.Recorder)
		}
	}

	if err := environment.Reset(ctx, rt.Env); err != nil {
		return &RunError{Stage: StageSetup, Err: err}
	}

	index := rt.Data.Len()
	if w.args.Evaluate && w.args.InitialPoints != nil {
		for i, p := range w.args.InitialPoints.Rows() {
			if err := w.checkpoint(ctx); err != nil {
				return err
			}
			row, err := rt.Evaluate(ctx, p)
			if err != nil {
				return &RunError{Stage: StageInitial, Iteration: i, Err: err}
			}
			if err := w.publish(ctx, rt, index, true, row); err != nil {
				return err
			}
			index++
		}
	}

	for iteration := 0; ; iteration++ {
		if err := w.checkpoint(ctx); err != nil {
			return err
		}
		if w.args.TerminationCondition.Reached(rt.Data, w.args.StartTime) {
			w.log.Info("Termination condition reached", "evaluations", rt.Data.CountLive())
			return nil
		}

		points, err := rt.Gen.Generate(ctx, 1)
		if errors.Is(err, generator.ErrExhausted) {
			w.log.Info("Generator exhausted")
			return err
		}
		if err != nil {
			return &RunError{Stage: StageGenerate, Iteration: iteration, Err: err}
		}

		if err := w.checkpoint(ctx); err != nil {
			return err
		}

		row, err := rt.Evaluate(ctx, points[0])
		if err != nil {
			return &RunError{Stage: StageEvaluate, Iteration: iteration, Err: err}
		}
		if err := w.publish(ctx, rt, index, false, row); err != nil {
			return err
		}
		index++
	}
}

// checkpoint polls the stop flag and waits at the pause gate.
func (w *worker) checkpoint(ctx context.Context) error {
	if w.flags.Stopped() {
		return ErrRunTerminated
	}
	err := w.flags.WaitIfPaused(ctx,
		func() {
			if w.session.TransitionFrom(PhaseRunning, PhasePaused) {
				w.log.Info("Run paused")
			}
		},
		func() {
			if w.session.TransitionFrom(PhasePaused, PhaseRunning) {
				w.log.Info("Run resumed")
			}
		},
	)
	if err != nil {
		return err
	}
	if w.flags.Stopped() {
		return ErrRunTerminated
	}
	return nil
}

func (w *worker) publish(ctx context.Context, rt *routine.Routine, index int, initial bool, row table.Row) error {
	res := Result{
		Index:          index,
		Initial:        initial,
		Row:            row,
		Data:           rt.Data.Clone(),
		GeneratorState: rt.Gen.State(),
	}
	select {
	case w.results <- res:
	case <-ctx.Done():
		return ctx.Err()
	}
	if w.afterEvaluate != nil {
		w.afterEvaluate(row, rt.ViolatedCriticalConstraints(row))
	}
	return nil
}
