package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/runner"
	"github.com/cwbudde/badger/internal/server"
	"github.com/cwbudde/badger/internal/table"
)

type runOptions struct {
	maxEval     int
	maxTime     float64
	noSave      bool
	dump        bool
	skipInitial bool
	record      bool
	outPath     string
	quiet       bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run <routine.yaml>",
	Short: "Run a routine until it completes or is stopped",
	Long: `Runs the routine in the given file in the foreground, printing every
evaluation. Ctrl-C stops the run cleanly after the current evaluation; a
second Ctrl-C abandons it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := routine.Load(args[0])
		if err != nil {
			return err
		}
		return executeRun(cmd, doc, runOpts, false)
	},
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().IntVar(&opts.maxEval, "max-eval", 0, "Stop after this many live evaluations (0 = no limit)")
	cmd.Flags().Float64Var(&opts.maxTime, "max-time", 0, "Stop after this many seconds (0 = no limit)")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "Do not archive the run")
	cmd.Flags().BoolVar(&opts.dump, "dump", true, "Write crash-recovery dumps while running")
	cmd.Flags().BoolVar(&opts.skipInitial, "skip-initial-points", false, "Go straight to the generator")
	cmd.Flags().BoolVar(&opts.record, "record", false, "Save a log of every interface call next to the archived run")
	cmd.Flags().StringVarP(&opts.outPath, "out", "o", "", "Also write the routine with its data to this file")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the summary")
}

func init() {
	addRunFlags(runCmd, &runOpts)
	rootCmd.AddCommand(runCmd)
}

// executeRun runs doc in the foreground. keepData continues from the data
// already in doc.
func executeRun(cmd *cobra.Command, doc routine.Document, opts runOptions, keepData bool) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	manager := server.NewRunManager(server.Deps{
		Registry:    registry(),
		Archive:     archive,
		Index:       index,
		NoDumps:     !opts.dump,
		AutoRefresh: settings.AutoRefresh,
		DumpPeriod:  settings.DumpPeriod(),
		Logger:      slog.Default(),
	})

	req := server.StartRequest{
		Routine:           doc,
		Save:              !opts.noSave,
		KeepData:          keepData,
		SkipInitialPoints: opts.skipInitial,
		Record:            opts.record,
	}
	if opts.maxEval > 0 || opts.maxTime > 0 {
		req.Termination = &runner.TerminationCondition{MaxEval: opts.maxEval, MaxTime: opts.maxTime}
	}

	run, err := manager.StartRun(context.Background(), req)
	if err != nil {
		return err
	}
	broadcaster := manager.Broadcaster()
	events := broadcaster.Subscribe(run.ID)
	defer broadcaster.Unsubscribe(run.ID, events)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	out := cmd.OutOrStdout()
	ctrl := run.Controller()
	fmt.Fprintf(out, "Run %s started (routine %s)\n", run.ID, doc.Name)

	interrupts := 0
	for done := false; !done; {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !opts.quiet {
				printEvent(out, ev)
			}
		case <-sigs:
			interrupts++
			if interrupts == 1 {
				fmt.Fprintln(out, "Stopping after the current evaluation (Ctrl-C again to abandon)")
				ctrl.Stop()
			} else {
				go ctrl.Kill()
			}
		case <-ctrl.Done():
			done = true
		}
	}

	// the finished event may still be buffered
	for events != nil {
		select {
		case ev, ok := <-events:
			if ok && !opts.quiet {
				printEvent(out, ev)
			}
			if !ok || ev.Kind == runner.EventFinished {
				events = nil
			}
		default:
			events = nil
		}
	}

	outcome, runErr := ctrl.Wait(context.Background())
	status := run.Status()
	fmt.Fprintf(out, "Run %s: %s after %d evaluations\n", outcome, status.Phase, status.Evaluations)
	if status.Archive != "" {
		fmt.Fprintf(out, "Archived as %s\n", status.Archive)
	}

	if opts.outPath != "" {
		result, err := doc.Clone()
		if err != nil {
			return err
		}
		result.ID = run.RoutineID
		result.Data = ctrl.Data()
		if err := routine.Save(opts.outPath, &result); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.outPath, err)
		}
		fmt.Fprintf(out, "Wrote %s\n", opts.outPath)
	}
	return runErr
}

func printEvent(w io.Writer, ev runner.Event) {
	switch ev.Kind {
	case runner.EventEnvReady:
		fmt.Fprintf(w, "Environment ready: %s\n", formatValues(ev.Variables))
	case runner.EventProgress:
		if ev.Result == nil {
			return
		}
		tag := ""
		if ev.Result.Initial {
			tag = " (initial)"
		}
		fmt.Fprintf(w, "[%d]%s %s\n", ev.Result.Index, tag, formatRow(ev.Result.Row))
	case runner.EventPhase:
		fmt.Fprintf(w, "Phase: %s\n", ev.Phase)
	case runner.EventCriticalViolation:
		fmt.Fprintf(w, "Critical constraints violated: %s (run paused)\n", strings.Join(ev.Violated, ", "))
	case runner.EventFinished:
		if ev.Error != "" {
			fmt.Fprintf(w, "Error: %s\n", ev.Error)
		}
	}
}

func formatValues(values map[string]float64) string {
	return formatRow(table.Row(values))
}

// formatRow prints the row's cells sorted by name, without bookkeeping columns.
func formatRow(row table.Row) string {
	names := make([]string, 0, len(row))
	for k := range row {
		if k == table.ColTimestamp || k == table.ColLive {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%.6g", n, row[n])
	}
	return strings.Join(parts, " ")
}
