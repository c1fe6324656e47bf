package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cwbudde/badger/internal/db"
	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/runner"
	"github.com/cwbudde/badger/internal/store"
)

// newController wires a run to the archive, the dump directory, its trace
// file and the broadcaster.
func (m *RunManager) newController(id string, rt *routine.Routine) (*runner.Controller, error) {
	log := m.deps.Logger.With("run_id", id)
	cfg := runner.Config{
		Registry:    m.deps.Registry,
		AutoRefresh: m.deps.AutoRefresh,
		DumpPeriod:  m.deps.DumpPeriod,
		OnEvent:     m.broadcaster.Broadcast,
		Logger:      m.deps.Logger,
	}

	if archive := m.deps.Archive; archive != nil {
		trace, err := store.NewTraceWriter(archive.BaseDir(), id, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		cfg.Trace = trace
		if !m.deps.NoDumps {
			cfg.Dumper = archive.NewDumper()
		}
		cfg.Archiver = &indexingArchiver{
			archive: archive,
			index:   m.deps.Index,
			log:     log,
		}
		log.Debug("Run wired to archive", "root", archive.BaseDir(), "trace", trace.Path())
	}

	return runner.New(id, rt, cfg), nil
}

// indexingArchiver archives a run and records it in the routine index.
type indexingArchiver struct {
	archive *store.FSStore
	index   *db.SQLiteStore
	log     *slog.Logger
}

var _ runner.RecordingArchiver = (*indexingArchiver)(nil)

func (a *indexingArchiver) ArchiveRun(doc *routine.Document, status string, states map[string]any) (string, error) {
	name, err := a.archive.ArchiveRun(doc, status, states)
	if err != nil {
		return "", err
	}
	if a.index != nil {
		run := db.Run{Filename: name, RoutineID: doc.ID, Status: status, Points: doc.Data.Len()}
		if err := a.index.RecordRun(context.Background(), run); err != nil {
			// the archive file is what matters; the index can be rebuilt
			a.log.Warn("Failed to index archived run", "filename", name, "error", err)
		}
	}
	a.log.Info("Run archived", "filename", name, "status", status)
	return name, nil
}

func (a *indexingArchiver) RecordingPath(archive string) (string, error) {
	return a.archive.RecordingPath(archive)
}
