package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cwbudde/badger/internal/routine"
)

// TmpDir is the archive subdirectory holding crash-recovery dumps.
const TmpDir = ".tmp"

// FSStore implements the Store interface on a date-partitioned directory
// tree: <baseDir>/YYYY/YYYY-MM/YYYY-MM-DD/<env>-<suffix>.yaml
//
// Thread-safety: writes go through a temp file and a rename, so readers
// never see a partial run and no locks are needed.
type FSStore struct {
	baseDir string // Archive root (BADGER_ARCHIVE_ROOT)
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive root: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the archive root.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// runPath resolves an archive file name to its location on disk.
func (fs *FSStore) runPath(filename string) (string, error) {
	if filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid run filename %q", filename)
	}
	if strings.HasPrefix(filename, ".tmp") {
		return filepath.Join(fs.baseDir, TmpDir, filename), nil
	}
	year, month, day, err := runDir(filename)
	if err != nil {
		return "", err
	}
	return filepath.Join(fs.baseDir, year, month, day, filename), nil
}

// ArchiveRun writes doc as a finished run.
func (fs *FSStore) ArchiveRun(doc *routine.Document, status string, states map[string]any) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("routine cannot be nil")
	}
	created := doc.CreationTS
	if created.IsZero() {
		created = time.Now()
	}
	rec := &RunRecord{
		Filename:     RunFilename(doc.Environment.Name, created),
		Status:       status,
		Routine:      *doc,
		SystemStates: states,
		Timestamp:    time.Now(),
	}
	if err := rec.Validate(); err != nil {
		return "", err
	}

	path, err := fs.runPath(rec.Filename)
	if err != nil {
		return "", err
	}
	if err := writeYAML(path, rec); err != nil {
		return "", err
	}

	slog.Debug("Run archived", "filename", rec.Filename, "status", status, "path", path)
	return rec.Filename, nil
}

// LoadRun reads an archived run or a dump.
func (fs *FSStore) LoadRun(filename string) (*RunRecord, error) {
	path, err := fs.runPath(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{Name: filename}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var rec RunRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}
	if rec.Filename == "" {
		rec.Filename = filename
	}

	slog.Debug("Run loaded", "filename", filename, "path", path)
	return &rec, nil
}

// ListRuns walks the date tree, newest day first and newest file first
// within a day.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	infos := []RunInfo{}

	years, err := subdirs(fs.baseDir)
	if err != nil {
		return nil, err
	}
	for _, year := range years {
		months, err := subdirs(filepath.Join(fs.baseDir, year))
		if err != nil {
			return nil, err
		}
		for _, month := range months {
			days, err := subdirs(filepath.Join(fs.baseDir, year, month))
			if err != nil {
				return nil, err
			}
			for _, day := range days {
				files, err := runFiles(filepath.Join(fs.baseDir, year, month, day))
				if err != nil {
					return nil, err
				}
				for _, name := range files {
					rec, err := fs.LoadRun(name)
					if err != nil {
						slog.Warn("Failed to load run for listing", "filename", name, "error", err)
						continue
					}
					infos = append(infos, rec.ToInfo())
				}
			}
		}
	}

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes an archived run.
func (fs *FSStore) DeleteRun(filename string) error {
	path, err := fs.runPath(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return &NotFoundError{Name: filename}
	} else if err != nil {
		return fmt.Errorf("failed to remove run file: %w", err)
	}
	if err := os.Remove(recordingPath(path)); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove interface recording", "filename", filename, "error", err)
	}
	slog.Debug("Run deleted", "filename", filename, "path", path)
	return nil
}

// RecordingPath is where the interface recording of an archived run is kept:
// beside the run file, with a .jsonl extension.
func (fs *FSStore) RecordingPath(filename string) (string, error) {
	path, err := fs.runPath(filename)
	if err != nil {
		return "", err
	}
	return recordingPath(path), nil
}

func recordingPath(runPath string) string {
	return strings.TrimSuffix(runPath, filepath.Ext(runPath)) + ".jsonl"
}

// subdirs lists the directories under dir in reverse lexical order, which
// for the date tree is newest first. Hidden directories are skipped.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// runFiles lists the YAML files in dir, most recently modified first.
func runFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}
	type file struct {
		name string
		mod  time.Time
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{e.Name(), info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].name > files[j].name
		}
		return files[i].mod.After(files[j].mod)
	})
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

// writeYAML atomically writes v to path, creating parent directories.
func writeYAML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	// Write to temporary file first (atomic pattern)
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp run file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename run file: %w", err)
	}
	return nil
}
