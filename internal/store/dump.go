package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/badger/internal/routine"
)

// Dumper writes crash-recovery snapshots of a running routine to
// <baseDir>/.tmp/.tmp-BadgerOpt-<ts>.yaml. One Dumper serves one run: the
// file name is fixed by the first dump and every later dump replaces it.
type Dumper struct {
	mu       sync.Mutex
	dir      string
	filename string
	now      func() time.Time
}

// NewDumper creates a dumper writing under the store's archive root.
func (fs *FSStore) NewDumper() *Dumper {
	return &Dumper{dir: filepath.Join(fs.baseDir, TmpDir), now: time.Now}
}

// Dump atomically replaces the run's dump file with doc.
func (d *Dumper) Dump(doc *routine.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filename == "" {
		d.filename = fmt.Sprintf(".tmp-BadgerOpt-%s.yaml", d.now().Format(SuffixLayout))
	}
	path := filepath.Join(d.dir, d.filename)
	if err := writeYAML(path, doc); err != nil {
		return err
	}
	slog.Debug("Routine dumped", "filename", d.filename, "points", doc.Data.Len())
	return nil
}

// Filename returns the dump file name, or "" before the first dump.
func (d *Dumper) Filename() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filename
}

// ListTmp returns the names of all dump files.
func (fs *FSStore) ListTmp() ([]string, error) {
	dir := filepath.Join(fs.baseDir, TmpDir)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []string{}, nil
	}
	return runFiles(dir)
}

// ClearTmp removes all dump files and returns how many were removed.
func (fs *FSStore) ClearTmp() (int, error) {
	dir := filepath.Join(fs.baseDir, TmpDir)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read dump directory: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), ".tmp") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove dump file: %w", err)
		}
		removed++
	}
	slog.Debug("Cleared dumps", "count", removed)
	return removed, nil
}
