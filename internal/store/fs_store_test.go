package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/table"
	"github.com/cwbudde/badger/internal/vocs"
)

// setupTestStore creates a temporary directory and returns an FSStore for testing.
func setupTestStore(t *testing.T) (*FSStore, string) {
	t.Helper()

	tempDir := t.TempDir()
	store, err := NewFSStore(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, tempDir
}

// createTestRoutine creates a routine document with two evaluated rows.
func createTestRoutine(env string, created time.Time) *routine.Document {
	return &routine.Document{
		ID:   "r-1",
		Name: "test-routine",
		VOCS: vocs.VOCS{
			Variables:  map[string]vocs.Bounds{"x0": {-1, 1}},
			Objectives: map[string]vocs.Direction{"f": vocs.Minimize},
		},
		Generator:   routine.ComponentSpec{Name: "random"},
		Environment: routine.EnvironmentSpec{Name: env},
		Data: table.New(
			table.Row{"x0": 0.1, "f": 0.01, "live": 1, "timestamp": 1},
			table.Row{"x0": -0.5, "f": 0.25, "live": 1, "timestamp": 2},
		),
		CreationTS: created,
	}
}

func TestNewFSStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")

	store, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if store.BaseDir() != dir {
		t.Errorf("Expected base dir %s, got %s", dir, store.BaseDir())
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Fatal("Base directory was not created")
	}
}

func TestArchiveRun_DateTree(t *testing.T) {
	store, tempDir := setupTestStore(t)

	created := time.Date(2024, 5, 1, 12, 30, 45, 0, time.Local)
	name, err := store.ArchiveRun(createTestRoutine("sphere_2d", created), "completed", nil)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}

	if name != "sphere_2d-2024-05-01-123045.yaml" {
		t.Errorf("Unexpected filename %q", name)
	}
	expectedPath := filepath.Join(tempDir, "2024", "2024-05", "2024-05-01", name)
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Fatalf("Run file was not created at %s", expectedPath)
	}
	if _, err := os.Stat(expectedPath + ".tmp"); !os.IsNotExist(err) {
		t.Error("Temp file should not exist after successful archive")
	}
}

func TestArchiveRun_HyphenatedEnvironment(t *testing.T) {
	store, _ := setupTestStore(t)

	created := time.Date(2023, 12, 31, 23, 59, 0, 0, time.Local)
	name, err := store.ArchiveRun(createTestRoutine("lcls-injector-v2", created), "terminated", nil)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}

	rec, err := store.LoadRun(name)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if rec.Routine.Environment.Name != "lcls-injector-v2" {
		t.Errorf("Expected environment lcls-injector-v2, got %s", rec.Routine.Environment.Name)
	}
}

func TestArchiveRun_NilRoutine(t *testing.T) {
	store, _ := setupTestStore(t)

	if _, err := store.ArchiveRun(nil, "completed", nil); err == nil {
		t.Fatal("Expected error for nil routine")
	}
}

func TestArchiveRun_MissingEnvironment(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.ArchiveRun(createTestRoutine("", time.Now()), "completed", nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
}

func TestLoadRun_RoundTrip(t *testing.T) {
	store, _ := setupTestStore(t)

	doc := createTestRoutine("test", time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local))
	states := map[string]any{"magnet": 1.5}
	name, err := store.ArchiveRun(doc, "completed", states)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}

	rec, err := store.LoadRun(name)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}

	if rec.Filename != name {
		t.Errorf("Expected filename %s, got %s", name, rec.Filename)
	}
	if rec.Status != "completed" {
		t.Errorf("Expected status completed, got %s", rec.Status)
	}
	if rec.Routine.Name != doc.Name {
		t.Errorf("Expected routine %s, got %s", doc.Name, rec.Routine.Name)
	}
	if rec.Routine.Data.Len() != 2 {
		t.Fatalf("Expected 2 rows, got %d", rec.Routine.Data.Len())
	}
	if got := rec.Routine.Data.Row(1)["x0"]; got != -0.5 {
		t.Errorf("Expected x0 -0.5 in row 1, got %v", got)
	}
	if rec.SystemStates["magnet"] != 1.5 {
		t.Errorf("Expected system state magnet=1.5, got %v", rec.SystemStates["magnet"])
	}
	if rec.Timestamp.IsZero() {
		t.Error("Expected archive timestamp to be set")
	}
}

func TestLoadRun_AsRoutineDocument(t *testing.T) {
	store, tempDir := setupTestStore(t)

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local)
	name, err := store.ArchiveRun(createTestRoutine("test", created), "completed", nil)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}

	doc, err := routine.Load(filepath.Join(tempDir, "2024", "2024-01", "2024-01-02", name))
	if err != nil {
		t.Fatalf("routine.Load failed: %v", err)
	}
	if doc.Name != "test-routine" || doc.Data.Len() != 2 {
		t.Errorf("Archive did not load as a routine: name=%q rows=%d", doc.Name, doc.Data.Len())
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)

	_, err := store.LoadRun("test-2024-01-02-030405.yaml")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestLoadRun_MalformedName(t *testing.T) {
	store, _ := setupTestStore(t)

	for _, name := range []string{"run.yaml", "test-2024-01-02.yaml", "../escape-2024-01-02-030405.yaml", "test-2024-01-02-030405.json"} {
		if _, err := store.LoadRun(name); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("Expected malformed name error for %q, got %v", name, err)
		}
	}
}

func TestListRuns_Empty(t *testing.T) {
	store, _ := setupTestStore(t)

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected empty list, got %d runs", len(infos))
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	store, _ := setupTestStore(t)

	days := []time.Time{
		time.Date(2023, 11, 5, 10, 0, 0, 0, time.Local),
		time.Date(2024, 2, 1, 9, 0, 0, 0, time.Local),
		time.Date(2024, 2, 14, 8, 0, 0, 0, time.Local),
	}
	for _, d := range days {
		if _, err := store.ArchiveRun(createTestRoutine("test", d), "completed", nil); err != nil {
			t.Fatalf("ArchiveRun failed: %v", err)
		}
	}
	// dumps are not archived runs
	if err := store.NewDumper().Dump(createTestRoutine("test", time.Now())); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 runs, got %d", len(infos))
	}
	want := []string{
		"test-2024-02-14-080000.yaml",
		"test-2024-02-01-090000.yaml",
		"test-2023-11-05-100000.yaml",
	}
	for i, info := range infos {
		if info.Filename != want[i] {
			t.Errorf("Run %d: expected %s, got %s", i, want[i], info.Filename)
		}
		if info.Points != 2 || info.Generator != "random" {
			t.Errorf("Run %d: unexpected info %+v", i, info)
		}
	}
}

func TestListRuns_SkipsCorruptFiles(t *testing.T) {
	store, tempDir := setupTestStore(t)

	if _, err := store.ArchiveRun(createTestRoutine("test", time.Date(2024, 3, 3, 3, 3, 3, 0, time.Local)), "completed", nil); err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}
	corrupt := filepath.Join(tempDir, "2024", "2024-03", "2024-03-03", "test-2024-03-03-000000.yaml")
	if err := os.WriteFile(corrupt, []byte("data: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 1 {
		t.Errorf("Expected 1 run, got %d", len(infos))
	}
}

func TestDeleteRun(t *testing.T) {
	store, _ := setupTestStore(t)

	name, err := store.ArchiveRun(createTestRoutine("test", time.Now()), "completed", nil)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}
	if err := store.DeleteRun(name); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := store.LoadRun(name); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected run to be gone, got %v", err)
	}
	if err := store.DeleteRun(name); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRecordingPath_BesideRun(t *testing.T) {
	store, _ := setupTestStore(t)

	name, err := store.ArchiveRun(createTestRoutine("test", time.Now()), "completed", nil)
	if err != nil {
		t.Fatalf("ArchiveRun failed: %v", err)
	}
	rec, err := store.RecordingPath(name)
	if err != nil {
		t.Fatalf("RecordingPath failed: %v", err)
	}
	run, _ := store.runPath(name)
	if filepath.Dir(rec) != filepath.Dir(run) || filepath.Ext(rec) != ".jsonl" {
		t.Errorf("Expected recording beside %s, got %s", run, rec)
	}

	if err := os.WriteFile(rec, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := store.DeleteRun(name); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := os.Stat(rec); !os.IsNotExist(err) {
		t.Errorf("Expected recording removed with the run, got %v", err)
	}
}

func TestConcurrentArchive(t *testing.T) {
	store, _ := setupTestStore(t)

	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.Local)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := createTestRoutine(fmt.Sprintf("env%d", i), base.Add(time.Duration(i)*time.Second))
			if _, err := store.ArchiveRun(doc, "completed", nil); err != nil {
				t.Errorf("Concurrent archive %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	infos, err := store.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(infos) != 10 {
		t.Errorf("Expected 10 runs, got %d", len(infos))
	}
}

func TestDumper_ReusesFile(t *testing.T) {
	store, tempDir := setupTestStore(t)

	d := store.NewDumper()
	d.now = func() time.Time { return time.Date(2024, 7, 8, 9, 10, 11, 0, time.Local) }
	doc := createTestRoutine("test", time.Now())

	if err := d.Dump(doc); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	doc.Data.Append(table.Row{"x0": 0.9, "f": 0.81, "live": 1, "timestamp": 3})
	if err := d.Dump(doc); err != nil {
		t.Fatalf("Second dump failed: %v", err)
	}

	if d.Filename() != ".tmp-BadgerOpt-2024-07-08-091011.yaml" {
		t.Errorf("Unexpected dump filename %q", d.Filename())
	}
	entries, err := os.ReadDir(filepath.Join(tempDir, TmpDir))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected one dump file, got %d", len(entries))
	}

	rec, err := store.LoadRun(d.Filename())
	if err != nil {
		t.Fatalf("LoadRun on dump failed: %v", err)
	}
	if rec.Routine.Data.Len() != 3 {
		t.Errorf("Expected latest dump with 3 rows, got %d", rec.Routine.Data.Len())
	}
}

func TestClearTmp(t *testing.T) {
	store, _ := setupTestStore(t)

	if n, err := store.ClearTmp(); err != nil || n != 0 {
		t.Fatalf("ClearTmp on empty store: n=%d err=%v", n, err)
	}

	for i := 0; i < 3; i++ {
		d := store.NewDumper()
		d.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, i, 0, time.Local) }
		if err := d.Dump(createTestRoutine("test", time.Now())); err != nil {
			t.Fatalf("Dump failed: %v", err)
		}
	}
	names, err := store.ListTmp()
	if err != nil || len(names) != 3 {
		t.Fatalf("Expected 3 dumps, got %v (err %v)", names, err)
	}

	n, err := store.ClearTmp()
	if err != nil {
		t.Fatalf("ClearTmp failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 dumps removed, got %d", n)
	}
	if names, _ := store.ListTmp(); len(names) != 0 {
		t.Errorf("Expected no dumps left, got %v", names)
	}
}
