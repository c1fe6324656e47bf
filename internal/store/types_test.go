package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRunFilename(t *testing.T) {
	created := time.Date(2024, 2, 9, 7, 5, 3, 0, time.Local)
	if got := RunFilename("sphere_2d", created); got != "sphere_2d-2024-02-09-070503.yaml" {
		t.Errorf("Unexpected filename %q", got)
	}
}

func TestRunDir(t *testing.T) {
	tests := []struct {
		name             string
		year, month, day string
		wantErr          bool
	}{
		{name: "test-2024-02-09-070503.yaml", year: "2024", month: "2024-02", day: "2024-02-09"},
		{name: "a-b-c-2021-12-31-235959.yaml", year: "2021", month: "2021-12", day: "2021-12-31"},
		{name: "test-2024-13-09-070503.yaml", wantErr: true},
		{name: "2024-02-09-070503.yaml", wantErr: true},
		{name: "test-2024-02-09-070503", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, m, d, err := runDir(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if y != tt.year || m != tt.month || d != tt.day {
				t.Errorf("Got %s/%s/%s", y, m, d)
			}
		})
	}
}

func TestRunRecord_Validate(t *testing.T) {
	rec := &RunRecord{
		Filename:  "test-2024-02-09-070503.yaml",
		Routine:   *createTestRoutine("test", time.Now()),
		Timestamp: time.Now(),
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Valid record rejected: %v", err)
	}

	missing := *rec
	missing.Timestamp = time.Time{}
	var verr *ValidationError
	if err := missing.Validate(); !errors.As(err, &verr) || verr.Field != "Timestamp" {
		t.Errorf("Expected Timestamp validation error, got %v", err)
	}

	missing = *rec
	missing.Filename = ""
	if err := missing.Validate(); !errors.As(err, &verr) || verr.Field != "Filename" {
		t.Errorf("Expected Filename validation error, got %v", err)
	}
}

func TestRunRecord_ToInfo(t *testing.T) {
	rec := &RunRecord{
		Filename:  "test-2024-02-09-070503.yaml",
		Status:    "terminated",
		Routine:   *createTestRoutine("test", time.Now()),
		Timestamp: time.Date(2024, 2, 9, 8, 0, 0, 0, time.UTC),
	}

	info := rec.ToInfo()
	if info.Filename != rec.Filename || info.Status != "terminated" {
		t.Errorf("Unexpected info %+v", info)
	}
	if info.Name != "test-routine" || info.Environment != "test" || info.Generator != "random" {
		t.Errorf("Unexpected routine fields %+v", info)
	}
	if info.Points != 2 {
		t.Errorf("Expected 2 points, got %d", info.Points)
	}
}

func TestRunInfo_JSON(t *testing.T) {
	info := RunInfo{Filename: "f.yaml", Status: "completed", Points: 3}
	data, err := json.Marshal(info)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	for _, key := range []string{"filename", "status", "points", "timestamp"} {
		if _, ok := fields[key]; !ok {
			t.Errorf("Missing JSON field %q", key)
		}
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Name: "x.yaml"}
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
	if err.Error() != "run not found: x.yaml" {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if ErrNotFound.Error() != "run not found" {
		t.Errorf("Unexpected message %q", ErrNotFound.Error())
	}
}
