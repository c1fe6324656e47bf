package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/badger/internal/routine"
	"github.com/cwbudde/badger/internal/runner"
	"github.com/cwbudde/badger/internal/server"
)

func startTestServer(t *testing.T) (*server.RunManager, *httptest.Server) {
	t.Helper()
	manager := server.NewRunManager(server.Deps{Registry: routine.DefaultRegistry()})
	ts := httptest.NewServer(server.NewServer("", manager, nil).Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	original := serverURL
	serverURL = ts.URL
	t.Cleanup(func() { serverURL = original })
	return manager, ts
}

func TestStatus_ListEmpty(t *testing.T) {
	startTestServer(t)
	cmd, out := newTestCmd("")

	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if !strings.Contains(out.String(), "No runs found") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestStatus_ListAndShow(t *testing.T) {
	manager, _ := startTestServer(t)

	doc, err := routine.Parse([]byte(testRoutine))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	run, err := manager.StartRun(context.Background(), server.StartRequest{
		Routine:     doc,
		Termination: &runner.TerminationCondition{MaxEval: 2},
	})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run.Controller().Wait(ctx)

	cmd, out := newTestCmd("")
	if err := runStatus(cmd, nil); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if !strings.Contains(out.String(), run.ID) || !strings.Contains(out.String(), "cli-test") {
		t.Errorf("list should show the run:\n%s", out.String())
	}

	cmd, out = newTestCmd("")
	if err := runStatus(cmd, []string{run.ID}); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	for _, want := range []string{"Phase: finished", "Outcome: completed", "Evaluations: 2"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status should contain %q:\n%s", want, out.String())
		}
	}
}

func TestStatus_UnknownRun(t *testing.T) {
	startTestServer(t)
	cmd, _ := newTestCmd("")

	err := runStatus(cmd, []string{"nonexistent"})
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Errorf("expected run not found error, got %v", err)
	}
}

func TestStatus_ServerDown(t *testing.T) {
	original := serverURL
	serverURL = "http://127.0.0.1:1"
	defer func() { serverURL = original }()

	cmd, _ := newTestCmd("")
	if err := runStatus(cmd, nil); err == nil {
		t.Error("expected connection error")
	}
}
